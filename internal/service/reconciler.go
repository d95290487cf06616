package service

import (
	"context"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Reconciler enforces the time based order and vehicle window transitions
type Reconciler struct {
	store     ReconcilerStore
	publisher Publisher
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(store ReconcilerStore, publisher Publisher, window time.Duration) *Reconciler {
	return &Reconciler{
		store:     store,
		publisher: publisher,
		window:    window,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// SweepResult summarises one order sweep
type SweepResult struct {
	Scanned int
	Expired int
	Purged  int
	Failed  int
}

// SweepOrders expires active orders past the reservation window and deletes
// orders that were already cancelled or expired. A failing order is logged and
// skipped; only a failure to select orders aborts the sweep.
func (r *Reconciler) SweepOrders(ctx context.Context) (SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.SweepOrders")
	defer span.End()

	var result SweepResult
	orders, err := r.store.ListSweepableOrders(ctx)
	if err != nil {
		util.RecordSpanError(ctx, err)
		return result, storageErr("list sweepable orders", err)
	}
	result.Scanned = len(orders)

	now := r.now()
	for i := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		order := &orders[i]
		switch {
		case !order.IsActive():
			if err := r.store.PurgeOrder(ctx, order.ID, order.VehicleID); err != nil {
				result.Failed++
				r.logger.Error("Failed to purge order", zap.Int64("order_id", order.ID), zap.Error(err))
				span.AddEvent("purge failed", trace.WithAttributes(util.AttrOrderID.Int64(order.ID)))
				continue
			}
			result.Purged++
			util.OrdersPurgedTotal.Inc()
			publishOrderEvent(ctx, r.publisher, r.logger, models.EventTypeOrderPurged, order)

		case now.Sub(order.CreatedAt) > r.window:
			expired, err := r.store.ExpireOrder(ctx, order.ID, order.VehicleID)
			if err != nil {
				result.Failed++
				r.logger.Error("Failed to expire order", zap.Int64("order_id", order.ID), zap.Error(err))
				span.AddEvent("expire failed", trace.WithAttributes(util.AttrOrderID.Int64(order.ID)))
				continue
			}
			if !expired {
				continue
			}
			result.Expired++
			order.Status = models.OrderStatusExpired
			util.OrdersExpiredTotal.Inc()
			publishOrderEvent(ctx, r.publisher, r.logger, models.EventTypeOrderExpired, order)
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.expired", result.Expired),
		attribute.Int("sweep.purged", result.Purged),
		attribute.Int("sweep.failed", result.Failed))
	if result.Expired > 0 || result.Purged > 0 || result.Failed > 0 {
		r.logger.Info("Order sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("expired", result.Expired),
			zap.Int("purged", result.Purged),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// CloseVehicleWindows ends approved vehicle rental windows whose end date has passed
func (r *Reconciler) CloseVehicleWindows(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.CloseVehicleWindows")
	defer span.End()

	n, err := r.store.CloseExpiredVehicleWindows(ctx, dateOnly(r.now()))
	if err != nil {
		util.RecordSpanError(ctx, err)
		return 0, storageErr("close vehicle windows", err)
	}
	if n > 0 {
		util.VehicleWindowsClosedTotal.Add(float64(n))
		r.logger.Info("Vehicle windows closed", zap.Int64("count", n))
	}
	return n, nil
}
