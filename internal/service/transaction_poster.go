package service

import (
	"context"
	"time"

	"rental-service/internal/idgen"
	"rental-service/internal/models"
	"rental-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TransactionPoster records the owner/admin revenue split of settled orders
type TransactionPoster struct {
	store             TransactionStore
	publisher         Publisher
	ownerSharePercent int
	logger            *zap.Logger
	now               func() time.Time
	nextID            func() int64
}

// NewTransactionPoster creates a new transaction poster
func NewTransactionPoster(store TransactionStore, publisher Publisher, ownerSharePercent int) *TransactionPoster {
	return &TransactionPoster{
		store:             store,
		publisher:         publisher,
		ownerSharePercent: ownerSharePercent,
		logger:            util.GetLogger(),
		now:               time.Now,
		nextID:            idgen.NextID,
	}
}

// PostResult summarises one poster sweep
type PostResult struct {
	Scanned int
	Posted  int
	Skipped int
	Failed  int
}

// Post inserts one transaction per completed and paid order that has none yet
func (p *TransactionPoster) Post(ctx context.Context) (PostResult, error) {
	ctx, span := util.StartSpan(ctx, "TransactionPoster.Post")
	defer span.End()

	var result PostResult
	orders, err := p.store.ListPayableOrders(ctx)
	if err != nil {
		util.RecordSpanError(ctx, err)
		return result, storageErr("list payable orders", err)
	}
	result.Scanned = len(orders)

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		exists, err := p.store.TransactionExists(ctx, order.OrderID)
		if err != nil {
			result.Failed++
			p.logger.Error("Failed to check transaction", zap.Int64("order_id", order.OrderID), zap.Error(err))
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		owner, admin := RevenueSplit(order.GrandTotal, p.ownerSharePercent)
		txn := &models.Transaction{
			ID:            p.nextID(),
			OrderID:       order.OrderID,
			OwnerID:       order.OwnerID,
			GrandTotal:    order.GrandTotal,
			OwnerEarning:  owner,
			AdminEarning:  admin,
			PaymentStatus: models.TransactionStatusDue,
			CreatedAt:     p.now().UTC(),
		}
		if err := p.store.CreateTransaction(ctx, txn); err != nil {
			result.Failed++
			p.logger.Error("Failed to create transaction", zap.Int64("order_id", order.OrderID), zap.Error(err))
			span.AddEvent("post failed", trace.WithAttributes(util.AttrOrderID.Int64(order.OrderID)))
			continue
		}

		result.Posted++
		util.TransactionsPostedTotal.Inc()
		p.logger.Info("Transaction posted",
			zap.Int64("order_id", txn.OrderID),
			zap.Int64("owner_id", txn.OwnerID),
			zap.String("owner_earning", owner.StringFixed(2)),
			zap.String("admin_earning", admin.StringFixed(2)))
		p.publish(ctx, txn)
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.posted", result.Posted),
		attribute.Int("sweep.failed", result.Failed))
	return result, nil
}

func (p *TransactionPoster) publish(ctx context.Context, txn *models.Transaction) {
	if p.publisher == nil {
		return
	}
	event := &models.TransactionPostedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeTransactionPosted),
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		OwnerID:       txn.OwnerID,
		OwnerEarning:  txn.OwnerEarning,
		AdminEarning:  txn.AdminEarning,
	}
	if err := p.publisher.PublishTransactionPosted(ctx, event); err != nil {
		p.logger.Error("Failed to publish TransactionPosted event", zap.Int64("order_id", txn.OrderID), zap.Error(err))
	}
}
