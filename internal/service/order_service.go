package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/idgen"
	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

const (
	reservationLockTTL      = 5 * time.Second
	reservationLockAttempts = 3
	reservationLockBackoff  = 50 * time.Millisecond
)

// OrderService handles the reservation side of the order lifecycle
type OrderService struct {
	store     OrderStore
	locker    Locker
	publisher Publisher
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
	nextID    func() int64
}

// NewOrderService creates a new order service. locker and publisher may be nil.
func NewOrderService(store OrderStore, locker Locker, publisher Publisher, window time.Duration) *OrderService {
	return &OrderService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		window:    window,
		logger:    util.GetLogger(),
		now:       time.Now,
		nextID:    idgen.NextID,
	}
}

// ReservationRequest represents a request to reserve a vehicle
type ReservationRequest struct {
	UserID    int64 `json:"user_id" binding:"required"`
	VehicleID int64 `json:"vehicle_id" binding:"required"`
}

// ReservationResponse represents the active order a renter holds on a vehicle
type ReservationResponse struct {
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reused    bool      `json:"reused"`
}

// CancelRequest represents a renter initiated cancellation
type CancelRequest struct {
	UserID  int64 `json:"user_id" binding:"required"`
	OrderID int64 `json:"order_id" binding:"required"`
}

// OrderView is an order together with its reservation deadline
type OrderView struct {
	models.Order
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// Reserve returns the renter's active order on the vehicle, creating a draft
// and claiming the vehicle if there is none
func (s *OrderService) Reserve(ctx context.Context, req *ReservationRequest) (*ReservationResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Reserve")
	defer span.End()
	span.SetAttributes(util.AttrUserID.Int64(req.UserID), util.AttrVehicleID.Int64(req.VehicleID))

	profile, err := s.store.GetRenterProfile(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.ReservationsFailedTotal.WithLabelValues("renter_not_found").Inc()
			return nil, ErrRenterNotFound
		}
		return nil, s.storageFailure(ctx, "load renter profile", err)
	}
	if missing := missingProfileFields(profile); len(missing) > 0 {
		util.ReservationsFailedTotal.WithLabelValues("incomplete_profile").Inc()
		return nil, &IncompleteProfileError{Missing: missing}
	}

	if _, err := s.store.GetVehicle(ctx, req.VehicleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.ReservationsFailedTotal.WithLabelValues("vehicle_not_found").Inc()
			return nil, ErrVehicleNotFound
		}
		return nil, s.storageFailure(ctx, "load vehicle", err)
	}

	unlock, err := s.lockVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	active, err := s.reconcilePair(ctx, req.UserID, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		span.SetAttributes(util.AttrOrderID.Int64(active.ID))
		util.ReservationsReusedTotal.Inc()
		s.logger.Info("Reusing active order",
			zap.Int64("order_id", active.ID),
			zap.Int64("user_id", req.UserID),
			zap.Int64("vehicle_id", req.VehicleID))
		return s.response(active, true), nil
	}

	now := s.now().UTC().Truncate(time.Second)
	order := &models.Order{
		ID:              s.nextID(),
		UserID:          req.UserID,
		VehicleID:       req.VehicleID,
		Status:          models.OrderStatusDraft,
		PaidStatus:      models.PaidStatusPending,
		DeliveredStatus: models.DeliveredStatusNotDelivered,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateDraftOrder(ctx, order); err != nil {
		switch {
		case errors.Is(err, store.ErrVehicleUnavailable):
			util.ReservationsFailedTotal.WithLabelValues("vehicle_unavailable").Inc()
			return nil, ErrVehicleUnavailable
		case errors.Is(err, store.ErrNotFound):
			util.ReservationsFailedTotal.WithLabelValues("vehicle_not_found").Inc()
			return nil, ErrVehicleNotFound
		}
		util.ReservationsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, s.storageFailure(ctx, "create draft order", err)
	}

	span.SetAttributes(util.AttrOrderID.Int64(order.ID))
	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Draft order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("vehicle_id", order.VehicleID))
	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderDrafted, order)

	return s.response(order, false), nil
}

// reconcilePair clears the pair's cancelled and expired rows, lazily expires
// stale active ones, and returns the remaining active order if any
func (s *OrderService) reconcilePair(ctx context.Context, userID, vehicleID int64) (*models.Order, error) {
	orders, err := s.store.ListOrdersForPair(ctx, userID, vehicleID, models.SweepStatuses...)
	if err != nil {
		return nil, s.storageFailure(ctx, "list orders for pair", err)
	}

	var active *models.Order
	for i := range orders {
		order := &orders[i]
		switch {
		case !order.IsActive():
			if err := s.store.PurgeOrder(ctx, order.ID, order.VehicleID); err != nil {
				return nil, s.storageFailure(ctx, "purge order", err)
			}
			util.OrdersPurgedTotal.Inc()
			publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderPurged, order)

		case s.isExpired(order):
			expired, err := s.store.ExpireOrder(ctx, order.ID, order.VehicleID)
			if err != nil {
				return nil, s.storageFailure(ctx, "expire order", err)
			}
			if expired {
				order.Status = models.OrderStatusExpired
				util.OrdersExpiredTotal.Inc()
				publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderExpired, order)
			}

		case active == nil:
			active = order
		}
	}
	return active, nil
}

// lockVehicle serialises reservation attempts on one vehicle across instances.
// A redis failure degrades to the database claim alone.
func (s *OrderService) lockVehicle(ctx context.Context, vehicleID int64) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	key := fmt.Sprintf("reservation:vehicle:%d", vehicleID)
	for attempt := 0; attempt < reservationLockAttempts; attempt++ {
		token, ok, err := s.locker.AcquireLock(ctx, key, reservationLockTTL)
		if err != nil {
			s.logger.Warn("Reservation lock unavailable, relying on database claim",
				zap.Int64("vehicle_id", vehicleID), zap.Error(err))
			return noop, nil
		}
		if ok {
			return func() {
				if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
					s.logger.Warn("Failed to release reservation lock",
						zap.Int64("vehicle_id", vehicleID), zap.Error(err))
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reservationLockBackoff):
		}
	}

	util.ReservationsFailedTotal.WithLabelValues("locked").Inc()
	return nil, ErrVehicleUnavailable
}

// Cancel cancels a renter's order and releases the vehicle
func (s *OrderService) Cancel(ctx context.Context, req *CancelRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, s.storageFailure(ctx, "load order", err)
	}
	if order.UserID != req.UserID {
		return nil, ErrOrderNotFound
	}
	util.SetOrderAttributes(span, order.ID, order.VehicleID)

	switch order.Status {
	case models.OrderStatusDraft, models.OrderStatusPaymentPending, models.OrderStatusApprovalPending:
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s order", ErrInvalidOrderState, order.Status)
	}

	if err := s.store.CancelOrder(ctx, order.ID, order.VehicleID); err != nil {
		if mapped, ok := guardedWriteErr(err); ok {
			return nil, mapped
		}
		return nil, s.storageFailure(ctx, "cancel order", err)
	}
	order.Status = models.OrderStatusCancelled

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", order.ID), zap.Int64("user_id", order.UserID))
	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderCancelled, order)

	return order, nil
}

// GetOrder retrieves an order, expiring it first if its reservation window has passed
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, s.storageFailure(ctx, "load order", err)
	}

	util.SetOrderAttributes(span, order.ID, order.VehicleID)

	if order.IsActive() && s.isExpired(order) {
		expired, err := s.store.ExpireOrder(ctx, order.ID, order.VehicleID)
		if err != nil {
			return nil, s.storageFailure(ctx, "expire order", err)
		}
		if expired {
			order.Status = models.OrderStatusExpired
			util.OrdersExpiredTotal.Inc()
			publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderExpired, order)
		} else {
			// changed since it was read
			order, err = s.store.GetOrderByID(ctx, orderID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, ErrOrderNotFound
				}
				return nil, s.storageFailure(ctx, "reload order", err)
			}
		}
	}

	return &OrderView{
		Order:     *order,
		ExpiresAt: order.CreatedAt.Add(s.window),
		Expired:   order.Status == models.OrderStatusExpired,
	}, nil
}

func (s *OrderService) isExpired(order *models.Order) bool {
	return s.now().Sub(order.CreatedAt) > s.window
}

func (s *OrderService) response(order *models.Order, reused bool) *ReservationResponse {
	return &ReservationResponse{
		OrderID:   order.ID,
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
		ExpiresAt: order.CreatedAt.Add(s.window),
		Reused:    reused,
	}
}

func (s *OrderService) storageFailure(ctx context.Context, op string, err error) error {
	s.logger.Error("Storage failure", zap.String("op", op), zap.Error(err))
	util.RecordSpanError(ctx, err)
	return storageErr(op, err)
}

// missingProfileFields lists the empty required profile fields in a fixed order
func missingProfileFields(p *models.RenterProfile) []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", p.Name},
		{"email", p.Email},
		{"phone", p.Phone},
		{"image", p.Image},
		{"address", p.Address},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
