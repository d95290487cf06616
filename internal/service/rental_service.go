package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RentalService attaches rental details to reserved orders and confirms their payment
type RentalService struct {
	store       RentalStore
	publisher   Publisher
	window      time.Duration
	codReleases bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewRentalService creates a new rental service. When codReleasesAvailability is
// set a COD confirmation makes the vehicle bookable again immediately.
func NewRentalService(store RentalStore, publisher Publisher, window time.Duration, codReleasesAvailability bool) *RentalService {
	return &RentalService{
		store:       store,
		publisher:   publisher,
		window:      window,
		codReleases: codReleasesAvailability,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// RentalDetailsRequest carries the dates and documents a renter submits for an order
type RentalDetailsRequest struct {
	UserID        int64
	VehicleID     int64
	OrderID       int64
	StartDate     time.Time
	EndDate       time.Time
	TermsAccepted bool
	LicenseImage  string
}

// PaymentConfirmation is sent by the payment gateway once an order is paid
type PaymentConfirmation struct {
	OrderID         int64  `json:"order_id"`
	TransactionUUID string `json:"transaction_uuid"`
	PaymentMethod   string `json:"payment_method"`
}

// SubmitDetails validates and prices the requested rental window and moves the
// order to payment_pending
func (s *RentalService) SubmitDetails(ctx context.Context, req *RentalDetailsRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.SubmitDetails")
	defer span.End()

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			s.reject("order_not_found", err)
		}
		return nil, err
	}
	if order.UserID != req.UserID || order.VehicleID != req.VehicleID {
		s.reject("order_not_found", ErrOrderNotFound)
		return nil, ErrOrderNotFound
	}
	util.SetOrderAttributes(span, order.ID, order.VehicleID)

	if !order.IsActive() {
		s.reject("invalid_state", ErrInvalidOrderState)
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidOrderState, order.Status)
	}
	if err := s.expireIfStale(ctx, order); err != nil {
		s.reject("invalid_state", err)
		return nil, err
	}

	start, end := dateOnly(req.StartDate), dateOnly(req.EndDate)
	today := dateOnly(s.now())
	if start.Before(today) || end.Before(today) {
		s.reject("invalid_dates", ErrInvalidDateRange)
		return nil, fmt.Errorf("%w: dates must not be in the past", ErrInvalidDateRange)
	}
	days := RentalDays(start, end)
	if days <= 0 {
		s.reject("invalid_dates", ErrInvalidDateRange)
		return nil, fmt.Errorf("%w: end date must be after start date", ErrInvalidDateRange)
	}

	conflicts, err := s.store.ListConflictingOrders(ctx, order.VehicleID, order.ID, start, end)
	if err != nil {
		return nil, s.storageFailure(ctx, "list conflicting orders", err)
	}
	if len(conflicts) > 0 {
		s.reject("date_conflict", ErrDateConflict)
		return nil, &DateConflictError{Conflicts: conflicts}
	}

	window, err := s.store.GetApprovedWindow(ctx, order.VehicleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, s.storageFailure(ctx, "load approved window", err)
	}
	if window == nil || !window.Contains(start, end) {
		s.reject("outside_window", ErrOutsideAvailableWindow)
		return nil, ErrOutsideAvailableWindow
	}

	vehicle, err := s.store.GetVehicle(ctx, order.VehicleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVehicleNotFound
		}
		return nil, s.storageFailure(ctx, "load vehicle", err)
	}
	discount, err := s.store.GetActiveDiscount(ctx, vehicle.CategoryID)
	if err != nil {
		return nil, s.storageFailure(ctx, "load discount", err)
	}

	details := models.RentalDetails{
		StartDate:     start,
		EndDate:       end,
		TermsAccepted: req.TermsAccepted,
		LicenseImage:  req.LicenseImage,
		RentalDays:    days,
		GrandTotal:    GrandTotal(DailyPrice(vehicle.Price, discount), days),
	}
	if err := s.store.UpdateRentalDetails(ctx, order.ID, details); err != nil {
		if mapped, ok := guardedWriteErr(err); ok {
			s.reject("invalid_state", mapped)
			return nil, mapped
		}
		return nil, s.storageFailure(ctx, "update rental details", err)
	}

	order.StartDate = &details.StartDate
	order.EndDate = &details.EndDate
	order.TermsAccepted = details.TermsAccepted
	order.LicenseImage = details.LicenseImage
	order.RentalDays = details.RentalDays
	order.GrandTotal = details.GrandTotal
	order.Status = models.OrderStatusPaymentPending

	util.RentalDetailsSubmittedTotal.Inc()
	s.logger.Info("Rental details submitted",
		zap.Int64("order_id", order.ID),
		zap.Int("rental_days", days),
		zap.String("grand_total", details.GrandTotal.StringFixed(2)))
	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderDetailsSubmitted, order)

	return order, nil
}

// ConfirmCOD marks an order as cash on delivery awaiting owner approval
func (s *RentalService) ConfirmCOD(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.ConfirmCOD")
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	util.SetOrderAttributes(span, order.ID, order.VehicleID)

	switch {
	case order.IsSettled():
		return nil, fmt.Errorf("%w: order is already paid", ErrInvalidOrderState)
	case order.Status == models.OrderStatusCancelled, order.Status == models.OrderStatusExpired:
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidOrderState, order.Status)
	case order.IsActive():
		if err := s.expireIfStale(ctx, order); err != nil {
			return nil, err
		}
	}

	if err := s.store.ConfirmCOD(ctx, order.ID, order.VehicleID, s.codReleases); err != nil {
		if mapped, ok := guardedWriteErr(err); ok {
			return nil, mapped
		}
		return nil, s.storageFailure(ctx, "confirm cod", err)
	}
	order.Status = models.OrderStatusApprovalPending
	order.PaidStatus = models.PaidStatusPending
	order.DeliveredStatus = models.DeliveredStatusNotDelivered
	order.PaymentMethod = models.PaymentMethodCOD

	util.OrdersCODConfirmedTotal.Inc()
	s.logger.Info("COD confirmed",
		zap.Int64("order_id", order.ID),
		zap.Bool("vehicle_released", s.codReleases))
	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderCODConfirmed, order)

	return order, nil
}

// ConfirmPayment completes an order after the gateway reports it paid.
// Confirming an already settled order is a no-op.
func (s *RentalService) ConfirmPayment(ctx context.Context, req *PaymentConfirmation) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.ConfirmPayment")
	defer span.End()

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	util.SetOrderAttributes(span, order.ID, order.VehicleID)
	if order.IsSettled() {
		s.logger.Info("Duplicate payment confirmation ignored", zap.Int64("order_id", order.ID))
		return order, nil
	}
	if order.Status != models.OrderStatusPaymentPending && order.Status != models.OrderStatusApprovalPending {
		return nil, fmt.Errorf("%w: cannot pay a %s order", ErrInvalidOrderState, order.Status)
	}

	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodKhalti
	}
	txUUID := req.TransactionUUID
	if txUUID == "" {
		txUUID = uuid.New().String()
	}

	if err := s.store.MarkOrderPaid(ctx, order.ID, method, txUUID); err != nil {
		mapped, ok := guardedWriteErr(err)
		if !ok {
			return nil, s.storageFailure(ctx, "mark order paid", err)
		}
		if errors.Is(mapped, ErrInvalidOrderState) {
			// a concurrent confirmation may have settled it first
			if current, lerr := s.loadOrder(ctx, order.ID); lerr == nil && current.IsSettled() {
				return current, nil
			}
		}
		return nil, mapped
	}
	order.Status = models.OrderStatusCompleted
	order.PaidStatus = models.PaidStatusPaid
	order.PaymentMethod = method
	order.TransactionUUID = txUUID

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("payment_method", method),
		zap.String("transaction_uuid", txUUID))
	publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderPaid, order)

	return order, nil
}

func (s *RentalService) loadOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, s.storageFailure(ctx, "load order", err)
	}
	return order, nil
}

// expireIfStale expires an active order whose reservation window has passed
// and reports it as no longer editable
func (s *RentalService) expireIfStale(ctx context.Context, order *models.Order) error {
	if s.now().Sub(order.CreatedAt) <= s.window {
		return nil
	}
	expired, err := s.store.ExpireOrder(ctx, order.ID, order.VehicleID)
	if err != nil {
		return s.storageFailure(ctx, "expire order", err)
	}
	if expired {
		order.Status = models.OrderStatusExpired
		util.OrdersExpiredTotal.Inc()
		publishOrderEvent(ctx, s.publisher, s.logger, models.EventTypeOrderExpired, order)
	}
	return fmt.Errorf("%w: reservation window has passed", ErrInvalidOrderState)
}

func (s *RentalService) reject(reason string, err error) {
	util.RentalDetailsRejectedTotal.WithLabelValues(reason).Inc()
	s.logger.Debug("Rental details rejected", zap.String("reason", reason), zap.Error(err))
}

func (s *RentalService) storageFailure(ctx context.Context, op string, err error) error {
	s.logger.Error("Storage failure", zap.String("op", op), zap.Error(err))
	util.RecordSpanError(ctx, err)
	return storageErr(op, err)
}

// dateOnly truncates t to midnight UTC of its calendar day
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
