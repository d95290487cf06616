package service

import (
	"context"
	"time"

	"rental-service/internal/models"

	"go.uber.org/zap"
)

// OrderStore is the persistence used by the reservation path
type OrderStore interface {
	GetRenterProfile(ctx context.Context, userID int64) (*models.RenterProfile, error)
	GetVehicle(ctx context.Context, vehicleID int64) (*models.Vehicle, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersForPair(ctx context.Context, userID, vehicleID int64, statuses ...string) ([]models.Order, error)
	CreateDraftOrder(ctx context.Context, order *models.Order) error
	CancelOrder(ctx context.Context, orderID, vehicleID int64) error
	ExpireOrder(ctx context.Context, orderID, vehicleID int64) (bool, error)
	PurgeOrder(ctx context.Context, orderID, vehicleID int64) error
}

// RentalStore is the persistence used by rental detail, COD and payment confirmation
type RentalStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetVehicle(ctx context.Context, vehicleID int64) (*models.Vehicle, error)
	GetApprovedWindow(ctx context.Context, vehicleID int64) (*models.VehicleStatus, error)
	GetActiveDiscount(ctx context.Context, categoryID int64) (*models.Discount, error)
	ListConflictingOrders(ctx context.Context, vehicleID, excludeOrderID int64, start, end time.Time) ([]models.Order, error)
	UpdateRentalDetails(ctx context.Context, orderID int64, details models.RentalDetails) error
	ConfirmCOD(ctx context.Context, orderID, vehicleID int64, release bool) error
	MarkOrderPaid(ctx context.Context, orderID int64, method, transactionUUID string) error
	ExpireOrder(ctx context.Context, orderID, vehicleID int64) (bool, error)
}

// ReconcilerStore is the persistence used by the background sweeps
type ReconcilerStore interface {
	ListSweepableOrders(ctx context.Context) ([]models.Order, error)
	ExpireOrder(ctx context.Context, orderID, vehicleID int64) (bool, error)
	PurgeOrder(ctx context.Context, orderID, vehicleID int64) error
	CloseExpiredVehicleWindows(ctx context.Context, today time.Time) (int64, error)
}

// TransactionStore is the persistence used by the transaction poster
type TransactionStore interface {
	ListPayableOrders(ctx context.Context) ([]models.PayableOrder, error)
	TransactionExists(ctx context.Context, orderID int64) (bool, error)
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
}

// Locker hands out short lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Publisher emits order lifecycle events
type Publisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishTransactionPosted(ctx context.Context, event *models.TransactionPostedEvent) error
}

// publishOrderEvent emits a lifecycle event for order. Failures are logged only.
func publishOrderEvent(ctx context.Context, p Publisher, logger *zap.Logger, eventType string, order *models.Order) {
	if p == nil {
		return
	}
	event := &models.OrderEvent{
		BaseEvent: models.NewBaseEvent(eventType),
		OrderID:   order.ID,
		UserID:    order.UserID,
		VehicleID: order.VehicleID,
		Status:    order.Status,
	}
	if !order.GrandTotal.IsZero() {
		total := order.GrandTotal
		event.GrandTotal = &total
	}
	if err := p.PublishOrderEvent(ctx, event); err != nil {
		logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
