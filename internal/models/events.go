package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderDrafted          = "order.drafted"
	EventTypeOrderDetailsSubmitted = "order.details_submitted"
	EventTypeOrderCODConfirmed     = "order.cod_confirmed"
	EventTypeOrderPaid             = "order.paid"
	EventTypeOrderCancelled        = "order.cancelled"
	EventTypeOrderExpired          = "order.expired"
	EventTypeOrderPurged           = "order.purged"
	EventTypeTransactionPosted     = "transaction.posted"
	EventTypePaymentConfirmed      = "payment.confirmed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderEvent is published on every order lifecycle transition
type OrderEvent struct {
	BaseEvent
	OrderID    int64            `json:"order_id"`
	UserID     int64            `json:"user_id"`
	VehicleID  int64            `json:"vehicle_id"`
	Status     string           `json:"status"`
	GrandTotal *decimal.Decimal `json:"grand_total,omitempty"`
}

// TransactionPostedEvent is published when a revenue split is recorded
type TransactionPostedEvent struct {
	BaseEvent
	TransactionID int64           `json:"transaction_id"`
	OrderID       int64           `json:"order_id"`
	OwnerID       int64           `json:"owner_id"`
	OwnerEarning  decimal.Decimal `json:"owner_earning"`
	AdminEarning  decimal.Decimal `json:"admin_earning"`
}

// PaymentConfirmedEvent is consumed from the payment gateway collaborator
type PaymentConfirmedEvent struct {
	BaseEvent
	OrderID         int64  `json:"order_id"`
	TransactionUUID string `json:"transaction_uuid"`
	PaymentMethod   string `json:"payment_method"`
}
