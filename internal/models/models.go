package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents one rental attempt by a renter on a vehicle
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	VehicleID       int64           `db:"vehicle_id" json:"vehicle_id"`
	Status          string          `db:"status" json:"status"`
	PaidStatus      string          `db:"paid_status" json:"paid_status"`
	DeliveredStatus string          `db:"delivered_status" json:"delivered_status"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method,omitempty"`
	TransactionUUID string          `db:"transaction_uuid" json:"transaction_uuid,omitempty"`
	StartDate       *time.Time      `db:"start_date" json:"start_date,omitempty"`
	EndDate         *time.Time      `db:"end_date" json:"end_date,omitempty"`
	RentalDays      int             `db:"rental_days" json:"rental_days"`
	GrandTotal      decimal.Decimal `db:"grand_total" json:"grand_total"`
	TermsAccepted   bool            `db:"terms_accepted" json:"terms_accepted"`
	LicenseImage    string          `db:"license_image" json:"license_image,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the order still holds its vehicle's reservation
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusDraft || o.Status == OrderStatusPaymentPending
}

// IsSettled reports whether the order is completed and paid
func (o *Order) IsSettled() bool {
	return o.Status == OrderStatusCompleted && o.PaidStatus == PaidStatusPaid
}

// RentalDetails is the set of columns written when a renter submits dates
type RentalDetails struct {
	StartDate     time.Time
	EndDate       time.Time
	TermsAccepted bool
	LicenseImage  string
	RentalDays    int
	GrandTotal    decimal.Decimal
}

// Vehicle represents a listed vehicle and its availability flag
type Vehicle struct {
	ID           int64           `db:"id" json:"id"`
	OwnerID      int64           `db:"owner_id" json:"owner_id"`
	CategoryID   int64           `db:"category_id" json:"category_id"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Availability int             `db:"availability" json:"availability"`
}

// VehicleStatus is the rental window approved for a vehicle by its owner/admin
type VehicleStatus struct {
	ID        int64     `db:"id" json:"id"`
	VehicleID int64     `db:"vehicle_id" json:"vehicle_id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Status    string    `db:"status" json:"status"`
}

// Contains reports whether [start, end] lies fully inside the approved window
func (vs *VehicleStatus) Contains(start, end time.Time) bool {
	return !start.Before(vs.StartDate) && !end.After(vs.EndDate)
}

// Discount is a percentage discount applied to every vehicle of a category
type Discount struct {
	ID         int64           `db:"id" json:"id"`
	CategoryID int64           `db:"category_id" json:"category_id"`
	Percentage decimal.Decimal `db:"percentage" json:"percentage"`
	Enabled    bool            `db:"enabled" json:"enabled"`
}

// RenterProfile holds the profile fields a renter needs before reserving
type RenterProfile struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Email   string `db:"email" json:"email"`
	Phone   string `db:"phone" json:"phone"`
	Image   string `db:"image" json:"image"`
	Address string `db:"address" json:"address"`
}

// Transaction is the revenue split recorded once per completed and paid order
type Transaction struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	OwnerID       int64           `db:"owner_id" json:"owner_id"`
	GrandTotal    decimal.Decimal `db:"grand_total" json:"grand_total"`
	OwnerEarning  decimal.Decimal `db:"owner_earning" json:"owner_earning"`
	AdminEarning  decimal.Decimal `db:"admin_earning" json:"admin_earning"`
	PaymentStatus string          `db:"payment_status" json:"payment_status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// PayableOrder is a completed and paid order joined to its vehicle owner
type PayableOrder struct {
	OrderID    int64           `db:"order_id"`
	OwnerID    int64           `db:"owner_id"`
	GrandTotal decimal.Decimal `db:"grand_total"`
}

// Order statuses
const (
	OrderStatusDraft           = "draft"
	OrderStatusPaymentPending  = "payment_pending"
	OrderStatusApprovalPending = "approval_pending"
	OrderStatusCompleted       = "completed"
	OrderStatusCancelled       = "cancelled"
	OrderStatusExpired         = "expires"
)

// Paid statuses
const (
	PaidStatusPending = "pending"
	PaidStatusPaid    = "paid"
	PaidStatusFailed  = "failed"
)

// Delivered statuses
const (
	DeliveredStatusNotDelivered = "not_delivered"
	DeliveredStatusDelivered    = "delivered"
	DeliveredStatusReturned     = "returned"
)

// Payment methods
const (
	PaymentMethodCOD    = "COD"
	PaymentMethodKhalti = "khalti"
)

// Vehicle availability flag values
const (
	VehicleUnavailable = 0
	VehicleAvailable   = 1
)

// Vehicle window statuses
const (
	VehicleStatusApproved      = "approve"
	VehicleStatusEndRentalDate = "end_rental_date"
)

// TransactionStatusDue marks a revenue split not yet paid out
const TransactionStatusDue = "due"

// ActiveStatuses are the order statuses that hold a vehicle reservation
var ActiveStatuses = []string{OrderStatusDraft, OrderStatusPaymentPending}

// HoldingStatuses are the order statuses that keep a vehicle claimed. A COD
// order awaiting approval holds its vehicle unless COD confirmation releases it.
func HoldingStatuses(codReleasesAvailability bool) []string {
	if codReleasesAvailability {
		return ActiveStatuses
	}
	return []string{OrderStatusDraft, OrderStatusPaymentPending, OrderStatusApprovalPending}
}

// SweepStatuses are the order statuses the expiry reconciler inspects
var SweepStatuses = []string{
	OrderStatusDraft,
	OrderStatusPaymentPending,
	OrderStatusCancelled,
	OrderStatusExpired,
}
