package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"rental-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rentalFixture struct {
	store     *fakeStore
	publisher *recordingPublisher
	clock     *fakeClock
	svc       *RentalService
}

func newRentalFixture(t *testing.T, codReleases bool) *rentalFixture {
	t.Helper()

	fs := newFakeStore()
	fs.holding = models.HoldingStatuses(codReleases)
	fs.addVehicle(&models.Vehicle{ID: 3, OwnerID: 11, CategoryID: 2, Price: money("1500"), Availability: models.VehicleUnavailable})
	fs.windows[3] = &models.VehicleStatus{
		ID:        1,
		VehicleID: 3,
		StartDate: date("2025-01-01"),
		EndDate:   date("2025-01-31"),
		Status:    models.VehicleStatusApproved,
	}
	fs.addOrder(&models.Order{
		ID:              42,
		UserID:          7,
		VehicleID:       3,
		Status:          models.OrderStatusDraft,
		PaidStatus:      models.PaidStatusPending,
		DeliveredStatus: models.DeliveredStatusNotDelivered,
		CreatedAt:       testStart,
	})

	f := &rentalFixture{
		store:     fs,
		publisher: &recordingPublisher{},
		clock:     newFakeClock(testStart.Add(time.Minute)),
	}
	f.svc = NewRentalService(fs, f.publisher, testWindow, codReleases)
	f.svc.now = f.clock.Now
	return f
}

func detailsRequest(start, end string) *RentalDetailsRequest {
	return &RentalDetailsRequest{
		UserID:        7,
		VehicleID:     3,
		OrderID:       42,
		StartDate:     date(start),
		EndDate:       date(end),
		TermsAccepted: true,
		LicenseImage:  "licenses/7.png",
	}
}

func TestSubmitDetailsPricesOrder(t *testing.T) {
	f := newRentalFixture(t, true)

	order, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPaymentPending, order.Status)
	assert.Equal(t, 5, order.RentalDays)
	assert.Equal(t, "7500.00", order.GrandTotal.StringFixed(2))

	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusPaymentPending, stored.Status)
	assert.Equal(t, date("2025-01-10"), *stored.StartDate)
	assert.Equal(t, date("2025-01-15"), *stored.EndDate)
	assert.True(t, stored.TermsAccepted)
	assert.Equal(t, "licenses/7.png", stored.LicenseImage)
	assert.True(t, stored.GrandTotal.Equal(money("7500")))
	assert.Equal(t, models.VehicleUnavailable, f.store.availability(3))
	assert.Equal(t, []string{models.EventTypeOrderDetailsSubmitted}, f.publisher.eventTypes())
}

func TestSubmitDetailsAppliesCategoryDiscount(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.discounts[2] = &models.Discount{ID: 1, CategoryID: 2, Percentage: money("10"), Enabled: true}

	order, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	assert.Equal(t, "6750.00", order.GrandTotal.StringFixed(2))
}

func TestSubmitDetailsIgnoresDisabledDiscount(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.discounts[2] = &models.Discount{ID: 1, CategoryID: 2, Percentage: money("10"), Enabled: false}

	order, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	assert.Equal(t, "7500.00", order.GrandTotal.StringFixed(2))
}

func TestSubmitDetailsIsDeterministic(t *testing.T) {
	f := newRentalFixture(t, true)

	first, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)
	second, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	assert.True(t, first.GrandTotal.Equal(second.GrandTotal))
	assert.Equal(t, first.RentalDays, second.RentalDays)
}

func TestSubmitDetailsDateConflict(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.addOrder(&models.Order{
		ID:        43,
		UserID:    8,
		VehicleID: 3,
		Status:    models.OrderStatusPaymentPending,
		StartDate: datePtr("2025-01-12"),
		EndDate:   datePtr("2025-01-18"),
		CreatedAt: testStart,
	})

	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))

	assert.ErrorIs(t, err, ErrDateConflict)
	var conflict *DateConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, int64(43), conflict.Conflicts[0].ID)

	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusDraft, stored.Status)
	assert.Nil(t, stored.StartDate)
	assert.Empty(t, f.publisher.eventTypes())
}

func TestSubmitDetailsSkipsCancelledAndExpiredOrders(t *testing.T) {
	f := newRentalFixture(t, true)
	for id, status := range map[int64]string{43: models.OrderStatusCancelled, 44: models.OrderStatusExpired} {
		f.store.addOrder(&models.Order{
			ID:        id,
			UserID:    8,
			VehicleID: 3,
			Status:    status,
			StartDate: datePtr("2025-01-12"),
			EndDate:   datePtr("2025-01-18"),
		})
	}

	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	assert.NoError(t, err)
}

func TestSubmitDetailsValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *rentalFixture, req *RentalDetailsRequest)
		wantErr error
	}{
		{
			name:    "unknown order",
			mutate:  func(_ *rentalFixture, req *RentalDetailsRequest) { req.OrderID = 999 },
			wantErr: ErrOrderNotFound,
		},
		{
			name:    "order of another renter",
			mutate:  func(_ *rentalFixture, req *RentalDetailsRequest) { req.UserID = 8 },
			wantErr: ErrOrderNotFound,
		},
		{
			name: "finalized order",
			mutate: func(f *rentalFixture, _ *RentalDetailsRequest) {
				f.store.orders[42].Status = models.OrderStatusApprovalPending
			},
			wantErr: ErrInvalidOrderState,
		},
		{
			name: "start in the past",
			mutate: func(_ *rentalFixture, req *RentalDetailsRequest) {
				req.StartDate = date("2025-01-04")
			},
			wantErr: ErrInvalidDateRange,
		},
		{
			name: "end equals start",
			mutate: func(_ *rentalFixture, req *RentalDetailsRequest) {
				req.EndDate = req.StartDate
			},
			wantErr: ErrInvalidDateRange,
		},
		{
			name: "end before start",
			mutate: func(_ *rentalFixture, req *RentalDetailsRequest) {
				req.EndDate = date("2025-01-08")
			},
			wantErr: ErrInvalidDateRange,
		},
		{
			name: "past the approved window",
			mutate: func(_ *rentalFixture, req *RentalDetailsRequest) {
				req.EndDate = date("2025-02-02")
			},
			wantErr: ErrOutsideAvailableWindow,
		},
		{
			name: "no approved window",
			mutate: func(f *rentalFixture, _ *RentalDetailsRequest) {
				delete(f.store.windows, 3)
			},
			wantErr: ErrOutsideAvailableWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRentalFixture(t, true)
			req := detailsRequest("2025-01-10", "2025-01-15")
			tt.mutate(f, req)

			_, err := f.svc.SubmitDetails(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmitDetailsChecksDatesBeforeConflicts(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.addOrder(&models.Order{
		ID:        43,
		VehicleID: 3,
		Status:    models.OrderStatusPaymentPending,
		StartDate: datePtr("2025-01-01"),
		EndDate:   datePtr("2025-01-20"),
	})

	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-04", "2025-01-08"))
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestSubmitDetailsOnStaleDraft(t *testing.T) {
	f := newRentalFixture(t, true)
	f.clock.Advance(testWindow)

	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))

	assert.ErrorIs(t, err, ErrInvalidOrderState)
	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusExpired, stored.Status)
	assert.Equal(t, models.VehicleAvailable, f.store.availability(3))
}

func TestConfirmCODReleasesVehicle(t *testing.T) {
	f := newRentalFixture(t, true)
	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	order, err := f.svc.ConfirmCOD(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusApprovalPending, order.Status)
	assert.Equal(t, models.PaymentMethodCOD, order.PaymentMethod)
	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusApprovalPending, stored.Status)
	assert.Equal(t, models.PaidStatusPending, stored.PaidStatus)
	assert.Equal(t, models.DeliveredStatusNotDelivered, stored.DeliveredStatus)
	assert.Equal(t, models.VehicleAvailable, f.store.availability(3))
}

func TestConfirmCODKeepsVehicleHeld(t *testing.T) {
	f := newRentalFixture(t, false)
	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	_, err = f.svc.ConfirmCOD(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, models.VehicleUnavailable, f.store.availability(3))
}

func TestConfirmCODRejections(t *testing.T) {
	for _, status := range []string{models.OrderStatusCancelled, models.OrderStatusExpired} {
		t.Run(status, func(t *testing.T) {
			f := newRentalFixture(t, true)
			f.store.orders[42].Status = status

			_, err := f.svc.ConfirmCOD(context.Background(), 42)
			assert.ErrorIs(t, err, ErrInvalidOrderState)
		})
	}

	t.Run("paid", func(t *testing.T) {
		f := newRentalFixture(t, true)
		f.store.orders[42].Status = models.OrderStatusCompleted
		f.store.orders[42].PaidStatus = models.PaidStatusPaid

		_, err := f.svc.ConfirmCOD(context.Background(), 42)
		assert.ErrorIs(t, err, ErrInvalidOrderState)
		assert.Equal(t, models.VehicleUnavailable, f.store.availability(3))
	})

	t.Run("missing", func(t *testing.T) {
		f := newRentalFixture(t, true)

		_, err := f.svc.ConfirmCOD(context.Background(), 999)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestConfirmPaymentCompletesOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)

	order, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42, TransactionUUID: "khalti-tx-1"})
	require.NoError(t, err)

	assert.True(t, order.IsSettled())
	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	assert.Equal(t, models.PaidStatusPaid, stored.PaidStatus)
	assert.Equal(t, models.PaymentMethodKhalti, stored.PaymentMethod)
	assert.Equal(t, "khalti-tx-1", stored.TransactionUUID)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.orders[42].Status = models.OrderStatusCompleted
	f.store.orders[42].PaidStatus = models.PaidStatusPaid
	f.store.orders[42].TransactionUUID = "first"

	order, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42, TransactionUUID: "second"})
	require.NoError(t, err)

	assert.Equal(t, "first", order.TransactionUUID)
	assert.Empty(t, f.publisher.eventTypes())
}

func TestConfirmPaymentRequiresDetails(t *testing.T) {
	f := newRentalFixture(t, true)

	_, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42})
	assert.ErrorIs(t, err, ErrInvalidOrderState)
}

func TestConfirmPaymentGeneratesTransactionUUID(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.orders[42].Status = models.OrderStatusApprovalPending

	order, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42, PaymentMethod: models.PaymentMethodCOD})
	require.NoError(t, err)

	assert.NotEmpty(t, order.TransactionUUID)
	assert.Equal(t, models.PaymentMethodCOD, order.PaymentMethod)
}

func (f *rentalFixture) onNextGet(change func(o *models.Order)) {
	f.store.afterGet = func(id int64) {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		if o, ok := f.store.orders[id]; ok {
			change(o)
		}
	}
}

func (f *rentalFixture) purgeOnNextGet() {
	f.store.afterGet = func(id int64) {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		delete(f.store.orders, id)
	}
}

func TestSubmitDetailsDoesNotReviveExpiredOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	f.onNextGet(func(o *models.Order) { o.Status = models.OrderStatusExpired })

	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))

	assert.ErrorIs(t, err, ErrInvalidOrderState)
	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusExpired, stored.Status)
	assert.Nil(t, stored.StartDate)
	assert.Empty(t, f.publisher.eventTypes())
}

func TestSubmitDetailsOnPurgedOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	f.purgeOnNextGet()

	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))

	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, ok := f.store.order(42)
	assert.False(t, ok)
}

func TestConfirmCODOnPurgedOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	f.purgeOnNextGet()

	_, err := f.svc.ConfirmCOD(context.Background(), 42)

	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, models.VehicleUnavailable, f.store.availability(3))
	assert.Empty(t, f.publisher.eventTypes())
}

func TestConfirmCODOnConcurrentlyCancelledOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	f.onNextGet(func(o *models.Order) { o.Status = models.OrderStatusCancelled })

	_, err := f.svc.ConfirmCOD(context.Background(), 42)

	assert.ErrorIs(t, err, ErrInvalidOrderState)
	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
}

func TestConfirmPaymentOnPurgedOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.orders[42].Status = models.OrderStatusPaymentPending
	f.purgeOnNextGet()

	_, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42, TransactionUUID: "khalti-tx-1"})

	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, ok := f.store.order(42)
	assert.False(t, ok)
	assert.Empty(t, f.publisher.eventTypes())
}

func TestConfirmPaymentOnExpiredOrder(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.orders[42].Status = models.OrderStatusPaymentPending
	f.onNextGet(func(o *models.Order) { o.Status = models.OrderStatusExpired })

	_, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42, TransactionUUID: "khalti-tx-1"})

	assert.ErrorIs(t, err, ErrInvalidOrderState)
	stored, _ := f.store.order(42)
	assert.Equal(t, models.OrderStatusExpired, stored.Status)
	assert.Equal(t, models.PaidStatusPending, stored.PaidStatus)
}

func TestConfirmPaymentSettledConcurrently(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.orders[42].Status = models.OrderStatusPaymentPending
	f.onNextGet(func(o *models.Order) {
		o.Status = models.OrderStatusCompleted
		o.PaidStatus = models.PaidStatusPaid
		o.TransactionUUID = "first"
	})

	order, err := f.svc.ConfirmPayment(context.Background(), &PaymentConfirmation{OrderID: 42, TransactionUUID: "second"})
	require.NoError(t, err)

	assert.True(t, order.IsSettled())
	assert.Equal(t, "first", order.TransactionUUID)
	assert.Empty(t, f.publisher.eventTypes())
}

func TestHeldCODOrderSurvivesSweepOfOtherOrders(t *testing.T) {
	f := newRentalFixture(t, false)
	_, err := f.svc.SubmitDetails(context.Background(), detailsRequest("2025-01-10", "2025-01-15"))
	require.NoError(t, err)
	_, err = f.svc.ConfirmCOD(context.Background(), 42)
	require.NoError(t, err)
	f.store.addOrder(&models.Order{ID: 43, UserID: 8, VehicleID: 3, Status: models.OrderStatusCancelled, CreatedAt: testStart})

	r := newTestReconciler(f.store, f.clock)
	result, err := r.SweepOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Purged)
	assert.Equal(t, models.VehicleUnavailable, f.store.availability(3))
}

func TestReleasedCODOrderDoesNotHoldVehicle(t *testing.T) {
	f := newRentalFixture(t, true)
	f.store.orders[42].Status = models.OrderStatusApprovalPending
	f.store.addOrder(&models.Order{ID: 43, UserID: 8, VehicleID: 3, Status: models.OrderStatusExpired, CreatedAt: testStart})

	r := newTestReconciler(f.store, f.clock)
	_, err := r.SweepOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.VehicleAvailable, f.store.availability(3))
}
