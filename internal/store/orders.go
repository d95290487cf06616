package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, vehicle_id, status, paid_status, delivered_status,
	payment_method, transaction_uuid, start_date, end_date, rental_days, grand_total,
	terms_accepted, license_image, created_at, updated_at`

// CreateDraftOrder claims the vehicle's availability flag and inserts the draft
// order in one transaction. Returns ErrVehicleUnavailable if the flag is already 0.
func (s *Store) CreateDraftOrder(ctx context.Context, order *models.Order) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var availability int
		err := tx.GetContext(ctx, &availability,
			s.db.Rebind("SELECT availability FROM vehicles WHERE id = ? FOR UPDATE"), order.VehicleID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("vehicle %d: %w", order.VehicleID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock vehicle: %w", err)
		}
		if availability != models.VehicleAvailable {
			return ErrVehicleUnavailable
		}

		result, err := tx.ExecContext(ctx, s.db.Rebind(
			"UPDATE vehicles SET availability = ? WHERE id = ? AND availability = ?"),
			models.VehicleUnavailable, order.VehicleID, models.VehicleAvailable)
		if err != nil {
			return fmt.Errorf("failed to claim vehicle: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrVehicleUnavailable
		}

		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO orders (id, user_id, vehicle_id, status, paid_status, delivered_status,
				payment_method, transaction_uuid, rental_days, grand_total, terms_accepted,
				license_image, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			order.ID, order.UserID, order.VehicleID, order.Status, order.PaidStatus, order.DeliveredStatus,
			order.PaymentMethod, order.TransactionUUID, order.RentalDays, order.GrandTotal, order.TermsAccepted,
			order.LicenseImage, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersForPair retrieves the orders of a renter on a vehicle in the given statuses
func (s *Store) ListOrdersForPair(ctx context.Context, userID, vehicleID int64, statuses ...string) ([]models.Order, error) {
	query, args, err := s.in(
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? AND vehicle_id = ? AND status IN (?) ORDER BY created_at",
		userID, vehicleID, statuses)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// ListConflictingOrders retrieves other live orders on a vehicle whose rental
// window overlaps [start, end]
func (s *Store) ListConflictingOrders(ctx context.Context, vehicleID, excludeOrderID int64, start, end time.Time) ([]models.Order, error) {
	query, args, err := s.in(`
		SELECT `+orderColumns+` FROM orders
		WHERE vehicle_id = ? AND id <> ?
		  AND status NOT IN (?)
		  AND start_date IS NOT NULL AND end_date IS NOT NULL
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date`,
		vehicleID, excludeOrderID,
		[]string{models.OrderStatusCancelled, models.OrderStatusExpired},
		end, start)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// cancellableStatuses are the statuses a renter may cancel from
var cancellableStatuses = []string{
	models.OrderStatusDraft,
	models.OrderStatusPaymentPending,
	models.OrderStatusApprovalPending,
}

// payableStatuses are the statuses a payment confirmation may complete
var payableStatuses = []string{
	models.OrderStatusPaymentPending,
	models.OrderStatusApprovalPending,
}

// UpdateRentalDetails writes dates, terms, license and pricing and moves the order
// to payment_pending. Returns ErrStateChanged if the order is no longer active.
func (s *Store) UpdateRentalDetails(ctx context.Context, orderID int64, details models.RentalDetails) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := s.in(`
			UPDATE orders
			SET start_date = ?, end_date = ?, terms_accepted = ?, license_image = ?,
			    status = ?, rental_days = ?, grand_total = ?, updated_at = NOW()
			WHERE id = ? AND status IN (?)`,
			details.StartDate, details.EndDate, details.TermsAccepted, details.LicenseImage,
			models.OrderStatusPaymentPending, details.RentalDays, details.GrandTotal, orderID,
			models.ActiveStatuses)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update rental details: %w", err)
		}
		return s.checkOrderUpdatedTx(ctx, tx, orderID, result, models.ActiveStatuses)
	})
}

// ConfirmCOD moves an order to approval_pending as a cash-on-delivery order.
// When release is set the vehicle is made bookable again in the same transaction.
// Returns ErrStateChanged if the order can no longer be confirmed.
func (s *Store) ConfirmCOD(ctx context.Context, orderID, vehicleID int64, release bool) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := s.in(`
			UPDATE orders
			SET status = ?, paid_status = ?, delivered_status = ?, payment_method = ?, updated_at = NOW()
			WHERE id = ? AND status IN (?)`,
			models.OrderStatusApprovalPending, models.PaidStatusPending,
			models.DeliveredStatusNotDelivered, models.PaymentMethodCOD, orderID, cancellableStatuses)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to confirm COD: %w", err)
		}
		if err := s.checkOrderUpdatedTx(ctx, tx, orderID, result, cancellableStatuses); err != nil {
			return err
		}
		if !release {
			return nil
		}
		return s.setAvailabilityTx(ctx, tx, vehicleID, models.VehicleAvailable)
	})
}

// MarkOrderPaid completes an order after a payment confirmation.
// Returns ErrStateChanged if the order is no longer awaiting payment.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, method, transactionUUID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := s.in(`
			UPDATE orders
			SET status = ?, paid_status = ?, payment_method = ?, transaction_uuid = ?, updated_at = NOW()
			WHERE id = ? AND status IN (?)`,
			models.OrderStatusCompleted, models.PaidStatusPaid, method, transactionUUID, orderID,
			payableStatuses)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		return s.checkOrderUpdatedTx(ctx, tx, orderID, result, payableStatuses)
	})
}

// CancelOrder cancels an order and releases its vehicle.
// Returns ErrStateChanged if the order can no longer be cancelled.
func (s *Store) CancelOrder(ctx context.Context, orderID, vehicleID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := s.in(
			"UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ? AND status IN (?)",
			models.OrderStatusCancelled, orderID, cancellableStatuses)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		if err := s.checkOrderUpdatedTx(ctx, tx, orderID, result, cancellableStatuses); err != nil {
			return err
		}
		return s.releaseVehicleTx(ctx, tx, vehicleID, orderID)
	})
}

// ExpireOrder moves an active order to expires and releases its vehicle.
// Returns false if the order was no longer active.
func (s *Store) ExpireOrder(ctx context.Context, orderID, vehicleID int64) (bool, error) {
	expired := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := s.in(
			"UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ? AND status IN (?)",
			models.OrderStatusExpired, orderID, models.ActiveStatuses)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to expire order: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		expired = true
		return s.releaseVehicleTx(ctx, tx, vehicleID, orderID)
	})
	return expired, err
}

// PurgeOrder hard-deletes a cancelled or expired order and releases its vehicle
func (s *Store) PurgeOrder(ctx context.Context, orderID, vehicleID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := s.in("DELETE FROM orders WHERE id = ? AND status IN (?)",
			orderID, []string{models.OrderStatusCancelled, models.OrderStatusExpired})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return s.releaseVehicleTx(ctx, tx, vehicleID, orderID)
	})
}

// ListSweepableOrders retrieves every order the expiry reconciler inspects
func (s *Store) ListSweepableOrders(ctx context.Context) ([]models.Order, error) {
	query, args, err := s.in("SELECT "+orderColumns+" FROM orders WHERE status IN (?)", models.SweepStatuses)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// releaseVehicleTx makes a vehicle bookable unless another order still holds it
func (s *Store) releaseVehicleTx(ctx context.Context, tx *sqlx.Tx, vehicleID, orderID int64) error {
	query, args, err := s.in(`
		UPDATE vehicles SET availability = ?
		WHERE id = ? AND NOT EXISTS (
			SELECT 1 FROM orders WHERE vehicle_id = ? AND id <> ? AND status IN (?)
		)`,
		models.VehicleAvailable, vehicleID, vehicleID, orderID, s.holdingStatuses())
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to release vehicle: %w", err)
	}
	return nil
}

func (s *Store) holdingStatuses() []string {
	if len(s.holding) == 0 {
		return models.ActiveStatuses
	}
	return s.holding
}

// checkOrderUpdatedTx inspects a guarded single-order UPDATE. When no row
// changed, the order is re-read: a missing row is ErrNotFound, a status outside
// allowed is ErrStateChanged. MySQL reports unchanged rows as unaffected, so an
// order still in an allowed status counts as updated.
func (s *Store) checkOrderUpdatedTx(ctx context.Context, tx *sqlx.Tx, orderID int64, result sql.Result, allowed []string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = tx.GetContext(ctx, &status, s.db.Rebind("SELECT status FROM orders WHERE id = ?"), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to reload order: %w", err)
	}
	for _, st := range allowed {
		if st == status {
			return nil
		}
	}
	return fmt.Errorf("order %d is %s: %w", orderID, status, ErrStateChanged)
}
