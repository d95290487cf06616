package store

import (
	"context"

	"rental-service/internal/models"
)

// ListPayableOrders retrieves completed and paid orders with their vehicle owner
func (s *Store) ListPayableOrders(ctx context.Context) ([]models.PayableOrder, error) {
	var orders []models.PayableOrder
	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(`
		SELECT o.id AS order_id, v.owner_id AS owner_id, o.grand_total AS grand_total
		FROM orders o
		JOIN vehicles v ON v.id = o.vehicle_id
		WHERE o.status = ? AND o.paid_status = ?
		ORDER BY o.id`),
		models.OrderStatusCompleted, models.PaidStatusPaid)
	return orders, err
}

// TransactionExists checks whether a revenue split was already recorded for an order
func (s *Store) TransactionExists(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, s.db.Rebind(
		"SELECT EXISTS(SELECT 1 FROM transactions WHERE order_id = ?)"), orderID)
	return exists, err
}

// CreateTransaction inserts a revenue split record
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO transactions (id, order_id, owner_id, grand_total, owner_earning,
			admin_earning, payment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		txn.ID, txn.OrderID, txn.OwnerID, txn.GrandTotal, txn.OwnerEarning,
		txn.AdminEarning, txn.PaymentStatus, txn.CreatedAt)
	return err
}
