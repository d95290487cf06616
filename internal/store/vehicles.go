package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"
)

// GetRenterProfile retrieves the profile fields of a renter
func (s *Store) GetRenterProfile(ctx context.Context, userID int64) (*models.RenterProfile, error) {
	var profile models.RenterProfile
	err := s.db.GetContext(ctx, &profile, s.db.Rebind(`
		SELECT id, COALESCE(name, '') AS name, COALESCE(email, '') AS email,
		       COALESCE(phone, '') AS phone, COALESCE(image, '') AS image,
		       COALESCE(address, '') AS address
		FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("renter %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetVehicle retrieves a vehicle by ID
func (s *Store) GetVehicle(ctx context.Context, vehicleID int64) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	err := s.db.GetContext(ctx, &vehicle, s.db.Rebind(
		"SELECT id, owner_id, category_id, price, availability FROM vehicles WHERE id = ?"), vehicleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %d: %w", vehicleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// GetApprovedWindow retrieves the currently approved rental window of a vehicle
func (s *Store) GetApprovedWindow(ctx context.Context, vehicleID int64) (*models.VehicleStatus, error) {
	var window models.VehicleStatus
	err := s.db.GetContext(ctx, &window, s.db.Rebind(`
		SELECT id, vehicle_id, start_date, end_date, status
		FROM vehicle_status
		WHERE vehicle_id = ? AND status = ?
		ORDER BY end_date DESC LIMIT 1`), vehicleID, models.VehicleStatusApproved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approved window for vehicle %d: %w", vehicleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &window, nil
}

// GetActiveDiscount retrieves the enabled discount of a category, nil if there is none
func (s *Store) GetActiveDiscount(ctx context.Context, categoryID int64) (*models.Discount, error) {
	var discount models.Discount
	err := s.db.GetContext(ctx, &discount, s.db.Rebind(`
		SELECT id, category_id, percentage, enabled
		FROM discounts
		WHERE category_id = ? AND enabled = ?
		ORDER BY id DESC LIMIT 1`), categoryID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &discount, nil
}

// CloseExpiredVehicleWindows marks approved windows that ended before today
func (s *Store) CloseExpiredVehicleWindows(ctx context.Context, today time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE vehicle_status SET status = ? WHERE status = ? AND end_date < ?"),
		models.VehicleStatusEndRentalDate, models.VehicleStatusApproved, today)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
