package service

import (
	"errors"
	"fmt"
	"strings"

	"rental-service/internal/models"
	"rental-service/internal/store"
)

// Error kinds returned by the order lifecycle services
var (
	ErrIncompleteProfile      = errors.New("renter profile is incomplete")
	ErrRenterNotFound         = errors.New("renter not found")
	ErrVehicleNotFound        = errors.New("vehicle not found")
	ErrVehicleUnavailable     = errors.New("vehicle is not available")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidOrderState      = errors.New("invalid order state")
	ErrInvalidDateRange       = errors.New("invalid date range")
	ErrDateConflict           = errors.New("date range conflicts with another order")
	ErrOutsideAvailableWindow = errors.New("date range is outside the vehicle's available window")
	ErrStorage                = errors.New("storage failure")
)

// IncompleteProfileError lists the profile fields a renter still has to fill in
type IncompleteProfileError struct {
	Missing []string
}

func (e *IncompleteProfileError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrIncompleteProfile, strings.Join(e.Missing, ", "))
}

func (e *IncompleteProfileError) Unwrap() error {
	return ErrIncompleteProfile
}

// DateConflictError carries the orders whose rental window overlaps the request
type DateConflictError struct {
	Conflicts []models.Order
}

func (e *DateConflictError) Error() string {
	return fmt.Sprintf("%s: %d overlapping order(s)", ErrDateConflict, len(e.Conflicts))
}

func (e *DateConflictError) Unwrap() error {
	return ErrDateConflict
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// guardedWriteErr maps the outcome of a status-guarded order write. ok is false
// when err is a storage failure rather than a lost race.
func guardedWriteErr(err error) (mapped error, ok bool) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrOrderNotFound, true
	case errors.Is(err, store.ErrStateChanged):
		return fmt.Errorf("%w: %v", ErrInvalidOrderState, err), true
	}
	return nil, false
}
