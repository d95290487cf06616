package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrVehicleUnavailable is returned when a vehicle's availability flag is already claimed
	ErrVehicleUnavailable = errors.New("vehicle is not available")
	// ErrStateChanged is returned when a guarded update finds the order in another status
	ErrStateChanged = errors.New("order status changed")
)

type Store struct {
	db *sqlx.DB
	// statuses of other orders that keep a vehicle claimed on release
	holding []string
}

// NewStore creates a new database store for the given driver ("mysql" or "postgres")
func NewStore(driver, databaseURL string) (*Store, error) {
	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, holding: models.ActiveStatuses}, nil
}

// NewFromDB wraps an existing connection
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db, holding: models.ActiveStatuses}
}

// SetCODReleasesAvailability controls whether an approval_pending COD order
// keeps its vehicle claimed when other orders on the vehicle release it.
func (s *Store) SetCODReleasesAvailability(release bool) {
	s.holding = models.HoldingStatuses(release)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// in expands a query holding an IN (?) clause and rebinds it for the driver
func (s *Store) in(query string, args ...interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(query), args, nil
}

// withTx runs fn inside a transaction, rolling back on any error
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// setAvailabilityTx flips a vehicle's availability flag inside a transaction
func (s *Store) setAvailabilityTx(ctx context.Context, tx *sqlx.Tx, vehicleID int64, availability int) error {
	_, err := tx.ExecContext(ctx,
		s.db.Rebind("UPDATE vehicles SET availability = ? WHERE id = ?"),
		availability, vehicleID)
	return err
}
