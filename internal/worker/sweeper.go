package worker

import (
	"context"
	"fmt"
	"time"

	"rental-service/internal/service"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

// SweepFunc is one pass of a background sweep
type SweepFunc func(ctx context.Context) error

// Sweeper runs a sweep as a scheduled job. Only the instance holding the
// sweep's lock runs it on a given tick.
type Sweeper struct {
	name    string
	sweep   SweepFunc
	locker  service.Locker
	timeout time.Duration
	logger  *zap.Logger
}

// NewSweeper creates a sweeper. locker may be nil for single instance deployments.
func NewSweeper(name string, timeout time.Duration, locker service.Locker, sweep SweepFunc) *Sweeper {
	return &Sweeper{
		name:    name,
		sweep:   sweep,
		locker:  locker,
		timeout: timeout,
		logger:  util.GetLogger().With(zap.String("sweep", name)),
	}
}

// Name returns the sweep name
func (s *Sweeper) Name() string {
	return s.name
}

// Run implements cron.Job
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Sweep failed", zap.Error(err))
	}
}

// RunOnce runs a single pass under the leader lock, recovering from panics
func (s *Sweeper) RunOnce(ctx context.Context) (err error) {
	if s.locker != nil {
		key := "sweep:" + s.name
		token, ok, lerr := s.locker.AcquireLock(ctx, key, s.timeout)
		switch {
		case lerr != nil:
			s.logger.Warn("Sweep lock unavailable, running unguarded", zap.Error(lerr))
		case !ok:
			util.SweepsSkippedTotal.WithLabelValues(s.name).Inc()
			return nil
		default:
			defer func() {
				if rerr := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); rerr != nil {
					s.logger.Warn("Failed to release sweep lock", zap.Error(rerr))
				}
			}()
		}
	}

	ctx, span := util.StartSpan(ctx, "Sweeper.RunOnce")
	span.SetAttributes(util.AttrSweep.String(s.name))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sweep panicked", zap.Any("panic", r))
			err = fmt.Errorf("sweep %s panicked: %v", s.name, r)
		}
		util.SweepDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			util.SweepFailuresTotal.WithLabelValues(s.name).Inc()
			util.RecordSpanError(ctx, err)
		}
	}()

	return s.sweep(ctx)
}

// OrderSweep adapts the reconciler's order pass
func OrderSweep(r *service.Reconciler) SweepFunc {
	return func(ctx context.Context) error {
		_, err := r.SweepOrders(ctx)
		return err
	}
}

// VehicleWindowSweep adapts the reconciler's vehicle window pass
func VehicleWindowSweep(r *service.Reconciler) SweepFunc {
	return func(ctx context.Context) error {
		_, err := r.CloseVehicleWindows(ctx)
		return err
	}
}

// TransactionSweep adapts the transaction poster
func TransactionSweep(p *service.TransactionPoster) SweepFunc {
	return func(ctx context.Context) error {
		_, err := p.Post(ctx)
		return err
	}
}
