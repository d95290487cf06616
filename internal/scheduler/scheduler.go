package scheduler

import (
	"fmt"
	"time"

	"rental-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler creates a scheduler in UTC with seconds precision. A job still
// running when its next tick fires is skipped for that tick.
func NewScheduler() *Scheduler {
	logger := util.GetLogger()
	cronLogger := util.NewCronLogger(logger)

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	return &Scheduler{cron: c, logger: logger}
}

// Register adds a job under the given cron spec
func (s *Scheduler) Register(name, spec string, job cron.Job) error {
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("failed to register %s job with spec %q: %w", name, spec, err)
	}
	s.logger.Info("Registered job", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops scheduling new runs and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping cron scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

// JobCount returns the number of registered jobs
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}
