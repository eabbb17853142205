// Package scheduler manages the cron-driven background jobs: the late
// afternoon scan and the snapshot backup.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wangqi/tailscan/internal/market"
)

// Job is one schedulable unit of work. Timeout bounds a single run; the
// scheduler supplies the context.
type Job interface {
	Name() string
	Timeout() time.Duration
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules against the exchange calendar.
// Jobs registered with AddTradingDay are skipped on holidays and weekends,
// which the cron expression alone cannot express.
type Scheduler struct {
	cron  *cron.Cron
	clock *market.Clock
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a scheduler bound to the exchange clock.
func New(clock *market.Clock, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		clock: clock,
		log:   log.With().Str("component", "scheduler").Logger(),
		now:   time.Now,
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Add registers a job on a cron schedule (seconds field included,
// e.g. "0 30 16 * * MON-FRI"). The job runs whenever the schedule fires.
func (s *Scheduler) Add(schedule string, job Job) error {
	return s.add(schedule, job, false)
}

// AddTradingDay registers a job that only runs on exchange trading days.
func (s *Scheduler) AddTradingDay(schedule string, job Job) error {
	return s.add(schedule, job, true)
}

func (s *Scheduler) add(schedule string, job Job, tradingDaysOnly bool) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(job, tradingDaysOnly)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Bool("trading_days_only", tradingDaysOnly).
		Msg("Job registered")
	return nil
}

func (s *Scheduler) execute(job Job, tradingDaysOnly bool) {
	if tradingDaysOnly {
		now := s.now().In(s.clock.Location())
		if !s.clock.IsTradingDay(now) {
			s.log.Debug().Str("job", job.Name()).Msg("Not a trading day, skipping")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), job.Timeout())
	defer cancel()

	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
}

// RunNow executes a job immediately, outside its schedule and without the
// trading-day gate.
func (s *Scheduler) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), job.Timeout())
	defer cancel()

	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run(ctx)
}
