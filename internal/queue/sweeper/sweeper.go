// Package sweeper runs the stale lease sweep on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/cuongbtq/profile-queue/internal/queue"
)

// DefaultSchedule sweeps once a minute
const DefaultSchedule = "@every 1m"

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Target is what gets swept
type Target interface {
	SweepStale(ctx context.Context) (queue.SweepResult, error)
}

// Sweeper calls Target.SweepStale on a schedule. A run that is still going
// when the next one fires is skipped, and panics are logged, not propagated.
type Sweeper struct {
	target   Target
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	cron   *cronlib.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a sweeper. timeout bounds a single pass; zero means none.
func New(target Target, schedule string, timeout time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Sweeper{
		target:   target,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		cron: cronlib.New(
			cronlib.WithParser(cronParser),
			cronlib.WithLogger(cl),
			cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
		),
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule sweep: %w", err)
	}
	return s, nil
}

// Start begins running sweeps in the background
func (s *Sweeper) Start() {
	s.logger.Info("Starting stale job sweeper",
		slog.String("schedule", s.schedule),
	)
	s.cron.Start()
}

// Stop cancels the running sweep and waits for it, or for ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	s.logger.Info("Stopping stale job sweeper")

	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("Stale job sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper shutdown timed out: %w", ctx.Err())
	}
}

// RunOnce performs a single sweep pass outside the schedule
func (s *Sweeper) RunOnce(ctx context.Context) (result queue.SweepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sweep panicked",
				slog.Any("panic", r),
			)
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.target.SweepStale(ctx)
}

func (s *Sweeper) tick() {
	if _, err := s.RunOnce(s.ctx); err != nil {
		s.logger.Error("Stale job sweep failed",
			slog.Any("error", err),
		)
	}
}

// cronLogger routes cron's own logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
