package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// StaleLockReleaser is the part of the queue the sweeper needs.
type StaleLockReleaser interface {
	ReleaseStaleLocks(ctx context.Context, ttl time.Duration, now time.Time) (int64, error)
}

// StaleSweeper periodically returns entries whose lease expired to Queued.
type StaleSweeper struct {
	queue    StaleLockReleaser
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewStaleSweeper(queue StaleLockReleaser, ttl, interval time.Duration, logger *slog.Logger) *StaleSweeper {
	return &StaleSweeper{
		queue:    queue,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "stale_sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass and returns the number of released leases.
func (s *StaleSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.queue.ReleaseStaleLocks(ctx, s.ttl, s.now())
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	if n > 0 {
		staleLocksReleasedCounter.Add(float64(n))
		s.logger.WarnContext(ctx, "Released stale dispatch leases", "count", n, "ttl", s.ttl)
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled. Overlapping runs are skipped.
func (s *StaleSweeper) Run(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "Stale sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule stale sweep %q: %w", spec, err)
	}

	s.logger.InfoContext(ctx, "Stale sweeper started", "interval", s.interval, "ttl", s.ttl)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Stale sweeper stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

var _ StaleLockReleaser = core_domain.DispatchQueue(nil)
