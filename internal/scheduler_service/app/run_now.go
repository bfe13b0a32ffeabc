package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// RunNowService enqueues a job's messages for immediate delivery, outside the regular schedule.
type RunNowService struct {
	rules  core_domain.RuleRepository
	jobs   core_domain.JobRepository
	queue  core_domain.DispatchEnqueuer
	zones  zoneResolver
	logger *slog.Logger
	now    func() time.Time
}

func NewRunNowService(
	rules core_domain.RuleRepository,
	jobs core_domain.JobRepository,
	queue core_domain.DispatchEnqueuer,
	defaultTimezone string,
	logger *slog.Logger,
) (*RunNowService, error) {
	logger = logger.With("component", "run_now")
	zones, err := newZoneResolver(defaultTimezone, logger)
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	return &RunNowService{
		rules:  rules,
		jobs:   jobs,
		queue:  queue,
		zones:  zones,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunJobNow returns the number of entries inserted. Entries that already exist for today's
// local date are left alone. core_domain.ErrNotFound means the job or its rule is missing.
func (s *RunNowService) RunJobNow(ctx context.Context, tenantID, jobID uuid.UUID) (int, error) {
	job, err := s.jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return 0, err
	}
	if job == nil {
		return 0, fmt.Errorf("job %s: %w", jobID, core_domain.ErrNotFound)
	}
	rule, err := s.rules.GetByID(ctx, tenantID, job.RuleID)
	if err != nil {
		return 0, err
	}
	if rule == nil {
		return 0, fmt.Errorf("rule %s: %w", job.RuleID, core_domain.ErrNotFound)
	}

	plan := PlanRunNow(rule, job, s.zones.For(ctx, rule), s.now())
	enqueued := 0
	for _, target := range job.Targets {
		if target.CustomerID == uuid.Nil || target.ToE164 == "" {
			continue
		}
		for _, e := range plan.Entries(job, target.CustomerID, target.ToE164) {
			ok, err := s.queue.TryEnqueueUnique(ctx, e)
			if err != nil {
				return enqueued, fmt.Errorf("enqueue run-now dispatch: %w", err)
			}
			if ok {
				enqueued++
			}
		}
	}
	s.logger.InfoContext(ctx, "Job run now", "tenant_id", tenantID, "job_id", jobID, "enqueued", enqueued)
	return enqueued, nil
}
