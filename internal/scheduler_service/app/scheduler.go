package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// SchedulerConfig holds configuration specific to the Scheduler.
type SchedulerConfig struct {
	Interval            time.Duration
	OrderEventBatchSize int
	DailyLateTolerance  time.Duration
	DefaultTimezone     string
	ErrorBackoff        time.Duration
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	DailyEnqueued      int
	OrderEnqueued      int
	OrderEventsHandled int
}

// Scheduler turns active rule/job pairs and new order events into dispatch entries.
// It only ever inserts through TryEnqueueUnique, so a tick that dies halfway is safe to repeat.
type Scheduler struct {
	rules  core_domain.RuleRepository
	jobs   core_domain.JobRepository
	events core_domain.OrderEventRepository
	queue  core_domain.DispatchEnqueuer
	zones  zoneResolver
	logger *slog.Logger
	config SchedulerConfig
	now    func() time.Time
}

// NewScheduler fails only when the default timezone cannot be loaded.
func NewScheduler(
	rules core_domain.RuleRepository,
	jobs core_domain.JobRepository,
	events core_domain.OrderEventRepository,
	queue core_domain.DispatchEnqueuer,
	logger *slog.Logger,
	cfg SchedulerConfig,
) (*Scheduler, error) {
	logger = logger.With("component", "scheduler")
	zones, err := newZoneResolver(cfg.DefaultTimezone, logger)
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	if cfg.OrderEventBatchSize <= 0 {
		cfg.OrderEventBatchSize = 200
	}
	return &Scheduler{
		rules:  rules,
		jobs:   jobs,
		events: events,
		queue:  queue,
		zones:  zones,
		logger: logger,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run ticks until ctx is cancelled. Errors are logged and retried after ErrorBackoff.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler loop starting", "interval", s.config.Interval)
	for {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "Scheduler loop stopping")
			return nil
		}

		wait := s.config.Interval
		res, err := s.Tick(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			schedulerTicksCounter.WithLabelValues("error").Inc()
			s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
			wait = s.config.ErrorBackoff
		default:
			schedulerTicksCounter.WithLabelValues("ok").Inc()
			if res.DailyEnqueued+res.OrderEnqueued > 0 || res.OrderEventsHandled > 0 {
				s.logger.InfoContext(ctx, "Scheduler tick done",
					"daily_enqueued", res.DailyEnqueued,
					"order_enqueued", res.OrderEnqueued,
					"order_events", res.OrderEventsHandled,
				)
			}
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler loop stopping")
			return nil
		case <-time.After(wait):
		}
	}
}

// Tick runs one daily pass followed by one order-event pass.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := s.now()

	n, err := s.ScheduleDaily(ctx, now)
	res.DailyEnqueued = n
	if err != nil {
		return res, fmt.Errorf("daily pass: %w", err)
	}

	res.OrderEnqueued, res.OrderEventsHandled, err = s.ScheduleOrderEvents(ctx, now)
	if err != nil {
		return res, fmt.Errorf("order event pass: %w", err)
	}
	return res, nil
}

// ScheduleDaily enqueues today's slots for every active daily job.
func (s *Scheduler) ScheduleDaily(ctx context.Context, now time.Time) (int, error) {
	timer := prometheus.NewTimer(schedulerTickDurationHist.WithLabelValues(core_domain.RuleModeDaily.String()))
	defer timer.ObserveDuration()

	jobs, err := s.jobs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	rules, err := s.rules.ListActiveByIDs(ctx, ruleIDsOf(jobs))
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}

	enqueued := 0
	for _, job := range jobs {
		rule := ruleFor(rules, job, core_domain.RuleModeDaily)
		if rule == nil {
			continue
		}
		loc := s.zones.For(ctx, rule)
		plan, ok := PlanDaily(rule, job, loc, now, s.config.DailyLateTolerance)
		if !ok {
			continue
		}
		for _, target := range job.Targets {
			if target.CustomerID == uuid.Nil || target.ToE164 == "" {
				s.logger.WarnContext(ctx, "Skipping incomplete job target", "job_id", job.ID, "customer_id", target.CustomerID)
				continue
			}
			n, err := s.enqueue(ctx, core_domain.RuleModeDaily, plan.Entries(job, target.CustomerID, target.ToE164))
			enqueued += n
			if err != nil {
				return enqueued, err
			}
		}
	}
	return enqueued, nil
}

// ScheduleOrderEvents drains up to one batch of unprocessed events, oldest first.
// Every inspected event is marked processed, including those with no applicable job.
func (s *Scheduler) ScheduleOrderEvents(ctx context.Context, now time.Time) (enqueued, handled int, err error) {
	timer := prometheus.NewTimer(schedulerTickDurationHist.WithLabelValues(core_domain.RuleModeOrderEvent.String()))
	defer timer.ObserveDuration()

	events, err := s.events.ListUnprocessed(ctx, s.config.OrderEventBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list unprocessed events: %w", err)
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	tenantJobs := make(map[uuid.UUID][]*core_domain.Job)
	rules := make(map[uuid.UUID]*core_domain.Rule)

	for _, ev := range events {
		jobs, ok := tenantJobs[ev.TenantID]
		if !ok {
			if jobs, err = s.jobs.ListActiveByTenant(ctx, ev.TenantID); err != nil {
				return enqueued, handled, fmt.Errorf("list jobs for tenant %s: %w", ev.TenantID, err)
			}
			tenantJobs[ev.TenantID] = jobs
			if err := s.loadMissingRules(ctx, rules, jobs); err != nil {
				return enqueued, handled, err
			}
		}

		for _, job := range jobs {
			rule := ruleFor(rules, job, core_domain.RuleModeOrderEvent)
			if rule == nil {
				continue
			}
			plan := PlanOrderEvent(rule, job, s.zones.For(ctx, rule), ev.OccurredAtUTC)
			n, err := s.enqueue(ctx, core_domain.RuleModeOrderEvent, plan.Entries(job, ev.CustomerID, ev.ToE164))
			enqueued += n
			if err != nil {
				return enqueued, handled, err
			}
		}

		if err := s.events.MarkProcessed(ctx, ev.ID, now); err != nil {
			return enqueued, handled, fmt.Errorf("mark event %s processed: %w", ev.ID, err)
		}
		handled++
		orderEventsProcessedCounter.Inc()
	}
	return enqueued, handled, nil
}

func (s *Scheduler) loadMissingRules(ctx context.Context, rules map[uuid.UUID]*core_domain.Rule, jobs []*core_domain.Job) error {
	var missing []uuid.UUID
	for _, id := range ruleIDsOf(jobs) {
		if _, ok := rules[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	loaded, err := s.rules.ListActiveByIDs(ctx, missing)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, id := range missing {
		rules[id] = loaded[id] // nil marks inactive or missing
	}
	return nil
}

func (s *Scheduler) enqueue(ctx context.Context, mode core_domain.RuleMode, entries []*core_domain.DispatchEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		ok, err := s.queue.TryEnqueueUnique(ctx, e)
		if err != nil {
			return inserted, fmt.Errorf("enqueue job %s customer %s message %d: %w", e.JobID, e.CustomerID, e.MessageNo, err)
		}
		if ok {
			inserted++
			dispatchesEnqueuedCounter.WithLabelValues(mode.String(), strconv.Itoa(e.MessageNo)).Inc()
			s.logger.DebugContext(ctx, "Dispatch enqueued",
				"dispatch_id", e.ID, "job_id", e.JobID, "customer_id", e.CustomerID,
				"message_no", e.MessageNo, "planned_at", e.PlannedAtUTC, "local_date", e.LocalDate.String())
		}
	}
	return inserted, nil
}

func ruleIDsOf(jobs []*core_domain.Job) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(jobs))
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		if _, ok := seen[j.RuleID]; ok {
			continue
		}
		seen[j.RuleID] = struct{}{}
		ids = append(ids, j.RuleID)
	}
	return ids
}

// ruleFor returns the job's rule if it is active, of the wanted mode and owned by the same tenant.
func ruleFor(rules map[uuid.UUID]*core_domain.Rule, job *core_domain.Job, mode core_domain.RuleMode) *core_domain.Rule {
	rule := rules[job.RuleID]
	if rule == nil || !rule.IsActive || rule.Mode != mode || rule.TenantID != job.TenantID {
		return nil
	}
	return rule
}
