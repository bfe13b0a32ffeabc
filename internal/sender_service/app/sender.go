package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/sender_service/provider"
)

// CredentialDecrypter turns a stored connection secret into usable credentials.
type CredentialDecrypter interface {
	WhatsappCredential(stored string) (core_domain.WhatsappCredential, error)
}

// SenderConfig holds configuration specific to the sender workers.
type SenderConfig struct {
	Workers       int
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	ForceTestMode bool
	// TransitionTimeout bounds the handling of one claimed entry, including the provider call.
	TransitionTimeout time.Duration
	RatePerSec        int
}

// Sender runs the worker loops that claim due entries and deliver them.
type Sender struct {
	queue       core_domain.DispatchQueue
	rules       core_domain.RuleRepository
	connections core_domain.ProviderConnectionRepository
	templates   core_domain.TemplateRepository
	credentials CredentialDecrypter
	provider    provider.TemplateSender
	publisher   OutcomePublisher
	backoff     Backoff
	limiter     *rate.Limiter
	logger      *slog.Logger
	config      SenderConfig
	now         func() time.Time
}

func NewSender(
	queue core_domain.DispatchQueue,
	rules core_domain.RuleRepository,
	connections core_domain.ProviderConnectionRepository,
	templates core_domain.TemplateRepository,
	credentials CredentialDecrypter,
	sender provider.TemplateSender,
	publisher OutcomePublisher,
	backoff Backoff,
	logger *slog.Logger,
	cfg SenderConfig,
) *Sender {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	if cfg.TransitionTimeout <= 0 {
		cfg.TransitionTimeout = 45 * time.Second
	}
	if publisher == nil {
		publisher = NoopOutcomePublisher{}
	}
	limit, burst := rate.Inf, 1
	if cfg.RatePerSec > 0 {
		limit, burst = rate.Limit(cfg.RatePerSec), cfg.RatePerSec
	}
	return &Sender{
		queue:       queue,
		rules:       rules,
		connections: connections,
		templates:   templates,
		credentials: credentials,
		provider:    sender,
		publisher:   publisher,
		backoff:     backoff,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger.With("component", "sender"),
		config:      cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WorkerIDs returns n lease owner ids unique to this process.
func WorkerIDs(n int) []string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	instance := uuid.NewString()[:8]
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("wa-sender-%s-%s-%d", host, instance, i+1)
	}
	return ids
}

// Run starts the configured number of workers and blocks until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range WorkerIDs(s.config.Workers) {
		workerID := id
		g.Go(func() error {
			s.workerLoop(gctx, workerID)
			return nil
		})
	}
	s.logger.InfoContext(ctx, "Sender workers started", "workers", s.config.Workers, "force_test_mode", s.config.ForceTestMode)
	return g.Wait()
}

func (s *Sender) workerLoop(ctx context.Context, workerID string) {
	logger := s.logger.With("worker_id", workerID)
	for {
		if ctx.Err() != nil {
			logger.Info("Sender worker stopping")
			return
		}

		wait := time.Duration(0)
		worked, err := s.ProcessNext(ctx, workerID)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			workerErrorsCounter.WithLabelValues("store").Inc()
			logger.ErrorContext(ctx, "Sender iteration failed", "error", err)
			wait = s.config.ErrorBackoff
		case !worked:
			wait = s.config.PollInterval
		}
		if wait == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("Sender worker stopping")
			return
		case <-time.After(wait):
		}
	}
}

// ProcessNext claims and resolves at most one entry. worked is false when nothing was due.
// Once an entry is claimed its handling runs detached from ctx cancellation.
func (s *Sender) ProcessNext(ctx context.Context, workerID string) (worked bool, err error) {
	entry, err := s.queue.ClaimNext(ctx, workerID, s.now())
	if err != nil {
		return false, fmt.Errorf("claim next dispatch: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	dispatchClaimsCounter.Inc()

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.TransitionTimeout)
	defer cancel()
	s.processClaimed(tctx, workerID, entry)
	return true, nil
}

// attempt tracks what a claimed entry has consumed so failure paths can undo it.
type attempt struct {
	entry         *core_domain.DispatchEntry
	workerID      string
	started       time.Time
	quotaConsumed bool
	// resolved is set once a terminal or retry mark has been stored.
	resolved bool
}

func (s *Sender) processClaimed(ctx context.Context, workerID string, entry *core_domain.DispatchEntry) {
	a := &attempt{entry: entry, workerID: workerID, started: time.Now()}
	logger := s.logger.With("worker_id", workerID, "dispatch_id", entry.ID, "message_no", entry.MessageNo)

	defer func() {
		if r := recover(); r != nil {
			workerErrorsCounter.WithLabelValues("panic").Inc()
			logger.ErrorContext(ctx, "Panic while processing dispatch", "panic", r)
			s.failAfterPanic(ctx, logger, a, r)
		}
	}()

	if err := s.deliver(ctx, logger, a); err != nil {
		s.fail(ctx, logger, a, err)
	}
}

// deliver runs the happy path. A returned error means the entry still has to be marked failed.
func (s *Sender) deliver(ctx context.Context, logger *slog.Logger, a *attempt) error {
	e := a.entry

	rule, err := s.rules.GetByID(ctx, e.TenantID, e.RuleID)
	if err != nil {
		return fmt.Errorf("load rule: %w", err)
	}
	limit := 1
	if rule != nil {
		limit = rule.EffectiveDailyLimit()
	}

	allowed, err := s.queue.TryConsumeDailyQuota(ctx, e.TenantID, e.CustomerID, e.LocalDate, limit)
	if err != nil {
		return fmt.Errorf("consume daily quota: %w", err)
	}
	if !allowed {
		s.suppress(ctx, logger, a)
		return nil
	}
	a.quotaConsumed = true

	conn, err := s.connections.GetWhatsappConnection(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("load whatsapp connection: %w", err)
	}
	if s.config.ForceTestMode || !conn.Sendable() {
		s.succeed(ctx, logger, a, true, "")
		return nil
	}

	cred, err := s.credentials.WhatsappCredential(conn.AccessTokenCiphertext)
	if err != nil {
		return err
	}
	tpl, err := s.templates.GetByID(ctx, e.TenantID, e.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	if tpl == nil {
		return core_domain.Permanent(fmt.Sprintf("template %s not found", e.TemplateID), nil)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("provider rate limit: %w", err)
	}
	messageID, err := s.provider.SendTemplate(ctx, cred, e.ToE164, tpl.Name, tpl.LanguageCode)
	if err != nil {
		return err
	}
	s.succeed(ctx, logger, a, false, messageID)
	return nil
}

func (s *Sender) succeed(ctx context.Context, logger *slog.Logger, a *attempt, simulated bool, messageID string) {
	now := s.now()
	if err := s.queue.MarkSucceeded(ctx, a.entry.ID, a.workerID, simulated, now); err != nil {
		s.transitionFailed(ctx, logger, err, OutcomeSucceeded)
		return
	}
	a.resolve()
	label := OutcomeSucceeded
	if simulated {
		label = "simulated"
	}
	s.observe(a, label)
	logger.InfoContext(ctx, "Dispatch succeeded", "simulated", simulated, "provider_message_id", messageID)
	s.publish(ctx, logger, a, OutcomeEvent{Outcome: OutcomeSucceeded, Simulated: simulated, ProviderMessageID: messageID, OccurredAtUTC: now})
}

func (s *Sender) suppress(ctx context.Context, logger *slog.Logger, a *attempt) {
	now := s.now()
	if err := s.queue.MarkSuppressed(ctx, a.entry.ID, a.workerID, core_domain.SuppressedDailyLimitReason, now); err != nil {
		s.transitionFailed(ctx, logger, err, OutcomeSuppressed)
		return
	}
	a.resolve()
	s.observe(a, OutcomeSuppressed)
	logger.InfoContext(ctx, "Dispatch suppressed by daily limit", "customer_id", a.entry.CustomerID, "local_date", a.entry.LocalDate.String())
	s.publish(ctx, logger, a, OutcomeEvent{Outcome: OutcomeSuppressed, Error: core_domain.SuppressedDailyLimitReason, OccurredAtUTC: now})
}

// fail refunds any consumed quota and records the retry decision.
func (s *Sender) fail(ctx context.Context, logger *slog.Logger, a *attempt, cause error) {
	if a.resolved {
		return
	}
	e := a.entry
	if a.quotaConsumed {
		if err := s.queue.ReleaseDailyQuota(ctx, e.TenantID, e.CustomerID, e.LocalDate); err != nil {
			logger.ErrorContext(ctx, "Failed to refund daily quota", "error", err)
		}
		a.quotaConsumed = false
	}

	now := s.now()
	decision := s.backoff.Decide(e.AttemptCount, cause, now)
	outcome := OutcomeRetry
	if decision.Permanent {
		outcome = OutcomeFailed
	}
	if err := s.queue.MarkFailed(ctx, e.ID, a.workerID, decision.Message, decision.NextAttemptAtUTC, now); err != nil {
		s.transitionFailed(ctx, logger, err, outcome)
		return
	}
	a.resolve()
	s.observe(a, outcome)
	logger.WarnContext(ctx, "Dispatch failed",
		"error", cause, "attempt", e.AttemptCount+1, "permanent", decision.Permanent, "next_attempt_at", decision.NextAttemptAtUTC)

	ev := OutcomeEvent{Outcome: outcome, Error: decision.Message, OccurredAtUTC: now}
	if !decision.Permanent {
		next := decision.NextAttemptAtUTC
		ev.NextAttemptAtUTC = &next
	}
	s.publish(ctx, logger, a, ev)
}

func (s *Sender) failAfterPanic(ctx context.Context, logger *slog.Logger, a *attempt, r any) {
	defer func() {
		if r2 := recover(); r2 != nil {
			logger.ErrorContext(ctx, "Panic while recording failed dispatch", "panic", r2)
		}
	}()
	if a.resolved {
		// The outcome is already stored and its quota unit belongs to it.
		return
	}
	s.fail(ctx, logger, a, fmt.Errorf("panic: %v", r))
}

// resolve records that the entry left Running under this lease. Quota consumed by a
// succeeded entry is never refunded after this point.
func (a *attempt) resolve() {
	a.resolved = true
	a.quotaConsumed = false
}

func (s *Sender) transitionFailed(ctx context.Context, logger *slog.Logger, err error, outcome string) {
	if errors.Is(err, core_domain.ErrLeaseLost) {
		dispatchOutcomesCounter.WithLabelValues("lease_lost").Inc()
		logger.WarnContext(ctx, "Lease lost before recording outcome", "outcome", outcome)
		return
	}
	workerErrorsCounter.WithLabelValues("store").Inc()
	logger.ErrorContext(ctx, "Failed to record dispatch outcome", "error", err, "outcome", outcome)
}

func (s *Sender) observe(a *attempt, outcome string) {
	dispatchOutcomesCounter.WithLabelValues(outcome).Inc()
	dispatchProcessingDurationHist.WithLabelValues(outcome).Observe(time.Since(a.started).Seconds())
}

func (s *Sender) publish(ctx context.Context, logger *slog.Logger, a *attempt, ev OutcomeEvent) {
	e := a.entry
	ev.DispatchID = e.ID
	ev.TenantID = e.TenantID
	ev.JobID = e.JobID
	ev.CustomerID = e.CustomerID
	ev.MessageNo = e.MessageNo
	ev.LocalDate = e.LocalDate.String()
	ev.AttemptCount = e.AttemptCount
	if ev.Outcome == OutcomeRetry || ev.Outcome == OutcomeFailed {
		ev.AttemptCount++
	}
	if err := s.publisher.PublishOutcome(ctx, ev); err != nil {
		workerErrorsCounter.WithLabelValues("publish").Inc()
		logger.WarnContext(ctx, "Failed to publish dispatch outcome", "error", err, "outcome", ev.Outcome)
	}
}
