package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome names used in event subjects and metrics.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeSuppressed = "suppressed"
	OutcomeRetry      = "retry"
	OutcomeFailed     = "failed"
)

// OutcomeEvent is published once a claimed entry reaches a new state.
type OutcomeEvent struct {
	DispatchID        uuid.UUID  `json:"dispatchId"`
	TenantID          uuid.UUID  `json:"tenantId"`
	JobID             uuid.UUID  `json:"jobId"`
	CustomerID        uuid.UUID  `json:"customerId"`
	MessageNo         int        `json:"messageNo"`
	LocalDate         string     `json:"localDate"`
	Outcome           string     `json:"outcome"`
	Simulated         bool       `json:"simulated"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	Error             string     `json:"error,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	NextAttemptAtUTC  *time.Time `json:"nextAttemptAtUtc,omitempty"`
	OccurredAtUTC     time.Time  `json:"occurredAtUtc"`
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev OutcomeEvent) error
}

// JSONPublisher is satisfied by messagebroker.NATSClient.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, subject string, v any) error
}

// NATSOutcomePublisher publishes to <prefix>.<outcome>.
type NATSOutcomePublisher struct {
	client JSONPublisher
	prefix string
	logger *slog.Logger
}

func NewNATSOutcomePublisher(client JSONPublisher, subjectPrefix string, logger *slog.Logger) *NATSOutcomePublisher {
	if subjectPrefix == "" {
		subjectPrefix = "dispatch.outcome"
	}
	return &NATSOutcomePublisher{client: client, prefix: subjectPrefix, logger: logger.With("component", "outcome_publisher")}
}

func (p *NATSOutcomePublisher) Subject(outcome string) string {
	return p.prefix + "." + outcome
}

func (p *NATSOutcomePublisher) PublishOutcome(ctx context.Context, ev OutcomeEvent) error {
	return p.client.PublishJSON(ctx, p.Subject(ev.Outcome), ev)
}

// NoopOutcomePublisher is used when NATS is not configured.
type NoopOutcomePublisher struct{}

func (NoopOutcomePublisher) PublishOutcome(context.Context, OutcomeEvent) error { return nil }
