package core_domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleRepository reads messaging rules.
type RuleRepository interface {
	// GetByID returns nil, nil when the rule does not exist.
	GetByID(ctx context.Context, tenantID, ruleID uuid.UUID) (*Rule, error)
	// ListActiveByIDs returns the active rules among ids, keyed by rule id.
	ListActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Rule, error)
}

// JobRepository reads jobs and their target lists.
type JobRepository interface {
	ListActive(ctx context.Context) ([]*Job, error)
	ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Job, error)
	// GetByID returns nil, nil when the job does not exist.
	GetByID(ctx context.Context, tenantID, jobID uuid.UUID) (*Job, error)
}

// OrderEventRepository is the append-only order feed.
type OrderEventRepository interface {
	// Append stores ev unless (tenant, order id) is already present; it reports whether a row was inserted.
	Append(ctx context.Context, ev *OrderEvent) (bool, error)
	// ListUnprocessed returns up to limit unprocessed events, oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]*OrderEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ProviderConnectionRepository looks up a tenant's messaging connection.
type ProviderConnectionRepository interface {
	// GetWhatsappConnection returns nil, nil when the tenant has no connection.
	GetWhatsappConnection(ctx context.Context, tenantID uuid.UUID) (*ProviderConnection, error)
}

// TemplateRepository resolves template ids.
type TemplateRepository interface {
	// GetByID returns nil, nil when the template does not exist.
	GetByID(ctx context.Context, tenantID, templateID uuid.UUID) (*Template, error)
}

// DispatchEnqueuer is the write side used by the scheduler.
type DispatchEnqueuer interface {
	// TryEnqueueUnique inserts e unless an entry for the same (tenant, job, customer,
	// local date, message no) exists. It reports whether a row was inserted.
	TryEnqueueUnique(ctx context.Context, e *DispatchEntry) (bool, error)
}

// DispatchQueue is the claim/quota store. It is the only component that changes entry status,
// and every method is a single atomic statement against the backing store.
type DispatchQueue interface {
	DispatchEnqueuer

	// EnqueueManual inserts e as is. A uniqueness conflict yields ErrDuplicateDispatch.
	EnqueueManual(ctx context.Context, e *DispatchEntry) error

	// ClaimNext leases one due Queued or retryable entry to workerID and returns it,
	// or nil, nil when nothing is due.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*DispatchEntry, error)

	// ReleaseStaleLocks re-queues Running entries whose lease is older than ttl.
	ReleaseStaleLocks(ctx context.Context, ttl time.Duration, now time.Time) (int64, error)

	// TryConsumeDailyQuota increments the (tenant, customer, date) counter only if the
	// result stays within limit.
	TryConsumeDailyQuota(ctx context.Context, tenantID, customerID uuid.UUID, date LocalDate, limit int) (bool, error)

	// ReleaseDailyQuota gives back one unit consumed by a send that did not go out.
	ReleaseDailyQuota(ctx context.Context, tenantID, customerID uuid.UUID, date LocalDate) error

	// The Mark* methods resolve an entry still leased by workerID and clear its lock.
	// They return ErrLeaseLost when workerID no longer holds the entry.
	MarkSucceeded(ctx context.Context, id uuid.UUID, workerID string, simulated bool, now time.Time) error
	MarkSuppressed(ctx context.Context, id uuid.UUID, workerID, reason string, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, workerID, errMsg string, nextAttemptAt, now time.Time) error

	// ListRecent returns the tenant's newest entries, newest first.
	ListRecent(ctx context.Context, tenantID uuid.UUID, take int) ([]*DispatchEntry, error)
}
