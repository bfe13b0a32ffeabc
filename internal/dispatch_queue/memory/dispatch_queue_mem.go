// Package memory is an in-process DispatchQueue guarded by one mutex. It mirrors the
// Postgres statements closely enough to exercise scheduler and sender logic without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
)

type uniqueKey struct {
	tenantID   uuid.UUID
	jobID      uuid.UUID
	customerID uuid.UUID
	date       core_domain.LocalDate
	messageNo  int
}

type quotaKey struct {
	tenantID   uuid.UUID
	customerID uuid.UUID
	date       core_domain.LocalDate
}

type DispatchQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*core_domain.DispatchEntry
	unique  map[uniqueKey]uuid.UUID
	quota   map[quotaKey]int
}

func NewDispatchQueue() *DispatchQueue {
	return &DispatchQueue{
		entries: make(map[uuid.UUID]*core_domain.DispatchEntry),
		unique:  make(map[uniqueKey]uuid.UUID),
		quota:   make(map[quotaKey]int),
	}
}

var _ core_domain.DispatchQueue = (*DispatchQueue)(nil)

func keyOf(e *core_domain.DispatchEntry) uniqueKey {
	return uniqueKey{e.TenantID, e.JobID, e.CustomerID, e.LocalDate, e.MessageNo}
}

func (q *DispatchQueue) insert(e *core_domain.DispatchEntry) bool {
	k := keyOf(e)
	if _, exists := q.unique[k]; exists {
		return false
	}
	cp := *e
	q.entries[cp.ID] = &cp
	q.unique[k] = cp.ID
	return true
}

func (q *DispatchQueue) TryEnqueueUnique(ctx context.Context, e *core_domain.DispatchEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.insert(e), nil
}

func (q *DispatchQueue) EnqueueManual(ctx context.Context, e *core_domain.DispatchEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.insert(e) {
		return core_domain.ErrDuplicateDispatch
	}
	return nil
}

func due(e *core_domain.DispatchEntry, now time.Time) bool {
	switch e.Status {
	case core_domain.DispatchStatusQueued:
		return !e.PlannedAtUTC.After(now)
	case core_domain.DispatchStatusFailed:
		return !e.NextAttemptAtUTC.After(now)
	default:
		return false
	}
}

func (q *DispatchQueue) ClaimNext(ctx context.Context, workerID string, now time.Time) (*core_domain.DispatchEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *core_domain.DispatchEntry
	for _, e := range q.entries {
		if !due(e, now) {
			continue
		}
		if best == nil || e.NextAttemptAtUTC.Before(best.NextAttemptAtUTC) ||
			(e.NextAttemptAtUTC.Equal(best.NextAttemptAtUTC) && e.CreatedAtUTC.Before(best.CreatedAtUTC)) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	owner := workerID
	lockedAt := now
	best.Status = core_domain.DispatchStatusRunning
	best.LockedBy = &owner
	best.LockedAtUTC = &lockedAt
	best.UpdatedAtUTC = now
	cp := *best
	return &cp, nil
}

func (q *DispatchQueue) ReleaseStaleLocks(ctx context.Context, ttl time.Duration, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-ttl)
	var n int64
	for _, e := range q.entries {
		if e.Status == core_domain.DispatchStatusRunning && e.LockedAtUTC != nil && e.LockedAtUTC.Before(cutoff) {
			e.Status = core_domain.DispatchStatusQueued
			e.LockedBy = nil
			e.LockedAtUTC = nil
			e.UpdatedAtUTC = now
			n++
		}
	}
	return n, nil
}

func (q *DispatchQueue) TryConsumeDailyQuota(ctx context.Context, tenantID, customerID uuid.UUID, date core_domain.LocalDate, limit int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if limit < 1 {
		return false, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	k := quotaKey{tenantID, customerID, date}
	if q.quota[k] >= limit {
		return false, nil
	}
	q.quota[k]++
	return true, nil
}

func (q *DispatchQueue) ReleaseDailyQuota(ctx context.Context, tenantID, customerID uuid.UUID, date core_domain.LocalDate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	k := quotaKey{tenantID, customerID, date}
	if q.quota[k] > 0 {
		q.quota[k]--
	}
	return nil
}

// leased returns the entry if workerID still holds it. Caller holds mu.
func (q *DispatchQueue) leased(id uuid.UUID, workerID string) (*core_domain.DispatchEntry, error) {
	e, ok := q.entries[id]
	if !ok || e.Status != core_domain.DispatchStatusRunning || e.LockedBy == nil || *e.LockedBy != workerID {
		return nil, core_domain.ErrLeaseLost
	}
	return e, nil
}

func clearLock(e *core_domain.DispatchEntry, now time.Time) {
	e.LockedBy = nil
	e.LockedAtUTC = nil
	e.UpdatedAtUTC = now
}

func (q *DispatchQueue) MarkSucceeded(ctx context.Context, id uuid.UUID, workerID string, simulated bool, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leased(id, workerID)
	if err != nil {
		return err
	}
	sent := now
	e.Status = core_domain.DispatchStatusSucceeded
	e.SentAtUTC = &sent
	e.IsSimulated = simulated
	e.LastError = nil
	clearLock(e, now)
	return nil
}

func (q *DispatchQueue) MarkSuppressed(ctx context.Context, id uuid.UUID, workerID, reason string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leased(id, workerID)
	if err != nil {
		return err
	}
	msg := core_domain.TruncateError(reason)
	e.Status = core_domain.DispatchStatusSuppressed
	e.LastError = &msg
	clearLock(e, now)
	return nil
}

func (q *DispatchQueue) MarkFailed(ctx context.Context, id uuid.UUID, workerID, errMsg string, nextAttemptAt, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leased(id, workerID)
	if err != nil {
		return err
	}
	msg := core_domain.TruncateError(errMsg)
	e.Status = core_domain.DispatchStatusFailed
	e.AttemptCount++
	e.NextAttemptAtUTC = nextAttemptAt
	e.LastError = &msg
	clearLock(e, now)
	return nil
}

func (q *DispatchQueue) ListRecent(ctx context.Context, tenantID uuid.UUID, take int) ([]*core_domain.DispatchEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*core_domain.DispatchEntry
	for _, e := range q.entries {
		if e.TenantID == tenantID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUTC.After(out[j].CreatedAtUTC) })
	if take = core_domain.ClampRecentTake(take); len(out) > take {
		out = out[:take]
	}
	return out, nil
}

// All returns a snapshot of every entry.
func (q *DispatchQueue) All() []*core_domain.DispatchEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*core_domain.DispatchEntry, 0, len(q.entries))
	for _, e := range q.entries {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageNo != out[j].MessageNo {
			return out[i].MessageNo < out[j].MessageNo
		}
		return out[i].PlannedAtUTC.Before(out[j].PlannedAtUTC)
	})
	return out
}

// Get returns a snapshot of one entry.
func (q *DispatchQueue) Get(id uuid.UUID) (*core_domain.DispatchEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// QuotaUsed returns the consumed count for a bucket.
func (q *DispatchQueue) QuotaUsed(tenantID, customerID uuid.UUID, date core_domain.LocalDate) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quota[quotaKey{tenantID, customerID, date}]
}
