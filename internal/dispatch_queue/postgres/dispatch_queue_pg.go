package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/platform/database"
)

const dispatchColumns = `id, tenant_id, job_id, rule_id, customer_id, to_e164, message_no, template_id,
	planned_at_utc, local_date, status, attempt_count, next_attempt_at_utc,
	locked_by, locked_at_utc, sent_at_utc, last_error, is_simulated, created_at_utc, updated_at_utc`

// claimReturning is dispatchColumns minus id, which is ambiguous next to the CTE.
const claimReturning = `tenant_id, job_id, rule_id, customer_id, to_e164, message_no, template_id,
	planned_at_utc, local_date, status, attempt_count, next_attempt_at_utc,
	locked_by, locked_at_utc, sent_at_utc, last_error, is_simulated, created_at_utc, updated_at_utc`

const insertDispatchSQL = `INSERT INTO whatsapp_dispatch_queue (` + dispatchColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

// PgDispatchQueue is the Postgres implementation of core_domain.DispatchQueue.
// Every method is one statement, so correctness under concurrent workers rests on
// row locks and ON CONFLICT alone.
type PgDispatchQueue struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgDispatchQueue(db database.Querier, logger *slog.Logger) *PgDispatchQueue {
	return &PgDispatchQueue{db: db, logger: logger.With("component", "dispatch_queue_pg")}
}

var _ core_domain.DispatchQueue = (*PgDispatchQueue)(nil)

func insertArgs(e *core_domain.DispatchEntry) []any {
	return []any{
		e.ID, e.TenantID, e.JobID, e.RuleID, e.CustomerID, e.ToE164, int16(e.MessageNo), e.TemplateID,
		e.PlannedAtUTC, e.LocalDate.Time(), int16(e.Status), e.AttemptCount, e.NextAttemptAtUTC,
		e.LockedBy, e.LockedAtUTC, e.SentAtUTC, e.LastError, e.IsSimulated, e.CreatedAtUTC, e.UpdatedAtUTC,
	}
}

func (q *PgDispatchQueue) TryEnqueueUnique(ctx context.Context, e *core_domain.DispatchEntry) (bool, error) {
	query := insertDispatchSQL + `
	ON CONFLICT (tenant_id, job_id, customer_id, local_date, message_no) DO NOTHING`

	tag, err := q.db.Exec(ctx, query, insertArgs(e)...)
	if err != nil {
		q.logger.ErrorContext(ctx, "Error enqueuing dispatch", "error", err, "job_id", e.JobID, "customer_id", e.CustomerID)
		return false, fmt.Errorf("enqueue dispatch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *PgDispatchQueue) EnqueueManual(ctx context.Context, e *core_domain.DispatchEntry) error {
	if _, err := q.db.Exec(ctx, insertDispatchSQL, insertArgs(e)...); err != nil {
		if database.IsUniqueViolation(err) {
			return core_domain.ErrDuplicateDispatch
		}
		q.logger.ErrorContext(ctx, "Error inserting manual dispatch", "error", err, "job_id", e.JobID)
		return fmt.Errorf("insert manual dispatch: %w", err)
	}
	q.logger.InfoContext(ctx, "Manual dispatch enqueued", "dispatch_id", e.ID, "job_id", e.JobID, "message_no", e.MessageNo)
	return nil
}

func (q *PgDispatchQueue) ClaimNext(ctx context.Context, workerID string, now time.Time) (*core_domain.DispatchEntry, error) {
	query := `
		WITH next AS (
			SELECT id
			FROM whatsapp_dispatch_queue
			WHERE (status = $1 AND planned_at_utc <= $3)
			   OR (status = $2 AND next_attempt_at_utc <= $3)
			ORDER BY next_attempt_at_utc ASC, created_at_utc ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE whatsapp_dispatch_queue q
		SET status = $4, locked_by = $5, locked_at_utc = $3, updated_at_utc = $3
		FROM next
		WHERE q.id = next.id
		RETURNING q.id, ` + claimReturning

	row := q.db.QueryRow(ctx, query,
		int16(core_domain.DispatchStatusQueued), int16(core_domain.DispatchStatusFailed), now,
		int16(core_domain.DispatchStatusRunning), workerID,
	)
	e, err := scanDispatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next dispatch: %w", err)
	}
	return e, nil
}

func (q *PgDispatchQueue) ReleaseStaleLocks(ctx context.Context, ttl time.Duration, now time.Time) (int64, error) {
	query := `
		UPDATE whatsapp_dispatch_queue
		SET status = $1, locked_by = NULL, locked_at_utc = NULL, updated_at_utc = $2
		WHERE status = $3 AND locked_at_utc < $4`

	tag, err := q.db.Exec(ctx, query,
		int16(core_domain.DispatchStatusQueued), now, int16(core_domain.DispatchStatusRunning), now.Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *PgDispatchQueue) TryConsumeDailyQuota(ctx context.Context, tenantID, customerID uuid.UUID, date core_domain.LocalDate, limit int) (bool, error) {
	query := `
		INSERT INTO whatsapp_customer_daily_quota (tenant_id, customer_id, local_date, used_count, updated_at_utc)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (tenant_id, customer_id, local_date)
		DO UPDATE SET used_count = whatsapp_customer_daily_quota.used_count + 1,
		              updated_at_utc = EXCLUDED.updated_at_utc
		WHERE whatsapp_customer_daily_quota.used_count < $5
		RETURNING used_count`

	if limit < 1 {
		return false, nil
	}
	var used int
	err := q.db.QueryRow(ctx, query, tenantID, customerID, date.Time(), time.Now().UTC(), limit).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume daily quota: %w", err)
	}
	return used <= limit, nil
}

func (q *PgDispatchQueue) ReleaseDailyQuota(ctx context.Context, tenantID, customerID uuid.UUID, date core_domain.LocalDate) error {
	query := `
		UPDATE whatsapp_customer_daily_quota
		SET used_count = used_count - 1, updated_at_utc = $4
		WHERE tenant_id = $1 AND customer_id = $2 AND local_date = $3 AND used_count > 0`

	if _, err := q.db.Exec(ctx, query, tenantID, customerID, date.Time(), time.Now().UTC()); err != nil {
		return fmt.Errorf("release daily quota: %w", err)
	}
	return nil
}

func (q *PgDispatchQueue) MarkSucceeded(ctx context.Context, id uuid.UUID, workerID string, simulated bool, now time.Time) error {
	query := `
		UPDATE whatsapp_dispatch_queue
		SET status = $1, sent_at_utc = $2, is_simulated = $3, last_error = NULL,
		    locked_by = NULL, locked_at_utc = NULL, updated_at_utc = $2
		WHERE id = $4 AND status = $5 AND locked_by = $6`

	return q.resolve(ctx, "mark succeeded", id, query,
		int16(core_domain.DispatchStatusSucceeded), now, simulated, id, int16(core_domain.DispatchStatusRunning), workerID,
	)
}

func (q *PgDispatchQueue) MarkSuppressed(ctx context.Context, id uuid.UUID, workerID, reason string, now time.Time) error {
	query := `
		UPDATE whatsapp_dispatch_queue
		SET status = $1, last_error = $2, locked_by = NULL, locked_at_utc = NULL, updated_at_utc = $3
		WHERE id = $4 AND status = $5 AND locked_by = $6`

	return q.resolve(ctx, "mark suppressed", id, query,
		int16(core_domain.DispatchStatusSuppressed), core_domain.TruncateError(reason), now, id,
		int16(core_domain.DispatchStatusRunning), workerID,
	)
}

func (q *PgDispatchQueue) MarkFailed(ctx context.Context, id uuid.UUID, workerID, errMsg string, nextAttemptAt, now time.Time) error {
	query := `
		UPDATE whatsapp_dispatch_queue
		SET status = $1, attempt_count = attempt_count + 1, next_attempt_at_utc = $2, last_error = $3,
		    locked_by = NULL, locked_at_utc = NULL, updated_at_utc = $4
		WHERE id = $5 AND status = $6 AND locked_by = $7`

	return q.resolve(ctx, "mark failed", id, query,
		int16(core_domain.DispatchStatusFailed), nextAttemptAt, core_domain.TruncateError(errMsg), now, id,
		int16(core_domain.DispatchStatusRunning), workerID,
	)
}

func (q *PgDispatchQueue) resolve(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	tag, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		q.logger.ErrorContext(ctx, "Error resolving dispatch", "op", op, "error", err, "dispatch_id", id)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		q.logger.WarnContext(ctx, "Dispatch no longer leased by this worker", "op", op, "dispatch_id", id)
		return core_domain.ErrLeaseLost
	}
	return nil
}

func (q *PgDispatchQueue) ListRecent(ctx context.Context, tenantID uuid.UUID, take int) ([]*core_domain.DispatchEntry, error) {
	query := `SELECT ` + dispatchColumns + `
		FROM whatsapp_dispatch_queue
		WHERE tenant_id = $1
		ORDER BY created_at_utc DESC
		LIMIT $2`

	rows, err := q.db.Query(ctx, query, tenantID, core_domain.ClampRecentTake(take))
	if err != nil {
		return nil, fmt.Errorf("list recent dispatches: %w", err)
	}
	defer rows.Close()

	var out []*core_domain.DispatchEntry
	for rows.Next() {
		e, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch rows: %w", err)
	}
	return out, nil
}

func scanDispatch(row pgx.Row) (*core_domain.DispatchEntry, error) {
	var (
		e         core_domain.DispatchEntry
		messageNo int16
		status    int16
		localDate time.Time
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.JobID, &e.RuleID, &e.CustomerID, &e.ToE164, &messageNo, &e.TemplateID,
		&e.PlannedAtUTC, &localDate, &status, &e.AttemptCount, &e.NextAttemptAtUTC,
		&e.LockedBy, &e.LockedAtUTC, &e.SentAtUTC, &e.LastError, &e.IsSimulated, &e.CreatedAtUTC, &e.UpdatedAtUTC,
	)
	if err != nil {
		return nil, err
	}
	e.MessageNo = int(messageNo)
	e.Status = core_domain.DispatchStatus(status)
	e.LocalDate = core_domain.LocalDateOf(localDate)
	return &e, nil
}
