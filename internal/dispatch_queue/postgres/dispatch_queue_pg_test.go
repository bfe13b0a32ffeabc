package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profiqo/golang_services/internal/core_domain"
)

func setupDispatchQueueTest(t *testing.T) (*PgDispatchQueue, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPgDispatchQueue(mockPool, logger), mockPool
}

var dispatchRowColumns = []string{
	"id", "tenant_id", "job_id", "rule_id", "customer_id", "to_e164", "message_no", "template_id",
	"planned_at_utc", "local_date", "status", "attempt_count", "next_attempt_at_utc",
	"locked_by", "locked_at_utc", "sent_at_utc", "last_error", "is_simulated", "created_at_utc", "updated_at_utc",
}

func sampleEntry() *core_domain.DispatchEntry {
	planned := time.Date(2025, time.March, 14, 7, 0, 0, 0, time.UTC)
	return core_domain.NewQueuedDispatch(
		uuid.New(), uuid.New(), uuid.New(), uuid.New(), "+905551112233", 1, uuid.New(),
		planned, core_domain.LocalDate{Year: 2025, Month: time.March, Day: 14},
	)
}

func TestPgDispatchQueue_TryEnqueueUnique(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	e := sampleEntry()
	query := `INSERT INTO whatsapp_dispatch_queue .* ON CONFLICT \(tenant_id, job_id, customer_id, local_date, message_no\) DO NOTHING`

	t.Run("Inserted", func(t *testing.T) {
		mockPool.ExpectExec(query).
			WithArgs(insertArgs(e)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		inserted, err := q.TryEnqueueUnique(context.Background(), e)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("AlreadyPresent", func(t *testing.T) {
		mockPool.ExpectExec(query).
			WithArgs(insertArgs(e)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		inserted, err := q.TryEnqueueUnique(context.Background(), e)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		mockPool.ExpectExec(query).
			WithArgs(insertArgs(e)...).
			WillReturnError(errors.New("connection reset"))

		_, err := q.TryEnqueueUnique(context.Background(), e)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDispatchQueue_EnqueueManual_Duplicate(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	e := sampleEntry()
	mockPool.ExpectExec(`INSERT INTO whatsapp_dispatch_queue`).
		WithArgs(insertArgs(e)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := q.EnqueueManual(context.Background(), e)
	assert.ErrorIs(t, err, core_domain.ErrDuplicateDispatch)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgDispatchQueue_ClaimNext(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	now := time.Date(2025, time.March, 14, 7, 1, 0, 0, time.UTC)
	workerID := "wa-sender-test-1"
	query := `WITH next AS .* FOR UPDATE SKIP LOCKED .* UPDATE whatsapp_dispatch_queue q SET status = \$4, locked_by = \$5`

	t.Run("Claimed", func(t *testing.T) {
		e := sampleEntry()
		lockedBy := workerID
		rows := mockPool.NewRows(dispatchRowColumns).AddRow(
			e.ID, e.TenantID, e.JobID, e.RuleID, e.CustomerID, e.ToE164, int16(1), e.TemplateID,
			e.PlannedAtUTC, e.LocalDate.Time(), int16(core_domain.DispatchStatusRunning), 0, e.NextAttemptAtUTC,
			&lockedBy, &now, nil, nil, false, e.CreatedAtUTC, now,
		)
		mockPool.ExpectQuery(query).
			WithArgs(int16(1), int16(5), now, int16(2), workerID).
			WillReturnRows(rows)

		claimed, err := q.ClaimNext(context.Background(), workerID, now)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, e.ID, claimed.ID)
		assert.Equal(t, core_domain.DispatchStatusRunning, claimed.Status)
		assert.Equal(t, 1, claimed.MessageNo)
		assert.Equal(t, e.LocalDate, claimed.LocalDate)
		require.NotNil(t, claimed.LockedBy)
		assert.Equal(t, workerID, *claimed.LockedBy)
		assert.Nil(t, claimed.LastError)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NothingDue", func(t *testing.T) {
		mockPool.ExpectQuery(query).
			WithArgs(int16(1), int16(5), now, int16(2), workerID).
			WillReturnError(pgx.ErrNoRows)

		claimed, err := q.ClaimNext(context.Background(), workerID, now)
		require.NoError(t, err)
		assert.Nil(t, claimed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDispatchQueue_ReleaseStaleLocks(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	now := time.Date(2025, time.March, 14, 7, 10, 0, 0, time.UTC)
	mockPool.ExpectExec(`UPDATE whatsapp_dispatch_queue SET status = \$1, locked_by = NULL, locked_at_utc = NULL`).
		WithArgs(int16(1), now, int16(2), now.Add(-2*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := q.ReleaseStaleLocks(context.Background(), 2*time.Minute, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgDispatchQueue_TryConsumeDailyQuota(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	tenantID, customerID := uuid.New(), uuid.New()
	date := core_domain.LocalDate{Year: 2025, Month: time.March, Day: 14}
	query := `INSERT INTO whatsapp_customer_daily_quota .* ON CONFLICT \(tenant_id, customer_id, local_date\) DO UPDATE .* WHERE whatsapp_customer_daily_quota.used_count < \$5 RETURNING used_count`

	t.Run("Consumed", func(t *testing.T) {
		mockPool.ExpectQuery(query).
			WithArgs(tenantID, customerID, date.Time(), pgxmock.AnyArg(), 2).
			WillReturnRows(mockPool.NewRows([]string{"used_count"}).AddRow(2))

		ok, err := q.TryConsumeDailyQuota(context.Background(), tenantID, customerID, date, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("LimitReached", func(t *testing.T) {
		mockPool.ExpectQuery(query).
			WithArgs(tenantID, customerID, date.Time(), pgxmock.AnyArg(), 1).
			WillReturnError(pgx.ErrNoRows)

		ok, err := q.TryConsumeDailyQuota(context.Background(), tenantID, customerID, date, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NonPositiveLimit", func(t *testing.T) {
		ok, err := q.TryConsumeDailyQuota(context.Background(), tenantID, customerID, date, 0)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDispatchQueue_ReleaseDailyQuota(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	tenantID, customerID := uuid.New(), uuid.New()
	date := core_domain.LocalDate{Year: 2025, Month: time.March, Day: 14}
	mockPool.ExpectExec(`UPDATE whatsapp_customer_daily_quota SET used_count = used_count - 1`).
		WithArgs(tenantID, customerID, date.Time(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.ReleaseDailyQuota(context.Background(), tenantID, customerID, date))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgDispatchQueue_MarkTransitions(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	id := uuid.New()
	workerID := "wa-sender-test-1"
	now := time.Date(2025, time.March, 14, 7, 2, 0, 0, time.UTC)

	t.Run("Succeeded", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE whatsapp_dispatch_queue SET status = \$1, sent_at_utc = \$2, is_simulated = \$3`).
			WithArgs(int16(3), now, true, id, int16(2), workerID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, q.MarkSucceeded(context.Background(), id, workerID, true, now))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Suppressed", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE whatsapp_dispatch_queue SET status = \$1, last_error = \$2`).
			WithArgs(int16(4), core_domain.SuppressedDailyLimitReason, now, id, int16(2), workerID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, q.MarkSuppressed(context.Background(), id, workerID, core_domain.SuppressedDailyLimitReason, now))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("FailedIncrementsAttempts", func(t *testing.T) {
		next := now.Add(6 * time.Second)
		mockPool.ExpectExec(`SET status = \$1, attempt_count = attempt_count \+ 1, next_attempt_at_utc = \$2`).
			WithArgs(int16(5), next, "provider returned 500", now, id, int16(2), workerID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, q.MarkFailed(context.Background(), id, workerID, "provider returned 500", next, now))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("LeaseLost", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE whatsapp_dispatch_queue SET status = \$1, sent_at_utc = \$2`).
			WithArgs(int16(3), now, false, id, int16(2), workerID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := q.MarkSucceeded(context.Background(), id, workerID, false, now)
		assert.ErrorIs(t, err, core_domain.ErrLeaseLost)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDispatchQueue_ListRecent(t *testing.T) {
	q, mockPool := setupDispatchQueueTest(t)
	defer mockPool.Close()

	tenantID := uuid.New()
	e := sampleEntry()
	sent := e.PlannedAtUTC.Add(time.Second)
	rows := mockPool.NewRows(dispatchRowColumns).AddRow(
		e.ID, tenantID, e.JobID, e.RuleID, e.CustomerID, e.ToE164, int16(2), e.TemplateID,
		e.PlannedAtUTC, e.LocalDate.Time(), int16(core_domain.DispatchStatusSucceeded), 1, e.NextAttemptAtUTC,
		nil, nil, &sent, nil, true, e.CreatedAtUTC, e.UpdatedAtUTC,
	)
	mockPool.ExpectQuery(`SELECT .* FROM whatsapp_dispatch_queue WHERE tenant_id = \$1 ORDER BY created_at_utc DESC LIMIT \$2`).
		WithArgs(tenantID, core_domain.MaxRecentTake).
		WillReturnRows(rows)

	list, err := q.ListRecent(context.Background(), tenantID, 10_000)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core_domain.DispatchStatusSucceeded, list[0].Status)
	assert.True(t, list[0].IsSimulated)
	assert.Equal(t, 2, list[0].MessageNo)
	require.NotNil(t, list[0].SentAtUTC)
	assert.Equal(t, sent, *list[0].SentAtUTC)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
