package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/platform/database"
)

const jobColumns = `id, tenant_id, name, rule_id, template1_id, template2_id, targets_json, is_active, created_at_utc, updated_at_utc`

type PgJobRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgJobRepository(db database.Querier, logger *slog.Logger) *PgJobRepository {
	return &PgJobRepository{db: db, logger: logger.With("component", "job_repository_pg")}
}

var _ core_domain.JobRepository = (*PgJobRepository)(nil)

func (r *PgJobRepository) ListActive(ctx context.Context) ([]*core_domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM whatsapp_jobs WHERE is_active = TRUE ORDER BY created_at_utc`
	return r.list(ctx, query)
}

func (r *PgJobRepository) ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]*core_domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM whatsapp_jobs WHERE tenant_id = $1 AND is_active = TRUE ORDER BY created_at_utc`
	return r.list(ctx, query, tenantID)
}

func (r *PgJobRepository) GetByID(ctx context.Context, tenantID, jobID uuid.UUID) (*core_domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM whatsapp_jobs WHERE tenant_id = $1 AND id = $2`

	job, err := scanJob(r.db.QueryRow(ctx, query, tenantID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting job by ID", "error", err, "job_id", jobID)
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func (r *PgJobRepository) list(ctx context.Context, query string, args ...any) ([]*core_domain.Job, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing jobs", "error", err)
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core_domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*core_domain.Job, error) {
	var (
		job         core_domain.Job
		targetsJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &job.Name, &job.RuleID, &job.Template1ID, &job.Template2ID,
		&targetsJSON, &job.IsActive, &job.CreatedAtUTC, &job.UpdatedAtUTC,
	)
	if err != nil {
		return nil, err
	}
	if len(targetsJSON) > 0 {
		if err := json.Unmarshal(targetsJSON, &job.Targets); err != nil {
			return nil, fmt.Errorf("job %s targets_json: %w", job.ID, err)
		}
	}
	return &job, nil
}
