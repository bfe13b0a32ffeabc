package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/platform/database"
)

type PgOrderEventRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgOrderEventRepository(db database.Querier, logger *slog.Logger) *PgOrderEventRepository {
	return &PgOrderEventRepository{db: db, logger: logger.With("component", "order_event_repository_pg")}
}

var _ core_domain.OrderEventRepository = (*PgOrderEventRepository)(nil)

func (r *PgOrderEventRepository) Append(ctx context.Context, ev *core_domain.OrderEvent) (bool, error) {
	query := `
		INSERT INTO whatsapp_order_events (id, tenant_id, order_id, customer_id, to_e164, occurred_at_utc, created_at_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, order_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		ev.ID, ev.TenantID, ev.OrderID, ev.CustomerID, ev.ToE164, ev.OccurredAtUTC.UTC(), ev.CreatedAtUTC,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error appending order event", "error", err, "order_id", ev.OrderID)
		return false, fmt.Errorf("append order event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgOrderEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*core_domain.OrderEvent, error) {
	query := `
		SELECT id, tenant_id, order_id, customer_id, to_e164, occurred_at_utc, processed_at_utc, created_at_utc
		FROM whatsapp_order_events
		WHERE processed_at_utc IS NULL
		ORDER BY occurred_at_utc ASC, created_at_utc ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing unprocessed order events", "error", err)
		return nil, fmt.Errorf("list unprocessed order events: %w", err)
	}
	defer rows.Close()

	var events []*core_domain.OrderEvent
	for rows.Next() {
		var ev core_domain.OrderEvent
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.OrderID, &ev.CustomerID, &ev.ToE164,
			&ev.OccurredAtUTC, &ev.ProcessedAtUTC, &ev.CreatedAtUTC,
		); err != nil {
			return nil, fmt.Errorf("scan order event row: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order event rows: %w", err)
	}
	return events, nil
}

// MarkProcessed is monotonic: an already processed event keeps its first timestamp.
func (r *PgOrderEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE whatsapp_order_events SET processed_at_utc = $1 WHERE id = $2 AND processed_at_utc IS NULL`

	if _, err := r.db.Exec(ctx, query, at, id); err != nil {
		r.logger.ErrorContext(ctx, "Error marking order event processed", "error", err, "event_id", id)
		return fmt.Errorf("mark order event %s processed: %w", id, err)
	}
	return nil
}
