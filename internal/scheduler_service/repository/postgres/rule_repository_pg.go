package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/platform/database"
)

// Times are read as text so NULL and time-of-day parsing stay in one place.
const ruleColumns = `id, tenant_id, name, mode, daily_limit, timezone,
	daily_time1::text, daily_time2::text, daily_delay2_minutes,
	order_delay1_minutes, order_delay2_minutes, is_active, created_at_utc, updated_at_utc`

type PgRuleRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgRuleRepository(db database.Querier, logger *slog.Logger) *PgRuleRepository {
	return &PgRuleRepository{db: db, logger: logger.With("component", "rule_repository_pg")}
}

var _ core_domain.RuleRepository = (*PgRuleRepository)(nil)

func (r *PgRuleRepository) GetByID(ctx context.Context, tenantID, ruleID uuid.UUID) (*core_domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM whatsapp_rules WHERE tenant_id = $1 AND id = $2`

	rule, err := scanRule(r.db.QueryRow(ctx, query, tenantID, ruleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting rule by ID", "error", err, "rule_id", ruleID)
		return nil, fmt.Errorf("get rule %s: %w", ruleID, err)
	}
	return rule, nil
}

func (r *PgRuleRepository) ListActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*core_domain.Rule, error) {
	out := make(map[uuid.UUID]*core_domain.Rule, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + ruleColumns + ` FROM whatsapp_rules WHERE id = ANY($1) AND is_active = TRUE`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing active rules", "error", err)
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		out[rule.ID] = rule
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule rows: %w", err)
	}
	return out, nil
}

func scanRule(row pgx.Row) (*core_domain.Rule, error) {
	var (
		rule         core_domain.Rule
		mode         int16
		dailyLimit   int16
		time1, time2 *string
	)
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &mode, &dailyLimit, &rule.Timezone,
		&time1, &time2, &rule.DailyDelay2Minutes,
		&rule.OrderDelay1Minutes, &rule.OrderDelay2Minutes, &rule.IsActive, &rule.CreatedAtUTC, &rule.UpdatedAtUTC,
	)
	if err != nil {
		return nil, err
	}
	rule.Mode = core_domain.RuleMode(mode)
	rule.DailyLimit = int(dailyLimit)
	if rule.DailyTime1, err = parseOptionalTime(time1); err != nil {
		return nil, fmt.Errorf("rule %s daily_time1: %w", rule.ID, err)
	}
	if rule.DailyTime2, err = parseOptionalTime(time2); err != nil {
		return nil, fmt.Errorf("rule %s daily_time2: %w", rule.ID, err)
	}
	return &rule, nil
}

func parseOptionalTime(s *string) (*core_domain.TimeOfDay, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := core_domain.ParseTimeOfDay(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
