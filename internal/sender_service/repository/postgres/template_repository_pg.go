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

type PgTemplateRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgTemplateRepository(db database.Querier, logger *slog.Logger) *PgTemplateRepository {
	return &PgTemplateRepository{db: db, logger: logger.With("component", "template_repository_pg")}
}

var _ core_domain.TemplateRepository = (*PgTemplateRepository)(nil)

// GetByID returns nil, nil when the template does not exist for the tenant.
func (r *PgTemplateRepository) GetByID(ctx context.Context, tenantID, templateID uuid.UUID) (*core_domain.Template, error) {
	query := `SELECT id, tenant_id, name, language_code FROM whatsapp_templates WHERE tenant_id = $1 AND id = $2`

	var t core_domain.Template
	err := r.db.QueryRow(ctx, query, tenantID, templateID).Scan(&t.ID, &t.TenantID, &t.Name, &t.LanguageCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting template", "error", err, "template_id", templateID)
		return nil, fmt.Errorf("get template %s: %w", templateID, err)
	}
	return &t, nil
}
