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

type PgProviderConnectionRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgProviderConnectionRepository(db database.Querier, logger *slog.Logger) *PgProviderConnectionRepository {
	return &PgProviderConnectionRepository{db: db, logger: logger.With("component", "provider_connection_repository_pg")}
}

var _ core_domain.ProviderConnectionRepository = (*PgProviderConnectionRepository)(nil)

// GetWhatsappConnection returns the tenant's most recently updated WhatsApp connection, or nil.
func (r *PgProviderConnectionRepository) GetWhatsappConnection(ctx context.Context, tenantID uuid.UUID) (*core_domain.ProviderConnection, error) {
	query := `
		SELECT id, tenant_id, provider_type, status, display_name, is_test_mode,
		       access_token_ciphertext, updated_at_utc
		FROM provider_connections
		WHERE tenant_id = $1 AND provider_type = $2
		ORDER BY updated_at_utc DESC
		LIMIT 1`

	var (
		c            core_domain.ProviderConnection
		providerType int16
		status       int16
		ciphertext   *string
	)
	err := r.db.QueryRow(ctx, query, tenantID, int16(core_domain.ProviderTypeWhatsapp)).Scan(
		&c.ID, &c.TenantID, &providerType, &status, &c.DisplayName, &c.IsTestMode,
		&ciphertext, &c.UpdatedAtUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting whatsapp connection", "error", err, "tenant_id", tenantID)
		return nil, fmt.Errorf("get whatsapp connection for tenant %s: %w", tenantID, err)
	}
	c.ProviderType = core_domain.ProviderType(providerType)
	c.Status = core_domain.ConnectionStatus(status)
	if ciphertext != nil {
		c.AccessTokenCiphertext = *ciphertext
	}
	return &c, nil
}
