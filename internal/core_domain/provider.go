package core_domain

import (
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies the integration stored in provider_connections.
type ProviderType int16

const ProviderTypeWhatsapp ProviderType = 3

// ConnectionStatus mirrors provider_connections.status.
type ConnectionStatus int16

const (
	ConnectionStatusActive             ConnectionStatus = 1
	ConnectionStatusPaused             ConnectionStatus = 2
	ConnectionStatusInvalidCredentials ConnectionStatus = 3
)

// ProviderConnection is a tenant's messaging account. AccessTokenCiphertext is an
// opaque encrypted credential blob.
type ProviderConnection struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	ProviderType          ProviderType
	Status                ConnectionStatus
	DisplayName           string
	IsTestMode            bool
	AccessTokenCiphertext string
	UpdatedAtUTC          time.Time
}

// Sendable reports whether real sends may go through this connection.
func (c *ProviderConnection) Sendable() bool {
	return c != nil && !c.IsTestMode && c.Status == ConnectionStatusActive
}

// WhatsappCredential is the decrypted form of a WhatsApp connection's credential blob.
type WhatsappCredential struct {
	AccessToken   string `json:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId"`
	WabaID        string `json:"wabaId"`
}

// Template is the resolved form of a message template id.
type Template struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	LanguageCode string
}
