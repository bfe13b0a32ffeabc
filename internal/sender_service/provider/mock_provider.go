package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// SentTemplate records one call to MockTemplateSender.
type SentTemplate struct {
	PhoneNumberID string
	To            string
	TemplateName  string
	LanguageCode  string
}

// MockTemplateSender is an in-process TemplateSender for tests and local runs.
type MockTemplateSender struct {
	logger *slog.Logger

	mu             sync.Mutex
	Err            error // returned by every send when set
	SimulatedDelay time.Duration
	Sent           []SentTemplate
}

func NewMockTemplateSender(logger *slog.Logger, err error, delay time.Duration) *MockTemplateSender {
	return &MockTemplateSender{
		logger:         logger.With("provider", "mock"),
		Err:            err,
		SimulatedDelay: delay,
	}
}

func (p *MockTemplateSender) SendTemplate(ctx context.Context, cred core_domain.WhatsappCredential, toE164, templateName, languageCode string) (string, error) {
	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		p.logger.WarnContext(ctx, "Mock provider simulated send failure", "to", toE164, "error", p.Err)
		return "", p.Err
	}
	p.Sent = append(p.Sent, SentTemplate{PhoneNumberID: cred.PhoneNumberID, To: toE164, TemplateName: templateName, LanguageCode: languageCode})
	return "wamid.mock-" + uuid.NewString(), nil
}

// Calls returns a copy of the recorded sends.
func (p *MockTemplateSender) Calls() []SentTemplate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentTemplate(nil), p.Sent...)
}

func (p *MockTemplateSender) GetName() string {
	return "mock"
}

// ErrMockSendFailed is a convenience error for simulating provider outages.
var ErrMockSendFailed = errors.New("mock provider simulated send failure")
