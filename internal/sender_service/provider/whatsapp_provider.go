package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// TemplateSender delivers a pre-approved template message to one recipient.
type TemplateSender interface {
	SendTemplate(ctx context.Context, cred core_domain.WhatsappCredential, toE164, templateName, languageCode string) (messageID string, err error)
	GetName() string
}

type WhatsappCloudProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiVersion string
}

func NewWhatsappCloudProvider(logger *slog.Logger, baseURL, apiVersion string, httpClient *http.Client) *WhatsappCloudProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 25 * time.Second}
	}
	return &WhatsappCloudProvider{
		logger:     logger.With("provider", "whatsapp_cloud"),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: strings.Trim(apiVersion, "/"),
	}
}

// TemplateMessageRequest is the Graph API body for a template send without parameters.
type TemplateMessageRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         TemplatePayload `json:"template"`
}

type TemplatePayload struct {
	Name     string           `json:"name"`
	Language TemplateLanguage `json:"language"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type SendMessageResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type GraphErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

func (p *WhatsappCloudProvider) SendTemplate(ctx context.Context, cred core_domain.WhatsappCredential, toE164, templateName, languageCode string) (string, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName()))
	defer timer.ObserveDuration()

	if cred.AccessToken == "" || cred.PhoneNumberID == "" {
		return "", core_domain.Permanent("whatsapp credential incomplete", nil)
	}

	body, err := json.Marshal(TemplateMessageRequest{
		MessagingProduct: "whatsapp",
		To:               toE164,
		Type:             "template",
		Template:         TemplatePayload{Name: templateName, Language: TemplateLanguage{Code: languageCode}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal whatsapp request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", p.baseURL, p.apiVersion, cred.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	p.logger.DebugContext(ctx, "Sending template to WhatsApp", "url", url, "template", templateName, "language", languageCode)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp send (status %d): read body: %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := fmt.Sprintf("WhatsApp send failed (%d): %s", resp.StatusCode, graphErrorMessage(raw))
		p.logger.WarnContext(ctx, "WhatsApp send failed", "status_code", resp.StatusCode, "template", templateName, "error", errMsg)
		if resp.StatusCode == http.StatusUnauthorized {
			return "", core_domain.Permanent("whatsapp access token rejected", fmt.Errorf("%s", errMsg))
		}
		return "", fmt.Errorf("%s", errMsg)
	}

	var parsed SendMessageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		p.logger.WarnContext(ctx, "WhatsApp send accepted but response unreadable", "error", err, "body", string(raw))
		return "", nil
	}
	messageID := ""
	if len(parsed.Messages) > 0 {
		messageID = parsed.Messages[0].ID
	}
	p.logger.InfoContext(ctx, "WhatsApp template sent", "message_id", messageID, "template", templateName)
	return messageID, nil
}

// graphErrorMessage prefers the Graph error message and falls back to a short raw body.
func graphErrorMessage(raw []byte) string {
	var ge GraphErrorResponse
	if err := json.Unmarshal(raw, &ge); err == nil && ge.Error.Message != "" {
		if ge.Error.Code != 0 {
			return fmt.Sprintf("%s (code %d)", ge.Error.Message, ge.Error.Code)
		}
		return ge.Error.Message
	}
	if len(raw) > 500 {
		return string(raw[:500])
	}
	return string(raw)
}

func (p *WhatsappCloudProvider) GetName() string {
	return "whatsapp_cloud"
}
