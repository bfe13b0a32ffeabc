package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// --- Request DTOs ---

// ManualEnqueueRequestDTO inserts one dispatch entry as given.
type ManualEnqueueRequestDTO struct {
	JobID        uuid.UUID  `json:"jobId" validate:"required"`
	RuleID       uuid.UUID  `json:"ruleId" validate:"required"`
	CustomerID   uuid.UUID  `json:"customerId" validate:"required"`
	ToE164       string     `json:"toE164" validate:"required,e164"`
	MessageNo    int        `json:"messageNo" validate:"required,oneof=1 2"`
	TemplateID   uuid.UUID  `json:"templateId" validate:"required"`
	PlannedAtUTC *time.Time `json:"plannedAtUtc,omitempty"` // defaults to now
}

// OrderEventRequestDTO is an order event posted over HTTP. The tenant comes from X-Tenant-Id.
type OrderEventRequestDTO struct {
	OrderID       string    `json:"orderId"`
	CustomerID    uuid.UUID `json:"customerId"`
	ToE164        string    `json:"toE164"`
	OccurredAtUTC time.Time `json:"occurredAtUtc"`
}

// --- Response DTOs ---

type DispatchEntryDTO struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenantId"`
	JobID            uuid.UUID  `json:"jobId"`
	RuleID           uuid.UUID  `json:"ruleId"`
	CustomerID       uuid.UUID  `json:"customerId"`
	ToE164           string     `json:"toE164"`
	MessageNo        int        `json:"messageNo"`
	TemplateID       uuid.UUID  `json:"templateId"`
	PlannedAtUTC     time.Time  `json:"plannedAtUtc"`
	LocalDate        string     `json:"localDate"`
	Status           string     `json:"status"`
	AttemptCount     int        `json:"attemptCount"`
	NextAttemptAtUTC time.Time  `json:"nextAttemptAtUtc"`
	LockedBy         *string    `json:"lockedBy,omitempty"`
	LockedAtUTC      *time.Time `json:"lockedAtUtc,omitempty"`
	SentAtUTC        *time.Time `json:"sentAtUtc,omitempty"`
	LastError        *string    `json:"lastError,omitempty"`
	IsSimulated      bool       `json:"isSimulated"`
	CreatedAtUTC     time.Time  `json:"createdAtUtc"`
	UpdatedAtUTC     time.Time  `json:"updatedAtUtc"`
}

type RecentDispatchesResponseDTO struct {
	Items []DispatchEntryDTO `json:"items"`
}

type ManualEnqueueResponseDTO struct {
	ID        uuid.UUID `json:"id"`
	LocalDate string    `json:"localDate"`
}

type RunNowResponseDTO struct {
	Enqueued int `json:"enqueued"`
}

type OrderEventResponseDTO struct {
	Stored bool `json:"stored"`
}

type MessageResponseDTO struct {
	Message string `json:"message"`
}

func toDispatchEntryDTO(e *core_domain.DispatchEntry) DispatchEntryDTO {
	return DispatchEntryDTO{
		ID:               e.ID,
		TenantID:         e.TenantID,
		JobID:            e.JobID,
		RuleID:           e.RuleID,
		CustomerID:       e.CustomerID,
		ToE164:           e.ToE164,
		MessageNo:        e.MessageNo,
		TemplateID:       e.TemplateID,
		PlannedAtUTC:     e.PlannedAtUTC,
		LocalDate:        e.LocalDate.String(),
		Status:           e.Status.String(),
		AttemptCount:     e.AttemptCount,
		NextAttemptAtUTC: e.NextAttemptAtUTC,
		LockedBy:         e.LockedBy,
		LockedAtUTC:      e.LockedAtUTC,
		SentAtUTC:        e.SentAtUTC,
		LastError:        e.LastError,
		IsSimulated:      e.IsSimulated,
		CreatedAtUTC:     e.CreatedAtUTC,
		UpdatedAtUTC:     e.UpdatedAtUTC,
	}
}
