package core_domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DispatchStatus is persisted as a smallint in whatsapp_dispatch_queue.status.
type DispatchStatus int16

const (
	DispatchStatusQueued     DispatchStatus = 1
	DispatchStatusRunning    DispatchStatus = 2
	DispatchStatusSucceeded  DispatchStatus = 3
	DispatchStatusSuppressed DispatchStatus = 4
	DispatchStatusFailed     DispatchStatus = 5
)

func (s DispatchStatus) String() string {
	switch s {
	case DispatchStatusQueued:
		return "queued"
	case DispatchStatusRunning:
		return "running"
	case DispatchStatusSucceeded:
		return "succeeded"
	case DispatchStatusSuppressed:
		return "suppressed"
	case DispatchStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// PermanentFailurePrefix marks a failed entry that will never be claimed again.
	PermanentFailurePrefix = "FAILED(permanent): "
	// SuppressedDailyLimitReason is recorded when the daily quota refuses a send.
	SuppressedDailyLimitReason = "Suppressed: daily limit reached"
	// MaxLastErrorLength bounds dispatch last_error.
	MaxLastErrorLength = 7800
	// PermanentFailureHorizon pushes next_attempt_at_utc out of reach.
	PermanentFailureHorizon = 10 * 365 * 24 * time.Hour
)

// DispatchEntry is one scheduled, individually tracked send attempt.
type DispatchEntry struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	JobID            uuid.UUID      `json:"job_id"`
	RuleID           uuid.UUID      `json:"rule_id"`
	CustomerID       uuid.UUID      `json:"customer_id"`
	ToE164           string         `json:"to_e164"`
	MessageNo        int            `json:"message_no"`
	TemplateID       uuid.UUID      `json:"template_id"`
	PlannedAtUTC     time.Time      `json:"planned_at_utc"`
	LocalDate        LocalDate      `json:"local_date"`
	Status           DispatchStatus `json:"status"`
	AttemptCount     int            `json:"attempt_count"`
	NextAttemptAtUTC time.Time      `json:"next_attempt_at_utc"`
	LockedBy         *string        `json:"locked_by,omitempty"`
	LockedAtUTC      *time.Time     `json:"locked_at_utc,omitempty"`
	SentAtUTC        *time.Time     `json:"sent_at_utc,omitempty"`
	LastError        *string        `json:"last_error,omitempty"`
	IsSimulated      bool           `json:"is_simulated"`
	CreatedAtUTC     time.Time      `json:"created_at_utc"`
	UpdatedAtUTC     time.Time      `json:"updated_at_utc"`
}

// NewQueuedDispatch builds a Queued entry whose first attempt is due at plannedAt.
func NewQueuedDispatch(
	tenantID, jobID, ruleID, customerID uuid.UUID,
	toE164 string,
	messageNo int,
	templateID uuid.UUID,
	plannedAt time.Time,
	localDate LocalDate,
) *DispatchEntry {
	now := time.Now().UTC()
	return &DispatchEntry{
		ID:               uuid.New(),
		TenantID:         tenantID,
		JobID:            jobID,
		RuleID:           ruleID,
		CustomerID:       customerID,
		ToE164:           toE164,
		MessageNo:        messageNo,
		TemplateID:       templateID,
		PlannedAtUTC:     plannedAt.UTC(),
		LocalDate:        localDate,
		Status:           DispatchStatusQueued,
		NextAttemptAtUTC: plannedAt.UTC(),
		CreatedAtUTC:     now,
		UpdatedAtUTC:     now,
	}
}

// IsPermanentFailure reports whether the entry failed for good.
func (e *DispatchEntry) IsPermanentFailure() bool {
	return e.Status == DispatchStatusFailed && e.LastError != nil && strings.HasPrefix(*e.LastError, PermanentFailurePrefix)
}

// TruncateError cuts msg to MaxLastErrorLength runes.
func TruncateError(msg string) string {
	if len(msg) <= MaxLastErrorLength {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= MaxLastErrorLength {
		return msg
	}
	return string(runes[:MaxLastErrorLength])
}

// MaxRecentTake caps ListRecent page size.
const MaxRecentTake = 500

// ClampRecentTake bounds take to 1..MaxRecentTake.
func ClampRecentTake(take int) int {
	if take < 1 {
		return 1
	}
	if take > MaxRecentTake {
		return MaxRecentTake
	}
	return take
}
