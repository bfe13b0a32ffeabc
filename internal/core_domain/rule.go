package core_domain

import (
	"time"

	"github.com/google/uuid"
)

// RuleMode selects how a rule produces dispatch entries.
type RuleMode int16

const (
	RuleModeDaily      RuleMode = 1
	RuleModeOrderEvent RuleMode = 2
)

func (m RuleMode) String() string {
	switch m {
	case RuleModeDaily:
		return "daily"
	case RuleModeOrderEvent:
		return "order_event"
	default:
		return "unknown"
	}
}

// DefaultOrderDelay2Minutes applies when an order-event rule leaves the second delay unset.
const DefaultOrderDelay2Minutes = 60

// Rule is a tenant-owned messaging policy.
type Rule struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	Name               string     `json:"name"`
	Mode               RuleMode   `json:"mode"`
	DailyLimit         int        `json:"daily_limit"`
	Timezone           string     `json:"timezone"`
	DailyTime1         *TimeOfDay `json:"daily_time1,omitempty"`
	DailyTime2         *TimeOfDay `json:"daily_time2,omitempty"`
	DailyDelay2Minutes *int       `json:"daily_delay2_minutes,omitempty"`
	OrderDelay1Minutes *int       `json:"order_delay1_minutes,omitempty"`
	OrderDelay2Minutes *int       `json:"order_delay2_minutes,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAtUTC       time.Time  `json:"created_at_utc"`
	UpdatedAtUTC       time.Time  `json:"updated_at_utc"`
}

// EffectiveDailyLimit clamps the stored limit to 1..2.
func (r *Rule) EffectiveDailyLimit() int {
	switch {
	case r.DailyLimit < 1:
		return 1
	case r.DailyLimit > 2:
		return 2
	default:
		return r.DailyLimit
	}
}

// Delay2Minutes returns the configured gap before message #2 for the rule's mode, or def when unset.
func (r *Rule) Delay2Minutes(def int) int {
	var v *int
	if r.Mode == RuleModeOrderEvent {
		v = r.OrderDelay2Minutes
	} else {
		v = r.DailyDelay2Minutes
	}
	if v == nil {
		return def
	}
	return *v
}

// Target is one recipient of a job.
type Target struct {
	CustomerID  uuid.UUID `json:"customerId" validate:"required"`
	ToE164      string    `json:"toE164" validate:"required,e164"`
	DisplayName string    `json:"displayName,omitempty"`
}

// Job binds a rule to its templates and static target list.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	Name         string     `json:"name"`
	RuleID       uuid.UUID  `json:"rule_id"`
	Template1ID  uuid.UUID  `json:"template1_id"`
	Template2ID  *uuid.UUID `json:"template2_id,omitempty"`
	Targets      []Target   `json:"targets"`
	IsActive     bool       `json:"is_active"`
	CreatedAtUTC time.Time  `json:"created_at_utc"`
	UpdatedAtUTC time.Time  `json:"updated_at_utc"`
}

// OrderEvent is a fact emitted by the order pipeline, inspected exactly once.
type OrderEvent struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	OrderID        string     `json:"order_id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	ToE164         string     `json:"to_e164"`
	OccurredAtUTC  time.Time  `json:"occurred_at_utc"`
	ProcessedAtUTC *time.Time `json:"processed_at_utc,omitempty"`
	CreatedAtUTC   time.Time  `json:"created_at_utc"`
}
