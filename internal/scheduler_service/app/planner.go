package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// PlannedMessage is one message slot of a plan.
type PlannedMessage struct {
	MessageNo    int
	TemplateID   uuid.UUID
	PlannedAtUTC time.Time
}

// Plan is what a job should send to each recipient for one local date.
type Plan struct {
	LocalDate core_domain.LocalDate
	Messages  []PlannedMessage
}

// Entries expands the plan for one recipient.
func (p Plan) Entries(job *core_domain.Job, customerID uuid.UUID, toE164 string) []*core_domain.DispatchEntry {
	out := make([]*core_domain.DispatchEntry, 0, len(p.Messages))
	for _, m := range p.Messages {
		out = append(out, core_domain.NewQueuedDispatch(
			job.TenantID, job.ID, job.RuleID, customerID, toE164, m.MessageNo, m.TemplateID, m.PlannedAtUTC, p.LocalDate,
		))
	}
	return out
}

func wantsSecond(rule *core_domain.Rule, job *core_domain.Job) bool {
	return rule.EffectiveDailyLimit() == 2 && job.Template2ID != nil && *job.Template2ID != uuid.Nil
}

// PlanDaily computes today's slots for a daily rule. ok is false when the rule has no
// first time or when today's first slot is older than lateTolerance.
func PlanDaily(rule *core_domain.Rule, job *core_domain.Job, loc *time.Location, now time.Time, lateTolerance time.Duration) (plan Plan, ok bool) {
	if rule.DailyTime1 == nil {
		return Plan{}, false
	}
	date := core_domain.LocalDateOf(now.In(loc))
	planned1 := rule.DailyTime1.On(date, loc)
	if now.Sub(planned1) > lateTolerance {
		return Plan{}, false
	}

	plan = Plan{
		LocalDate: date,
		Messages:  []PlannedMessage{{MessageNo: 1, TemplateID: job.Template1ID, PlannedAtUTC: planned1}},
	}
	if !wantsSecond(rule, job) {
		return plan, true
	}

	var planned2 time.Time
	if rule.DailyTime2 != nil {
		if t2 := rule.DailyTime2.On(date, loc); t2.After(planned1) {
			planned2 = t2
		}
	}
	if planned2.IsZero() && rule.DailyDelay2Minutes != nil && *rule.DailyDelay2Minutes > 0 {
		planned2 = planned1.Add(time.Duration(*rule.DailyDelay2Minutes) * time.Minute)
	}
	if !planned2.IsZero() {
		plan.Messages = append(plan.Messages, PlannedMessage{MessageNo: 2, TemplateID: *job.Template2ID, PlannedAtUTC: planned2})
	}
	return plan, true
}

// PlanOrderEvent computes the slots triggered by an order. The local date comes from the
// occurrence time, not from the planned send time.
func PlanOrderEvent(rule *core_domain.Rule, job *core_domain.Job, loc *time.Location, occurredAt time.Time) Plan {
	delay1 := 0
	if rule.OrderDelay1Minutes != nil && *rule.OrderDelay1Minutes > 0 {
		delay1 = *rule.OrderDelay1Minutes
	}
	planned1 := occurredAt.UTC().Add(time.Duration(delay1) * time.Minute)

	plan := Plan{
		LocalDate: core_domain.LocalDateOf(occurredAt.In(loc)),
		Messages:  []PlannedMessage{{MessageNo: 1, TemplateID: job.Template1ID, PlannedAtUTC: planned1}},
	}
	if wantsSecond(rule, job) {
		delay2 := max(1, rule.Delay2Minutes(core_domain.DefaultOrderDelay2Minutes))
		plan.Messages = append(plan.Messages, PlannedMessage{
			MessageNo: 2, TemplateID: *job.Template2ID, PlannedAtUTC: planned1.Add(time.Duration(delay2) * time.Minute),
		})
	}
	return plan
}

// PlanRunNow sends message #1 immediately and message #2 after the rule's second delay.
func PlanRunNow(rule *core_domain.Rule, job *core_domain.Job, loc *time.Location, now time.Time) Plan {
	now = now.UTC()
	plan := Plan{
		LocalDate: core_domain.LocalDateOf(now.In(loc)),
		Messages:  []PlannedMessage{{MessageNo: 1, TemplateID: job.Template1ID, PlannedAtUTC: now}},
	}
	if wantsSecond(rule, job) {
		delay2 := max(1, rule.Delay2Minutes(core_domain.DefaultOrderDelay2Minutes))
		plan.Messages = append(plan.Messages, PlannedMessage{
			MessageNo: 2, TemplateID: *job.Template2ID, PlannedAtUTC: now.Add(time.Duration(delay2) * time.Minute),
		})
	}
	return plan
}

// zoneResolver maps a rule's timezone to a location, falling back to a default.
type zoneResolver struct {
	fallback *time.Location
	logger   *slog.Logger
}

func newZoneResolver(defaultTimezone string, logger *slog.Logger) (zoneResolver, error) {
	loc, err := core_domain.LoadLocation(defaultTimezone)
	if err != nil {
		return zoneResolver{}, err
	}
	return zoneResolver{fallback: loc, logger: logger}, nil
}

func (z zoneResolver) For(ctx context.Context, rule *core_domain.Rule) *time.Location {
	if rule.Timezone == "" {
		return z.fallback
	}
	loc, err := core_domain.LoadLocation(rule.Timezone)
	if err != nil {
		z.logger.WarnContext(ctx, "Rule timezone invalid, using default", "rule_id", rule.ID, "timezone", rule.Timezone, "default", z.fallback.String())
		return z.fallback
	}
	return loc
}
