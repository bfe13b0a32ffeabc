package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/dispatch_queue/memory"
)

type schedulerFixture struct {
	rules  *MockRuleRepository
	jobs   *MockJobRepository
	events *MockOrderEventRepository
	queue  *memory.DispatchQueue
	sched  *Scheduler
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		rules:  new(MockRuleRepository),
		jobs:   new(MockJobRepository),
		events: new(MockOrderEventRepository),
		queue:  memory.NewDispatchQueue(),
	}
	s, err := NewScheduler(f.rules, f.jobs, f.events, f.queue, discardLogger(), SchedulerConfig{
		Interval:            time.Second,
		OrderEventBatchSize: 50,
		DailyLateTolerance:  2 * time.Minute,
		DefaultTimezone:     "UTC+3",
	})
	require.NoError(t, err)
	f.sched = s
	return f
}

func TestNewScheduler_InvalidDefaultTimezone(t *testing.T) {
	_, err := NewScheduler(nil, nil, nil, nil, discardLogger(), SchedulerConfig{DefaultTimezone: "Nowhere/Special"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core_domain.ErrInvalidTimezone)
}

func TestScheduleDaily_IdempotentAcrossTicks(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	tenantID := uuid.New()
	rule := &core_domain.Rule{
		ID: uuid.New(), TenantID: tenantID, Mode: core_domain.RuleModeDaily, IsActive: true,
		DailyLimit: 2, DailyTime1: tod(10, 0), DailyDelay2Minutes: intPtr(90), Timezone: "UTC+3",
	}
	job := newJob(tenantID, rule.ID, true, uuid.New(), uuid.New())

	f.jobs.On("ListActive", mock.Anything).Return([]*core_domain.Job{job}, nil)
	f.rules.On("ListActiveByIDs", mock.Anything, []uuid.UUID{rule.ID}).Return(map[uuid.UUID]*core_domain.Rule{rule.ID: rule}, nil)

	now := time.Date(2025, time.March, 14, 7, 0, 30, 0, time.UTC)
	n, err := f.sched.ScheduleDaily(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = f.sched.ScheduleDaily(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all := f.queue.All()
	require.Len(t, all, 4)
	for _, e := range all {
		assert.Equal(t, core_domain.DispatchStatusQueued, e.Status)
		assert.Equal(t, "2025-03-14", e.LocalDate.String())
		assert.Equal(t, rule.ID, e.RuleID)
		switch e.MessageNo {
		case 1:
			assert.Equal(t, time.Date(2025, time.March, 14, 7, 0, 0, 0, time.UTC), e.PlannedAtUTC)
			assert.Equal(t, job.Template1ID, e.TemplateID)
		case 2:
			assert.Equal(t, time.Date(2025, time.March, 14, 8, 30, 0, 0, time.UTC), e.PlannedAtUTC)
			assert.Equal(t, *job.Template2ID, e.TemplateID)
		default:
			t.Fatalf("unexpected message number %d", e.MessageNo)
		}
	}
	f.jobs.AssertExpectations(t)
	f.rules.AssertExpectations(t)
}

func TestScheduleDaily_SkipsLateAndForeignRules(t *testing.T) {
	f := newSchedulerFixture(t)
	tenantID := uuid.New()

	late := &core_domain.Rule{ID: uuid.New(), TenantID: tenantID, Mode: core_domain.RuleModeDaily, IsActive: true, DailyLimit: 1, DailyTime1: tod(9, 0)}
	orderRule := &core_domain.Rule{ID: uuid.New(), TenantID: tenantID, Mode: core_domain.RuleModeOrderEvent, IsActive: true, DailyLimit: 1}
	otherTenant := &core_domain.Rule{ID: uuid.New(), TenantID: uuid.New(), Mode: core_domain.RuleModeDaily, IsActive: true, DailyLimit: 1, DailyTime1: tod(10, 0)}

	jobs := []*core_domain.Job{
		newJob(tenantID, late.ID, false, uuid.New()),
		newJob(tenantID, orderRule.ID, false, uuid.New()),
		newJob(tenantID, otherTenant.ID, false, uuid.New()),
		newJob(tenantID, uuid.New(), false, uuid.New()), // rule missing
	}
	f.jobs.On("ListActive", mock.Anything).Return(jobs, nil)
	f.rules.On("ListActiveByIDs", mock.Anything, mock.Anything).Return(map[uuid.UUID]*core_domain.Rule{
		late.ID: late, orderRule.ID: orderRule, otherTenant.ID: otherTenant,
	}, nil)

	// 10:00 at UTC+3; the 09:00 slot is an hour old.
	n, err := f.sched.ScheduleDaily(context.Background(), time.Date(2025, time.March, 14, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.queue.All())
}

func TestScheduleDaily_InvalidRuleTimezoneUsesDefault(t *testing.T) {
	f := newSchedulerFixture(t)
	tenantID := uuid.New()
	rule := &core_domain.Rule{
		ID: uuid.New(), TenantID: tenantID, Mode: core_domain.RuleModeDaily, IsActive: true,
		DailyLimit: 1, DailyTime1: tod(10, 0), Timezone: "Mars/Olympus_Mons",
	}
	job := newJob(tenantID, rule.ID, false, uuid.New())
	f.jobs.On("ListActive", mock.Anything).Return([]*core_domain.Job{job}, nil)
	f.rules.On("ListActiveByIDs", mock.Anything, mock.Anything).Return(map[uuid.UUID]*core_domain.Rule{rule.ID: rule}, nil)

	n, err := f.sched.ScheduleDaily(context.Background(), time.Date(2025, time.March, 14, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, time.Date(2025, time.March, 14, 7, 0, 0, 0, time.UTC), f.queue.All()[0].PlannedAtUTC)
}

func TestScheduleDaily_StoreErrors(t *testing.T) {
	t.Run("ListJobs", func(t *testing.T) {
		f := newSchedulerFixture(t)
		f.jobs.On("ListActive", mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := f.sched.ScheduleDaily(context.Background(), time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("Enqueue", func(t *testing.T) {
		tenantID := uuid.New()
		rule := &core_domain.Rule{ID: uuid.New(), TenantID: tenantID, Mode: core_domain.RuleModeDaily, IsActive: true, DailyLimit: 1, DailyTime1: tod(23, 59)}
		job := newJob(tenantID, rule.ID, false, uuid.New())

		rules, jobs, enq := new(MockRuleRepository), new(MockJobRepository), new(MockEnqueuer)
		jobs.On("ListActive", mock.Anything).Return([]*core_domain.Job{job}, nil)
		rules.On("ListActiveByIDs", mock.Anything, mock.Anything).Return(map[uuid.UUID]*core_domain.Rule{rule.ID: rule}, nil)
		enq.On("TryEnqueueUnique", mock.Anything, mock.AnythingOfType("*core_domain.DispatchEntry")).Return(false, errors.New("disk full"))

		s, err := NewScheduler(rules, jobs, new(MockOrderEventRepository), enq, discardLogger(), SchedulerConfig{DefaultTimezone: "UTC"})
		require.NoError(t, err)

		n, err := s.ScheduleDaily(context.Background(), time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC))
		require.Error(t, err)
		assert.Equal(t, 0, n)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestScheduleOrderEvents_CascadeAndMarkProcessed(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	tenantA, tenantB := uuid.New(), uuid.New()
	rule := &core_domain.Rule{
		ID: uuid.New(), TenantID: tenantA, Mode: core_domain.RuleModeOrderEvent, IsActive: true,
		DailyLimit: 2, OrderDelay1Minutes: intPtr(10), OrderDelay2Minutes: intPtr(120), Timezone: "UTC",
	}
	job := newJob(tenantA, rule.ID, true)
	occurred := time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

	evA := &core_domain.OrderEvent{ID: uuid.New(), TenantID: tenantA, OrderID: "A-1", CustomerID: uuid.New(), ToE164: "+905551112233", OccurredAtUTC: occurred}
	evB := &core_domain.OrderEvent{ID: uuid.New(), TenantID: tenantB, OrderID: "B-1", CustomerID: uuid.New(), ToE164: "+905559998877", OccurredAtUTC: occurred}
	now := occurred.Add(time.Minute)

	f.events.On("ListUnprocessed", mock.Anything, 50).Return([]*core_domain.OrderEvent{evA, evB}, nil)
	f.jobs.On("ListActiveByTenant", mock.Anything, tenantA).Return([]*core_domain.Job{job}, nil)
	f.jobs.On("ListActiveByTenant", mock.Anything, tenantB).Return([]*core_domain.Job{}, nil)
	f.rules.On("ListActiveByIDs", mock.Anything, []uuid.UUID{rule.ID}).Return(map[uuid.UUID]*core_domain.Rule{rule.ID: rule}, nil).Once()
	f.events.On("MarkProcessed", mock.Anything, evA.ID, now).Return(nil).Once()
	f.events.On("MarkProcessed", mock.Anything, evB.ID, now).Return(nil).Once()

	enqueued, handled, err := f.sched.ScheduleOrderEvents(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)
	assert.Equal(t, 2, handled)

	all := f.queue.All()
	require.Len(t, all, 2)
	assert.Equal(t, occurred.Add(10*time.Minute), all[0].PlannedAtUTC)
	assert.Equal(t, occurred.Add(130*time.Minute), all[1].PlannedAtUTC)
	assert.Equal(t, evA.CustomerID, all[0].CustomerID)
	assert.Equal(t, "2025-03-14", all[0].LocalDate.String())

	f.events.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
	f.rules.AssertExpectations(t)
}

func TestScheduleOrderEvents_Empty(t *testing.T) {
	f := newSchedulerFixture(t)
	f.events.On("ListUnprocessed", mock.Anything, 50).Return([]*core_domain.OrderEvent{}, nil)

	enqueued, handled, err := f.sched.ScheduleOrderEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, enqueued)
	assert.Zero(t, handled)
	f.jobs.AssertNotCalled(t, "ListActiveByTenant", mock.Anything, mock.Anything)
}

func TestScheduleOrderEvents_MarkProcessedFailureStops(t *testing.T) {
	f := newSchedulerFixture(t)
	tenantID := uuid.New()
	ev1 := &core_domain.OrderEvent{ID: uuid.New(), TenantID: tenantID, OrderID: "1", CustomerID: uuid.New(), ToE164: "+905551112233", OccurredAtUTC: time.Now()}
	ev2 := &core_domain.OrderEvent{ID: uuid.New(), TenantID: tenantID, OrderID: "2", CustomerID: uuid.New(), ToE164: "+905551112234", OccurredAtUTC: time.Now()}

	f.events.On("ListUnprocessed", mock.Anything, 50).Return([]*core_domain.OrderEvent{ev1, ev2}, nil)
	f.jobs.On("ListActiveByTenant", mock.Anything, tenantID).Return([]*core_domain.Job{}, nil)
	f.events.On("MarkProcessed", mock.Anything, ev1.ID, mock.Anything).Return(errors.New("timeout"))

	_, handled, err := f.sched.ScheduleOrderEvents(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, 0, handled)
	f.events.AssertNotCalled(t, "MarkProcessed", mock.Anything, ev2.ID, mock.Anything)
}

func TestScheduler_TickAndRun(t *testing.T) {
	f := newSchedulerFixture(t)
	f.sched.now = func() time.Time { return time.Date(2025, time.March, 14, 7, 0, 0, 0, time.UTC) }
	f.jobs.On("ListActive", mock.Anything).Return([]*core_domain.Job{}, nil)
	f.rules.On("ListActiveByIDs", mock.Anything, mock.Anything).Return(map[uuid.UUID]*core_domain.Rule{}, nil)
	f.events.On("ListUnprocessed", mock.Anything, 50).Return([]*core_domain.OrderEvent{}, nil)

	res, err := f.sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{}, res)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.sched.Run(ctx))
}
