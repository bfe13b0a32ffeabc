package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/profiqo/golang_services/internal/core_domain"
	"github.com/profiqo/golang_services/internal/dispatch_queue/memory"
)

func TestRunJobNow(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	rule := &core_domain.Rule{ID: uuid.New(), TenantID: tenantID, Mode: core_domain.RuleModeDaily, IsActive: true, DailyLimit: 2, DailyDelay2Minutes: intPtr(30)}
	job := newJob(tenantID, rule.ID, true, uuid.New(), uuid.Nil)

	rules, jobs, queue := new(MockRuleRepository), new(MockJobRepository), memory.NewDispatchQueue()
	jobs.On("GetByID", mock.Anything, tenantID, job.ID).Return(job, nil)
	rules.On("GetByID", mock.Anything, tenantID, rule.ID).Return(rule, nil)

	svc, err := NewRunNowService(rules, jobs, queue, "UTC", discardLogger())
	require.NoError(t, err)
	now := time.Date(2025, time.March, 14, 15, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	n, err := svc.RunJobNow(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "target without a customer id is skipped")

	all := queue.All()
	require.Len(t, all, 2)
	assert.Equal(t, now, all[0].PlannedAtUTC)
	assert.Equal(t, now.Add(30*time.Minute), all[1].PlannedAtUTC)

	n, err = svc.RunJobNow(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunJobNow_NotFound(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()

	t.Run("Job", func(t *testing.T) {
		jobs := new(MockJobRepository)
		jobs.On("GetByID", mock.Anything, tenantID, jobID).Return(nil, nil)
		svc, err := NewRunNowService(new(MockRuleRepository), jobs, memory.NewDispatchQueue(), "UTC", discardLogger())
		require.NoError(t, err)

		_, err = svc.RunJobNow(context.Background(), tenantID, jobID)
		assert.ErrorIs(t, err, core_domain.ErrNotFound)
	})

	t.Run("Rule", func(t *testing.T) {
		job := newJob(tenantID, uuid.New(), false, uuid.New())
		jobs, rules := new(MockJobRepository), new(MockRuleRepository)
		jobs.On("GetByID", mock.Anything, tenantID, job.ID).Return(job, nil)
		rules.On("GetByID", mock.Anything, tenantID, job.RuleID).Return(nil, nil)
		svc, err := NewRunNowService(rules, jobs, memory.NewDispatchQueue(), "UTC", discardLogger())
		require.NoError(t, err)

		_, err = svc.RunJobNow(context.Background(), tenantID, job.ID)
		assert.ErrorIs(t, err, core_domain.ErrNotFound)
	})
}
