package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/profiqo/golang_services/internal/core_domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) GetByID(ctx context.Context, tenantID, ruleID uuid.UUID) (*core_domain.Rule, error) {
	args := m.Called(ctx, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Rule), args.Error(1)
}

func (m *MockRuleRepository) ListActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*core_domain.Rule, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]*core_domain.Rule), args.Error(1)
}

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) ListActive(ctx context.Context) ([]*core_domain.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*core_domain.Job), args.Error(1)
}

func (m *MockJobRepository) ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]*core_domain.Job, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*core_domain.Job), args.Error(1)
}

func (m *MockJobRepository) GetByID(ctx context.Context, tenantID, jobID uuid.UUID) (*core_domain.Job, error) {
	args := m.Called(ctx, tenantID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.Job), args.Error(1)
}

type MockOrderEventRepository struct {
	mock.Mock
}

func (m *MockOrderEventRepository) Append(ctx context.Context, ev *core_domain.OrderEvent) (bool, error) {
	args := m.Called(ctx, ev)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*core_domain.OrderEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*core_domain.OrderEvent), args.Error(1)
}

func (m *MockOrderEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) TryEnqueueUnique(ctx context.Context, e *core_domain.DispatchEntry) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func intPtr(i int) *int { return &i }

func tod(h, m int) *core_domain.TimeOfDay {
	return &core_domain.TimeOfDay{Hour: h, Minute: m}
}

func newJob(tenantID, ruleID uuid.UUID, withSecond bool, customers ...uuid.UUID) *core_domain.Job {
	job := &core_domain.Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        "test job",
		RuleID:      ruleID,
		Template1ID: uuid.New(),
		IsActive:    true,
	}
	if withSecond {
		t2 := uuid.New()
		job.Template2ID = &t2
	}
	for i, c := range customers {
		job.Targets = append(job.Targets, core_domain.Target{CustomerID: c, ToE164: "+90555000000" + string(rune('0'+i))})
	}
	return job
}
