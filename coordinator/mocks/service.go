package mocks

import (
	"context"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*MockService)(nil)

// MockService is a mock implementation of the coordinator.Service interface
type MockService struct {
	mock.Mock
}

func NewService(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockService {
	m := &MockService{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockService) Submit(ctx context.Context, t task.RepairTask) (task.RepairTask, error) {
	args := m.Called(ctx, t)

	return args.Get(0).(task.RepairTask), args.Error(1)
}

func (m *MockService) Withdraw(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)

	return args.Error(0)
}

func (m *MockService) ListQueued(ctx context.Context, offset, limit uint64) (task.TaskPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(task.TaskPage), args.Error(1)
}

func (m *MockService) DrainRound(ctx context.Context) (coordinator.RoundReport, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.RoundReport), args.Error(1)
}

func (m *MockService) ApplyUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) (bool, error) {
	args := m.Called(ctx, update)

	return args.Bool(0), args.Error(1)
}

func (m *MockService) GetResult(ctx context.Context, taskID string) (scheduler.Result, error) {
	args := m.Called(ctx, taskID)

	return args.Get(0).(scheduler.Result), args.Error(1)
}

func (m *MockService) ListResults(ctx context.Context, offset, limit uint64) (scheduler.ResultPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(scheduler.ResultPage), args.Error(1)
}

func (m *MockService) Policy(ctx context.Context) (policy.Snapshot, error) {
	args := m.Called(ctx)

	return args.Get(0).(policy.Snapshot), args.Error(1)
}

func (m *MockService) Health(ctx context.Context) (coordinator.Health, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.Health), args.Error(1)
}

func (m *MockService) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockService) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
