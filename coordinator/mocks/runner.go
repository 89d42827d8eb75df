package mocks

import (
	"context"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Runner = (*MockRunner)(nil)

type MockRunner struct {
	mock.Mock
}

func NewRunner(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockRunner {
	m := &MockRunner{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockRunner) Run(ctx context.Context, t task.RepairTask) scheduler.Result {
	args := m.Called(ctx, t)

	if fn, ok := args.Get(0).(func(context.Context, task.RepairTask) scheduler.Result); ok {
		return fn(ctx, t)
	}

	return args.Get(0).(scheduler.Result)
}

func (m *MockRunner) Adapters() []scheduler.Adapter {
	args := m.Called()

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]scheduler.Adapter)
}
