package mocks

import (
	"context"
	"time"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/stretchr/testify/mock"
)

var _ aggregator.Service = (*MockService)(nil)

// MockService is a mock implementation of the aggregator.Service interface
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

func (m *MockService) Report(ctx context.Context, stats fl.ClientRoundStatistics) (bool, error) {
	args := m.Called(ctx, stats)

	return args.Bool(0), args.Error(1)
}

func (m *MockService) CloseRound(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.GlobalPolicyUpdate), args.Error(1)
}

func (m *MockService) CheckDeadline(ctx context.Context) (fl.GlobalPolicyUpdate, bool, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.GlobalPolicyUpdate), args.Bool(1), args.Error(2)
}

func (m *MockService) RoundStatus(ctx context.Context) (aggregator.RoundStatus, error) {
	args := m.Called(ctx)

	return args.Get(0).(aggregator.RoundStatus), args.Error(1)
}

func (m *MockService) Round(ctx context.Context, round uint64) (fl.RoundState, error) {
	args := m.Called(ctx, round)

	return args.Get(0).(fl.RoundState), args.Error(1)
}

func (m *MockService) CurrentPolicy(ctx context.Context) (policy.Snapshot, error) {
	args := m.Called(ctx)

	return args.Get(0).(policy.Snapshot), args.Error(1)
}

func (m *MockService) Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error) {
	args := m.Called(ctx, round)

	return args.Get(0).(fl.GlobalPolicyUpdate), args.Error(1)
}

func (m *MockService) LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.GlobalPolicyUpdate), args.Error(1)
}

func (m *MockService) Redeliver(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.GlobalPolicyUpdate), args.Error(1)
}

func (m *MockService) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockService) Start(ctx context.Context, interval time.Duration) error {
	args := m.Called(ctx, interval)

	return args.Error(0)
}
