package mocks

import (
	"context"

	"github.com/absmach/fedrepair/pkg/agent"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/mock"
)

var _ agent.Agent = (*MockAgent)(nil)

// MockAgent is a mock implementation of the agent.Agent interface
type MockAgent struct {
	mock.Mock
}

// NewAgent creates a mock agent whose expectations are asserted on cleanup.
func NewAgent(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockAgent {
	m := &MockAgent{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// Propose returns the scripted proposal for the given context
func (m *MockAgent) Propose(ctx context.Context, pc task.PatchContext) (agent.Proposal, error) {
	args := m.Called(ctx, pc)

	return args.Get(0).(agent.Proposal), args.Error(1)
}
