package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/absmach/fedrepair/task"
)

var (
	ErrAdapterTimeout  = errors.New("adapter timed out")
	ErrAdapterFailure  = errors.New("adapter failed")
	ErrInvalidResponse = errors.New("invalid adapter response")
	ErrInvalidTask     = errors.New("task cannot be turned into a patch context")
)

// Agent is an external repair capability. Implementations must be safe to
// call again with the same context after a failure.
type Agent interface {
	Propose(ctx context.Context, pc task.PatchContext) (Proposal, error)
}

// Proposal is the raw answer of an agent before it is scored.
type Proposal struct {
	Diff        string  `json:"diff"`
	Confidence  float64 `json:"confidence"`
	Agent       string  `json:"agent,omitempty"`
	Explanation string  `json:"explanation,omitempty"`
}

func (p Proposal) validate() error {
	if strings.TrimSpace(p.Diff) == "" {
		return fmt.Errorf("%w: empty patch", ErrInvalidResponse)
	}
	if math.IsNaN(p.Confidence) || math.IsInf(p.Confidence, 0) {
		return fmt.Errorf("%w: confidence is not a number", ErrInvalidResponse)
	}

	return nil
}

type AgentFunc func(ctx context.Context, pc task.PatchContext) (Proposal, error)

func (f AgentFunc) Propose(ctx context.Context, pc task.PatchContext) (Proposal, error) {
	return f(ctx, pc)
}

// Kind names the failure class of an adapter error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAdapterTimeout):
		return "adapter_timeout"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "adapter_failure"
	}
}
