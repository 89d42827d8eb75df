package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/absmach/fedrepair/task"
)

// ScriptedAgent replays a fixed list of self-reported confidences, one per
// call and per task, repeating the last entry once the list is exhausted. It
// backs offline simulations and demos.
type ScriptedAgent struct {
	name        string
	confidences []float64

	mu    sync.Mutex
	calls map[string]int
}

var _ Agent = (*ScriptedAgent)(nil)

func NewScriptedAgent(name string, confidences ...float64) *ScriptedAgent {
	if len(confidences) == 0 {
		confidences = []float64{0}
	}

	return &ScriptedAgent{
		name:        name,
		confidences: confidences,
		calls:       make(map[string]int),
	}
}

func (s *ScriptedAgent) Propose(ctx context.Context, pc task.PatchContext) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, context.Cause(ctx)
	}

	s.mu.Lock()
	n := s.calls[pc.TaskID]
	s.calls[pc.TaskID] = n + 1
	s.mu.Unlock()

	conf := s.confidences[min(n, len(s.confidences)-1)]
	line := max(pc.Location.StartLine, 1)

	return Proposal{
		Diff: fmt.Sprintf("--- a/%[1]s\n+++ b/%[1]s\n@@ -%[2]d,1 +%[2]d,1 @@\n-\t// %[3]s\n+\t// fixed by %[4]s attempt %[5]d\n",
			pc.Location.File, line, pc.DefectClass, s.name, pc.Attempt),
		Confidence:  conf,
		Agent:       s.name,
		Explanation: fmt.Sprintf("scripted answer %d", n+1),
	}, nil
}
