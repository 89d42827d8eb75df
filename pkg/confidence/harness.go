package confidence

import (
	"context"

	"github.com/absmach/fedrepair/task"
)

type Verdict uint8

const (
	Inconclusive Verdict = iota
	Pass
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "inconclusive"
	}
}

// Harness runs a candidate patch against the task's tests. It is optional;
// errors and inconclusive verdicts drop the validation signal.
type Harness interface {
	Validate(ctx context.Context, t task.RepairTask, p task.Patch) (Verdict, error)
}

type HarnessFunc func(ctx context.Context, t task.RepairTask, p task.Patch) (Verdict, error)

func (f HarnessFunc) Validate(ctx context.Context, t task.RepairTask, p task.Patch) (Verdict, error) {
	return f(ctx, t, p)
}
