package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/absmach/fedrepair/task"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrRoundTimeout      = errors.New("round hard deadline exceeded")
	ErrWithdrawn         = errors.New("task withdrawn")
)

type Reason string

const (
	ReasonThresholdMet       Reason = "threshold_met"
	ReasonTerminalFallback   Reason = "terminal_fallback"
	ReasonAttemptsExhausted  Reason = "attempts_exhausted"
	ReasonRoundTimeout       Reason = "round_timeout"
	ReasonWithdrawn          Reason = "withdrawn"
	ReasonCanceled           Reason = "canceled"
	ReasonContextBuildFailed Reason = "context_build_failed"
)

func reasonFor(cause error) Reason {
	switch {
	case errors.Is(cause, ErrRoundTimeout):
		return ReasonRoundTimeout
	case errors.Is(cause, ErrWithdrawn):
		return ReasonWithdrawn
	case errors.Is(cause, context.DeadlineExceeded):
		return ReasonRoundTimeout
	default:
		return ReasonCanceled
	}
}

type Transition struct {
	From    State      `json:"from"`
	To      State      `json:"to"`
	Event   Event      `json:"event"`
	Layer   task.Layer `json:"layer"`
	Attempt int        `json:"attempt"`
	Score   float64    `json:"score"`
}

// AttemptRecord is one adapter invocation. Failed invocations carry the
// failure kind and a zero score.
type AttemptRecord struct {
	Layer   task.Layer    `json:"layer"`
	Attempt int           `json:"attempt"`
	Score   float64       `json:"score"`
	Failure string        `json:"failure,omitempty"`
	Latency time.Duration `json:"latency"`
}

type Result struct {
	TaskID       string           `json:"task_id"`
	ClientID     string           `json:"client_id,omitempty"`
	State        State            `json:"state"`
	Reason       Reason           `json:"reason"`
	Patch        *task.Patch      `json:"patch,omitempty"`
	Layer        task.Layer       `json:"layer"`
	LayerLatency [3]time.Duration `json:"layer_latency"`
	Attempts     []AttemptRecord  `json:"attempts,omitempty"`
	Transitions  []Transition     `json:"transitions"`
	Failures     map[string]int   `json:"failures,omitempty"`
	PolicyRound  uint64           `json:"policy_round"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
}

func (r Result) Latency() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AdapterLatency is the time spent inside adapters across all layers.
func (r Result) AdapterLatency() time.Duration {
	var total time.Duration
	for _, d := range r.LayerLatency {
		total += d
	}

	return total
}

func (r Result) Resolved() bool {
	return r.State == StateResolved
}

type ResultPage struct {
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Total   uint64   `json:"total"`
	Results []Result `json:"results"`
}
