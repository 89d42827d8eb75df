package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
)

var (
	ErrQueueFull       = errors.New("task queue is full")
	ErrTaskExists      = errors.New("task already submitted")
	ErrTaskNotFound    = errors.New("task is neither queued nor running")
	ErrAwaitingPolicy  = errors.New("awaiting policy update for the next round")
	ErrRoundInProgress = errors.New("a round is already draining")
	ErrRoundTimeout    = scheduler.ErrRoundTimeout
)

// Service is one client's repair coordinator. It owns the task queue, runs
// tasks through the layer scheduler in rounds and exchanges statistics and
// policy updates with the aggregator.
type Service interface {
	// Submit enqueues t. An empty ID is assigned.
	Submit(ctx context.Context, t task.RepairTask) (task.RepairTask, error)
	// Withdraw drops a queued task or cancels a running one. Withdrawn tasks
	// leave no result.
	Withdraw(ctx context.Context, taskID string) error
	ListQueued(ctx context.Context, offset, limit uint64) (task.TaskPage, error)

	DrainRound(ctx context.Context) (RoundReport, error)
	// ApplyUpdate installs a newer policy. It reports whether the update was
	// new; stale and duplicate rounds are ignored.
	ApplyUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) (bool, error)

	GetResult(ctx context.Context, taskID string) (scheduler.Result, error)
	ListResults(ctx context.Context, offset, limit uint64) (scheduler.ResultPage, error)

	Policy(ctx context.Context) (policy.Snapshot, error)
	Health(ctx context.Context) (Health, error)

	// Subscribe listens for policy updates on the federation transport.
	Subscribe(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// RoundReport summarises one DrainRound call. Results holds every task that
// finished during the round, including tasks carried over from earlier
// rounds.
type RoundReport struct {
	Round       uint64                   `json:"round"`
	Statistics  fl.ClientRoundStatistics `json:"statistics"`
	Results     []scheduler.Result       `json:"results"`
	Launched    int                      `json:"launched"`
	CarriedOver int                      `json:"carried_over"`
	Requeued    int                      `json:"requeued"`
	Published   bool                     `json:"published"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
}

type Health struct {
	Healthy     bool              `json:"healthy"`
	Layers      map[string]string `json:"layers"`
	Queued      int               `json:"queued"`
	Running     int               `json:"running"`
	Round       uint64            `json:"round"`
	PolicyRound uint64            `json:"policy_round"`
	Draining    bool              `json:"draining"`
	Awaiting    bool              `json:"awaiting_policy"`
}

// Runner executes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, t task.RepairTask) scheduler.Result
	Adapters() []scheduler.Adapter
}
