package aggregator

import (
	"context"
	"time"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
)

// RoundStatus describes the round currently open for reports.
type RoundStatus struct {
	Round       uint64    `json:"round"`
	Expected    []string  `json:"expected,omitempty"`
	Reported    []string  `json:"reported"`
	Missing     []string  `json:"missing,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	Deadline    time.Time `json:"deadline"`
	TaskVolume  int       `json:"task_volume"`
	LastUpdate  uint64    `json:"last_update,omitempty"`
	Redelivered int       `json:"redelivered"`
}

// Service collects one ClientRoundStatistics per client for the open round,
// closes the round once every expected client reported or its deadline
// passed, and distributes the resulting GlobalPolicyUpdate.
type Service interface {
	// Report records stats for the open round. It reports false for a
	// duplicate report, which is otherwise ignored.
	Report(ctx context.Context, stats fl.ClientRoundStatistics) (bool, error)
	// CloseRound closes the open round now, whoever reported.
	CloseRound(ctx context.Context) (fl.GlobalPolicyUpdate, error)
	// CheckDeadline closes the open round when its deadline has passed.
	CheckDeadline(ctx context.Context) (fl.GlobalPolicyUpdate, bool, error)

	RoundStatus(ctx context.Context) (RoundStatus, error)
	Round(ctx context.Context, round uint64) (fl.RoundState, error)
	CurrentPolicy(ctx context.Context) (policy.Snapshot, error)
	Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error)
	LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error)
	// Redeliver publishes the latest update again. Clients that already
	// applied it ignore the copy.
	Redeliver(ctx context.Context) (fl.GlobalPolicyUpdate, error)

	// Subscribe listens for client statistics on the federation transport.
	Subscribe(ctx context.Context) error
	// Start checks the round deadline every interval until ctx ends.
	Start(ctx context.Context, interval time.Duration) error
}
