package coordinator_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/coordinator/mocks"
	"github.com/absmach/fedrepair/pkg/agent"
	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/messaging"
	pubsubmocks "github.com/absmach/fedrepair/pkg/messaging/mocks"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/pkg/storage"
	"github.com/absmach/fedrepair/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type selfScorer struct{}

func (selfScorer) Score(_ context.Context, _ task.RepairTask, p task.Patch, _ policy.Policy) task.ConfidenceScore {
	return task.ConfidenceScore{Value: p.SelfConfidence, Signals: task.Signals{SelfReported: p.SelfConfidence}}
}

func testPolicy(concurrency int, soft, hard time.Duration) policy.Policy {
	p := policy.Default()
	for i := range p.Layers {
		p.Layers[i].Timeout = 0
		p.Layers[i].MaxAttempts = 1
	}
	p.Retry.MaxRetries = 0
	p.Concurrency = concurrency
	p.RoundDeadline = policy.Duration(soft)
	p.HardDeadline = policy.Duration(hard)

	return p
}

func confident(ctx context.Context, pc task.PatchContext) (agent.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return agent.Proposal{}, context.Cause(ctx)
	}

	return agent.Proposal{
		Diff:       fmt.Sprintf("@@ -1 +1 @@\n-old\n+fix %s\n", pc.TaskID),
		Confidence: 0.9,
		Agent:      "test",
	}, nil
}

// gate blocks every proposal until release is closed or the task context
// ends, reporting each task that reached the agent on started.
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (g *gate) Propose(ctx context.Context, pc task.PatchContext) (agent.Proposal, error) {
	g.started <- pc.TaskID
	select {
	case <-g.release:
		return confident(ctx, pc)
	case <-ctx.Done():
		return agent.Proposal{}, context.Cause(ctx)
	}
}

func (g *gate) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("task never reached the agent")

		return ""
	}
}

type fixture struct {
	svc      coordinator.Service
	policies *policy.Store
}

func newFixture(t *testing.T, pol policy.Policy, a agent.Agent, cfg coordinator.Config, opts ...coordinator.Option) fixture {
	t.Helper()

	policies := policy.NewStore(pol)
	sched := scheduler.New(policies, agent.NewContextBuilder(), selfScorer{}, logger,
		scheduler.WithAdapters(agent.NewAdapter(task.Layer1, a, logger)),
	)
	results := storage.NewResultRepository(storage.NewInMemoryStorage())
	if cfg.ClientID == "" {
		cfg.ClientID = "client-a"
	}
	cfg.PublishBackoff = time.Millisecond

	svc := coordinator.NewService(cfg, sched, policies, results, logger, opts...)
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})

	return fixture{svc: svc, policies: policies}
}

func repairTask(id string) task.RepairTask {
	return task.RepairTask{
		ID:          id,
		DefectClass: "logic",
		Description: "wrong comparison",
		Location:    task.Location{File: "main.go", StartLine: 3},
		Snapshot:    task.Snapshot{Code: "package main\n\nfunc f(a int) bool { return a > 1 }\n"},
	}
}

func submit(t *testing.T, svc coordinator.Service, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := svc.Submit(context.Background(), repairTask(id))
		require.NoError(t, err)
	}
}

func idle(t *testing.T, svc coordinator.Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		h, err := svc.Health(context.Background())

		return err == nil && h.Running == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testPolicy(1, time.Minute, 0), agent.AgentFunc(confident), coordinator.Config{QueueSize: 2})
	ctx := context.Background()

	created, err := f.svc.Submit(ctx, task.RepairTask{DefectClass: "logic"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "client-a", created.ClientID)
	assert.False(t, created.CreatedAt.IsZero())

	cases := []struct {
		name string
		task task.RepairTask
		err  error
	}{
		{name: "duplicate queued task", task: created, err: coordinator.ErrTaskExists},
		{name: "fills the queue", task: repairTask("t2")},
		{name: "queue full", task: repairTask("t3"), err: coordinator.ErrQueueFull},
	}

	for _, tc := range cases {
		_, err := f.svc.Submit(ctx, tc.task)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.name)

			continue
		}
		assert.NoError(t, err, tc.name)
	}

	page, err := f.svc.ListQueued(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)
	assert.Equal(t, created.ID, page.Tasks[0].ID)

	page, err = f.svc.ListQueued(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Tasks)
}

func TestSubmitFinishedTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testPolicy(1, time.Minute, 0), agent.AgentFunc(confident), coordinator.Config{})
	submit(t, f.svc, "t1")

	_, err := f.svc.DrainRound(context.Background())
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), repairTask("t1"))
	assert.ErrorIs(t, err, coordinator.ErrTaskExists)
}

func TestWithdrawQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testPolicy(1, time.Minute, 0), agent.AgentFunc(confident), coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1", "t2")

	require.NoError(t, f.svc.Withdraw(ctx, "t1"))
	assert.ErrorIs(t, f.svc.Withdraw(ctx, "t1"), coordinator.ErrTaskNotFound)
	assert.ErrorIs(t, f.svc.Withdraw(ctx, ""), pkgerrors.ErrEmptyKey)

	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Launched)

	_, err = f.svc.GetResult(ctx, "t1")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestDrainRound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testPolicy(2, time.Minute, 0), agent.AgentFunc(confident), coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1", "t2", "t3")

	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), report.Round)
	assert.Equal(t, 3, report.Launched)
	assert.Zero(t, report.CarriedOver)
	assert.Zero(t, report.Requeued)
	assert.False(t, report.Published)
	assert.Len(t, report.Results, 3)

	stats := report.Statistics
	assert.Equal(t, "client-a", stats.ClientID)
	assert.Equal(t, uint64(1), stats.Round)
	assert.Equal(t, 3, stats.TaskCount)
	assert.Equal(t, 3, stats.Resolved)
	assert.Equal(t, 3, stats.Layer(task.Layer1).Resolved)

	res, err := f.svc.GetResult(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateResolved, res.State)
	assert.Equal(t, scheduler.ReasonThresholdMet, res.Reason)

	page, err := f.svc.ListResults(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), page.Total)

	// without a transport, rounds advance locally
	report, err = f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Round)
	assert.Zero(t, report.Launched)
}

func TestDrainRoundConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	a := agent.AgentFunc(func(ctx context.Context, pc task.PatchContext) (agent.Proposal, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		return confident(ctx, pc)
	})

	f := newFixture(t, testPolicy(2, time.Minute, 0), a, coordinator.Config{})
	submit(t, f.svc, "t1", "t2", "t3", "t4", "t5", "t6")

	report, err := f.svc.DrainRound(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestDrainRoundSoftDeadline(t *testing.T) {
	t.Parallel()

	g := newGate()
	f := newFixture(t, testPolicy(1, 50*time.Millisecond, 0), g, coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1", "t2")

	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Launched)
	assert.Equal(t, 1, report.CarriedOver)
	assert.Equal(t, 1, report.Requeued)
	assert.Empty(t, report.Results)
	assert.Equal(t, 1, report.Statistics.CarriedOver)
	assert.Equal(t, "t1", g.wait(t))

	page, err := f.svc.ListQueued(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, "t2", page.Tasks[0].ID)

	close(g.release)
	idle(t, f.svc)

	report, err = f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Round)
	assert.Equal(t, 1, report.Launched)

	// the carried over task reports into the round it finished in
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Statistics.TaskCount)
}

func TestDrainRoundHardDeadline(t *testing.T) {
	t.Parallel()

	g := newGate()
	f := newFixture(t, testPolicy(1, 20*time.Millisecond, 60*time.Millisecond), g, coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1")

	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CarriedOver)
	idle(t, f.svc)

	res, err := f.svc.GetResult(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, scheduler.ReasonRoundTimeout, res.Reason)
	assert.True(t, res.State.Terminal())

	report, err = f.svc.DrainRound(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Statistics.FailureReasons[string(scheduler.ReasonRoundTimeout)])
}

func TestWithdrawRunning(t *testing.T) {
	t.Parallel()

	g := newGate()
	f := newFixture(t, testPolicy(1, time.Minute, 0), g, coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1")

	done := make(chan coordinator.RoundReport, 1)
	go func() {
		report, err := f.svc.DrainRound(ctx)
		assert.NoError(t, err)
		done <- report
	}()

	assert.Equal(t, "t1", g.wait(t))
	require.NoError(t, f.svc.Withdraw(ctx, "t1"))

	select {
	case report := <-done:
		assert.Equal(t, 1, report.Launched)
		assert.Empty(t, report.Results)
		assert.Zero(t, report.Statistics.TaskCount)
	case <-time.After(2 * time.Second):
		t.Fatal("round did not finish after withdrawal")
	}

	_, err := f.svc.GetResult(ctx, "t1")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestDrainRoundInProgress(t *testing.T) {
	t.Parallel()

	g := newGate()
	f := newFixture(t, testPolicy(1, time.Minute, 0), g, coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.svc.DrainRound(ctx)
		assert.NoError(t, err)
	}()
	g.wait(t)

	_, err := f.svc.DrainRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrRoundInProgress)

	h, err := f.svc.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Draining)
	assert.Equal(t, 1, h.Running)

	close(g.release)
	wg.Wait()
}

func TestApplyUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testPolicy(1, time.Minute, 0), agent.AgentFunc(confident), coordinator.Config{})
	ctx := context.Background()

	next := testPolicy(3, time.Minute, 0)
	next.Layers[0].Threshold = 0.4
	invalid := testPolicy(0, time.Minute, 0)

	cases := []struct {
		name    string
		update  fl.GlobalPolicyUpdate
		applied bool
		round   uint64
		err     error
	}{
		{name: "current round is ignored", update: fl.GlobalPolicyUpdate{Round: 1, Policy: next}, round: 1},
		{name: "newer round installs", update: fl.GlobalPolicyUpdate{Round: 3, Policy: next}, applied: true, round: 3},
		{name: "duplicate is ignored", update: fl.GlobalPolicyUpdate{Round: 3, Policy: next}, round: 3},
		{name: "older round is ignored", update: fl.GlobalPolicyUpdate{Round: 2, Policy: next}, round: 3},
		{name: "invalid policy is rejected", update: fl.GlobalPolicyUpdate{Round: 4, Policy: invalid}, round: 3, err: policy.ErrInvalidPolicy},
	}

	for _, tc := range cases {
		applied, err := f.svc.ApplyUpdate(ctx, tc.update)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.name)
		} else {
			assert.NoError(t, err, tc.name)
		}
		assert.Equal(t, tc.applied, applied, tc.name)
		assert.Equal(t, tc.round, f.policies.Round(), tc.name)
	}

	snap, err := f.svc.Policy(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, snap.Policy.Layers[0].Threshold, 1e-9)

	// the accumulator follows the installed round
	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), report.Round)
}

func TestApplyUpdateDuringDrain(t *testing.T) {
	t.Parallel()

	g := newGate()
	f := newFixture(t, testPolicy(1, time.Minute, 0), g, coordinator.Config{})
	ctx := context.Background()
	submit(t, f.svc, "t1")

	done := make(chan coordinator.RoundReport, 1)
	go func() {
		report, err := f.svc.DrainRound(ctx)
		assert.NoError(t, err)
		done <- report
	}()
	g.wait(t)

	applied, err := f.svc.ApplyUpdate(ctx, fl.GlobalPolicyUpdate{Round: 2, Policy: testPolicy(2, time.Minute, 0)})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, uint64(1), f.policies.Round(), "held until the round ends")

	close(g.release)
	report := <-done
	assert.Equal(t, uint64(1), report.Round)
	require.Len(t, report.Results, 1)
	assert.Equal(t, uint64(1), report.Results[0].PolicyRound)
	assert.Equal(t, uint64(2), f.policies.Round())
}

func TestFederatedRounds(t *testing.T) {
	t.Parallel()

	bus := messaging.NewBus(logger)
	ctx := context.Background()

	stats := make(chan fl.ClientRoundStatistics, 4)
	server := bus.Connect("aggregator")
	require.NoError(t, server.Subscribe(ctx, messaging.Topic("prod", messaging.StatisticsTopic, "+"), func(_ string, payload []byte) error {
		var s fl.ClientRoundStatistics
		if err := fl.CBORCodec.Unmarshal(payload, &s); err != nil {
			return err
		}
		stats <- s

		return nil
	}))

	f := newFixture(t, testPolicy(1, time.Minute, 0), agent.AgentFunc(confident),
		coordinator.Config{BaseTopic: "prod", Codec: fl.CBORCodec},
		coordinator.WithPubSub(bus.Connect("client-a")),
	)
	require.NoError(t, f.svc.Subscribe(ctx))
	submit(t, f.svc, "t1", "t2")

	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.True(t, report.Published)

	select {
	case s := <-stats:
		assert.Equal(t, "client-a", s.ClientID)
		assert.Equal(t, uint64(1), s.Round)
		assert.Equal(t, 2, s.TaskCount)
	case <-time.After(2 * time.Second):
		t.Fatal("statistics were not published")
	}

	_, err = f.svc.DrainRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrAwaitingPolicy)

	h, err := f.svc.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Awaiting)

	next := testPolicy(1, time.Minute, 0)
	next.Layers[0].Threshold = 0.5
	payload, err := fl.CBORCodec.Marshal(fl.GlobalPolicyUpdate{Round: 2, Policy: next, Participants: []string{"client-a"}})
	require.NoError(t, err)
	require.NoError(t, server.Publish(ctx, messaging.Topic("prod", messaging.UpdatesTopic), payload))

	require.Eventually(t, func() bool {
		return f.policies.Round() == 2
	}, 2*time.Second, 5*time.Millisecond)

	report, err = f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Round)
}

func TestFailedPublishStillAwaitsPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ps := pubsubmocks.NewPubSub(t)
	ps.On("Publish", mock.Anything, "fl/rounds/statistics/client-a", mock.Anything).Return(messaging.ErrDisconnected)

	f := newFixture(t, testPolicy(1, time.Minute, 0), agent.AgentFunc(confident),
		coordinator.Config{PublishRetries: 2},
		coordinator.WithPubSub(ps),
	)
	submit(t, f.svc, "t1")

	report, err := f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.False(t, report.Published)
	assert.Equal(t, uint64(1), report.Round)

	_, err = f.svc.DrainRound(ctx)
	assert.ErrorIs(t, err, coordinator.ErrAwaitingPolicy, "round 2 must not start under the round 1 policy")

	h, err := f.svc.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Awaiting)

	applied, err := f.svc.ApplyUpdate(ctx, fl.GlobalPolicyUpdate{Round: 2, Policy: testPolicy(1, time.Minute, 0)})
	require.NoError(t, err)
	assert.True(t, applied)

	submit(t, f.svc, "t2")
	report, err = f.svc.DrainRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Round)
	require.Len(t, report.Results, 1)
	assert.Equal(t, uint64(2), report.Results[0].PolicyRound)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := mocks.NewRunner(t)
	healthy.On("Adapters").Return([]scheduler.Adapter{
		agent.NewAdapter(task.Layer1, agent.AgentFunc(confident), logger),
	})

	idleRunner := mocks.NewRunner(t)
	idleRunner.On("Adapters").Return(nil)

	cases := []struct {
		name    string
		runner  coordinator.Runner
		healthy bool
		layers  map[string]string
	}{
		{name: "closed circuit", runner: healthy, healthy: true, layers: map[string]string{"L1": "closed"}},
		{name: "no adapters", runner: idleRunner, layers: map[string]string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policies := policy.NewStore(testPolicy(1, time.Minute, 0))
			results := storage.NewResultRepository(storage.NewInMemoryStorage())
			svc := coordinator.NewService(coordinator.Config{ClientID: "c"}, tc.runner, policies, results, logger)

			h, err := svc.Health(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.healthy, h.Healthy)
			assert.Equal(t, tc.layers, h.Layers)
			assert.Equal(t, uint64(1), h.Round)
			assert.Equal(t, uint64(1), h.PolicyRound)
		})
	}
}

func TestRunnerMock(t *testing.T) {
	t.Parallel()

	runner := mocks.NewRunner(t)
	runner.On("Run", mock.Anything, mock.Anything).Return(func(_ context.Context, rt task.RepairTask) scheduler.Result {
		return scheduler.Result{TaskID: rt.ID, State: scheduler.StateExhausted, Reason: scheduler.ReasonAttemptsExhausted}
	})

	policies := policy.NewStore(testPolicy(1, time.Minute, 0))
	results := storage.NewResultRepository(storage.NewInMemoryStorage())
	svc := coordinator.NewService(coordinator.Config{ClientID: "c"}, runner, policies, results, logger)
	submit(t, svc, "t1")

	report, err := svc.DrainRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Statistics.Exhausted)
}
