package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fedrepair/pkg/agent"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/task"
)

// Adapter is the per-layer agent wrapper the scheduler drives.
type Adapter interface {
	Layer() task.Layer
	Propose(ctx context.Context, pc task.PatchContext, lp policy.LayerPolicy, rp policy.RetryPolicy) (agent.Proposal, error)
}

type ContextBuilder interface {
	Build(t task.RepairTask) (task.PatchContext, error)
}

type Scorer interface {
	Score(ctx context.Context, t task.RepairTask, p task.Patch, pol policy.Policy) task.ConfidenceScore
}

type PolicySource interface {
	Load() *policy.Snapshot
}

// Scheduler walks one task at a time through the layer ladder. A single
// Scheduler may run many tasks concurrently; all per-task state lives in the
// LayerState owned by each Run call.
type Scheduler struct {
	adapters map[task.Layer]Adapter
	builder  ContextBuilder
	scorer   Scorer
	policies PolicySource
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithAdapters(adapters ...Adapter) Option {
	return func(s *Scheduler) {
		for _, a := range adapters {
			if a != nil && a.Layer().Valid() {
				s.adapters[a.Layer()] = a
			}
		}
	}
}

func New(policies PolicySource, builder ContextBuilder, scorer Scorer, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		adapters: make(map[task.Layer]Adapter),
		builder:  builder,
		scorer:   scorer,
		policies: policies,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Adapters returns the configured adapters ordered by layer.
func (s *Scheduler) Adapters() []Adapter {
	var out []Adapter
	for _, l := range task.Layers {
		if a, ok := s.adapters[l]; ok {
			out = append(out, a)
		}
	}

	return out
}

// Run drives t to RESOLVED or EXHAUSTED. Cancelling ctx releases the adapter
// call in progress; the cancellation cause selects the terminal reason.
func (s *Scheduler) Run(ctx context.Context, t task.RepairTask) Result {
	snap := s.policies.Load()
	ls := newLayerState(t.ID)

	res := Result{
		TaskID:      t.ID,
		ClientID:    t.ClientID,
		PolicyRound: snap.Round,
		StartedAt:   s.now(),
	}

	pc, err := s.builder.Build(t)
	if err != nil {
		s.logger.Warn("Failed to build patch context", slog.String("task_id", t.ID), slog.Any("error", err))
		ls.state = StateExhausted
		ls.reason = ReasonContextBuildFailed

		return s.finish(ls, res)
	}

	if s.staticTrigger(t, snap.Policy) {
		s.fire(ls, EventTrigger, 0)
	}

	for !ls.state.Terminal() {
		if ctx.Err() != nil {
			s.cancel(ctx, ls)

			break
		}

		// Each attempt decides with one snapshot, even if a newer one lands mid-call.
		snap = s.policies.Load()
		layer := ls.state.Layer()
		lp := snap.Policy.Layer(layer)
		adapter, ok := s.adapters[layer]
		if !ok || lp.MaxAttempts <= 0 || ls.attempts[layer.Index()] >= lp.MaxAttempts {
			s.exhaustLayer(ls, snap.Policy)

			continue
		}

		s.attempt(ctx, ls, t, pc, adapter, snap.Policy)
	}

	return s.finish(ls, res)
}

func (s *Scheduler) attempt(ctx context.Context, ls *LayerState, t task.RepairTask, pc task.PatchContext, adapter Adapter, pol policy.Policy) {
	layer := ls.state.Layer()
	lp := pol.Layer(layer)

	ls.attempts[layer.Index()]++
	ls.total++

	pc.Layer = layer
	pc.Attempt = ls.total
	pc.Feedback = ls.feedback

	began := s.now()
	prop, err := adapter.Propose(ctx, pc, lp, pol.Retry)
	elapsed := s.now().Sub(began)
	ls.latency[layer.Index()] += elapsed
	if ctx.Err() != nil {
		s.cancel(ctx, ls)

		return
	}

	rec := AttemptRecord{Layer: layer, Attempt: ls.total, Latency: elapsed}
	var patch *task.Patch
	if err != nil {
		rec.Failure = agent.Kind(err)
		ls.failures[rec.Failure]++
		ls.feedback = &task.Feedback{Attempt: ls.total, Layer: layer, Failure: rec.Failure}
		s.logger.Debug("Adapter attempt failed",
			slog.String("task_id", t.ID),
			slog.String("layer", layer.String()),
			slog.Int("attempt", ls.total),
			slog.Any("error", err),
		)
	} else {
		patch = &task.Patch{
			ID:             fmt.Sprintf("%s-%d", t.ID, ls.total),
			TaskID:         t.ID,
			Layer:          layer,
			Attempt:        ls.total,
			Diff:           prop.Diff,
			Agent:          prop.Agent,
			SelfConfidence: prop.Confidence,
			Explanation:    prop.Explanation,
			CreatedAt:      s.now(),
		}
		patch.Confidence = s.scorer.Score(ctx, t, *patch, pol)
		rec.Score = patch.Confidence.Value
		ls.consider(patch, pol.Fallback)
		ls.feedback = &task.Feedback{Attempt: ls.total, Layer: layer, Diff: patch.Diff, Confidence: rec.Score}
	}
	ls.records = append(ls.records, rec)

	if layer == task.Layer1 {
		if rec.Score < pol.Trigger.LowConfidenceFloor {
			ls.lowStreak++
		} else {
			ls.lowStreak = 0
		}
	}

	switch {
	case patch != nil && rec.Score >= lp.Threshold:
		ls.final = patch
		ls.reason = ReasonThresholdMet
		s.fire(ls, EventAccepted, rec.Score)
	case layer == task.Layer1 && s.streakTrigger(ls, pol):
		s.fire(ls, EventTrigger, rec.Score)
	case ls.attempts[layer.Index()] < lp.MaxAttempts:
		s.fire(ls, EventRetry, rec.Score)
	default:
		s.exhaustLayer(ls, pol)
	}
}

// exhaustLayer leaves the current layer. On the terminal layer the task either
// resolves with that layer's best candidate, when the policy allows it, or
// ends EXHAUSTED carrying the best candidate seen on any layer.
func (s *Scheduler) exhaustLayer(ls *LayerState, pol policy.Policy) {
	if ls.state.Layer() != task.TerminalLayer {
		s.fire(ls, EventExhausted, 0)

		return
	}

	if best := ls.bestByLayer[task.TerminalLayer.Index()]; pol.AcceptTerminalFallback && best != nil {
		ls.final = best
		ls.reason = ReasonTerminalFallback
		s.fire(ls, EventFallback, best.Confidence.Value)

		return
	}

	ls.final = ls.best
	ls.reason = ReasonAttemptsExhausted
	s.fire(ls, EventExhausted, 0)
}

func (s *Scheduler) cancel(ctx context.Context, ls *LayerState) {
	ls.final = ls.best
	ls.reason = reasonFor(context.Cause(ctx))
	s.fire(ls, EventCanceled, 0)
}

func (s *Scheduler) fire(ls *LayerState, e Event, score float64) {
	next, err := Next(ls.state, e)
	if err != nil {
		// Unreachable with the built-in table; end the task rather than loop.
		s.logger.Error("Scheduler transition rejected", slog.String("task_id", ls.taskID), slog.Any("error", err))
		next = StateExhausted
	}

	ls.transitions = append(ls.transitions, Transition{
		From:    ls.state,
		To:      next,
		Event:   e,
		Layer:   ls.state.Layer(),
		Attempt: ls.total,
		Score:   score,
	})
	if l := next.Layer(); l > ls.maxLayer {
		ls.maxLayer = l
	}
	ls.state = next
}

func (s *Scheduler) finish(ls *LayerState, res Result) Result {
	res.State = ls.state
	res.Reason = ls.reason
	res.Transitions = ls.transitions
	res.Attempts = ls.records
	res.Layer = ls.maxLayer
	res.LayerLatency = ls.latency
	if ls.final != nil {
		p := *ls.final
		res.Patch = &p
	}
	if len(ls.failures) > 0 {
		res.Failures = ls.failures
	}
	res.FinishedAt = s.now()

	s.logger.Debug("Repair task finished",
		slog.String("task_id", res.TaskID),
		slog.String("state", res.State.String()),
		slog.String("reason", string(res.Reason)),
		slog.Int("attempts", ls.total),
	)

	return res
}

// LayerState is the scheduling state of one task. It is owned by a single
// Run call and discarded when that call returns.
type LayerState struct {
	taskID      string
	state       State
	attempts    [3]int
	total       int
	lowStreak   int
	maxLayer    task.Layer
	best        *task.Patch
	bestByLayer [3]*task.Patch
	final       *task.Patch
	reason      Reason
	feedback    *task.Feedback
	records     []AttemptRecord
	transitions []Transition
	failures    map[string]int
	latency     [3]time.Duration
}

func newLayerState(taskID string) *LayerState {
	return &LayerState{
		taskID:   taskID,
		state:    StateL1Attempt,
		maxLayer: task.Layer1,
		failures: make(map[string]int),
	}
}

func (ls *LayerState) consider(p *task.Patch, fb policy.Fallback) {
	if better(p, ls.best, fb) {
		ls.best = p
	}
	idx := p.Layer.Index()
	if better(p, ls.bestByLayer[idx], fb) {
		ls.bestByLayer[idx] = p
	}
}

// better orders candidates by score; equal scores go to the later attempt
// under FallbackMostAdvanced and to the earlier one under FallbackLowestCost.
func better(p, cur *task.Patch, fb policy.Fallback) bool {
	if cur == nil {
		return true
	}
	if p.Confidence.Value != cur.Confidence.Value {
		return p.Confidence.Value > cur.Confidence.Value
	}

	if fb == policy.FallbackLowestCost {
		if p.Layer != cur.Layer {
			return p.Layer < cur.Layer
		}

		return p.Attempt < cur.Attempt
	}

	if p.Layer != cur.Layer {
		return p.Layer > cur.Layer
	}

	return p.Attempt > cur.Attempt
}
