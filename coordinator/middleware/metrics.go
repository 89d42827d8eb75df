package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	queued  metrics.Gauge
	svc     coordinator.Service
}

// Metrics counts and times every call. queued tracks the queue depth after
// calls that change it and may be nil.
func Metrics(counter metrics.Counter, latency metrics.Histogram, queued metrics.Gauge, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		queued:  queued,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) track(ctx context.Context) {
	if mm.queued == nil {
		return
	}
	if h, err := mm.svc.Health(ctx); err == nil {
		mm.queued.Set(float64(h.Queued))
	}
}

func (mm *metricsMiddleware) Submit(ctx context.Context, t task.RepairTask) (task.RepairTask, error) {
	defer func(begin time.Time) {
		mm.observe("submit", begin)
		mm.track(ctx)
	}(time.Now())

	return mm.svc.Submit(ctx, t)
}

func (mm *metricsMiddleware) Withdraw(ctx context.Context, taskID string) error {
	defer func(begin time.Time) {
		mm.observe("withdraw", begin)
		mm.track(ctx)
	}(time.Now())

	return mm.svc.Withdraw(ctx, taskID)
}

func (mm *metricsMiddleware) ListQueued(ctx context.Context, offset, limit uint64) (task.TaskPage, error) {
	defer mm.observe("list-queued", time.Now())

	return mm.svc.ListQueued(ctx, offset, limit)
}

func (mm *metricsMiddleware) DrainRound(ctx context.Context) (coordinator.RoundReport, error) {
	defer func(begin time.Time) {
		mm.observe("drain-round", begin)
		mm.track(ctx)
	}(time.Now())

	return mm.svc.DrainRound(ctx)
}

func (mm *metricsMiddleware) ApplyUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) (bool, error) {
	defer mm.observe("apply-update", time.Now())

	return mm.svc.ApplyUpdate(ctx, update)
}

func (mm *metricsMiddleware) GetResult(ctx context.Context, taskID string) (scheduler.Result, error) {
	defer mm.observe("get-result", time.Now())

	return mm.svc.GetResult(ctx, taskID)
}

func (mm *metricsMiddleware) ListResults(ctx context.Context, offset, limit uint64) (scheduler.ResultPage, error) {
	defer mm.observe("list-results", time.Now())

	return mm.svc.ListResults(ctx, offset, limit)
}

func (mm *metricsMiddleware) Policy(ctx context.Context) (policy.Snapshot, error) {
	defer mm.observe("policy", time.Now())

	return mm.svc.Policy(ctx)
}

func (mm *metricsMiddleware) Health(ctx context.Context) (coordinator.Health, error) {
	return mm.svc.Health(ctx)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	return mm.svc.Subscribe(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	return mm.svc.Shutdown(ctx)
}
