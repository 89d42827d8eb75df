package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/go-kit/kit/metrics"
)

var _ aggregator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     aggregator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc aggregator.Service) aggregator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Report(ctx context.Context, stats fl.ClientRoundStatistics) (bool, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "report").Add(1)
		mm.latency.With("method", "report").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Report(ctx, stats)
}

func (mm *metricsMiddleware) CloseRound(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "close-round").Add(1)
		mm.latency.With("method", "close-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CloseRound(ctx)
}

func (mm *metricsMiddleware) CheckDeadline(ctx context.Context) (fl.GlobalPolicyUpdate, bool, error) {
	return mm.svc.CheckDeadline(ctx)
}

func (mm *metricsMiddleware) RoundStatus(ctx context.Context) (aggregator.RoundStatus, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "round-status").Add(1)
		mm.latency.With("method", "round-status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RoundStatus(ctx)
}

func (mm *metricsMiddleware) Round(ctx context.Context, round uint64) (fl.RoundState, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-round").Add(1)
		mm.latency.With("method", "get-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Round(ctx, round)
}

func (mm *metricsMiddleware) CurrentPolicy(ctx context.Context) (policy.Snapshot, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "current-policy").Add(1)
		mm.latency.With("method", "current-policy").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CurrentPolicy(ctx)
}

func (mm *metricsMiddleware) Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-update").Add(1)
		mm.latency.With("method", "get-update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Update(ctx, round)
}

func (mm *metricsMiddleware) LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "latest-update").Add(1)
		mm.latency.With("method", "latest-update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.LatestUpdate(ctx)
}

func (mm *metricsMiddleware) Redeliver(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "redeliver").Add(1)
		mm.latency.With("method", "redeliver").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Redeliver(ctx)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	return mm.svc.Subscribe(ctx)
}

func (mm *metricsMiddleware) Start(ctx context.Context, interval time.Duration) error {
	return mm.svc.Start(ctx, interval)
}
