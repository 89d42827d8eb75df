package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ aggregator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    aggregator.Service
}

func Tracing(tracer trace.Tracer, svc aggregator.Service) aggregator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Report(ctx context.Context, stats fl.ClientRoundStatistics) (bool, error) {
	ctx, span := tm.tracer.Start(ctx, "report-statistics", trace.WithAttributes(
		attribute.String("client_id", stats.ClientID),
		attribute.Int64("round", int64(stats.Round)),
		attribute.Int("task_count", stats.TaskCount),
	))
	defer span.End()

	return tm.svc.Report(ctx, stats)
}

func (tm *tracing) CloseRound(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	ctx, span := tm.tracer.Start(ctx, "close-round")
	defer span.End()

	return tm.svc.CloseRound(ctx)
}

func (tm *tracing) CheckDeadline(ctx context.Context) (fl.GlobalPolicyUpdate, bool, error) {
	return tm.svc.CheckDeadline(ctx)
}

func (tm *tracing) RoundStatus(ctx context.Context) (aggregator.RoundStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "round-status")
	defer span.End()

	return tm.svc.RoundStatus(ctx)
}

func (tm *tracing) Round(ctx context.Context, round uint64) (fl.RoundState, error) {
	ctx, span := tm.tracer.Start(ctx, "get-round", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	return tm.svc.Round(ctx, round)
}

func (tm *tracing) CurrentPolicy(ctx context.Context) (policy.Snapshot, error) {
	ctx, span := tm.tracer.Start(ctx, "current-policy")
	defer span.End()

	return tm.svc.CurrentPolicy(ctx)
}

func (tm *tracing) Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error) {
	ctx, span := tm.tracer.Start(ctx, "get-update", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	return tm.svc.Update(ctx, round)
}

func (tm *tracing) LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	ctx, span := tm.tracer.Start(ctx, "latest-update")
	defer span.End()

	return tm.svc.LatestUpdate(ctx)
}

func (tm *tracing) Redeliver(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	ctx, span := tm.tracer.Start(ctx, "redeliver-update")
	defer span.End()

	return tm.svc.Redeliver(ctx)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	return tm.svc.Subscribe(ctx)
}

func (tm *tracing) Start(ctx context.Context, interval time.Duration) error {
	return tm.svc.Start(ctx, interval)
}
