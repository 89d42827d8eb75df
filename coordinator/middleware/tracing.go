package middleware

import (
	"context"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Submit(ctx context.Context, t task.RepairTask) (task.RepairTask, error) {
	ctx, span := tm.tracer.Start(ctx, "submit-task", trace.WithAttributes(
		attribute.String("id", t.ID),
		attribute.String("defect_class", t.DefectClass),
	))
	defer span.End()

	return tm.svc.Submit(ctx, t)
}

func (tm *tracing) Withdraw(ctx context.Context, taskID string) error {
	ctx, span := tm.tracer.Start(ctx, "withdraw-task", trace.WithAttributes(
		attribute.String("id", taskID),
	))
	defer span.End()

	return tm.svc.Withdraw(ctx, taskID)
}

func (tm *tracing) ListQueued(ctx context.Context, offset, limit uint64) (task.TaskPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-queued", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListQueued(ctx, offset, limit)
}

func (tm *tracing) DrainRound(ctx context.Context) (resp coordinator.RoundReport, err error) {
	ctx, span := tm.tracer.Start(ctx, "drain-round")
	defer func() {
		span.SetAttributes(
			attribute.Int64("round", int64(resp.Round)),
			attribute.Int("launched", resp.Launched),
			attribute.Int("carried_over", resp.CarriedOver),
		)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	return tm.svc.DrainRound(ctx)
}

func (tm *tracing) ApplyUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) (bool, error) {
	ctx, span := tm.tracer.Start(ctx, "apply-update", trace.WithAttributes(
		attribute.Int64("round", int64(update.Round)),
	))
	defer span.End()

	return tm.svc.ApplyUpdate(ctx, update)
}

func (tm *tracing) GetResult(ctx context.Context, taskID string) (scheduler.Result, error) {
	ctx, span := tm.tracer.Start(ctx, "get-result", trace.WithAttributes(
		attribute.String("task_id", taskID),
	))
	defer span.End()

	return tm.svc.GetResult(ctx, taskID)
}

func (tm *tracing) ListResults(ctx context.Context, offset, limit uint64) (scheduler.ResultPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-results", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListResults(ctx, offset, limit)
}

func (tm *tracing) Policy(ctx context.Context) (policy.Snapshot, error) {
	ctx, span := tm.tracer.Start(ctx, "get-policy")
	defer span.End()

	return tm.svc.Policy(ctx)
}

func (tm *tracing) Health(ctx context.Context) (coordinator.Health, error) {
	return tm.svc.Health(ctx)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	return tm.svc.Subscribe(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer span.End()

	return tm.svc.Shutdown(ctx)
}
