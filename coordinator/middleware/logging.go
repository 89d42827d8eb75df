package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Submit(ctx context.Context, t task.RepairTask) (resp task.RepairTask, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("id", resp.ID),
				slog.String("defect_class", t.DefectClass),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Submit task failed", args...)

			return
		}
		lm.logger.Info("Submit task completed successfully", args...)
	}(time.Now())

	return lm.svc.Submit(ctx, t)
}

func (lm *loggingMiddleware) Withdraw(ctx context.Context, taskID string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("task_id", taskID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Withdraw task failed", args...)

			return
		}
		lm.logger.Info("Withdraw task completed successfully", args...)
	}(time.Now())

	return lm.svc.Withdraw(ctx, taskID)
}

func (lm *loggingMiddleware) ListQueued(ctx context.Context, offset, limit uint64) (resp task.TaskPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List queued tasks failed", args...)

			return
		}
		lm.logger.Info("List queued tasks completed successfully", args...)
	}(time.Now())

	return lm.svc.ListQueued(ctx, offset, limit)
}

func (lm *loggingMiddleware) DrainRound(ctx context.Context) (resp coordinator.RoundReport, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("number", resp.Round),
				slog.Int("launched", resp.Launched),
				slog.Int("finished", len(resp.Results)),
				slog.Int("carried_over", resp.CarriedOver),
				slog.Int("requeued", resp.Requeued),
				slog.Bool("published", resp.Published),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Drain round failed", args...)

			return
		}
		lm.logger.Info("Drain round completed successfully", args...)
	}(time.Now())

	return lm.svc.DrainRound(ctx)
}

func (lm *loggingMiddleware) ApplyUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) (applied bool, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("round", update.Round),
			slog.Bool("applied", applied),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Apply policy update failed", args...)

			return
		}
		lm.logger.Info("Apply policy update completed successfully", args...)
	}(time.Now())

	return lm.svc.ApplyUpdate(ctx, update)
}

func (lm *loggingMiddleware) GetResult(ctx context.Context, taskID string) (resp scheduler.Result, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("result",
				slog.String("task_id", taskID),
				slog.String("state", resp.State.String()),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get result failed", args...)

			return
		}
		lm.logger.Info("Get result completed successfully", args...)
	}(time.Now())

	return lm.svc.GetResult(ctx, taskID)
}

func (lm *loggingMiddleware) ListResults(ctx context.Context, offset, limit uint64) (resp scheduler.ResultPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List results failed", args...)

			return
		}
		lm.logger.Info("List results completed successfully", args...)
	}(time.Now())

	return lm.svc.ListResults(ctx, offset, limit)
}

func (lm *loggingMiddleware) Policy(ctx context.Context) (policy.Snapshot, error) {
	return lm.svc.Policy(ctx)
}

func (lm *loggingMiddleware) Health(ctx context.Context) (coordinator.Health, error) {
	return lm.svc.Health(ctx)
}

func (lm *loggingMiddleware) Subscribe(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			lm.logger.Error("Subscribe to policy updates failed", slog.Any("error", err))

			return
		}
		lm.logger.Info("Subscribed to policy updates")
	}()

	return lm.svc.Subscribe(ctx)
}

func (lm *loggingMiddleware) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Shutdown failed", args...)

			return
		}
		lm.logger.Info("Shutdown completed successfully", args...)
	}(time.Now())

	return lm.svc.Shutdown(ctx)
}
