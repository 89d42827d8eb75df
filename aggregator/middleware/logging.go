package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/policy"
)

var _ aggregator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    aggregator.Service
}

func Logging(logger *slog.Logger, svc aggregator.Service) aggregator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Report(ctx context.Context, stats fl.ClientRoundStatistics) (accepted bool, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("statistics",
				slog.String("client_id", stats.ClientID),
				slog.Uint64("round", stats.Round),
				slog.Int("task_count", stats.TaskCount),
			),
			slog.Bool("accepted", accepted),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report statistics failed", args...)

			return
		}
		lm.logger.Info("Report statistics completed successfully", args...)
	}(time.Now())

	return lm.svc.Report(ctx, stats)
}

func (lm *loggingMiddleware) CloseRound(ctx context.Context) (resp fl.GlobalPolicyUpdate, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("update",
				slog.Uint64("round", resp.Round),
				slog.Int("participants", len(resp.Participants)),
				slog.Int("missing", len(resp.Missing)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Close round failed", args...)

			return
		}
		lm.logger.Info("Close round completed successfully", args...)
	}(time.Now())

	return lm.svc.CloseRound(ctx)
}

func (lm *loggingMiddleware) CheckDeadline(ctx context.Context) (resp fl.GlobalPolicyUpdate, closed bool, err error) {
	defer func() {
		switch {
		case err != nil:
			lm.logger.Warn("Check round deadline failed", slog.Any("error", err))
		case closed:
			lm.logger.Info("Closed round on deadline", slog.Uint64("next_round", resp.Round))
		}
	}()

	return lm.svc.CheckDeadline(ctx)
}

func (lm *loggingMiddleware) RoundStatus(ctx context.Context) (aggregator.RoundStatus, error) {
	return lm.svc.RoundStatus(ctx)
}

func (lm *loggingMiddleware) Round(ctx context.Context, round uint64) (resp fl.RoundState, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("round", round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round failed", args...)

			return
		}
		lm.logger.Info("Get round completed successfully", args...)
	}(time.Now())

	return lm.svc.Round(ctx, round)
}

func (lm *loggingMiddleware) CurrentPolicy(ctx context.Context) (policy.Snapshot, error) {
	return lm.svc.CurrentPolicy(ctx)
}

func (lm *loggingMiddleware) Update(ctx context.Context, round uint64) (resp fl.GlobalPolicyUpdate, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("round", round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get update failed", args...)

			return
		}
		lm.logger.Info("Get update completed successfully", args...)
	}(time.Now())

	return lm.svc.Update(ctx, round)
}

func (lm *loggingMiddleware) LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	return lm.svc.LatestUpdate(ctx)
}

func (lm *loggingMiddleware) Redeliver(ctx context.Context) (resp fl.GlobalPolicyUpdate, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("round", resp.Round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Redeliver update failed", args...)

			return
		}
		lm.logger.Info("Redeliver update completed successfully", args...)
	}(time.Now())

	return lm.svc.Redeliver(ctx)
}

func (lm *loggingMiddleware) Subscribe(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			lm.logger.Error("Subscribe to client statistics failed", slog.Any("error", err))

			return
		}
		lm.logger.Info("Subscribed to client statistics")
	}()

	return lm.svc.Subscribe(ctx)
}

func (lm *loggingMiddleware) Start(ctx context.Context, interval time.Duration) error {
	lm.logger.Info("Round deadline checker started", slog.String("interval", interval.String()))

	return lm.svc.Start(ctx, interval)
}
