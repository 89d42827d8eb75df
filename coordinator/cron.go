package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/fedrepair/pkg/cron"
)

// RoundTicker drains a round every time the cron schedule fires.
type RoundTicker struct {
	svc      Service
	schedule *cron.CronSchedule
	logger   *slog.Logger
	now      func() time.Time
}

func NewRoundTicker(svc Service, schedule *cron.CronSchedule, logger *slog.Logger) *RoundTicker {
	return &RoundTicker{
		svc:      svc,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

func (rt *RoundTicker) Start(ctx context.Context) error {
	rt.logger.Info("round ticker started")

	for {
		next := rt.schedule.Next(rt.now())
		if next.IsZero() {
			return cron.ErrInvalidCronExpression
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			rt.logger.Info("round ticker stopping")

			return ctx.Err()
		case <-timer.C:
			rt.tick(ctx)
		}
	}
}

func (rt *RoundTicker) tick(ctx context.Context) {
	report, err := rt.svc.DrainRound(ctx)
	switch {
	case errors.Is(err, ErrAwaitingPolicy), errors.Is(err, ErrRoundInProgress):
		rt.logger.Info("skipping scheduled round", slog.String("reason", err.Error()))
	case err != nil:
		rt.logger.Error("scheduled round failed", slog.String("error", err.Error()))
	default:
		rt.logger.Info("scheduled round drained",
			slog.Uint64("round", report.Round),
			slog.Int("launched", report.Launched),
			slog.Int("carried_over", report.CarriedOver),
			slog.Int("requeued", report.Requeued),
		)
	}
}
