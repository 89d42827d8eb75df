package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/task"
	"golang.org/x/sync/semaphore"
)

// DrainRound launches the tasks queued when it starts, at most
// Policy.Concurrency at a time. At the soft deadline it stops launching and
// returns; tasks still running are carried over and report into the next
// round. Tasks running past the hard deadline are cancelled.
func (svc *service) DrainRound(ctx context.Context) (RoundReport, error) {
	svc.mu.Lock()
	if svc.draining {
		svc.mu.Unlock()

		return RoundReport{}, ErrRoundInProgress
	}
	if svc.awaiting {
		svc.mu.Unlock()

		return RoundReport{}, ErrAwaitingPolicy
	}
	svc.draining = true
	acc := svc.acc
	round := acc.Round()
	queued := len(svc.queue)
	svc.mu.Unlock()

	pol := svc.policies.Load().Policy
	started := time.Now()
	report := RoundReport{Round: round, StartedAt: svc.now()}

	softCtx, cancelSoft := ctx, context.CancelFunc(func() {})
	if d := pol.RoundDeadline.Std(); d > 0 {
		softCtx, cancelSoft = context.WithTimeout(ctx, d)
	}
	defer cancelSoft()

	var hardAt time.Time
	if d := pol.HardDeadline.Std(); d > 0 {
		hardAt = started.Add(d)
	}

	sem := semaphore.NewWeighted(int64(max(pol.Concurrency, 1)))
	done := make(chan struct{}, queued)
	for report.Launched < queued {
		if err := sem.Acquire(softCtx, 1); err != nil {
			break
		}
		t, runCtx, ok := svc.start(ctx, round, hardAt)
		if !ok {
			sem.Release(1)

			break
		}
		report.Launched++

		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			defer func() {
				sem.Release(1)
				done <- struct{}{}
			}()

			svc.record(runCtx, svc.runner.Run(runCtx, t))
		}()
	}

	for finished := 0; finished < report.Launched; {
		select {
		case <-done:
			finished++
		case <-softCtx.Done():
			finished = report.Launched
		}
	}

	svc.mu.Lock()
	for _, in := range svc.running {
		if in.round == round {
			report.CarriedOver++
		}
	}
	report.Requeued = min(queued-report.Launched, len(svc.queue))
	acc.CarryOver(report.CarriedOver)
	report.Results = svc.finished
	svc.finished = nil
	svc.acc = fl.NewAccumulator(svc.cfg.ClientID, round+1)
	svc.draining = false
	if svc.pending != nil {
		svc.install(*svc.pending)
		svc.pending = nil
	}
	// Federated clients wait for the next round's policy whether or not the
	// statistics got out. The aggregator's deadline close or a redelivery
	// releases a client whose publish failed.
	if svc.pubsub != nil {
		svc.awaiting = svc.policies.Round() <= round
	}
	svc.mu.Unlock()

	report.FinishedAt = svc.now()
	report.Statistics = acc.Statistics(report.FinishedAt)

	if svc.pubsub != nil {
		if err := svc.publish(ctx, report.Statistics); err != nil {
			svc.logger.Warn("Failed to publish round statistics",
				slog.String("client_id", svc.cfg.ClientID),
				slog.Uint64("round", round),
				slog.Any("error", err),
			)
		} else {
			report.Published = true
		}
	}

	return report, nil
}

// start pops the queue head and registers it as running in one step, so a
// task is always either queued or running until its result is recorded.
func (svc *service) start(ctx context.Context, round uint64, hardAt time.Time) (task.RepairTask, context.Context, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if len(svc.queue) == 0 {
		return task.RepairTask{}, nil, false
	}
	t := svc.queue[0]
	svc.queue = svc.queue[1:]

	// Carried over tasks outlive the DrainRound call that launched them.
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if !hardAt.IsZero() {
		var stop context.CancelFunc
		runCtx, stop = context.WithDeadlineCause(runCtx, hardAt, ErrRoundTimeout)
		inner := cancel
		cancel = func(cause error) {
			inner(cause)
			stop()
		}
	}
	svc.running[t.ID] = &inflight{round: round, cancel: cancel}

	return t, runCtx, true
}

func (svc *service) record(ctx context.Context, res scheduler.Result) {
	withdrawn := res.Reason == scheduler.ReasonWithdrawn
	if !withdrawn {
		if err := svc.results.Save(context.WithoutCancel(ctx), res); err != nil {
			svc.logger.Warn("Failed to save repair result", slog.String("task_id", res.TaskID), slog.Any("error", err))
		}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if in, ok := svc.running[res.TaskID]; ok {
		in.cancel(nil)
		delete(svc.running, res.TaskID)
	}
	if withdrawn {
		return
	}
	svc.finished = append(svc.finished, res)
	svc.acc.Add(res)
}

func (svc *service) publish(ctx context.Context, stats fl.ClientRoundStatistics) error {
	payload, err := svc.cfg.Codec.Marshal(stats)
	if err != nil {
		return err
	}
	topic := messaging.ClientStatisticsTopic(svc.cfg.BaseTopic, svc.cfg.ClientID)

	return messaging.PublishWithRetry(ctx, svc.pubsub, topic, payload, svc.cfg.PublishRetries, svc.cfg.PublishBackoff)
}

func (svc *service) Subscribe(ctx context.Context) error {
	if svc.pubsub == nil {
		return nil
	}

	topic := messaging.Topic(svc.cfg.BaseTopic, messaging.UpdatesTopic)

	return svc.pubsub.Subscribe(ctx, topic, svc.handleUpdate(ctx))
}

func (svc *service) handleUpdate(ctx context.Context) messaging.Handler {
	return func(_ string, payload []byte) error {
		var u fl.GlobalPolicyUpdate
		if err := svc.cfg.Codec.Unmarshal(payload, &u); err != nil {
			return err
		}

		_, err := svc.ApplyUpdate(ctx, u)

		return err
	}
}
