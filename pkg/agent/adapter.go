package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/resilience"
	"github.com/absmach/fedrepair/task"
	"github.com/cenkalti/backoff/v5"
)

const (
	defBreakerFailures = 5
	defBreakerCooldown = 30 * time.Second
	defInitialBackoff  = 100 * time.Millisecond
)

// Adapter binds one Agent to one layer and applies the per-call timeout,
// retry with exponential backoff and a circuit breaker around it.
type Adapter struct {
	layer   task.Layer
	agent   Agent
	breaker *resilience.Breaker
	logger  *slog.Logger
}

type AdapterOption func(*Adapter)

func WithBreaker(b *resilience.Breaker) AdapterOption {
	return func(a *Adapter) {
		a.breaker = b
	}
}

func NewAdapter(layer task.Layer, agent Agent, logger *slog.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		layer:  layer,
		agent:  agent,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.breaker == nil {
		a.breaker = resilience.NewBreaker(defBreakerFailures, defBreakerCooldown, resilience.WithFailureFilter(countsAsOutage))
	}

	return a
}

func (a *Adapter) Layer() task.Layer {
	return a.layer
}

func (a *Adapter) State() resilience.State {
	return a.breaker.State()
}

// Propose runs the agent once per try until it answers, the retry budget of rp
// is spent, or ctx ends. Invalid responses are never retried. The returned
// error wraps ErrAdapterTimeout, ErrAdapterFailure or ErrInvalidResponse, or
// is the cancellation cause of ctx.
func (a *Adapter) Propose(ctx context.Context, pc task.PatchContext, lp policy.LayerPolicy, rp policy.RetryPolicy) (Proposal, error) {
	tries := 0
	operation := func() (Proposal, error) {
		tries++
		var resp Proposal
		err := a.breaker.Execute(func() error {
			res, err := a.call(ctx, pc, lp.Timeout.Std())
			if err != nil {
				return err
			}
			resp = res

			return nil
		})

		switch {
		case err == nil:
			return resp, nil
		case ctx.Err() != nil:
			return resp, backoff.Permanent(context.Cause(ctx))
		case errors.Is(err, resilience.ErrCircuitOpen):
			return resp, backoff.Permanent(fmt.Errorf("%w: %w", ErrAdapterFailure, err))
		case errors.Is(err, ErrInvalidResponse):
			return resp, backoff.Permanent(err)
		default:
			return resp, err
		}
	}

	notify := func(err error, next time.Duration) {
		a.logger.Debug("Retrying adapter call",
			slog.String("layer", a.layer.String()),
			slog.String("task_id", pc.TaskID),
			slog.Int("try", tries),
			slog.String("backoff", next.String()),
			slog.Any("error", err),
		)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff(rp)),
		backoff.WithMaxTries(uint(rp.MaxRetries)+1),
		backoff.WithNotify(notify),
	)
}

func (a *Adapter) call(ctx context.Context, pc task.PatchContext, timeout time.Duration) (Proposal, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrAdapterTimeout)
		defer cancel()
	}

	resp, err := a.agent.Propose(callCtx, pc)
	switch {
	case err == nil:
		if err := resp.validate(); err != nil {
			return Proposal{}, err
		}

		return resp, nil
	case ctx.Err() != nil:
		return Proposal{}, context.Cause(ctx)
	case errors.Is(context.Cause(callCtx), ErrAdapterTimeout), errors.Is(err, ErrAdapterTimeout):
		return Proposal{}, fmt.Errorf("%w: %s after %s", ErrAdapterTimeout, a.layer, timeout)
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrAdapterFailure):
		return Proposal{}, err
	default:
		return Proposal{}, fmt.Errorf("%w: %w", ErrAdapterFailure, err)
	}
}

func newBackOff(rp policy.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	b.InitialInterval = defInitialBackoff
	if rp.InitialBackoff > 0 {
		b.InitialInterval = rp.InitialBackoff.Std()
	}
	if rp.MaxBackoff > 0 {
		b.MaxInterval = rp.MaxBackoff.Std()
	}
	if rp.Multiplier >= 1 {
		b.Multiplier = rp.Multiplier
	}

	return b
}

func countsAsOutage(err error) bool {
	return errors.Is(err, ErrAdapterTimeout) || errors.Is(err, ErrAdapterFailure)
}
