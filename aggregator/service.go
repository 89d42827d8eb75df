package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/absmach/fedrepair/pkg/policy"
)

const (
	defCheckInterval  = time.Second
	defPublishRetries = 5
	defPublishBackoff = 500 * time.Millisecond
)

type Config struct {
	// ExpectedClients is the federation roster. An empty roster accepts any
	// client and closes rounds on deadline only.
	ExpectedClients []string
	// Grace extends every round deadline past Policy.RoundDeadline so
	// clients have time to publish after their own soft deadline.
	Grace          time.Duration
	BaseTopic      string
	Codec          fl.Codec
	PublishRetries uint
	PublishBackoff time.Duration
}

type Option func(*service)

func WithPubSub(ps messaging.PubSub) Option {
	return func(svc *service) {
		svc.pubsub = ps
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *service) {
		svc.now = now
	}
}

type service struct {
	cfg        Config
	aggregator fl.Aggregator
	ledger     fl.Ledger
	pubsub     messaging.PubSub
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	policy      policy.Snapshot
	open        *fl.RoundState
	latest      *fl.GlobalPolicyUpdate
	redelivered int

	// pubMu is taken before mu is released after a close, so updates leave
	// in the order their rounds closed.
	pubMu sync.Mutex
}

// NewService resumes from the latest update in ledger, or starts round
// policy.InitialRound with initial when the ledger is empty.
func NewService(ctx context.Context, cfg Config, initial policy.Policy, agg fl.Aggregator, ledger fl.Ledger, logger *slog.Logger, opts ...Option) (Service, error) {
	if cfg.Codec == nil {
		cfg.Codec = fl.JSONCodec
	}
	if cfg.PublishRetries == 0 {
		cfg.PublishRetries = defPublishRetries
	}
	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = defPublishBackoff
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}

	svc := &service{
		cfg:        cfg,
		aggregator: agg,
		ledger:     ledger,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	svc.policy = policy.Snapshot{Round: policy.InitialRound, Policy: initial.Clone(), UpdatedAt: svc.now()}
	latest, err := ledger.LatestUpdate(ctx)
	switch {
	case err == nil:
		svc.latest = &latest
		svc.policy = policy.Snapshot{Round: latest.Round, Policy: latest.Policy, UpdatedAt: latest.IssuedAt}
	case errors.Is(err, pkgerrors.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load latest policy update: %w", err)
	}

	state, err := ledger.Round(ctx, svc.policy.Round)
	switch {
	case err == nil && !state.Completed:
		if state.Reports == nil {
			state.Reports = make(map[string]fl.ClientRoundStatistics)
		}
		svc.open = &state
		logger.Info("Resumed open round",
			slog.Uint64("round", state.Round),
			slog.Int("reports", len(state.Reports)),
		)
	case err == nil, errors.Is(err, pkgerrors.ErrNotFound):
		svc.open = svc.openRound(svc.policy.Round)
	default:
		return nil, fmt.Errorf("failed to load round %d: %w", svc.policy.Round, err)
	}

	return svc, nil
}

func (svc *service) openRound(round uint64) *fl.RoundState {
	return fl.NewRoundState(round, svc.cfg.ExpectedClients, svc.now(), svc.policy.Policy.RoundDeadline.Std()+svc.cfg.Grace)
}

func (svc *service) Report(ctx context.Context, stats fl.ClientRoundStatistics) (bool, error) {
	if err := stats.Validate(); err != nil {
		return false, err
	}

	svc.mu.Lock()
	open := svc.open
	switch {
	case stats.Round < open.Round:
		svc.mu.Unlock()

		return false, fmt.Errorf("%w: round %d, open round is %d", fl.ErrStaleRound, stats.Round, open.Round)
	case stats.Round > open.Round:
		svc.mu.Unlock()

		return false, fmt.Errorf("%w: round %d, open round is %d", fl.ErrFutureRound, stats.Round, open.Round)
	case len(open.Expected) > 0 && !slices.Contains(open.Expected, stats.ClientID):
		svc.mu.Unlock()

		return false, fmt.Errorf("%w: %s", fl.ErrUnexpectedClient, stats.ClientID)
	}
	if _, ok := open.Reports[stats.ClientID]; ok {
		svc.mu.Unlock()

		return false, nil
	}
	open.Reports[stats.ClientID] = stats
	if err := svc.ledger.SaveRound(ctx, *open); err != nil {
		svc.logger.Warn("Failed to persist round report",
			slog.Uint64("round", open.Round),
			slog.String("client_id", stats.ClientID),
			slog.Any("error", err),
		)
	}

	if !open.Complete() {
		svc.mu.Unlock()

		return true, nil
	}
	update, err := svc.close(ctx)
	if err != nil {
		svc.mu.Unlock()

		return true, err
	}
	svc.release(ctx, update)

	return true, nil
}

func (svc *service) CloseRound(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	svc.mu.Lock()
	update, err := svc.close(ctx)
	if err != nil {
		svc.mu.Unlock()

		return fl.GlobalPolicyUpdate{}, err
	}
	svc.release(ctx, update)

	return update, nil
}

func (svc *service) CheckDeadline(ctx context.Context) (fl.GlobalPolicyUpdate, bool, error) {
	svc.mu.Lock()
	if svc.now().Before(svc.open.Deadline) {
		svc.mu.Unlock()

		return fl.GlobalPolicyUpdate{}, false, nil
	}
	svc.logger.Warn("Round deadline exceeded",
		slog.Uint64("round", svc.open.Round),
		slog.Int("reports", len(svc.open.Reports)),
	)
	update, err := svc.close(ctx)
	if err != nil {
		svc.mu.Unlock()

		return fl.GlobalPolicyUpdate{}, false, err
	}
	svc.release(ctx, update)

	return update, true, nil
}

// close aggregates the open round into the next round's update and opens
// that round. Callers hold svc.mu.
func (svc *service) close(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	open := svc.open
	ids := slices.Sorted(maps.Keys(open.Reports))
	stats := make([]fl.ClientRoundStatistics, 0, len(ids))
	volume := 0
	for _, id := range ids {
		stats = append(stats, open.Reports[id])
		volume += open.Reports[id].TaskCount
	}

	next, err := svc.aggregator.Aggregate(svc.policy.Policy, stats)
	switch {
	case errors.Is(err, fl.ErrNoStatistics):
		svc.logger.Warn("Round closed without statistics, carrying the policy forward", slog.Uint64("round", open.Round))
	case err != nil:
		return fl.GlobalPolicyUpdate{}, fmt.Errorf("failed to aggregate round %d: %w", open.Round, err)
	}
	if err := next.Validate(); err != nil {
		return fl.GlobalPolicyUpdate{}, fmt.Errorf("aggregated policy for round %d: %w", open.Round+1, err)
	}

	missing := open.Missing()
	if len(missing) > 0 {
		svc.logger.Warn("Round closed with missing clients",
			slog.Uint64("round", open.Round),
			slog.Any("missing", missing),
			slog.Any("error", fl.ErrAggregationIncomplete),
		)
	}

	update := fl.GlobalPolicyUpdate{
		Round:          open.Round + 1,
		Policy:         next,
		Participants:   ids,
		Missing:        missing,
		TaskVolume:     volume,
		FailureReasons: fl.MergeFailures(stats),
		IssuedAt:       svc.now(),
	}

	// A crash between the two writes resumes into the new round.
	if err := svc.ledger.SaveUpdate(ctx, update); err != nil {
		return fl.GlobalPolicyUpdate{}, fmt.Errorf("failed to persist update for round %d: %w", update.Round, err)
	}
	open.Completed = true
	if err := svc.ledger.SaveRound(ctx, *open); err != nil {
		svc.logger.Warn("Failed to persist closed round", slog.Uint64("round", open.Round), slog.Any("error", err))
	}

	svc.latest = &update
	svc.redelivered = 0
	svc.policy = policy.Snapshot{Round: update.Round, Policy: update.Policy, UpdatedAt: update.IssuedAt}
	svc.open = svc.openRound(update.Round)

	svc.logger.Info("Round closed",
		slog.Uint64("round", open.Round),
		slog.Int("participants", len(ids)),
		slog.Int("task_volume", volume),
		slog.Uint64("next_round", update.Round),
	)

	return update, nil
}

// release publishes a freshly closed round's update. Callers hold svc.mu,
// which is dropped once the update holds its place in the publish order.
func (svc *service) release(ctx context.Context, update fl.GlobalPolicyUpdate) {
	svc.pubMu.Lock()
	svc.mu.Unlock()
	defer svc.pubMu.Unlock()

	svc.publish(ctx, update)
}

// publish sends update on the transport. Callers hold svc.pubMu.
func (svc *service) publish(ctx context.Context, update fl.GlobalPolicyUpdate) {
	if svc.pubsub == nil {
		return
	}

	payload, err := svc.cfg.Codec.Marshal(update)
	if err == nil {
		topic := messaging.Topic(svc.cfg.BaseTopic, messaging.UpdatesTopic)
		err = messaging.PublishWithRetry(ctx, svc.pubsub, topic, payload, svc.cfg.PublishRetries, svc.cfg.PublishBackoff)
	}
	if err != nil {
		svc.logger.Error("Failed to publish policy update",
			slog.Uint64("round", update.Round),
			slog.Any("error", err),
		)
	}
}

func (svc *service) RoundStatus(_ context.Context) (RoundStatus, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	open := svc.open
	status := RoundStatus{
		Round:       open.Round,
		Expected:    slices.Clone(open.Expected),
		Reported:    slices.Sorted(maps.Keys(open.Reports)),
		Missing:     open.Missing(),
		OpenedAt:    open.OpenedAt,
		Deadline:    open.Deadline,
		Redelivered: svc.redelivered,
	}
	for _, s := range open.Reports {
		status.TaskVolume += s.TaskCount
	}
	if svc.latest != nil {
		status.LastUpdate = svc.latest.Round
	}

	return status, nil
}

func (svc *service) Round(ctx context.Context, round uint64) (fl.RoundState, error) {
	svc.mu.Lock()
	if round == svc.open.Round {
		state := *svc.open
		state.Reports = maps.Clone(svc.open.Reports)
		svc.mu.Unlock()

		return state, nil
	}
	svc.mu.Unlock()

	return svc.ledger.Round(ctx, round)
}

func (svc *service) CurrentPolicy(_ context.Context) (policy.Snapshot, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	snap := svc.policy
	snap.Policy = snap.Policy.Clone()

	return snap, nil
}

func (svc *service) Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error) {
	return svc.ledger.Update(ctx, round)
}

func (svc *service) LatestUpdate(_ context.Context) (fl.GlobalPolicyUpdate, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.latest == nil {
		return fl.GlobalPolicyUpdate{}, pkgerrors.ErrNotFound
	}

	return *svc.latest, nil
}

func (svc *service) Redeliver(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	svc.mu.Lock()
	if svc.latest == nil {
		svc.mu.Unlock()

		return fl.GlobalPolicyUpdate{}, pkgerrors.ErrNotFound
	}
	update := *svc.latest
	svc.redelivered++
	svc.mu.Unlock()

	if svc.pubsub == nil {
		return update, errors.Join(pkgerrors.ErrUnavailable, errors.New("no federation transport configured"))
	}
	svc.pubMu.Lock()
	svc.publish(ctx, update)
	svc.pubMu.Unlock()

	return update, nil
}

func (svc *service) Subscribe(ctx context.Context) error {
	if svc.pubsub == nil {
		return nil
	}

	topic := messaging.Topic(svc.cfg.BaseTopic, messaging.StatisticsTopic, "+")

	return svc.pubsub.Subscribe(ctx, topic, svc.handleStatistics(ctx))
}

func (svc *service) handleStatistics(ctx context.Context) messaging.Handler {
	return func(topic string, payload []byte) error {
		var stats fl.ClientRoundStatistics
		if err := svc.cfg.Codec.Unmarshal(payload, &stats); err != nil {
			return fmt.Errorf("%w: %w", fl.ErrInvalidStatistics, err)
		}

		accepted, err := svc.Report(ctx, stats)
		if err != nil {
			return err
		}
		if !accepted {
			svc.logger.Debug("Ignored duplicate statistics",
				slog.String("topic", topic),
				slog.String("client_id", stats.ClientID),
				slog.Uint64("round", stats.Round),
			)
		}

		return nil
	}
}

func (svc *service) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := svc.CheckDeadline(ctx); err != nil {
				svc.logger.Error("Failed to close expired round", slog.Any("error", err))
			}
		}
	}
}
