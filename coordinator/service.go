package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/resilience"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/pkg/storage"
	"github.com/absmach/fedrepair/task"
	"github.com/google/uuid"
)

const (
	defQueueSize      = 1024
	defPublishRetries = 5
	defPublishBackoff = 500 * time.Millisecond
)

type Config struct {
	ClientID       string
	QueueSize      int
	BaseTopic      string
	Codec          fl.Codec
	PublishRetries uint
	PublishBackoff time.Duration
}

type Option func(*service)

// WithPubSub connects the coordinator to the federation transport.
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

type inflight struct {
	round  uint64
	cancel context.CancelCauseFunc
}

type service struct {
	cfg      Config
	runner   Runner
	policies *policy.Store
	results  storage.ResultRepository
	pubsub   messaging.PubSub
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	queue    []task.RepairTask
	running  map[string]*inflight
	acc      *fl.Accumulator
	finished []scheduler.Result
	draining bool
	awaiting bool
	pending  *fl.GlobalPolicyUpdate
	wg       sync.WaitGroup
}

func NewService(cfg Config, runner Runner, policies *policy.Store, results storage.ResultRepository, logger *slog.Logger, opts ...Option) Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defQueueSize
	}
	if cfg.Codec == nil {
		cfg.Codec = fl.JSONCodec
	}
	if cfg.PublishRetries == 0 {
		cfg.PublishRetries = defPublishRetries
	}
	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = defPublishBackoff
	}

	svc := &service{
		cfg:      cfg,
		runner:   runner,
		policies: policies,
		results:  results,
		logger:   logger,
		now:      time.Now,
		running:  make(map[string]*inflight),
		acc:      fl.NewAccumulator(cfg.ClientID, policies.Round()),
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (svc *service) Submit(ctx context.Context, t task.RepairTask) (task.RepairTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.ClientID = svc.cfg.ClientID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = svc.now()
	}

	if _, err := svc.results.Get(ctx, t.ID); err == nil {
		return task.RepairTask{}, ErrTaskExists
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if _, ok := svc.running[t.ID]; ok || svc.queuedIndex(t.ID) >= 0 {
		return task.RepairTask{}, ErrTaskExists
	}
	if len(svc.queue) >= svc.cfg.QueueSize {
		return task.RepairTask{}, ErrQueueFull
	}
	svc.queue = append(svc.queue, t)

	return t, nil
}

func (svc *service) Withdraw(_ context.Context, taskID string) error {
	if taskID == "" {
		return pkgerrors.ErrEmptyKey
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if i := svc.queuedIndex(taskID); i >= 0 {
		svc.queue = slices.Delete(svc.queue, i, i+1)

		return nil
	}
	if in, ok := svc.running[taskID]; ok {
		in.cancel(scheduler.ErrWithdrawn)

		return nil
	}

	return ErrTaskNotFound
}

func (svc *service) ListQueued(_ context.Context, offset, limit uint64) (task.TaskPage, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	total := uint64(len(svc.queue))
	page := task.TaskPage{Offset: offset, Limit: limit, Total: total, Tasks: []task.RepairTask{}}
	if offset >= total {
		return page, nil
	}
	end := min(offset+limit, total)
	page.Tasks = slices.Clone(svc.queue[offset:end])

	return page, nil
}

func (svc *service) ApplyUpdate(_ context.Context, u fl.GlobalPolicyUpdate) (bool, error) {
	if err := u.Policy.Validate(); err != nil {
		return false, err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if u.Round <= svc.policies.Round() {
		return false, nil
	}
	if svc.draining {
		if svc.pending != nil && svc.pending.Round >= u.Round {
			return false, nil
		}
		svc.pending = &u

		return true, nil
	}

	return svc.install(u), nil
}

// install swaps in u. Callers hold svc.mu.
func (svc *service) install(u fl.GlobalPolicyUpdate) bool {
	if !svc.policies.Swap(u.Round, u.Policy) {
		return false
	}
	svc.awaiting = false
	if svc.acc.Round() < u.Round {
		svc.acc.Relabel(u.Round)
	}

	svc.logger.Info("Installed policy update",
		slog.String("client_id", svc.cfg.ClientID),
		slog.Uint64("round", u.Round),
		slog.Int("participants", len(u.Participants)),
	)

	return true
}

func (svc *service) GetResult(ctx context.Context, taskID string) (scheduler.Result, error) {
	if taskID == "" {
		return scheduler.Result{}, pkgerrors.ErrEmptyKey
	}

	res, err := svc.results.Get(ctx, taskID)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		svc.mu.Lock()
		_, running := svc.running[taskID]
		queued := svc.queuedIndex(taskID) >= 0
		svc.mu.Unlock()
		if running || queued {
			return scheduler.Result{}, errors.Join(pkgerrors.ErrNotFound, errors.New("task has not finished"))
		}
	}

	return res, err
}

func (svc *service) ListResults(ctx context.Context, offset, limit uint64) (scheduler.ResultPage, error) {
	results, total, err := svc.results.List(ctx, offset, limit)
	if err != nil {
		return scheduler.ResultPage{}, err
	}

	return scheduler.ResultPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Results: results,
	}, nil
}

func (svc *service) Policy(_ context.Context) (policy.Snapshot, error) {
	return *svc.policies.Load(), nil
}

// Health is unhealthy when no adapter is configured or every adapter's
// circuit is open.
func (svc *service) Health(_ context.Context) (Health, error) {
	h := Health{Layers: make(map[string]string)}

	adapters := svc.runner.Adapters()
	open := 0
	for _, a := range adapters {
		state := "unknown"
		if sa, ok := a.(interface{ State() resilience.State }); ok {
			st := sa.State()
			state = st.String()
			if st == resilience.StateOpen {
				open++
			}
		}
		h.Layers[a.Layer().String()] = state
	}
	h.Healthy = len(adapters) > 0 && open < len(adapters)

	svc.mu.Lock()
	h.Queued = len(svc.queue)
	h.Running = len(svc.running)
	h.Round = svc.acc.Round()
	h.Draining = svc.draining
	h.Awaiting = svc.awaiting
	svc.mu.Unlock()
	h.PolicyRound = svc.policies.Round()

	return h, nil
}

func (svc *service) Shutdown(ctx context.Context) error {
	svc.mu.Lock()
	for _, in := range svc.running {
		in.cancel(context.Canceled)
	}
	svc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (svc *service) queuedIndex(taskID string) int {
	return slices.IndexFunc(svc.queue, func(t task.RepairTask) bool {
		return t.ID == taskID
	})
}
