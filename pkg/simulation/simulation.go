// Package simulation runs a whole federation in one process: an aggregator
// and a set of coordinators backed by scripted agents, connected by the
// in-process bus.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/pkg/agent"
	"github.com/absmach/fedrepair/pkg/confidence"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/pkg/storage"
	"github.com/absmach/fedrepair/task"
	"golang.org/x/sync/errgroup"
)

const (
	defClients       = 3
	defTasks         = 5
	defRounds        = 2
	defUpdateTimeout = 5 * time.Second
	pollInterval     = 5 * time.Millisecond
	baseTopic        = "sim"
)

var (
	ErrUpdateTimeout = errors.New("clients did not receive the policy update in time")

	defectClasses = []string{"null_deref", "off_by_one", "resource_leak", "race", "wrong_operator"}
)

type Config struct {
	Clients        int
	TasksPerClient int
	Rounds         int
	Seed           uint64
	Policy         policy.Policy
	Codec          fl.Codec
	// UpdateTimeout bounds the wait for every client to install a round's
	// update.
	UpdateTimeout time.Duration
}

// RoundSummary is what one federated round produced.
type RoundSummary struct {
	Round        uint64         `json:"round"`
	Resolved     int            `json:"resolved"`
	Exhausted    int            `json:"exhausted"`
	TaskVolume   int            `json:"task_volume"`
	Participants []string       `json:"participants"`
	Thresholds   [3]float64     `json:"thresholds"`
	Calibration  [3]float64     `json:"calibration"`
	Failures     map[string]int `json:"failures,omitempty"`
}

type Report struct {
	Clients []string       `json:"clients"`
	Rounds  []RoundSummary `json:"rounds"`
}

type client struct {
	id       string
	svc      coordinator.Service
	policies *policy.Store
}

// Run drives cfg.Rounds federated rounds and reports the policy each round
// produced.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) (Report, error) {
	cfg = withDefaults(cfg)
	if err := cfg.Policy.Validate(); err != nil {
		return Report{}, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	bus := messaging.NewBus(logger)

	ids := make([]string, cfg.Clients)
	for i := range ids {
		ids[i] = fmt.Sprintf("client-%d", i+1)
	}

	agg, err := aggregator.NewService(ctx, aggregator.Config{
		ExpectedClients: ids,
		BaseTopic:       baseTopic,
		Codec:           cfg.Codec,
		PublishBackoff:  time.Millisecond,
	}, cfg.Policy, fl.NewWeightedAggregator(), storage.NewLedger(storage.NewInMemoryStorage()), logger,
		aggregator.WithPubSub(bus.Connect("aggregator")),
	)
	if err != nil {
		return Report{}, err
	}
	if err := agg.Subscribe(ctx); err != nil {
		return Report{}, err
	}

	estimator, err := confidence.NewEstimator()
	if err != nil {
		return Report{}, err
	}
	defer estimator.Close()

	clients := make([]client, 0, len(ids))
	for _, id := range ids {
		c, err := newClient(ctx, cfg, id, bus, estimator, rng, logger)
		if err != nil {
			return Report{}, err
		}
		clients = append(clients, c)
	}
	defer func() {
		for _, c := range clients {
			_ = c.svc.Shutdown(context.Background())
		}
	}()

	report := Report{Clients: ids}
	for range cfg.Rounds {
		summary, err := runRound(ctx, cfg, clients, agg, rng)
		if err != nil {
			return report, err
		}
		report.Rounds = append(report.Rounds, summary)
	}

	return report, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Clients <= 0 {
		cfg.Clients = defClients
	}
	if cfg.TasksPerClient <= 0 {
		cfg.TasksPerClient = defTasks
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = defRounds
	}
	if cfg.Codec == nil {
		cfg.Codec = fl.JSONCodec
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = defUpdateTimeout
	}
	if cfg.Policy.Concurrency == 0 {
		cfg.Policy = policy.Default()
	}

	return cfg
}

// newClient gives every layer of a client its own scripted confidence so
// clients disagree about where repairs succeed.
func newClient(ctx context.Context, cfg Config, id string, bus *messaging.Bus, scorer scheduler.Scorer, rng *rand.Rand, logger *slog.Logger) (client, error) {
	policies := policy.NewStore(cfg.Policy)

	adapters := make([]scheduler.Adapter, 0, len(task.Layers))
	base := 0.3 + 0.4*rng.Float64()
	for i, layer := range task.Layers {
		conf := min(base+0.15*float64(i)+0.1*rng.Float64(), 0.99)
		a := agent.NewScriptedAgent(id+"-"+layer.String(), conf*0.8, conf)
		adapters = append(adapters, agent.NewAdapter(layer, a, logger))
	}

	sched := scheduler.New(policies, agent.NewContextBuilder(), scorer, logger, scheduler.WithAdapters(adapters...))
	results := storage.NewResultRepository(storage.NewInMemoryStorage())
	svc := coordinator.NewService(coordinator.Config{
		ClientID:       id,
		QueueSize:      cfg.TasksPerClient,
		BaseTopic:      baseTopic,
		Codec:          cfg.Codec,
		PublishBackoff: time.Millisecond,
	}, sched, policies, results, logger, coordinator.WithPubSub(bus.Connect(id)))
	if err := svc.Subscribe(ctx); err != nil {
		return client{}, err
	}

	return client{id: id, svc: svc, policies: policies}, nil
}

func runRound(ctx context.Context, cfg Config, clients []client, agg aggregator.Service, rng *rand.Rand) (RoundSummary, error) {
	round := clients[0].policies.Round()

	for _, c := range clients {
		for i := range cfg.TasksPerClient {
			class := defectClasses[rng.IntN(len(defectClasses))]
			t := task.RepairTask{
				DefectClass: class,
				Description: fmt.Sprintf("%s reported by %s", class, c.id),
				Location: task.Location{
					File:      fmt.Sprintf("pkg/%s/file%d.go", c.id, i),
					StartLine: 1 + rng.IntN(200),
				},
			}
			if _, err := c.svc.Submit(ctx, t); err != nil {
				return RoundSummary{}, err
			}
		}
	}

	summary := RoundSummary{Round: round}
	reports := make([]coordinator.RoundReport, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clients {
		g.Go(func() error {
			r, err := c.svc.DrainRound(gctx)
			reports[i] = r

			return err
		})
	}
	if err := g.Wait(); err != nil {
		return RoundSummary{}, err
	}
	for _, r := range reports {
		summary.Resolved += r.Statistics.Resolved
		summary.Exhausted += r.Statistics.Exhausted
	}

	if err := awaitRound(ctx, clients, round+1, cfg.UpdateTimeout); err != nil {
		return RoundSummary{}, err
	}

	update, err := agg.Update(ctx, round+1)
	if err != nil {
		return RoundSummary{}, err
	}
	summary.TaskVolume = update.TaskVolume
	summary.Participants = update.Participants
	summary.Failures = update.FailureReasons
	summary.Calibration = update.Policy.Calibration.LayerSuccess
	for i, l := range update.Policy.Layers {
		summary.Thresholds[i] = l.Threshold
	}

	return summary, nil
}

func awaitRound(ctx context.Context, clients []client, round uint64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		done := true
		for _, c := range clients {
			if c.policies.Round() < round {
				done = false

				break
			}
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrUpdateTimeout
		case <-ticker.C:
		}
	}
}
