package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedrepair/coordinator"
	"github.com/absmach/fedrepair/coordinator/api"
	"github.com/absmach/fedrepair/coordinator/middleware"
	"github.com/absmach/fedrepair/pkg/agent"
	"github.com/absmach/fedrepair/pkg/confidence"
	"github.com/absmach/fedrepair/pkg/cron"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/jaeger"
	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/absmach/fedrepair/pkg/mqtt"
	"github.com/absmach/fedrepair/pkg/nats"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/prometheus"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/pkg/server"
	"github.com/absmach/fedrepair/pkg/storage"
	"github.com/absmach/fedrepair/task"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName          = "coordinator"
	defHTTPPort      = "7070"
	envPrefixHTTP    = "COORDINATOR_HTTP_"
	envPrefixStorage = "COORDINATOR_"
	pathEnv          = ".env"
	shutdownTimeout  = 10 * time.Second
)

var errNoAgents = errors.New("no layer agent configured")

type envConfig struct {
	LogLevel     string        `env:"COORDINATOR_LOG_LEVEL"      envDefault:"info"`
	InstanceID   string        `env:"COORDINATOR_INSTANCE_ID"`
	ClientID     string        `env:"COORDINATOR_CLIENT_ID"`
	QueueSize    int           `env:"COORDINATOR_QUEUE_SIZE"     envDefault:"1024"`
	PolicyFile   string        `env:"COORDINATOR_POLICY_FILE"`
	PatternsFile string        `env:"COORDINATOR_PATTERNS_FILE"`
	Schedule     string        `env:"COORDINATOR_ROUND_SCHEDULE"`
	Timezone     string        `env:"COORDINATOR_ROUND_TIMEZONE"`
	L1AgentURL   string        `env:"COORDINATOR_L1_AGENT_URL"`
	L2AgentURL   string        `env:"COORDINATOR_L2_AGENT_URL"`
	L3AgentURL   string        `env:"COORDINATOR_L3_AGENT_URL"`
	AgentToken   string        `env:"COORDINATOR_AGENT_TOKEN"`
	Transport    string        `env:"COORDINATOR_TRANSPORT"      envDefault:"none"`
	BaseTopic    string        `env:"COORDINATOR_BASE_TOPIC"`
	Codec        string        `env:"COORDINATOR_CODEC"          envDefault:"json"`
	MQTTAddress  string        `env:"COORDINATOR_MQTT_ADDRESS"   envDefault:"tcp://localhost:1883"`
	MQTTQoS      uint8         `env:"COORDINATOR_MQTT_QOS"       envDefault:"1"`
	MQTTTimeout  time.Duration `env:"COORDINATOR_MQTT_TIMEOUT"   envDefault:"30s"`
	MQTTUsername string        `env:"COORDINATOR_MQTT_USERNAME"`
	MQTTPassword string        `env:"COORDINATOR_MQTT_PASSWORD"`
	NATSURL      string        `env:"COORDINATOR_NATS_URL"       envDefault:"nats://localhost:4222"`
	OTELURL      url.URL       `env:"COORDINATOR_OTEL_URL"`
	TraceRatio   float64       `env:"COORDINATOR_TRACE_RATIO"    envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = namegenerator.NewGenerator().Generate()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler).With(slog.String("client_id", cfg.ClientID))
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	initial := policy.Default()
	if cfg.PolicyFile != "" {
		p, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			logger.Error("failed to load policy", slog.String("path", cfg.PolicyFile), slog.String("error", err.Error()))

			return
		}
		initial = p
	}
	policies := policy.NewStore(initial)

	var estimatorOpts []confidence.Option
	if cfg.PatternsFile != "" {
		lib, err := confidence.LoadLibrary(cfg.PatternsFile)
		if err != nil {
			logger.Error("failed to load pattern library", slog.String("error", err.Error()))

			return
		}
		estimatorOpts = append(estimatorOpts, confidence.WithPatterns(lib))
	}
	estimator, err := confidence.NewEstimator(estimatorOpts...)
	if err != nil {
		logger.Error("failed to create confidence estimator", slog.String("error", err.Error()))

		return
	}
	defer estimator.Close()

	adapters, err := newAdapters(cfg, logger)
	if err != nil {
		logger.Error("failed to configure layer agents", slog.String("error", err.Error()))

		return
	}
	runner := scheduler.New(policies, agent.NewContextBuilder(), estimator, logger, scheduler.WithAdapters(adapters...))

	storageCfg := storage.Config{}
	if err := env.ParseWithOptions(&storageCfg, env.Options{Prefix: envPrefixStorage}); err != nil {
		logger.Error("failed to load storage configuration", slog.String("error", err.Error()))

		return
	}
	repos, err := storage.NewRepositories(storageCfg)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("type", storageCfg.Type), slog.String("error", err.Error()))

		return
	}
	if repos.Closer != nil {
		defer repos.Closer.Close()
	}

	codec, err := fl.CodecFor(cfg.Codec)
	if err != nil {
		logger.Error("failed to select codec", slog.String("error", err.Error()))

		return
	}

	var opts []coordinator.Option
	pubsub, err := newPubSub(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize federation transport", slog.String("transport", cfg.Transport), slog.String("error", err.Error()))

		return
	}
	if pubsub != nil {
		defer pubsub.Disconnect(context.Background())
		opts = append(opts, coordinator.WithPubSub(pubsub))
	}

	svc := coordinator.NewService(coordinator.Config{
		ClientID:  cfg.ClientID,
		QueueSize: cfg.QueueSize,
		BaseTopic: cfg.BaseTopic,
		Codec:     codec,
	}, runner, policies, repos.Results, logger, opts...)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	queued := prometheus.MakeGauge(svcName, "queue", "depth", "Number of queued repair tasks.")
	svc = middleware.Metrics(counter, latency, queued, svc)

	if pubsub != nil {
		if err := svc.Subscribe(ctx); err != nil {
			logger.Error("failed to subscribe to policy updates", slog.String("error", err.Error()))

			return
		}
	}

	if cfg.Schedule != "" {
		schedule, err := cron.ParseCronExpression(cfg.Schedule)
		if err != nil {
			logger.Error("failed to parse round schedule", slog.String("schedule", cfg.Schedule), slog.String("error", err.Error()))

			return
		}
		ticker := coordinator.NewRoundTicker(svc, schedule.In(cfg.Timezone), logger)
		g.Go(func() error {
			if err := ticker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		})
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := server.NewHTTPServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID, version), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("running tasks did not stop in time", slog.String("error", err.Error()))
	}
}

func newAdapters(cfg envConfig, logger *slog.Logger) ([]scheduler.Adapter, error) {
	urls := map[task.Layer]string{
		task.Layer1: cfg.L1AgentURL,
		task.Layer2: cfg.L2AgentURL,
		task.Layer3: cfg.L3AgentURL,
	}

	var adapters []scheduler.Adapter
	for _, layer := range task.Layers {
		endpoint := urls[layer]
		if endpoint == "" {
			logger.Warn("layer has no agent", slog.String("layer", layer.String()))

			continue
		}
		a := agent.NewHTTPAgent(layer.String(), endpoint, cfg.AgentToken)
		adapters = append(adapters, agent.NewAdapter(layer, a, logger))
	}
	if len(adapters) == 0 {
		return nil, errNoAgents
	}

	return adapters, nil
}

func newPubSub(cfg envConfig, logger *slog.Logger) (messaging.PubSub, error) {
	switch cfg.Transport {
	case "", "none":
		return nil, nil
	case "mqtt":
		return mqtt.NewPubSub(mqtt.Config{
			URL:       cfg.MQTTAddress,
			ID:        cfg.ClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			QoS:       cfg.MQTTQoS,
			Timeout:   cfg.MQTTTimeout,
			BaseTopic: cfg.BaseTopic,
		}, logger)
	case "nats":
		return nats.Connect(cfg.NATSURL, cfg.ClientID, logger)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
