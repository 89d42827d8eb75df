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

	"github.com/absmach/fedrepair/aggregator"
	"github.com/absmach/fedrepair/aggregator/api"
	"github.com/absmach/fedrepair/aggregator/middleware"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/jaeger"
	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/absmach/fedrepair/pkg/mqtt"
	"github.com/absmach/fedrepair/pkg/nats"
	"github.com/absmach/fedrepair/pkg/policy"
	"github.com/absmach/fedrepair/pkg/prometheus"
	"github.com/absmach/fedrepair/pkg/server"
	"github.com/absmach/fedrepair/pkg/storage"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName          = "aggregator"
	defHTTPPort      = "7071"
	envPrefixHTTP    = "AGGREGATOR_HTTP_"
	envPrefixStorage = "AGGREGATOR_"
	pathEnv          = ".env"
)

type envConfig struct {
	LogLevel        string        `env:"AGGREGATOR_LOG_LEVEL"        envDefault:"info"`
	InstanceID      string        `env:"AGGREGATOR_INSTANCE_ID"`
	PolicyFile      string        `env:"AGGREGATOR_POLICY_FILE"`
	ExpectedClients []string      `env:"AGGREGATOR_EXPECTED_CLIENTS" envSeparator:","`
	Grace           time.Duration `env:"AGGREGATOR_ROUND_GRACE"      envDefault:"30s"`
	CheckInterval   time.Duration `env:"AGGREGATOR_CHECK_INTERVAL"   envDefault:"1s"`
	Transport       string        `env:"AGGREGATOR_TRANSPORT"        envDefault:"none"`
	BaseTopic       string        `env:"AGGREGATOR_BASE_TOPIC"`
	Codec           string        `env:"AGGREGATOR_CODEC"            envDefault:"json"`
	MQTTAddress     string        `env:"AGGREGATOR_MQTT_ADDRESS"     envDefault:"tcp://localhost:1883"`
	MQTTQoS         uint8         `env:"AGGREGATOR_MQTT_QOS"         envDefault:"1"`
	MQTTTimeout     time.Duration `env:"AGGREGATOR_MQTT_TIMEOUT"     envDefault:"30s"`
	MQTTUsername    string        `env:"AGGREGATOR_MQTT_USERNAME"`
	MQTTPassword    string        `env:"AGGREGATOR_MQTT_PASSWORD"`
	NATSURL         string        `env:"AGGREGATOR_NATS_URL"         envDefault:"nats://localhost:4222"`
	OTELURL         url.URL       `env:"AGGREGATOR_OTEL_URL"`
	TraceRatio      float64       `env:"AGGREGATOR_TRACE_RATIO"      envDefault:"0"`
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

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
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

	var opts []aggregator.Option
	pubsub, err := newPubSub(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize federation transport", slog.String("transport", cfg.Transport), slog.String("error", err.Error()))

		return
	}
	if pubsub != nil {
		defer pubsub.Disconnect(context.Background())
		opts = append(opts, aggregator.WithPubSub(pubsub))
	}

	svc, err := aggregator.NewService(ctx, aggregator.Config{
		ExpectedClients: cfg.ExpectedClients,
		Grace:           cfg.Grace,
		BaseTopic:       cfg.BaseTopic,
		Codec:           codec,
	}, initial, fl.NewWeightedAggregator(), repos.Ledger, logger, opts...)
	if err != nil {
		logger.Error("failed to create aggregator", slog.String("error", err.Error()))

		return
	}
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if pubsub != nil {
		if err := svc.Subscribe(ctx); err != nil {
			logger.Error("failed to subscribe to client statistics", slog.String("error", err.Error()))

			return
		}
	}

	g.Go(func() error {
		if err := svc.Start(ctx, cfg.CheckInterval); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

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
}

func newPubSub(cfg envConfig, logger *slog.Logger) (messaging.PubSub, error) {
	switch cfg.Transport {
	case "", "none":
		return nil, nil
	case "mqtt":
		return mqtt.NewPubSub(mqtt.Config{
			URL:      cfg.MQTTAddress,
			ID:       svcName + "-" + cfg.InstanceID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      cfg.MQTTQoS,
			Timeout:  cfg.MQTTTimeout,
		}, logger)
	case "nats":
		return nats.Connect(cfg.NATSURL, svcName, logger)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
