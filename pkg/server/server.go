package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Host         string        `env:"HOST"          envDefault:"localhost"`
	Port         string        `env:"PORT"          envDefault:""`
	CertFile     string        `env:"SERVER_CERT"   envDefault:""`
	KeyFile      string        `env:"SERVER_KEY"    envDefault:""`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"  envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
}

type Server interface {
	Start() error
	Stop() error
}

type httpServer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	name    string
	config  Config
	server  *http.Server
	logger  *slog.Logger
	address string
}

var _ Server = (*httpServer)(nil)

func NewHTTPServer(ctx context.Context, cancel context.CancelFunc, name string, config Config, handler http.Handler, logger *slog.Logger) Server {
	address := net.JoinHostPort(config.Host, config.Port)

	return &httpServer{
		ctx:     ctx,
		cancel:  cancel,
		name:    name,
		config:  config,
		logger:  logger,
		address: address,
		server: &http.Server{
			Addr:         address,
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
	}
}

func (s *httpServer) Start() error {
	errCh := make(chan error, 1)

	go func() {
		var err error
		switch {
		case s.config.CertFile != "" || s.config.KeyFile != "":
			s.logger.Info(fmt.Sprintf("%s service HTTPS server listening at %s with TLS", s.name, s.address))
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		default:
			s.logger.Info(fmt.Sprintf("%s service HTTP server listening at %s without TLS", s.name, s.address))
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-s.ctx.Done():
		return s.Stop()
	case err, ok := <-errCh:
		if ok {
			s.cancel()

			return err
		}

		return nil
	}
}

func (s *httpServer) Stop() error {
	defer s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error(fmt.Sprintf("%s service error occurred during shutdown at %s: %s", s.name, s.address, err))

		return fmt.Errorf("%s service occurred during shutdown at %s: %w", s.name, s.address, err)
	}
	s.logger.Info(fmt.Sprintf("%s HTTP service shutdown of http at %s", s.name, s.address))

	return nil
}

// StopSignalHandler stops the servers on SIGINT or SIGTERM, or returns when
// ctx is done.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, svcName string, servers ...Server) error {
	var err error
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		defer cancel()
		for _, s := range servers {
			err = errors.Join(err, s.Stop())
		}
		logger.Info(fmt.Sprintf("%s service shutdown by signal: %s", svcName, sig))

		return err
	case <-ctx.Done():
		return nil
	}
}
