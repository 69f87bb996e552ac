package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/logging"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/timeouts"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/api/httpapi"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/instrumented"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Config defines the inputs for the sessions process.
type Config struct {
	HTTPAddr        string
	Store           StoreConfig
	MaxInactive     time.Duration
	SweepInterval   time.Duration
	MaxPayloadBytes int64
	Logger          *slog.Logger

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the session HTTP API and the expiry sweeper.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           storage.SessionStore
	sweeper         *sweeper.Sweeper
	logger          *slog.Logger
}

// NewServer opens the store and builds the HTTP surface and sweeper around it.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	logger := logging.OrNop(config.Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := instrumented.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	backing, err := OpenStore(ctx, config.Store, logger)
	if err != nil {
		return nil, err
	}
	store := instrumented.New(backing, metrics, nil)

	sw, err := sweeper.New(store, sweeper.Config{
		Interval:    config.SweepInterval,
		MaxInactive: config.MaxInactive,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init sweeper: %w", err)
	}

	handler := httpapi.NewHandler(store, httpapi.Config{
		MaxPayloadBytes: config.MaxPayloadBytes,
		Metrics:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:          logger,
	})

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		store:   store,
		sweeper: sw,
		logger:  logger,
	}, nil
}

// Run creates and serves the sessions process until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init sessions server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve sessions: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler serving the session API.
func (s *Server) Handler() http.Handler {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// ListenAndServe binds the HTTP address and serves until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("sessions server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	listener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpAddr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve runs the HTTP server on listener alongside the sweeper. Both stop
// when ctx ends or either fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})

	g.Go(func() error {
		serveErr := make(chan error, 1)
		s.logger.Info("sessions server listening", slog.String("addr", listener.Addr().String()))
		go func() {
			serveErr <- s.httpServer.Serve(listener)
		}()

		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			err := s.httpServer.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve http: %w", err)
		}
	})

	return g.Wait()
}

// Close releases the session store.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("close session store", slog.Any("error", err))
	}
}
