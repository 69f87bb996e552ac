// Package sweeper periodically removes sessions that have been inactive for
// longer than the configured limit.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/logging"
)

// Expirer deletes sessions last modified at or before a cutoff.
type Expirer interface {
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config sets the sweep cadence and the inactivity limit.
type Config struct {
	Interval    time.Duration
	MaxInactive time.Duration
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source used to compute cutoffs.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Sweeper runs expiry passes against a store.
type Sweeper struct {
	store  Expirer
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger
}

// New validates cfg and builds a Sweeper.
func New(store Expirer, cfg Config, logger *slog.Logger, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MaxInactive <= 0 {
		return nil, fmt.Errorf("max inactive must be positive, got %s", cfg.MaxInactive)
	}
	s := &Sweeper{
		store:  store,
		cfg:    cfg,
		clock:  time.Now,
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SweepOnce deletes sessions idle for at least MaxInactive.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.cfg.MaxInactive)
	deleted, err := s.store.DeleteExpiredSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return deleted, nil
}

// Run sweeps immediately and then every Interval until ctx is done. Sweep
// failures are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "session sweep failed", slog.Any("error", err))
		}
		return
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "expired sessions removed", slog.Int64("deleted", deleted))
	}
}
