// Package sweep runs the periodic jobs that bound resource lifetime:
// expiring pending requests and evicting idle sessions.
package sweep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPendingInterval = time.Second
	DefaultIdleInterval    = 60 * time.Second
)

// PendingSweeper expires requests that waited too long
type PendingSweeper interface {
	SweepExpired(now time.Time) int
}

// IdleEvictor evicts sessions without recent activity
type IdleEvictor interface {
	EvictIdle(now time.Time) int
}

// Config sets the sweep intervals
type Config struct {
	PendingInterval time.Duration
	IdleInterval    time.Duration
}

// Scheduler drives both sweeps on independent tickers
type Scheduler struct {
	pending PendingSweeper
	idle    IdleEvictor
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. Either sweeper may be nil.
func NewScheduler(pending PendingSweeper, idle IdleEvictor, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.PendingInterval <= 0 {
		cfg.PendingInterval = DefaultPendingInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		pending: pending,
		idle:    idle,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start launches the sweeps. They stop when ctx is cancelled; Wait blocks
// until both have returned.
func (s *Scheduler) Start(ctx context.Context) {
	if s.pending != nil {
		s.run(ctx, "pending", s.cfg.PendingInterval, func(now time.Time) int {
			return s.pending.SweepExpired(now)
		})
	}
	if s.idle != nil {
		s.run(ctx, "idle", s.cfg.IdleInterval, func(now time.Time) int {
			return s.idle.EvictIdle(now)
		})
	}
	s.logger.Info("Sweep jobs started",
		zap.Duration("pending_interval", s.cfg.PendingInterval),
		zap.Duration("idle_interval", s.cfg.IdleInterval),
	)
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, sweep func(time.Time) int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(name, sweep)
			}
		}
	}()
}

// tick runs one sweep, containing any panic to this iteration
func (s *Scheduler) tick(name string, sweep func(time.Time) int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sweep panicked", zap.String("sweep", name), zap.Any("panic", r))
		}
	}()

	if n := sweep(s.now()); n > 0 {
		s.logger.Debug("Sweep reclaimed entries",
			zap.String("sweep", name),
			zap.Int("count", n),
		)
	}
}

// Wait blocks until every sweep goroutine has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
