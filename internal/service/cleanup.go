package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arenalab/authcore/internal/logger"
	"github.com/arenalab/authcore/internal/model"
)

// SweeperConfig carries the cleanup schedule.
type SweeperConfig struct {
	Interval time.Duration
}

const defaultSweepInterval = time.Hour

// Sweeper periodically deletes expired and revoked refresh token records.
// It is started and stopped explicitly by the process; a tick that fires
// while the previous sweep is still running is suppressed, not queued, and a
// failed sweep only logs: the next tick proceeds normally.
type Sweeper struct {
	store    model.RefreshTokenStore
	interval time.Duration
	logger   *logger.Logger

	sweeping sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mDeleted  prometheus.Counter
	mErrors   prometheus.Counter
	mDuration prometheus.Histogram
}

func NewSweeper(store model.RefreshTokenStore, cfg SweeperConfig, logger *logger.Logger, reg prometheus.Registerer) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}

	s := &Sweeper{
		store:    store,
		interval: cfg.Interval,
		logger:   logger,
		mDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_sweep_deleted_total",
			Help: "Refresh token records deleted by the cleanup sweep",
		}),
		mErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_sweep_errors_total",
			Help: "Cleanup sweeps that failed",
		}),
		mDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authcore_sweep_duration_seconds",
			Help:    "Cleanup sweep duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(s.mDeleted, s.mErrors, s.mDuration)
	}
	return s
}

// Start launches the periodic sweep loop. An initial sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. It returns immediately when another sweep is
// already in flight.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.sweeping.TryLock() {
		s.logger.Warn("previous cleanup sweep still running, skipping tick")
		return
	}
	defer s.sweeping.Unlock()

	start := time.Now()
	deleted, err := s.store.DeleteExpiredAndRevoked(ctx, start)
	s.mDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.mErrors.Inc()
		s.logger.Error("cleanup sweep failed", "error", err)
		return
	}

	s.mDeleted.Add(float64(deleted))
	if deleted > 0 {
		s.logger.Info("cleanup sweep finished", "deleted", deleted, "duration_ms", time.Since(start).Milliseconds())
	}
}
