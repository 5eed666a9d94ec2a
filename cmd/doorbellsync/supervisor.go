package main

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/engine"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/logging"
	"github.com/nerrad567/doorbell-sync/internal/poll"
	"github.com/nerrad567/doorbell-sync/internal/updater"
)

// supervisor owns the poll scheduler. When the scheduler asks for a restart
// it refreshes the registry cache and starts a fresh scheduler with zeroed
// counters; the process keeps running.
type supervisor struct {
	registry   *device.Registry
	reconciler poll.Reconciler
	engine     *engine.Engine
	cfg        config.PollConfig
	log        *logging.Logger

	checker updater.Checker
	metrics poll.Metrics
	clock   poll.Clock

	current  atomic.Pointer[poll.Scheduler]
	restarts atomic.Int64
}

func newSupervisor(registry *device.Registry, reconciler poll.Reconciler, eng *engine.Engine, cfg config.PollConfig, log *logging.Logger) *supervisor {
	return &supervisor{
		registry:   registry,
		reconciler: reconciler,
		engine:     eng,
		cfg:        cfg,
		log:        log,
	}
}

// build wires a new scheduler. The engine pushes its auth flag into it.
func (s *supervisor) build() *poll.Scheduler {
	sched := poll.New(s.registry, s.reconciler, s.cfg)
	sched.SetLogger(s.log)
	sched.SetRestarter(s)
	if s.checker != nil {
		sched.SetUpdateChecker(s.checker)
	}
	if s.metrics != nil {
		sched.SetMetrics(s.metrics)
	}
	if s.clock != nil {
		sched.SetClock(s.clock)
	}
	s.engine.SetAuthTracker(sched)
	s.current.Store(sched)
	return sched
}

// run blocks until ctx is cancelled or the scheduler fails.
func (s *supervisor) run(ctx context.Context) error {
	for {
		err := s.build().Run(ctx)
		if !errors.Is(err, poll.ErrRestartRequested) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if refreshErr := s.registry.RefreshCache(ctx); refreshErr != nil {
			s.log.Warn("registry refresh after restart failed", "error", refreshErr)
		}
		s.log.Info("poll scheduler restarting", "restarts", s.restarts.Load())
	}
}

// RequestRestart implements poll.Restarter.
func (s *supervisor) RequestRestart(reason string) {
	n := s.restarts.Add(1)
	s.log.Info("poll restart requested", "reason", reason, "restarts", n)
}

// Stats returns the running scheduler's stats, or zero stats before the
// first scheduler is built.
func (s *supervisor) Stats() poll.Stats {
	sched := s.current.Load()
	if sched == nil {
		return poll.Stats{Breaker: poll.BreakerClosed}
	}
	return sched.Stats()
}
