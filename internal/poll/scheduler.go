package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
	"github.com/nerrad567/doorbell-sync/internal/reconcile"
	"github.com/nerrad567/doorbell-sync/internal/updater"
)

// DeviceSource lists the devices to reconcile. *device.Registry satisfies it.
type DeviceSource interface {
	EnabledDevices(ctx context.Context) ([]device.Device, error)
}

// Reconciler runs one pass for one device. *reconcile.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, dev device.Device) (reconcile.Result, error)
}

// Restarter is told when the scheduler stops for a restart.
type Restarter interface {
	RequestRestart(reason string)
}

// Metrics records cycle summaries. *influxdb.Client satisfies it.
type Metrics interface {
	RecordCycle(devices, failed int, took time.Duration, at time.Time)
}

// Logger defines the logging interface for the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BreakerState is the circuit breaker position.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CycleReport summarises one RunCycle call.
type CycleReport struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// Devices is the number of devices handed to the reconciler.
	Devices int `json:"devices"`
	Failed  int `json:"failed"`

	AuthSkipped      bool `json:"auth_skipped"`
	CircuitOpen      bool `json:"circuit_open"`
	RestartTriggered bool `json:"restart_triggered"`
	UpdateTriggered  bool `json:"update_triggered"`

	// Err is set when the device list could not be read.
	Err error `json:"-"`
}

// Stats is a point-in-time view of scheduler state.
type Stats struct {
	Running        bool          `json:"running"`
	AuthFailed     bool          `json:"auth_failed"`
	Breaker        BreakerState  `json:"breaker"`
	Failures       int           `json:"failures"`
	MaxRetry       int           `json:"max_retry"`
	CycleCount     int           `json:"cycle_count"`
	RestartCeiling int           `json:"restart_ceiling"`
	Interval       time.Duration `json:"interval"`
	Cooldown       time.Duration `json:"cooldown"`
	Cycles         uint64        `json:"cycles"`
	LastCycle      time.Time     `json:"last_cycle,omitzero"`
	LastUpdate     time.Time     `json:"last_update_check,omitzero"`
	LastReport     *CycleReport  `json:"last_report,omitempty"`
}

// Scheduler runs reconciliation cycles. Create with New.
type Scheduler struct {
	devices    DeviceSource
	reconciler Reconciler
	cfg        config.PollConfig
	clock      Clock
	logger     Logger

	checker   updater.Checker
	restarter Restarter
	metrics   Metrics

	authFailed atomic.Bool
	running    atomic.Bool
	updating   atomic.Bool
	updates    sync.WaitGroup

	mu         sync.RWMutex
	failures   int
	cycleCount int
	breaker    BreakerState
	cycles     uint64
	lastCycle  time.Time
	lastUpdate time.Time
	lastReport *CycleReport
}

// New creates a Scheduler. Zero config values fall back to the defaults.
func New(devices DeviceSource, reconciler Reconciler, cfg config.PollConfig) *Scheduler {
	defaults := config.Default().Poll
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.RestartCeiling <= 0 {
		cfg.RestartCeiling = defaults.RestartCeiling
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}

	return &Scheduler{
		devices:    devices,
		reconciler: reconciler,
		cfg:        cfg,
		clock:      RealClock{},
		logger:     noopLogger{},
		breaker:    BreakerClosed,
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetClock replaces the wall clock.
func (s *Scheduler) SetClock(clock Clock) {
	s.clock = clock
}

// SetUpdateChecker sets the checker run when an update check is due.
func (s *Scheduler) SetUpdateChecker(checker updater.Checker) {
	s.checker = checker
}

// SetRestarter sets the callback told about restarts.
func (s *Scheduler) SetRestarter(r Restarter) {
	s.restarter = r
}

// SetMetrics sets an optional cycle metrics sink.
func (s *Scheduler) SetMetrics(m Metrics) {
	s.metrics = m
}

// SetAuthFailed records the outcome of the latest login.
func (s *Scheduler) SetAuthFailed(failed bool) {
	s.authFailed.Store(failed)
}

// AuthFailed reports whether cycles are being skipped for authentication.
func (s *Scheduler) AuthFailed() bool {
	return s.authFailed.Load()
}

// Run executes cycles until ctx is cancelled or a restart is due.
//
// Returns:
//   - nil: ctx was cancelled
//   - ErrRestartRequested: the restart ceiling was reached
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	// Update checks started by this run are cancelled before it returns,
	// so a restart never waits out the checker timeout.
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.updates.Wait()
	}()

	s.logger.Info("poll scheduler started",
		"interval", s.cfg.Interval,
		"max_retry", s.cfg.MaxRetry,
		"restart_ceiling", s.cfg.RestartCeiling,
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("poll scheduler stopped")
			return nil
		}

		report := s.RunCycle(ctx)
		if report.RestartTriggered {
			if s.restarter != nil {
				s.restarter.RequestRestart("cycle ceiling reached")
			}
			return ErrRestartRequested
		}

		wait := s.cfg.Interval
		if report.CircuitOpen {
			wait = s.cfg.Cooldown
		}

		select {
		case <-ctx.Done():
			s.logger.Info("poll scheduler stopped")
			return nil
		case <-s.clock.After(wait):
		}

		if report.CircuitOpen {
			s.halfOpen()
		}
	}
}

// RunCycle performs one pass over the enabled devices.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{Started: s.clock.Now()}

	if s.authFailed.Load() {
		s.logger.Debug("skipping cycle, provider authentication failed")
		report.AuthSkipped = true
		return report
	}

	report.UpdateTriggered = s.maybeCheckUpdates(ctx, report.Started)

	devices, err := s.devices.EnabledDevices(ctx)
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		report.Err = err
		s.finish(&report)
		return report
	}

	for _, dev := range devices {
		if ctx.Err() != nil {
			break
		}

		if s.tripped() {
			s.logger.Error("provider failing repeatedly, suspending reconciliation",
				"failures", s.Stats().Failures,
				"max_retry", s.cfg.MaxRetry,
				"cooldown", s.cfg.Cooldown,
				"action", "check provider connectivity and credentials",
			)
			report.CircuitOpen = true
			break
		}

		report.Devices++
		_, err := s.reconciler.Reconcile(ctx, dev)
		if err != nil {
			report.Failed++
			reopened := s.recordFailure()
			s.logFailure(dev, err)
			if reopened {
				s.logger.Error("half-open attempt failed, circuit re-opened", "device_id", dev.ID)
				report.CircuitOpen = true
			}
		} else if s.recordSuccess() {
			s.logger.Info("provider recovered, circuit closed", "device_id", dev.ID)
		}

		if s.countPass() {
			s.logger.Info("restart ceiling reached, restarting poll loop",
				"ceiling", s.cfg.RestartCeiling,
			)
			report.RestartTriggered = true
			break
		}
		if report.CircuitOpen {
			break
		}
	}

	s.finish(&report)
	return report
}

func (s *Scheduler) logFailure(dev device.Device, err error) {
	args := []any{"device_id", dev.ID, "provider_id", dev.ProviderID, "error", err}
	var rerr *reconcile.ReconcileError
	if errors.As(err, &rerr) {
		args = append(args, "stage", rerr.Stage)
	}
	s.logger.Warn("reconcile failed", args...)
}

func (s *Scheduler) finish(report *CycleReport) {
	report.Duration = s.clock.Now().Sub(report.Started)

	s.mu.Lock()
	s.cycles++
	s.lastCycle = report.Started
	r := *report
	s.lastReport = &r
	s.mu.Unlock()

	if s.metrics != nil && report.Err == nil {
		s.metrics.RecordCycle(report.Devices, report.Failed, report.Duration, report.Started)
	}
}

// tripped reports whether the breaker blocks the next reconcile. It
// moves a closed breaker to open when the failure limit is reached.
func (s *Scheduler) tripped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.breaker {
	case BreakerHalfOpen:
		return false
	case BreakerOpen:
		return true
	}
	if s.cfg.MaxRetry == 0 || s.failures < s.cfg.MaxRetry {
		return false
	}
	s.breaker = BreakerOpen
	return true
}

// recordFailure increments the failure count. It returns true when a
// half-open attempt failed and the breaker re-opened.
func (s *Scheduler) recordFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.breaker == BreakerHalfOpen {
		s.breaker = BreakerOpen
		return true
	}
	return false
}

// recordSuccess resets the failure count. It returns true when a
// half-open attempt closed the breaker.
func (s *Scheduler) recordSuccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	if s.breaker == BreakerHalfOpen {
		s.breaker = BreakerClosed
		return true
	}
	return false
}

func (s *Scheduler) halfOpen() {
	s.mu.Lock()
	if s.breaker == BreakerOpen {
		s.breaker = BreakerHalfOpen
	}
	s.mu.Unlock()
	s.logger.Info("cooldown elapsed, allowing one attempt")
}

// countPass increments the device-pass counter and reports whether the
// ceiling was reached. The counter resets to zero when it trips.
func (s *Scheduler) countPass() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleCount++
	if s.cycleCount >= s.cfg.RestartCeiling {
		s.cycleCount = 0
		return true
	}
	return false
}

// maybeCheckUpdates starts a background update check when one is due
// and none is running.
func (s *Scheduler) maybeCheckUpdates(ctx context.Context, now time.Time) bool {
	interval := s.cfg.UpdateInterval()
	if s.checker == nil || interval <= 0 {
		return false
	}

	s.mu.Lock()
	due := s.lastUpdate.IsZero() || now.Sub(s.lastUpdate) >= interval
	if due {
		s.lastUpdate = now
	}
	s.mu.Unlock()
	if !due {
		return false
	}

	if !s.updating.CompareAndSwap(false, true) {
		s.logger.Debug("update check still running, skipping")
		return false
	}

	s.updates.Add(1)
	go func() {
		defer s.updates.Done()
		defer s.updating.Store(false)
		if err := s.checker.Check(ctx); err != nil {
			s.logger.Warn("update check failed", "error", err)
		}
	}()
	return true
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Running:        s.running.Load(),
		AuthFailed:     s.authFailed.Load(),
		Breaker:        s.breaker,
		Failures:       s.failures,
		MaxRetry:       s.cfg.MaxRetry,
		CycleCount:     s.cycleCount,
		RestartCeiling: s.cfg.RestartCeiling,
		Interval:       s.cfg.Interval,
		Cooldown:       s.cfg.Cooldown,
		Cycles:         s.cycles,
		LastCycle:      s.lastCycle,
		LastUpdate:     s.lastUpdate,
	}
	if s.lastReport != nil {
		r := *s.lastReport
		st.LastReport = &r
	}
	return st
}
