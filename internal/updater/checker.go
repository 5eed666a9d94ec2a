package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
)

// maxOutputBytes caps how much command output is kept for logging.
const maxOutputBytes = 4096

// defaultTimeout applies when the configured timeout is zero.
const defaultTimeout = 2 * time.Minute

// ErrNoCommand is returned by NewCommandChecker for an empty command.
var ErrNoCommand = errors.New("updater: no command configured")

// Checker performs one update check.
type Checker interface {
	Check(ctx context.Context) error
}

// Logger defines the logging interface for update checks.
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

// New returns a CommandChecker when cfg names a command, otherwise a
// LogChecker.
func New(cfg config.UpdaterConfig, logger Logger) Checker {
	if logger == nil {
		logger = noopLogger{}
	}
	c, err := NewCommandChecker(cfg.Command, cfg.Timeout)
	if err != nil {
		return &LogChecker{logger: logger}
	}
	c.SetLogger(logger)
	return c
}

// LogChecker only logs that a check was due.
type LogChecker struct {
	logger Logger

	mu     sync.Mutex
	checks int
}

// NewLogChecker creates a LogChecker.
func NewLogChecker(logger Logger) *LogChecker {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogChecker{logger: logger}
}

// Check logs and returns nil.
func (c *LogChecker) Check(context.Context) error {
	c.mu.Lock()
	c.checks++
	c.mu.Unlock()
	c.logger.Info("update check due, no updater command configured")
	return nil
}

// Checks returns how many checks have run.
func (c *LogChecker) Checks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

// CommandChecker runs an external command for each check.
type CommandChecker struct {
	binary  string
	args    []string
	timeout time.Duration
	logger  Logger

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	lastTook time.Duration
}

// NewCommandChecker creates a checker for command (binary then args).
//
// Parameters:
//   - command: binary followed by its arguments
//   - timeout: per-run limit; zero uses the default
//
// Returns:
//   - *CommandChecker: checker ready for use
//   - error: ErrNoCommand if command is empty
func NewCommandChecker(command []string, timeout time.Duration) (*CommandChecker, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, ErrNoCommand
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CommandChecker{
		binary:  command[0],
		args:    append([]string(nil), command[1:]...),
		timeout: timeout,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger.
func (c *CommandChecker) SetLogger(logger Logger) {
	c.logger = logger
}

// Check runs the command and waits for it to exit or time out.
func (c *CommandChecker) Check(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info("running update check", "binary", c.binary, "args", c.args)

	var out limitedBuffer
	out.limit = maxOutputBytes

	cmd := exec.CommandContext(runCtx, c.binary, c.args...) //nolint:gosec // Command comes from operator configuration
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	if output := strings.TrimSpace(out.String()); output != "" {
		c.logger.Debug("update check output", "binary", c.binary, "output", output)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("update check timed out after %v: %w", c.timeout, runCtx.Err())
	} else if err != nil {
		err = fmt.Errorf("update check %s: %w", c.binary, err)
	}

	c.mu.Lock()
	c.lastRun, c.lastErr, c.lastTook = start, err, took
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("update check failed", "binary", c.binary, "error", err, "duration", took)
		return err
	}
	c.logger.Info("update check complete", "binary", c.binary, "duration", took)
	return nil
}

// LastRun returns the start time and result of the most recent check.
func (c *CommandChecker) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}

// limitedBuffer keeps the first limit bytes and discards the rest.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
