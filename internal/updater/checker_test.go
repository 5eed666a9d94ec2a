package updater

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
)

type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args) }
func (l *testLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args) }

func (l *testLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := level + " " + msg
	for _, a := range args {
		if s, ok := a.(string); ok {
			line += " " + s
		}
	}
	l.entries = append(l.entries, line)
}

func (l *testLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

func TestNew_SelectsChecker(t *testing.T) {
	if _, ok := New(config.UpdaterConfig{}, nil).(*LogChecker); !ok {
		t.Error("New() with no command should return *LogChecker")
	}
	if _, ok := New(config.UpdaterConfig{Command: []string{"true"}}, nil).(*CommandChecker); !ok {
		t.Error("New() with a command should return *CommandChecker")
	}
}

func TestNewCommandChecker_Empty(t *testing.T) {
	tests := [][]string{nil, {}, {"  "}}
	for _, cmd := range tests {
		if _, err := NewCommandChecker(cmd, 0); !errors.Is(err, ErrNoCommand) {
			t.Errorf("NewCommandChecker(%q) error = %v, want ErrNoCommand", cmd, err)
		}
	}
}

func TestLogChecker(t *testing.T) {
	logger := &testLogger{}
	c := NewLogChecker(logger)

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if c.Checks() != 1 {
		t.Errorf("Checks() = %d, want 1", c.Checks())
	}
	if !logger.contains("update check due") {
		t.Error("expected an info entry for the due check")
	}
}

func TestCommandChecker_Success(t *testing.T) {
	logger := &testLogger{}
	c, err := NewCommandChecker([]string{"sh", "-c", "echo up to date"}, time.Second*5)
	if err != nil {
		t.Fatalf("NewCommandChecker() error = %v", err)
	}
	c.SetLogger(logger)

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !logger.contains("up to date") {
		t.Error("expected command output to be logged")
	}
	if at, lastErr := c.LastRun(); at.IsZero() || lastErr != nil {
		t.Errorf("LastRun() = (%v, %v), want a time and nil", at, lastErr)
	}
}

func TestCommandChecker_Failure(t *testing.T) {
	c, err := NewCommandChecker([]string{"sh", "-c", "exit 3"}, time.Second*5)
	if err != nil {
		t.Fatalf("NewCommandChecker() error = %v", err)
	}

	if err := c.Check(context.Background()); err == nil {
		t.Fatal("Check() error = nil, want exit status error")
	}
}

func TestCommandChecker_Timeout(t *testing.T) {
	c, err := NewCommandChecker([]string{"sleep", "5"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCommandChecker() error = %v", err)
	}

	start := time.Now()
	err = c.Check(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Check() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Check() did not honour the timeout")
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 5}
	n, err := b.Write([]byte("abcdefgh"))
	if err != nil || n != 8 {
		t.Errorf("Write() = (%d, %v), want (8, nil)", n, err)
	}
	b.Write([]byte("more")) //nolint:errcheck // Never fails
	if got := b.String(); got != "abcde" {
		t.Errorf("String() = %q, want %q", got, "abcde")
	}
}
