package device

import (
	"context"
	"time"
)

// State history source values.
const (
	SourcePoll     = "poll"
	SourceCommand  = "command"
	SourceRegister = "register"
)

// StateHistoryEntry is one applied state change.
type StateHistoryEntry struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`

	// Field is a State* key or one of FieldErrorState / FieldStatusIcon.
	Field string `json:"field"`
	Value any    `json:"value"`

	// Source identifies what caused the change (poll, command, register).
	Source string `json:"source"`

	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordChange records one applied change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - change: The change as delivered to registry listeners
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordChange(ctx context.Context, change Change) error

	// GetHistory returns recent changes for the device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Local device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns the count.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// HistoryListener returns a ChangeListener that records every change.
// Recording failures are logged and otherwise ignored.
func HistoryListener(repo StateHistoryRepository, logger Logger) ChangeListener {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(ctx context.Context, change Change) {
		if err := repo.RecordChange(ctx, change); err != nil {
			logger.Warn("recording state history failed",
				"device_id", change.DeviceID,
				"field", change.Field,
				"error", err,
			)
		}
	}
}
