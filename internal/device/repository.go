package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its local identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByProviderID retrieves a device by the provider's identifier.
	GetByProviderID(ctx context.Context, providerID string) (*Device, error)

	// List retrieves all devices ordered by position, then name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID or provider ID is taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies name, enabled flag and position.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	Delete(ctx context.Context, id string) error

	// PatchStates merges the given keys into the stored states.
	// A nil value removes the key.
	PatchStates(ctx context.Context, id string, patch State) error

	// UpdateErrorState sets the device-level error message.
	UpdateErrorState(ctx context.Context, id, message string) error

	// UpdateStatusIcon sets the status icon classification.
	UpdateStatusIcon(ctx context.Context, id, icon string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDeviceColumns = `
	SELECT id, provider_id, name, enabled, states, error_state, status_icon,
		position, created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its local identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceColumns+" WHERE id = ?", id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByProviderID retrieves a device by the provider's identifier.
func (r *SQLiteRepository) GetByProviderID(ctx context.Context, providerID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceColumns+" WHERE provider_id = ?", providerID)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by provider id: %w", err)
	}
	return device, nil
}

// List retrieves all devices in cycle order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDeviceColumns+" ORDER BY position, name, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device. CreatedAt and UpdatedAt are set on the
// passed device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	states := device.States
	if states == nil {
		states = State{}
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("marshalling states: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, provider_id, name, enabled, states, error_state,
			status_icon, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.ProviderID,
		device.Name,
		boolToInt(device.Enabled),
		string(statesJSON),
		device.ErrorState,
		device.StatusIcon,
		device.Position,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	device.CreatedAt = now
	device.UpdatedAt = now
	return nil
}

// Update modifies the host-owned fields of a device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	now := time.Now().UTC().Truncate(time.Second)
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, enabled = ?, position = ?, updated_at = ?
		WHERE id = ?`,
		device.Name,
		boolToInt(device.Enabled),
		device.Position,
		now.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	device.UpdatedAt = now
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// PatchStates merges patch into the stored states with json_patch, which
// keeps keys absent from the patch and removes keys patched to null.
func (r *SQLiteRepository) PatchStates(ctx context.Context, id string, patch State) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshalling state patch: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET states = json_patch(COALESCE(states, '{}'), ?),
		    updated_at = ?
		WHERE id = ?`,
		string(patchJSON),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device states: %w", err)
	}
	return requireRow(result)
}

// UpdateErrorState sets the device-level error message.
func (r *SQLiteRepository) UpdateErrorState(ctx context.Context, id, message string) error {
	return r.updateColumn(ctx, id, "error_state", message)
}

// UpdateStatusIcon sets the status icon.
func (r *SQLiteRepository) UpdateStatusIcon(ctx context.Context, id, icon string) error {
	return r.updateColumn(ctx, id, "status_icon", icon)
}

// updateColumn writes one text column. column is never user input.
func (r *SQLiteRepository) updateColumn(ctx context.Context, id, column, value string) error {
	query := "UPDATE devices SET " + column + " = ?, updated_at = ? WHERE id = ?" // #nosec G202 -- column is a constant
	result, err := r.db.ExecContext(ctx, query, value, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var (
		d          Device
		enabled    int
		statesJSON string
		createdAt  string
		updatedAt  string
	)

	if err := scanner.Scan(
		&d.ID,
		&d.ProviderID,
		&d.Name,
		&enabled,
		&statesJSON,
		&d.ErrorState,
		&d.StatusIcon,
		&d.Position,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	d.Enabled = enabled != 0
	d.States = State{}
	if statesJSON != "" {
		if err := json.Unmarshal([]byte(statesJSON), &d.States); err != nil {
			return nil, fmt.Errorf("unmarshalling states for %s: %w", d.ID, err)
		}
	}

	var err error
	if d.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// parseTimestamp parses a timestamp column written by SQLite or by this package.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t.UTC(), nil
	}
	if fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
