package device

import (
	"context"
	"database/sql"
	"testing"

	"github.com/nerrad567/doorbell-sync/internal/infrastructure/database"
	_ "github.com/nerrad567/doorbell-sync/migrations"
)

// setupTestDB opens an in-memory database with the real migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

// testDevice returns a valid device that is not yet persisted.
func testDevice(providerID, name string) *Device {
	return &Device{
		ProviderID: providerID,
		Name:       name,
		Enabled:    true,
	}
}
