// Package migrations embeds the SQL schema for the device store.
//
// Importing this package (usually as a blank import from main) registers the
// files with the database package so db.Migrate can apply them.
package migrations

import (
	"embed"

	"github.com/nerrad567/doorbell-sync/internal/infrastructure/database"
)

// FS holds the migration files.
//
//go:embed *.sql
var FS embed.FS

func init() {
	database.RegisterMigrations(FS, ".")
}
