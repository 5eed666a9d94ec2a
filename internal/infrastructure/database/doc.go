// Package database provides SQLite connectivity for the doorbell-sync device store.
//
// This package manages:
//   - Database connection with WAL mode and busy timeout
//   - Embedded schema migrations (one transaction per migration)
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
