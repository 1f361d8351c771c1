// Package database provides SQLite connectivity for the VRM cloud bridge.
//
// The database holds the credential row (when cache.backend is "sqlite") and
// the cycle journal read by the status API.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded, additive-only schema migrations
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
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
