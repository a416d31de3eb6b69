// Package database provides the SQLite persistence layer for the
// telemetry core.
//
// # Features
//
//   - WAL mode for concurrent reads during ingest writes
//   - Foreign key enforcement
//   - Embedded schema migrations applied at startup
//   - Health checks for the readiness endpoint
//
// # Migrations
//
// Migration files live in the top-level migrations directory and are
// embedded into the binary. Filenames follow the scheme
// YYYYMMDD_HHMMSS_description.up.sql with a matching .down.sql for
// rollback. Each migration runs in its own transaction.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        "./data/telemetry.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
