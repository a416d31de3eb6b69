// Package migrations embeds SQL migration files into the binary.
//
// This allows the telemetry core to run migrations without the SQL files
// being present on the filesystem - they're compiled into the executable.
package migrations

import (
	"embed"

	"github.com/astrodev/telemetry-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package.
	// The embed directive above captures all .sql files in this directory.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
