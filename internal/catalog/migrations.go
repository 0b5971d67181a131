package catalog

import (
	"context"
	"embed"

	"curator/internal/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func (s *Store) applyMigrations(ctx context.Context) error {
	return sqlite.Migrate(ctx, s.db, migrationFS, "migrations")
}
