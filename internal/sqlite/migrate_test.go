package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"curator/internal/sqlite"
)

func TestMigrateAppliesInOrderOnce(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// Listed out of lexical order on purpose; the seed insert only works if
	// the create ran first.
	files := fstest.MapFS{
		"migrations/0002_seed.sql": {Data: []byte(`INSERT INTO items (name) VALUES ('seed');`)},
		"migrations/0001_base.sql": {Data: []byte(`CREATE TABLE items (name TEXT NOT NULL);`)},
	}

	ctx := context.Background()
	if err := sqlite.Migrate(ctx, db, files, "migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := sqlite.Migrate(ctx, db, files, "migrations"); err != nil {
		t.Fatalf("second migrate should be a no-op, got %v", err)
	}

	var items int
	if err := db.QueryRow(`SELECT COUNT(1) FROM items`).Scan(&items); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if items != 1 {
		t.Fatalf("seed migration should run exactly once, got %d rows", items)
	}

	var versions int
	if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&versions); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if versions != 2 {
		t.Fatalf("expected 2 recorded versions, got %d", versions)
	}
}
