package sqlitemigrate

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	db := openInMemoryDB(t)

	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);"),
		},
	}
	if err := ApplyMigrations(db, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := openInMemoryDB(t)

	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);"),
		},
	}
	if err := ApplyMigrations(db, migrations); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplyMigrations(db, migrations); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestApplyMigrationsRunsInLexicalOrder(t *testing.T) {
	db := openInMemoryDB(t)

	migrations := fstest.MapFS{
		"002_add_column.sql": &fstest.MapFile{
			Data: []byte("ALTER TABLE items ADD COLUMN label TEXT;"),
		},
		"001_create.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);"),
		},
	}
	if err := ApplyMigrations(db, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := db.Exec("INSERT INTO items(id, label) VALUES ('a', 'b')"); err != nil {
		t.Fatalf("expected both migrations applied: %v", err)
	}
}

func TestApplyMigrationsToleratesExistingDDL(t *testing.T) {
	db := openInMemoryDB(t)

	if _, err := db.Exec("CREATE TABLE items(id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("pre-create table: %v", err)
	}
	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);"),
		},
	}
	if err := ApplyMigrations(db, migrations); err != nil {
		t.Fatalf("apply against existing schema: %v", err)
	}
}
