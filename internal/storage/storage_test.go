package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_MemoryAppliesMigrations(t *testing.T) {
	db, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for _, table := range []string{"tests", "test_logs"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_FileIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookwait.db")
	db, err := Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO tests (test_id, status, created_at, timeout_at) VALUES ('a', 'pending', 1, 2)`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tests`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after reopen, got %d", n)
	}

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %s", mode)
	}
}

func TestForeignKeysCascade(t *testing.T) {
	db, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO tests (test_id, status, created_at, timeout_at) VALUES ('a', 'completed', 1, 2)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO test_logs (test_id, event_type, level, message, timestamp) VALUES ('a', 'created', 'info', 'm', 1)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DELETE FROM tests WHERE test_id = 'a'`); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM test_logs`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected logs to cascade, %d left", n)
	}
}

func TestIsConstraint(t *testing.T) {
	db, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	insert := `INSERT INTO tests (test_id, status, created_at, timeout_at) VALUES ('dup', 'pending', 1, 2)`
	if _, err := db.Exec(insert); err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(insert)
	if !IsConstraint(err) {
		t.Errorf("expected constraint error, got %v", err)
	}
	if IsConstraint(nil) {
		t.Error("nil is not a constraint error")
	}
}
