package db

import (
	"compress/gzip"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "odometry.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB_Pragmas(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestOpenDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(Migrations())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("expected clean version 2, got %d dirty=%t", version, dirty)
	}

	for _, table := range []string{"sessions", "poses", "pid_runs"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s missing (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestOpenDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if _, err := db.StartSession("sim", "first", testStart); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	db.Close()

	db, err = OpenDB(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	sessions, err := db.Sessions()
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Note != "first" {
		t.Errorf("unexpected sessions after reopen: %+v", sessions)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(Migrations()); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err := db.MigrateVersion(Migrations())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1 after down, got %d", version)
	}
	if _, err := db.Exec(`SELECT COUNT(*) FROM pid_runs`); err == nil {
		t.Error("pid_runs should be gone after rolling back")
	}

	if err := db.MigrateUp(Migrations()); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	version, _, _ = db.MigrateVersion(Migrations())
	if version != 2 {
		t.Errorf("expected version 2 after up, got %d", version)
	}
}

func TestMigrateUp_BrokenMigration(t *testing.T) {
	db := newTestDB(t)
	broken := fstest.MapFS{
		"000003_broken.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE oops (")},
		"000003_broken.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	entries, err := fs.ReadDir(Migrations(), ".")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		data, err := fs.ReadFile(Migrations(), e.Name())
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		broken[e.Name()] = &fstest.MapFile{Data: data}
	}

	if err := db.MigrateUp(broken); err == nil {
		t.Fatal("expected error from broken migration")
	}
	_, dirty, err := db.MigrateVersion(broken)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if !dirty {
		t.Error("a failed migration should leave the schema dirty")
	}
	if err := db.MigrateForce(broken, 2); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}
	_, dirty, _ = db.MigrateVersion(Migrations())
	if dirty {
		t.Error("MigrateForce should clear the dirty flag")
	}
}

func localRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.StartSession("sim", "", testStart); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/"))
	if w.Code != http.StatusOK {
		t.Fatalf("/debug/ returned %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Sessions", "Schema version", "tailsql", "backup"} {
		if !strings.Contains(body, want) {
			t.Errorf("/debug/ index missing %q", want)
		}
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/backup"))
	if w.Code != http.StatusOK {
		t.Fatalf("/debug/backup returned %d: %s", w.Code, w.Body.String())
	}
	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !strings.HasPrefix(string(data), "SQLite format 3") {
		t.Error("backup does not look like a sqlite database")
	}
}
