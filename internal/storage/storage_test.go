package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/testutil/sqlstub"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("ROLLCALL_STORAGE_DRIVER", "")
	t.Setenv("ROLLCALL_SQLITE_PATH", "")
	t.Setenv("ROLLCALL_POSTGRES_DSN", "")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverSQLite || cfg.SQLitePath != "" || cfg.PostgresDSN != "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestConfigFromEnvPostgres(t *testing.T) {
	t.Setenv("ROLLCALL_STORAGE_DRIVER", "postgres")
	t.Setenv("ROLLCALL_POSTGRES_DSN", "postgres://db/rollcall")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverPostgres || cfg.PostgresDSN != "postgres://db/rollcall" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestOpenSQLiteMemory(t *testing.T) {
	h, err := Open(context.Background(), Config{Driver: DriverSQLite, SQLitePath: MemoryPath})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	if h.Dialect.Name != "sqlite" || h.Driver != DriverSQLite {
		t.Fatalf("unexpected handle %+v", h)
	}
	if got := h.DB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("max open connections = %d, want 1", got)
	}
	// A single connection keeps the in-memory database alive across statements.
	if _, err := h.DB.Exec(`CREATE TABLE probe (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	var n int
	if err := h.DB.QueryRow(`SELECT count(*) FROM probe`).Scan(&n); err != nil {
		t.Fatalf("probe table vanished: %v", err)
	}
}

func TestOpenSQLiteFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollcall.db")
	t.Setenv("ROLLCALL_STORAGE_DRIVER", "sqlite")
	t.Setenv("ROLLCALL_SQLITE_PATH", path)
	h, err := OpenFromEnv(context.Background())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = h.Close() }()
	if _, err := h.DB.Exec(`CREATE TABLE probe (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file at %s: %v", path, err)
	}
}

func TestOpenPostgresUsesPgxAndDefaultDSN(t *testing.T) {
	db, _ := sqlstub.Open()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	defer restore()

	h, err := Open(context.Background(), Config{Driver: DriverPostgres})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = h.Close() }()
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("opened %s %s", gotDriver, gotDSN)
	}
	if h.Dialect.Name != "postgres" || !h.Dialect.Returning {
		t.Fatalf("unexpected dialect %+v", h.Dialect)
	}
}

func TestOpenPostgresPingFailure(t *testing.T) {
	db, conn := sqlstub.Open()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	_, err := Open(context.Background(), Config{Driver: DriverPostgres, PostgresDSN: "postgres://unreachable"})
	if err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestOpenPropagatesOpenError(t *testing.T) {
	boom := errors.New("bad dsn")
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, boom })
	defer restore()
	if _, err := Open(context.Background(), Config{Driver: DriverPostgres}); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenSQLiteDefaultsToFile(t *testing.T) {
	wd, _ := os.Getwd()
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	h, err := Open(context.Background(), Config{Driver: DriverSQLite})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := h.DB.Exec(`CREATE TABLE kept (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = h.Close()
	if _, err := os.Stat(filepath.Join(dir, "rollcall.db")); err != nil {
		t.Fatalf("expected default database file: %v", err)
	}

	h, err = Open(context.Background(), Config{Driver: DriverSQLite})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = h.Close() }()
	var n int
	if err := h.DB.QueryRow(`SELECT count(*) FROM kept`).Scan(&n); err != nil {
		t.Fatalf("table lost between opens: %v", err)
	}
}
