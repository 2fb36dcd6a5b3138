// Package storage opens the database handle a gateway executes against and
// pairs it with the matching SQL dialect.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"rollcall/internal/orm"
)

// Driver identifies a database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// MemoryPath opens a private in-memory SQLite database that lives as long
// as its Handle.
const MemoryPath = ":memory:"

const (
	defaultSQLitePath = "./rollcall.db"
	defaultDSN        = "postgres://localhost/rollcall?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Config selects and addresses a backend.
type Config struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
}

// ConfigFromEnv reads the backend configuration from the environment.
//
//	ROLLCALL_STORAGE_DRIVER: sqlite|postgres (default sqlite)
//	ROLLCALL_SQLITE_PATH: sqlite file (default ./rollcall.db, or :memory:)
//	ROLLCALL_POSTGRES_DSN: postgres DSN when driver=postgres
func ConfigFromEnv() Config {
	driver := Driver(os.Getenv("ROLLCALL_STORAGE_DRIVER"))
	if driver == "" {
		driver = DriverSQLite
	}
	return Config{
		Driver:      driver,
		SQLitePath:  os.Getenv("ROLLCALL_SQLITE_PATH"),
		PostgresDSN: os.Getenv("ROLLCALL_POSTGRES_DSN"),
	}
}

// Handle is an open database and the dialect to speak to it. The caller
// owns it and must Close it.
type Handle struct {
	DB      *sql.DB
	Dialect orm.Dialect
	Driver  Driver
}

// Close closes the underlying database.
func (h *Handle) Close() error { return h.DB.Close() }

// Open connects to the configured backend and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		db, err := open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// Every connection to MemoryPath is a separate database, and the
		// identity of an insert is only visible on its own connection.
		db.SetMaxOpenConns(1)
		return ping(ctx, db, DriverSQLite, orm.SQLite)
	case DriverPostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = defaultDSN
		}
		db, err := open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return ping(ctx, db, DriverPostgres, orm.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// OpenFromEnv is Open(ctx, ConfigFromEnv()).
func OpenFromEnv(ctx context.Context) (*Handle, error) {
	return Open(ctx, ConfigFromEnv())
}

func open(driverName, dsn string) (*sql.DB, error) {
	openMu.Lock()
	defer openMu.Unlock()
	return sqlOpen(driverName, dsn)
}

func ping(ctx context.Context, db *sql.DB, driver Driver, dialect orm.Dialect) (*Handle, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Handle{DB: db, Dialect: dialect, Driver: driver}, nil
}

// OverrideSQLOpen swaps the sql.Open function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
