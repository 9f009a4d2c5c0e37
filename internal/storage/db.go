// Package storage provides the sqlite-backed persistence layer for the
// sentry monitoring agent: connection setup, schema migration, and
// per-entity repositories.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

//go:embed schema/sentry_schema.sql
var schemaSQL string

// Profile selects PRAGMA tuning appropriate to how a table is used.
// The whole store is one sqlite file, so the profile applies process-wide;
// it is kept as a concept (rather than collapsed to one PRAGMA set)
// because the alert_history/outbox tables want ledger-like durability while
// rolling_data_point wants cache-like throughput, and a future split into
// ATTACHed databases should be a one-line change, not a rewrite.
type Profile string

const (
	ProfileLedger   Profile = "ledger"
	ProfileCache    Profile = "cache"
	ProfileStandard Profile = "standard"
)

// Config configures the sqlite connection.
type Config struct {
	Path    string
	Profile Profile
}

// DB wraps the sqlite connection with production-grade pool and PRAGMA setup.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// New opens (creating if absent) the sqlite database at cfg.Path.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if dir := filepath.Dir(absPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	configureConnectionPool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile}, nil
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=auto_vacuum(FULL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)"

	return connStr
}

func configureConnectionPool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if profile == ProfileCache {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}
}

// Migrate applies the embedded schema. Safe to call on every startup.
func (db *DB) Migrate() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}

	if _, err := tx.Exec(schemaSQL); err != nil {
		_ = tx.Rollback()
		errStr := err.Error()
		if strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists") {
			return nil
		}
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for repository construction.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// WithTransaction runs fn inside a transaction, rolling back on error or
// panic and committing otherwise. Recovers a panic from fn into an error.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck runs sqlite's integrity_check in addition to a ping.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// QuickCheck is a cheap liveness probe (ping only).
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint; mode is PASSIVE/FULL/RESTART/TRUNCATE.
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Stats reports basic file and page-level database statistics.
type Stats struct {
	SizeBytes     int64
	WALSizeBytes  int64
	PageCount     int64
	PageSize      int64
	FreelistCount int64
}

// GetStats retrieves database statistics used by the /memory endpoint.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}

	if fi, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = fi.Size()
	}
	if err := db.conn.QueryRow("PRAGMA page_count").Scan(&stats.PageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA page_size").Scan(&stats.PageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA freelist_count").Scan(&stats.FreelistCount); err != nil {
		return nil, fmt.Errorf("freelist count: %w", err)
	}

	return stats, nil
}
