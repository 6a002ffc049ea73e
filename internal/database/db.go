package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DB wraps the single-file ledger store. One process opens a store for
// writing at a time; SQLite's file locking is the only cross-process guard.
type DB struct {
	conn *sql.DB
	path string
	log  zerolog.Logger
}

// Open opens (or creates) the store file. Foreign keys are enforced and WAL
// mode keeps readers unblocked by the writer. Call Migrate before using the
// store.
func Open(dbPath string, log zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{
		conn: conn,
		path: dbPath,
		log:  log.With().Str("component", "database").Logger(),
	}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the store's file path.
func (db *DB) Path() string {
	return db.path
}

// BackupTo writes a consistent copy of the store to destPath using
// VACUUM INTO, which snapshots without blocking readers.
func (db *DB) BackupTo(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backup to %s: %w", destPath, err)
	}
	db.log.Info().Str("dest", destPath).Msg("backup written")
	return nil
}
