package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultFileName is the database file created under the data directory.
const DefaultFileName = "star_forensics.db"

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	codec    *reportCodec
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the sqlite run sink at path and migrates it.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite serializes writers; a small pool avoids busy errors
	pool := NewConnectionPool(db, 4, 2, 5*time.Minute)

	codec, err := newReportCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	database := &DB{
		DB:       db,
		pool:     pool,
		codec:    codec,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Run database initialized", "path", path, "max_open_conns", pool.maxOpenConns)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			repository TEXT NOT NULL,
			generated_at DATETIME NOT NULL,
			records INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			duplicates INTEGER NOT NULL,
			real_count INTEGER NOT NULL,
			fake_count INTEGER NOT NULL,
			clusters INTEGER NOT NULL,
			spikes INTEGER NOT NULL,
			warnings INTEGER NOT NULL,
			config TEXT NOT NULL, -- JSON analysis config
			report BLOB NOT NULL  -- zstd-compressed JSON report
		)`,

		`CREATE TABLE IF NOT EXISTS classified_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			account_id TEXT NOT NULL,
			starred_at DATETIME NOT NULL,
			verdict TEXT NOT NULL,
			reasons TEXT NOT NULL, -- comma separated reason tags
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS period_rollups (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			total INTEGER NOT NULL,
			real_count INTEGER NOT NULL,
			fake_count INTEGER NOT NULL,
			fake_pct REAL NOT NULL,
			duration_days REAL NOT NULL,
			avg_per_day REAL, -- NULL for zero-length periods
			PRIMARY KEY (run_id, name),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_repository ON runs(repository, generated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_generated ON runs(generated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_classified_events_account ON classified_events(account_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"insert_run": `INSERT INTO runs (
			id, repository, generated_at, records, skipped, duplicates,
			real_count, fake_count, clusters, spikes, warnings, config, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"insert_event": `INSERT INTO classified_events (run_id, seq, account_id, starred_at, verdict, reasons)
			VALUES (?, ?, ?, ?, ?, ?)`,

		"insert_rollup": `INSERT INTO period_rollups (
			run_id, name, start_at, end_at, total, real_count, fake_count, fake_pct, duration_days, avg_per_day
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"get_run": `SELECT id, repository, generated_at, records, skipped, duplicates,
			real_count, fake_count, clusters, spikes, warnings, report
			FROM runs WHERE id = ?`,

		"get_rollups": `SELECT name, start_at, end_at, total, real_count, fake_count, fake_pct, duration_days, avg_per_day
			FROM period_rollups WHERE run_id = ? ORDER BY start_at ASC`,

		"get_fake_events": `SELECT seq, account_id, starred_at, verdict, reasons
			FROM classified_events WHERE run_id = ? AND verdict = 'FAKE' ORDER BY seq ASC`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)
	db.codec.close()

	return db.DB.Close()
}
