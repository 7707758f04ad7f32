// Package ledger is the durable record of cycles, positions, risk
// state and executed trades, backed by SQLite. Every multi-row
// mutation runs inside one transaction so a crash can never leave a
// position without its recomputed cycle aggregates.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Store owns the database handle. SQLite allows one writer; the pool
// is capped at a single connection so writes serialize in-process
// instead of failing with SQLITE_BUSY.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// Open connects to the SQLite database at dsn (a file path, or
// ":memory:" in tests) and creates missing tables.
func Open(dsn string, log *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one transaction: begin, rollback on error or
// panic, commit on success. All cycle/position mutations go through
// here.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			buy_count INTEGER NOT NULL,
			max_buys INTEGER NOT NULL,
			total_invested TEXT NOT NULL,
			total_quantity TEXT NOT NULL,
			remaining_quantity TEXT NOT NULL,
			average_price TEXT NOT NULL,
			next_buy_price TEXT NOT NULL,
			target_sell_price TEXT NOT NULL,
			grid_percent TEXT NOT NULL,
			entry_percent TEXT NOT NULL,
			partial_sell_done INTEGER NOT NULL DEFAULT 0,
			trailing_high_price TEXT,
			trailing_stop_price TEXT,
			entry_snapshot TEXT,
			total_profit TEXT,
			profit_percent TEXT,
			created_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_symbol_status ON cycles(symbol, status);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id INTEGER NOT NULL REFERENCES cycles(id),
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			buy_number INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			remaining_quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			invested_amount TEXT NOT NULL,
			fee TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_price TEXT,
			profit TEXT,
			profit_percent TEXT,
			created_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_cycle ON positions(cycle_id);`,
		`CREATE TABLE IF NOT EXISTS trade_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			quote_value TEXT NOT NULL,
			fee TEXT NOT NULL,
			order_id TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bot_states (
			scope TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			peak_balance TEXT NOT NULL,
			current_balance TEXT NOT NULL,
			max_drawdown_hit TEXT NOT NULL,
			paused_until TIMESTAMP,
			crash_detected_at TIMESTAMP,
			consecutive_low_profit_cycles INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS crash_events (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			drop_percent TEXT NOT NULL,
			window_minutes INTEGER NOT NULL,
			price_before TEXT NOT NULL,
			price_after TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			detected_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crash_events_symbol ON crash_events(symbol, resolved);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
