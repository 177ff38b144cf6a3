package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"MarketCore/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed persistence layer: symbol registry, bar store,
// snapshot store, aggregates and the portfolio ledger share one database.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration

	// Writers take the read side, chunk sealing takes the write side, so a
	// chunk becomes immutable only after in-flight batches have drained.
	barMu  sync.RWMutex
	snapMu sync.RWMutex

	// Fills and funding against one ledger serialize here.
	ledgerMu sync.Mutex

	events chan model.ChangeEvent
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dbPath string, opTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{
		db:        db,
		opTimeout: opTimeout,
		events:    make(chan model.ChangeEvent, 64),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] store opened: %s", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol     TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			market     TEXT NOT NULL DEFAULT '',
			asset_type TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS bars (
			granularity TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			time        INTEGER NOT NULL,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      REAL NOT NULL,
			adj_close   REAL NOT NULL,
			PRIMARY KEY (granularity, symbol, time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_time ON bars(granularity, time)`,

		`CREATE TABLE IF NOT EXISTS bar_chunks (
			granularity TEXT NOT NULL,
			chunk_start INTEGER NOT NULL,
			compressed  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (granularity, chunk_start)
		)`,

		`CREATE TABLE IF NOT EXISTS aggregates (
			symbol       TEXT NOT NULL,
			bucket_width TEXT NOT NULL,
			bucket_start INTEGER NOT NULL,
			open         REAL NOT NULL,
			high         REAL NOT NULL,
			low          REAL NOT NULL,
			close        REAL NOT NULL,
			volume       REAL NOT NULL,
			PRIMARY KEY (symbol, bucket_width, bucket_start)
		)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			kind         TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			time         INTEGER NOT NULL,
			screening_id TEXT NOT NULL DEFAULT '',
			payload      TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			PRIMARY KEY (kind, symbol, time, screening_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(kind, symbol, time)`,

		`CREATE TABLE IF NOT EXISTS snapshot_chunks (
			chunk_start INTEGER PRIMARY KEY,
			compressed  INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS portfolios (
			id              TEXT PRIMARY KEY,
			owner           TEXT NOT NULL,
			initial_capital TEXT NOT NULL,
			cash_balance    TEXT NOT NULL,
			active          INTEGER NOT NULL DEFAULT 1,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			portfolio_id  TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			quantity      TEXT NOT NULL,
			average_price TEXT NOT NULL,
			updated_at    INTEGER NOT NULL,
			PRIMARY KEY (portfolio_id, symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id              TEXT PRIMARY KEY,
			portfolio_id    TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			side            TEXT NOT NULL,
			type            TEXT NOT NULL,
			quantity        TEXT NOT NULL,
			price           TEXT NOT NULL DEFAULT '0',
			stop_price      TEXT NOT NULL DEFAULT '0',
			filled_quantity TEXT NOT NULL DEFAULT '0',
			status          TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_portfolio ON orders(portfolio_id)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id           TEXT PRIMARY KEY,
			order_id     TEXT NOT NULL,
			portfolio_id TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			side         TEXT NOT NULL,
			quantity     TEXT NOT NULL,
			price        TEXT NOT NULL,
			commission   TEXT NOT NULL,
			tax          TEXT NOT NULL,
			net_amount   TEXT NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_portfolio ON transactions(portfolio_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			portfolio_id  TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			open_quantity TEXT NOT NULL,
			realized_pnl  TEXT NOT NULL,
			status        TEXT NOT NULL,
			opened_at     INTEGER NOT NULL,
			closed_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(portfolio_id, symbol, status)`,

		`CREATE TABLE IF NOT EXISTS funding (
			id           TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			type         TEXT NOT NULL,
			amount       TEXT NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_portfolio ON funding(portfolio_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the underlying database and the event channel.
func (s *Store) Close() error {
	log.Println("[INFO] closing store")
	close(s.events)
	return s.db.Close()
}

// opCtx bounds an operation with the configured timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// opErr maps deadline and cancellation failures to the retryable
// TimeoutError; everything else passes through unchanged.
func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &model.TimeoutError{Op: op, Err: err}
	}
	return err
}

func busy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn, retrying transient SQLITE_BUSY failures with bounded
// backoff before surfacing the error.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := 25 * time.Millisecond
	var err error
	for attempt := 0; attempt < 4; attempt++ {
		if err = fn(ctx); !busy(err) {
			return opErr(op, err)
		}
		select {
		case <-ctx.Done():
			return opErr(op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return opErr(op, err)
}

// inTx runs fn inside one SQL transaction; any error rolls back, leaving no
// partial state.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
