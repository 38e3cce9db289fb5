package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tableside/internal/store"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries implements store.Tx on top of a connection or a transaction.
type Queries struct {
	db  dbtx
	now func() time.Time
}

// DB is the sqlite-backed store.
type DB struct {
	*sql.DB
	*Queries
	path   string
	logger *zerolog.Logger
}

var _ store.Store = (*DB)(nil)

// NewDB opens the database at path and creates the schema if needed.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Immediate transactions take the write lock on BEGIN so concurrent writers queue on busy_timeout.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:      db,
		Queries: &Queries{db: db, now: time.Now},
		path:    path,
		logger:  logger,
	}

	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn inside a single transaction and rolls back on any error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&Queries{db: tx, now: db.Queries.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS dining_tables (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			seats INTEGER NOT NULL CHECK (seats > 0),
			is_active INTEGER NOT NULL DEFAULT 1,
			state TEXT NOT NULL DEFAULT 'FREE' CHECK (state IN ('FREE', 'RESERVED', 'OCCUPIED')),
			hold_owner INTEGER,
			hold_expiry INTEGER,
			updated_at INTEGER NOT NULL,
			CHECK ((state = 'FREE') = (hold_owner IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tables_state ON dining_tables(state, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_tables_owner ON dining_tables(hold_owner)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL DEFAULT 'reservation',
			party_size INTEGER NOT NULL CHECK (party_size > 0),
			requested_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			code TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_requested ON reservations(status, requested_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_expires ON reservations(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_window ON reservations(requested_at, expires_at)`,

		`CREATE TABLE IF NOT EXISTS subscribers (
			username TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reservation_id INTEGER NOT NULL UNIQUE,
			subscriber_username TEXT,
			guest_email TEXT,
			guest_phone TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (reservation_id) REFERENCES reservations(id)
		)`,

		`CREATE TABLE IF NOT EXISTS visits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reservation_id INTEGER NOT NULL,
			table_id INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			FOREIGN KEY (reservation_id) REFERENCES reservations(id),
			FOREIGN KEY (table_id) REFERENCES dining_tables(id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_open_table ON visits(table_id) WHERE ended_at IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_open_owner_table ON visits(reservation_id, table_id) WHERE ended_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_visits_reservation ON visits(reservation_id)`,

		`CREATE TABLE IF NOT EXISTS bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reservation_id INTEGER NOT NULL UNIQUE,
			visit_id INTEGER NOT NULL,
			subtotal INTEGER NOT NULL,
			discount INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL,
			paid INTEGER NOT NULL DEFAULT 0,
			paid_at INTEGER,
			payment_ref TEXT NOT NULL DEFAULT '',
			reminder_sent INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (reservation_id) REFERENCES reservations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bills_reminder ON bills(paid, reminder_sent)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("%s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	const limit = 60
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
