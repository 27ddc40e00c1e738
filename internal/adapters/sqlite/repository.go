// Package sqlite implements the storage ports on a single SQLite file.
//
// Money and quantities are stored as decimal TEXT; timestamps as unix
// milliseconds so window queries compare integers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoSentinelBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository owns the database connection. The storage ports are served by
// the views returned from Trades, Positions, Orders, Audit, Idempotency and Locks.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	now    func() time.Time
}

// TradeStore implements ports.TradeRepository.
type TradeStore struct{ *Repository }

// PositionStore implements ports.PositionRepository.
type PositionStore struct{ *Repository }

// OrderStore implements ports.OrderRepository.
type OrderStore struct{ *Repository }

// AuditStore implements ports.AuditRepository.
type AuditStore struct{ *Repository }

// IdempotencyStore implements ports.IdempotencyStore.
type IdempotencyStore struct{ *Repository }

// LockStore holds named leases that keep two processes off the same symbols.
type LockStore struct{ *Repository }

func (r *Repository) Trades() *TradeStore            { return &TradeStore{r} }
func (r *Repository) Positions() *PositionStore      { return &PositionStore{r} }
func (r *Repository) Orders() *OrderStore            { return &OrderStore{r} }
func (r *Repository) Audit() *AuditStore             { return &AuditStore{r} }
func (r *Repository) Idempotency() *IdempotencyStore { return &IdempotencyStore{r} }
func (r *Repository) Locks() *LockStore              { return &LockStore{r} }

var (
	_ ports.TradeRepository    = (*TradeStore)(nil)
	_ ports.PositionRepository = (*PositionStore)(nil)
	_ ports.OrderRepository    = (*OrderStore)(nil)
	_ ports.AuditRepository    = (*AuditStore)(nil)
	_ ports.IdempotencyStore   = (*IdempotencyStore)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and applies the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository: %w", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/sentinel.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection serializes writers; the CAS and claim statements rely on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{
		db:     db,
		logger: cfg.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		amount TEXT NOT NULL,
		price TEXT NOT NULL,
		cost TEXT NOT NULL,
		fee TEXT NOT NULL,
		broker_order_id TEXT NOT NULL,
		client_order_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		ts_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		base_qty TEXT NOT NULL,
		avg_entry_price TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL,
		updated_ms INTEGER NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		client_order_id TEXT PRIMARY KEY,
		broker_order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		filled TEXT NOT NULL,
		price TEXT NOT NULL,
		cost TEXT NOT NULL,
		fee TEXT NOT NULL,
		fee_currency TEXT NOT NULL,
		created_ms INTEGER NOT NULL,
		updated_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		expires_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		client_order_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_locks (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys (expires_ms);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func queryFailed(op string, err error) error {
	return fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
}

func updateFailed(op string, err error) error {
	return fmt.Errorf("%s failed: %w: %w", op, ports.ErrUpdateFailed, err)
}
