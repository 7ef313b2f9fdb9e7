package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"skillbet/internal/config"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
	// ErrAlreadyClaimed is returned by MarkClaimed when the record was claimed before.
	ErrAlreadyClaimed = errors.New("storage: bet already claimed")
)

// BetStore persists bet records.
type BetStore interface {
	InsertBet(ctx context.Context, rec BetRecord) error
	GetBet(ctx context.Context, id string) (BetRecord, error)
	FindLatestUnclaimed(ctx context.Context, gameIdentifier string, tier string) (BetRecord, error)
	ListBets(ctx context.Context, filter ListFilter) ([]BetRecord, error)
	MarkClaimed(ctx context.Context, id string, claimedAt time.Time, claimTx string) error
	ExpireBefore(ctx context.Context, cutoff, expiredAt time.Time) (int64, error)
}

// WalletStateStore persists the wallet connection flags.
type WalletStateStore interface {
	SaveWalletState(ctx context.Context, state WalletState) error
	LoadWalletState(ctx context.Context) (WalletState, error)
	ClearWalletState(ctx context.Context) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the full persistence surface used by the application.
type Store interface {
	BetStore
	WalletStateStore
	Ping(ctx context.Context) error
	Close()
}

// Open connects the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		db := stdlib.OpenDBFromPool(pool)
		defer db.Close()
		if err := migrate(db, "postgres", "migrations/postgres"); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case "sqlite", "":
		store, err := OpenSQLite(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

func migrate(db *sql.DB, dialect, dir string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run goose migrations: %w", err)
	}
	return nil
}
