package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"skillbet/internal/bet"
	"skillbet/internal/config"
)

// SQLiteStore keeps bet records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database file, tunes it and applies migrations.
func OpenSQLite(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single writer avoids SQLITE_BUSY on the claim compare-and-set.
	db.SetMaxOpenConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := optimizeSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func optimizeSQLite(db *sql.DB) error {
	pragmas := []struct {
		name  string
		value string
	}{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "ON"},
	}
	for _, pragma := range pragmas {
		query := fmt.Sprintf("PRAGMA %s = %s", pragma.name, pragma.value)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("set PRAGMA %s: %w", pragma.name, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// InsertBet appends a new record.
func (s *SQLiteStore) InsertBet(ctx context.Context, rec BetRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertBetSQL, insertBetArgs(rec)...); err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

// GetBet loads one record by id.
func (s *SQLiteStore) GetBet(ctx context.Context, id string) (BetRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return BetRecord{}, err
	}
	rec, err := scanBet(db.QueryRowContext(ctx, getBetSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return BetRecord{}, fmt.Errorf("bet %s: %w", id, bet.ErrNotFound)
	}
	if err != nil {
		return BetRecord{}, fmt.Errorf("get bet: %w", err)
	}
	return rec, nil
}

// FindLatestUnclaimed returns the most recent pending record for the identifier and tier.
func (s *SQLiteStore) FindLatestUnclaimed(ctx context.Context, gameIdentifier string, tier string) (BetRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return BetRecord{}, err
	}
	rec, err := scanBet(db.QueryRowContext(ctx, findLatestUnclaimedSQL, gameIdentifier, tier))
	if errors.Is(err, sql.ErrNoRows) {
		return BetRecord{}, fmt.Errorf("unclaimed %s bet for %s: %w", tier, gameIdentifier, bet.ErrNotFound)
	}
	if err != nil {
		return BetRecord{}, fmt.Errorf("find unclaimed bet: %w", err)
	}
	return rec, nil
}

// ListBets lists records newest first.
func (s *SQLiteStore) ListBets(ctx context.Context, filter ListFilter) ([]BetRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query, args := listBetsQuery(filter)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", err)
	}
	defer rows.Close()

	records := make([]BetRecord, 0)
	for rows.Next() {
		rec, scanErr := scanBet(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkClaimed flips claimed to true exactly once.
func (s *SQLiteStore) MarkClaimed(ctx context.Context, id string, claimedAt time.Time, claimTx string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, markClaimedSQL, normalizeTime(claimedAt), claimTx, id)
	if err != nil {
		return fmt.Errorf("mark bet claimed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark bet claimed: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetBet(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyClaimed
	}
	return nil
}

// ExpireBefore marks pending records placed before cutoff as expired.
func (s *SQLiteStore) ExpireBefore(ctx context.Context, cutoff, expiredAt time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, expireBeforeSQL, normalizeTime(expiredAt), normalizeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire bets: %w", err)
	}
	return res.RowsAffected()
}

// SaveWalletState records the connection flags.
func (s *SQLiteStore) SaveWalletState(ctx context.Context, state WalletState) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	at := normalizeTime(state.UpdatedAt)
	if _, err := tx.ExecContext(ctx, upsertWalletStateSQL, walletConnectedKey, fmt.Sprint(state.Connected), at); err != nil {
		return fmt.Errorf("save wallet state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertWalletStateSQL, walletAddressKey, state.Address, at); err != nil {
		return fmt.Errorf("save wallet state: %w", err)
	}
	return tx.Commit()
}

// LoadWalletState reads the connection flags; missing flags read as disconnected.
func (s *SQLiteStore) LoadWalletState(ctx context.Context) (WalletState, error) {
	db, err := s.getDB()
	if err != nil {
		return WalletState{}, err
	}
	rows, err := db.QueryContext(ctx, selectWalletStateSQL, walletConnectedKey, walletAddressKey)
	if err != nil {
		return WalletState{}, fmt.Errorf("load wallet state: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	var updated time.Time
	for rows.Next() {
		var key, value string
		var at time.Time
		if err := rows.Scan(&key, &value, &at); err != nil {
			return WalletState{}, err
		}
		values[key] = value
		if at.After(updated) {
			updated = at.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return WalletState{}, err
	}
	return walletStateFromRows(values, updated), nil
}

// ClearWalletState removes the connection flags.
func (s *SQLiteStore) ClearWalletState(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, deleteWalletStateSQL, walletConnectedKey, walletAddressKey); err != nil {
		return fmt.Errorf("clear wallet state: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
