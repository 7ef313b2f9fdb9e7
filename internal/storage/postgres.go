package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillbet/internal/bet"
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore keeps bet records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var one int
	return pool.QueryRow(ctx, pingSQL).Scan(&one)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertBet appends a new record.
func (s *PostgresStore) InsertBet(ctx context.Context, rec BetRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertBetSQL, insertBetArgs(rec)...); err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

// GetBet loads one record by id.
func (s *PostgresStore) GetBet(ctx context.Context, id string) (BetRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return BetRecord{}, err
	}
	rec, err := scanBet(pool.QueryRow(ctx, getBetSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return BetRecord{}, fmt.Errorf("bet %s: %w", id, bet.ErrNotFound)
	}
	if err != nil {
		return BetRecord{}, fmt.Errorf("get bet: %w", err)
	}
	return rec, nil
}

// FindLatestUnclaimed returns the most recent pending record for the identifier and tier.
func (s *PostgresStore) FindLatestUnclaimed(ctx context.Context, gameIdentifier string, tier string) (BetRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return BetRecord{}, err
	}
	rec, err := scanBet(pool.QueryRow(ctx, findLatestUnclaimedSQL, gameIdentifier, tier))
	if errors.Is(err, pgx.ErrNoRows) {
		return BetRecord{}, fmt.Errorf("unclaimed %s bet for %s: %w", tier, gameIdentifier, bet.ErrNotFound)
	}
	if err != nil {
		return BetRecord{}, fmt.Errorf("find unclaimed bet: %w", err)
	}
	return rec, nil
}

// ListBets lists records newest first.
func (s *PostgresStore) ListBets(ctx context.Context, filter ListFilter) ([]BetRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := listBetsQuery(filter)
	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list bets: %w", queryErr)
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
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// MarkClaimed flips claimed to true exactly once.
func (s *PostgresStore) MarkClaimed(ctx context.Context, id string, claimedAt time.Time, claimTx string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markClaimedSQL, normalizeTime(claimedAt), claimTx, id)
	if execErr != nil {
		return fmt.Errorf("mark bet claimed: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		if _, err := s.GetBet(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyClaimed
	}
	return nil
}

// ExpireBefore marks pending records placed before cutoff as expired.
func (s *PostgresStore) ExpireBefore(ctx context.Context, cutoff, expiredAt time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, expireBeforeSQL, normalizeTime(expiredAt), normalizeTime(cutoff))
	if execErr != nil {
		return 0, fmt.Errorf("expire bets: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// SaveWalletState records the connection flags.
func (s *PostgresStore) SaveWalletState(ctx context.Context, state WalletState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	at := normalizeTime(state.UpdatedAt)
	batch := &pgx.Batch{}
	batch.Queue(upsertWalletStateSQL, walletConnectedKey, fmt.Sprint(state.Connected), at)
	batch.Queue(upsertWalletStateSQL, walletAddressKey, state.Address, at)
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save wallet state: %w", err)
	}
	return nil
}

// LoadWalletState reads the connection flags; missing flags read as disconnected.
func (s *PostgresStore) LoadWalletState(ctx context.Context) (WalletState, error) {
	pool, err := s.getPool()
	if err != nil {
		return WalletState{}, err
	}
	rows, queryErr := pool.Query(ctx, selectWalletStateSQL, walletConnectedKey, walletAddressKey)
	if queryErr != nil {
		return WalletState{}, fmt.Errorf("load wallet state: %w", queryErr)
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
	if rows.Err() != nil {
		return WalletState{}, rows.Err()
	}
	return walletStateFromRows(values, updated), nil
}

// ClearWalletState removes the connection flags.
func (s *PostgresStore) ClearWalletState(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteWalletStateSQL, walletConnectedKey, walletAddressKey); err != nil {
		return fmt.Errorf("clear wallet state: %w", err)
	}
	return nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
