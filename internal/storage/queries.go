package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
)

// Both backends accept $n placeholders, so the statements are shared. SQLite numbers
// $n parameters by first appearance, so each statement must use them in ascending order.
const (
	betColumns = `id,
        game,
        game_identifier,
        tier,
        expected_threshold,
        CAST(stake AS TEXT),
        payout_multiplier,
        wallet_address,
        tx_hash,
        placed_at,
        claimed,
        claimed_at,
        claim_tx_hash,
        expired_at`

	insertBetSQL = `INSERT INTO bets (
        id,
        game,
        game_identifier,
        tier,
        expected_threshold,
        stake,
        payout_multiplier,
        wallet_address,
        tx_hash,
        placed_at,
        claimed
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE
    );`

	getBetSQL = `SELECT ` + betColumns + `
    FROM bets
    WHERE id = $1;`

	findLatestUnclaimedSQL = `SELECT ` + betColumns + `
    FROM bets
    WHERE game_identifier = $1
      AND tier = $2
      AND claimed = FALSE
      AND expired_at IS NULL
    ORDER BY placed_at DESC
    LIMIT 1;`

	markClaimedSQL = `UPDATE bets
    SET claimed = TRUE, claimed_at = $1, claim_tx_hash = NULLIF($2, '')
    WHERE id = $3
      AND claimed = FALSE;`

	expireBeforeSQL = `UPDATE bets
    SET expired_at = $1
    WHERE claimed = FALSE
      AND expired_at IS NULL
      AND placed_at < $2;`

	upsertWalletStateSQL = `INSERT INTO wallet_state (key, value, updated_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	selectWalletStateSQL = `SELECT key, value, updated_at FROM wallet_state WHERE key IN ($1, $2);`

	deleteWalletStateSQL = `DELETE FROM wallet_state WHERE key IN ($1, $2);`

	pingSQL = `SELECT 1;`
)

func listBetsQuery(filter ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	switch filter.Status {
	case StatusPlaced:
		where = append(where, "claimed = FALSE AND expired_at IS NULL")
	case StatusClaimed:
		where = append(where, "claimed = TRUE")
	case StatusExpired:
		where = append(where, "claimed = FALSE AND expired_at IS NOT NULL")
	}
	if filter.WalletAddress != "" {
		args = append(args, filter.WalletAddress)
		where = append(where, fmt.Sprintf("LOWER(wallet_address) = LOWER($%d)", len(args)))
	}
	if filter.GameIdentifier != "" {
		args = append(args, filter.GameIdentifier)
		where = append(where, fmt.Sprintf("game_identifier = $%d", len(args)))
	}
	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		where = append(where, fmt.Sprintf("tier = $%d", len(args)))
	}

	query := "SELECT " + betColumns + "\n    FROM bets"
	if len(where) > 0 {
		query += "\n    WHERE " + strings.Join(where, "\n      AND ")
	}
	query += "\n    ORDER BY placed_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\n    LIMIT $%d", len(args))
	}
	return query + ";", args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(row rowScanner) (BetRecord, error) {
	var (
		rec         BetRecord
		game        string
		tier        string
		stakeStr    string
		multiplier  int64
		claimedAt   sql.NullTime
		claimTxHash sql.NullString
		expiredAt   sql.NullTime
	)

	if err := row.Scan(
		&rec.ID,
		&game,
		&rec.GameIdentifier,
		&tier,
		&rec.ExpectedThreshold,
		&stakeStr,
		&multiplier,
		&rec.WalletAddress,
		&rec.TxHash,
		&rec.PlacedAt,
		&rec.Claimed,
		&claimedAt,
		&claimTxHash,
		&expiredAt,
	); err != nil {
		return BetRecord{}, err
	}

	stake, err := decimal.NewFromString(stakeStr)
	if err != nil {
		return BetRecord{}, fmt.Errorf("parse stake: %w", err)
	}

	rec.Game = bet.Game(game)
	rec.Tier = bet.Tier(tier)
	rec.Stake = stake
	rec.PayoutMultiplier = multiplier
	rec.PlacedAt = rec.PlacedAt.UTC()

	if claimedAt.Valid {
		at := claimedAt.Time.UTC()
		rec.ClaimedAt = &at
	}
	if claimTxHash.Valid {
		hash := claimTxHash.String
		rec.ClaimTxHash = &hash
	}
	if expiredAt.Valid {
		at := expiredAt.Time.UTC()
		rec.ExpiredAt = &at
	}
	return rec, nil
}

func insertBetArgs(rec BetRecord) []any {
	return []any{
		rec.ID,
		string(rec.Game),
		rec.GameIdentifier,
		string(rec.Tier),
		rec.ExpectedThreshold,
		rec.Stake.String(),
		rec.PayoutMultiplier,
		rec.WalletAddress,
		rec.TxHash,
		normalizeTime(rec.PlacedAt),
	}
}

func walletStateFromRows(values map[string]string, updated time.Time) WalletState {
	return WalletState{
		Connected: values[walletConnectedKey] == "true",
		Address:   values[walletAddressKey],
		UpdatedAt: updated,
	}
}

// PostgreSQL keeps microseconds; truncating keeps both backends comparable.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
