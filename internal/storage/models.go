package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
)

// BetRecord is one placed wager as persisted locally.
type BetRecord struct {
	ID                string
	Game              bet.Game
	GameIdentifier    string
	Tier              bet.Tier
	ExpectedThreshold int
	Stake             decimal.Decimal
	PayoutMultiplier  int64
	WalletAddress     string
	TxHash            string
	PlacedAt          time.Time
	Claimed           bool
	ClaimedAt         *time.Time
	ClaimTxHash       *string
	ExpiredAt         *time.Time
}

// Status is derived from the claim and expiry columns.
type Status string

const (
	StatusPlaced  Status = "placed"
	StatusClaimed Status = "claimed"
	StatusExpired Status = "expired"
)

// Status reports the lifecycle state of the record.
func (r BetRecord) Status() Status {
	switch {
	case r.Claimed:
		return StatusClaimed
	case r.ExpiredAt != nil:
		return StatusExpired
	default:
		return StatusPlaced
	}
}

// Pending is true while the record can still be claimed.
func (r BetRecord) Pending() bool {
	return r.Status() == StatusPlaced
}

// Payout is the amount a winning claim pays out.
func (r BetRecord) Payout() decimal.Decimal {
	return r.Stake.Mul(decimal.NewFromInt(r.PayoutMultiplier))
}

// ListFilter narrows ListBets. Zero values match everything.
type ListFilter struct {
	Status         Status
	WalletAddress  string
	GameIdentifier string
	Tier           bet.Tier
	Limit          int
}

// WalletState is the last known wallet connection, kept for display across restarts.
type WalletState struct {
	Connected bool
	Address   string
	UpdatedAt time.Time
}

const (
	walletConnectedKey = "walletConnected"
	walletAddressKey   = "walletAddress"
)
