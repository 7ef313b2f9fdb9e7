package bet

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Game identifies the title a bet is placed on.
type Game string

const (
	GameClashOfClans Game = "coc"
	GameValorant     Game = "valorant"
	GameCSGO         Game = "csgo"
)

// ParseGame resolves a game name. An empty value means Clash of Clans.
func ParseGame(raw string) (Game, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "coc", "clash-of-clans":
		return GameClashOfClans, nil
	case "valorant":
		return GameValorant, nil
	case "csgo", "cs:go", "cs2":
		return GameCSGO, nil
	}
	return "", Validationf("unknown game %q", raw)
}

// Open reports whether bets are accepted for the game.
func (g Game) Open() bool {
	return g == GameClashOfClans
}

// Intake is a bet as requested, before any ledger interaction.
type Intake struct {
	Game              Game
	GameIdentifier    string
	Tier              Tier
	ExpectedThreshold int
	Stake             decimal.Decimal
}

// NormalizeTag strips whitespace and the leading '#' that players copy from the game client.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	return strings.ToUpper(tag)
}

// Validate checks the intake against its tier. It performs no I/O.
func (in Intake) Validate() error {
	if in.Game == "" {
		in.Game = GameClashOfClans
	}
	if !in.Game.Open() {
		return Validationf("betting on %s is not open yet", in.Game)
	}
	if NormalizeTag(in.GameIdentifier) == "" {
		return Validationf("game identifier is required")
	}
	rules, ok := in.Tier.Rules()
	if !ok {
		return Validationf("unknown difficulty tier %q", in.Tier)
	}
	if err := rules.CheckThreshold(in.ExpectedThreshold); err != nil {
		return err
	}
	if err := rules.CheckStake(in.Stake); err != nil {
		return err
	}
	if _, err := ToWei(in.Stake); err != nil {
		return err
	}
	return nil
}

var weiPerEther = decimal.New(1, 18)

// ToWei converts an ETH amount to wei. Amounts finer than one wei are rejected.
func ToWei(eth decimal.Decimal) (*big.Int, error) {
	wei := eth.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, Validationf("amount %s has more than 18 decimal places", eth.String())
	}
	return wei.BigInt(), nil
}

// FromWei converts wei to ETH.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}
