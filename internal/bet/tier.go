package bet

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is the difficulty bracket of a bet.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// TierRules holds the bounds and payout of one tier.
type TierRules struct {
	Tier         Tier
	MinThreshold int
	MaxThreshold int
	MinStake     decimal.Decimal
	Multiplier   int64
}

var tierOrder = []Tier{TierEasy, TierMedium, TierHard}

var tierTable = map[Tier]TierRules{
	TierEasy: {
		Tier:         TierEasy,
		MinThreshold: 60,
		MaxThreshold: 100,
		MinStake:     decimal.RequireFromString("0.01"),
		Multiplier:   3,
	},
	TierMedium: {
		Tier:         TierMedium,
		MinThreshold: 80,
		MaxThreshold: 100,
		MinStake:     decimal.RequireFromString("0.02"),
		Multiplier:   4,
	},
	TierHard: {
		Tier:         TierHard,
		MinThreshold: 95,
		MaxThreshold: 100,
		MinStake:     decimal.RequireFromString("0.05"),
		Multiplier:   5,
	},
}

// ParseTier resolves a tier name, case-insensitively.
func ParseTier(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierTable[t]; !ok {
		return "", Validationf("unknown difficulty tier %q", raw)
	}
	return t, nil
}

// Rules returns the table entry for t.
func (t Tier) Rules() (TierRules, bool) {
	r, ok := tierTable[t]
	return r, ok
}

// Multiplier returns the payout multiplier, or zero for an unknown tier.
func (t Tier) Multiplier() int64 {
	return tierTable[t].Multiplier
}

func (t Tier) String() string { return string(t) }

// Tiers lists every tier from easiest to hardest.
func Tiers() []TierRules {
	out := make([]TierRules, 0, len(tierOrder))
	for _, t := range tierOrder {
		out = append(out, tierTable[t])
	}
	return out
}

// Payout is the amount paid for a winning stake.
func (r TierRules) Payout(stake decimal.Decimal) decimal.Decimal {
	return stake.Mul(decimal.NewFromInt(r.Multiplier))
}

// CheckThreshold reports whether threshold lies within the tier bounds.
func (r TierRules) CheckThreshold(threshold int) error {
	if threshold < r.MinThreshold || threshold > r.MaxThreshold {
		return Validationf("expected outcome for %s tier must be between %d and %d, got %d",
			r.Tier, r.MinThreshold, r.MaxThreshold, threshold)
	}
	return nil
}

// CheckStake reports whether stake meets the tier minimum.
func (r TierRules) CheckStake(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return Validationf("stake must be positive, got %s", stake.String())
	}
	if stake.LessThan(r.MinStake) {
		return Validationf("stake for %s tier must be at least %s ETH, got %s",
			r.Tier, r.MinStake.String(), stake.String())
	}
	return nil
}

// Won is the win rule: the actual outcome must reach the expected threshold.
func Won(expectedThreshold, actualOutcome int) bool {
	return expectedThreshold <= actualOutcome
}

func (r TierRules) String() string {
	return fmt.Sprintf("%s (%d-%d%%, min %s ETH, %dx)", r.Tier, r.MinThreshold, r.MaxThreshold, r.MinStake.String(), r.Multiplier)
}
