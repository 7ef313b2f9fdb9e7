package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/storage"
)

// Totals aggregates a set of bets. Claimed bets count as wins and expired bets as losses;
// bets still pending count toward neither.
type Totals struct {
	Bets         int             `json:"bets"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	Pending      int             `json:"pending"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	TotalWon     decimal.Decimal `json:"total_won"`
	TotalLost    decimal.Decimal `json:"total_lost"`
	PendingStake decimal.Decimal `json:"pending_stake"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	WinRate      int             `json:"win_rate"`
}

// TierTotals is the breakdown for one tier.
type TierTotals struct {
	Tier bet.Tier `json:"tier"`
	Totals
}

// Summary is what the dashboard shows.
type Summary struct {
	Totals
	Tiers []TierTotals `json:"tiers"`
}

// Point is one step of the cumulative stake and payout series.
type Point struct {
	At        time.Time
	Staked    decimal.Decimal
	PaidOut   decimal.Decimal
	NetProfit decimal.Decimal
}

// Summarize computes totals across records and per tier.
func Summarize(records []storage.BetRecord) Summary {
	overall := newAccumulator()
	tiers := make(map[bet.Tier]*accumulator)
	for _, rec := range records {
		overall.add(rec)
		acc, ok := tiers[rec.Tier]
		if !ok {
			acc = newAccumulator()
			tiers[rec.Tier] = acc
		}
		acc.add(rec)
	}

	summary := Summary{Totals: overall.totals()}
	for _, rules := range bet.Tiers() {
		acc, ok := tiers[rules.Tier]
		if !ok {
			acc = newAccumulator()
		}
		summary.Tiers = append(summary.Tiers, TierTotals{Tier: rules.Tier, Totals: acc.totals()})
	}
	return summary
}

// Cumulative returns running stake and payout totals ordered by placement time.
// A claimed bet adds its payout at its claim time.
func Cumulative(records []storage.BetRecord) []Point {
	type step struct {
		at     time.Time
		staked decimal.Decimal
		paid   decimal.Decimal
	}
	steps := make([]step, 0, len(records)*2)
	for _, rec := range records {
		steps = append(steps, step{at: rec.PlacedAt, staked: rec.Stake})
		if rec.Claimed && rec.ClaimedAt != nil {
			steps = append(steps, step{at: *rec.ClaimedAt, paid: rec.Payout()})
		}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].at.Before(steps[j].at) })

	points := make([]Point, 0, len(steps))
	staked, paid := decimal.Zero, decimal.Zero
	for _, s := range steps {
		staked = staked.Add(s.staked)
		paid = paid.Add(s.paid)
		points = append(points, Point{At: s.at, Staked: staked, PaidOut: paid, NetProfit: paid.Sub(staked)})
	}
	return points
}

type accumulator struct {
	bets, wins, losses, pending int
	staked, won, lost, open     decimal.Decimal
}

func newAccumulator() *accumulator {
	return &accumulator{staked: decimal.Zero, won: decimal.Zero, lost: decimal.Zero, open: decimal.Zero}
}

func (a *accumulator) add(rec storage.BetRecord) {
	a.bets++
	switch rec.Status() {
	case storage.StatusClaimed:
		a.wins++
		a.staked = a.staked.Add(rec.Stake)
		a.won = a.won.Add(rec.Payout())
	case storage.StatusExpired:
		a.losses++
		a.staked = a.staked.Add(rec.Stake)
		a.lost = a.lost.Add(rec.Stake)
	default:
		a.pending++
		a.open = a.open.Add(rec.Stake)
	}
}

func (a *accumulator) totals() Totals {
	t := Totals{
		Bets:         a.bets,
		Wins:         a.wins,
		Losses:       a.losses,
		Pending:      a.pending,
		TotalStaked:  a.staked,
		TotalWon:     a.won,
		TotalLost:    a.lost,
		PendingStake: a.open,
		NetProfit:    a.won.Sub(a.staked),
	}
	if settled := a.wins + a.losses; settled > 0 {
		t.WinRate = int(decimal.NewFromInt(int64(a.wins) * 100).Div(decimal.NewFromInt(int64(settled))).Round(0).IntPart())
	}
	return t
}
