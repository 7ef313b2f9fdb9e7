package app

import (
	"context"
	"strconv"

	"github.com/pterm/pterm"

	"skillbet/internal/bet"
	"skillbet/internal/stats"
	"skillbet/internal/storage"
)

// Stats prints win/loss and profit totals, optionally for one wallet.
func (a *App) Stats(ctx context.Context, wallet string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListBets(ctx, storage.ListFilter{WalletAddress: wallet})
	if err != nil {
		return err
	}
	summary := stats.Summarize(records)

	data := pterm.TableData{{"Scope", "Bets", "Won", "Lost", "Pending", "Staked", "Won (ETH)", "Net", "Win rate"}}
	data = append(data, totalsRow("all", summary.Totals))
	for _, t := range summary.Tiers {
		data = append(data, totalsRow(t.Tier.String(), t.Totals))
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func totalsRow(scope string, t stats.Totals) []string {
	net := t.NetProfit.StringFixed(4)
	switch {
	case t.NetProfit.IsPositive():
		net = pterm.LightGreen(net)
	case t.NetProfit.IsNegative():
		net = pterm.LightRed(net)
	}
	return []string{
		scope,
		strconv.Itoa(t.Bets),
		strconv.Itoa(t.Wins),
		strconv.Itoa(t.Losses),
		strconv.Itoa(t.Pending),
		t.TotalStaked.StringFixed(4),
		t.TotalWon.StringFixed(4),
		net,
		strconv.Itoa(t.WinRate) + "%",
	}
}

// Tiers prints the tier table.
func (a *App) Tiers() error {
	data := pterm.TableData{{"Tier", "Target range", "Min stake", "Payout"}}
	for _, r := range bet.Tiers() {
		data = append(data, []string{
			r.Tier.String(),
			strconv.Itoa(r.MinThreshold) + "-" + strconv.Itoa(r.MaxThreshold) + "%",
			r.MinStake.String() + " ETH",
			strconv.FormatInt(r.Multiplier, 10) + "x",
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
