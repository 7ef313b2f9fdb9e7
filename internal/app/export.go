package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"skillbet/internal/stats"
	"skillbet/internal/storage"
)

// ExportOptions configure the export command.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// Export writes the bet history as CSV and/or a PNG of cumulative stake and payout.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListBets(ctx, storage.ListFilter{})
	if err != nil {
		return err
	}
	records = placedBetween(records, opts.From, opts.To)
	if len(records) == 0 {
		a.Logger.Info().Msg("no bets found for export window")
		return nil
	}

	a.Logger.Info().Int("bets", len(records)).Msg("exporting bets")

	if opts.CSVPath != "" {
		if err := writeBetsCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		points := downsamplePoints(stats.Cumulative(records), opts.MaxPoints)
		if err := writeProfitPNG(opts.PNGPath, points); err != nil {
			return err
		}
	}

	return nil
}

// placedBetween keeps records placed in [from, to). Nil bounds are open.
func placedBetween(records []storage.BetRecord, from, to *time.Time) []storage.BetRecord {
	if from == nil && to == nil {
		return records
	}
	out := records[:0:0]
	for _, rec := range records {
		if from != nil && rec.PlacedAt.Before(*from) {
			continue
		}
		if to != nil && !rec.PlacedAt.Before(*to) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func downsamplePoints(points []stats.Point, max int) []stats.Point {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]stats.Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeBetsCSV(path string, records []storage.BetRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "placed_at", "game", "game_identifier", "tier", "expected_threshold", "stake_eth", "payout_multiplier", "wallet_address", "tx_hash", "status", "claimed_at", "claim_tx_hash"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		claimedAt, claimTx := "", ""
		if rec.ClaimedAt != nil {
			claimedAt = rec.ClaimedAt.UTC().Format(time.RFC3339)
		}
		if rec.ClaimTxHash != nil {
			claimTx = *rec.ClaimTxHash
		}
		row := []string{
			rec.ID,
			rec.PlacedAt.UTC().Format(time.RFC3339),
			string(rec.Game),
			rec.GameIdentifier,
			rec.Tier.String(),
			strconv.Itoa(rec.ExpectedThreshold),
			rec.Stake.String(),
			strconv.FormatInt(rec.PayoutMultiplier, 10),
			rec.WalletAddress,
			rec.TxHash,
			string(rec.Status()),
			claimedAt,
			claimTx,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeProfitPNG(path string, points []stats.Point) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(points) < 2 {
		return errors.New("need at least two data points to draw a chart")
	}

	x := make([]time.Time, len(points))
	staked := make([]float64, len(points))
	paid := make([]float64, len(points))
	net := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.At
		staked[i] = p.Staked.InexactFloat64()
		paid[i] = p.PaidOut.InexactFloat64()
		net[i] = p.NetProfit.InexactFloat64()
	}

	ethFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative (ETH)",
			ValueFormatter: ethFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Net profit (ETH)",
			ValueFormatter: ethFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Staked",
				XValues: x,
				YValues: staked,
			},
			chart.TimeSeries{
				Name:    "Paid out",
				XValues: x,
				YValues: paid,
			},
			chart.TimeSeries{
				Name:    "Net profit",
				XValues: x,
				YValues: net,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
