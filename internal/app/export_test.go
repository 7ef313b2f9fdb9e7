package app

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/stats"
	"skillbet/internal/storage"
)

func exportRecord(id string, placed time.Time) storage.BetRecord {
	return storage.BetRecord{
		ID:                id,
		Game:              bet.GameClashOfClans,
		GameIdentifier:    "2PP",
		Tier:              bet.TierEasy,
		ExpectedThreshold: 70,
		Stake:             decimal.RequireFromString("0.02"),
		PayoutMultiplier:  3,
		WalletAddress:     "0x00000000000000000000000000000000000000a1",
		TxHash:            "0xplace",
		PlacedAt:          placed,
	}
}

func TestPlacedBetween(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	records := []storage.BetRecord{
		exportRecord("a", base),
		exportRecord("b", base.Add(time.Hour)),
		exportRecord("c", base.Add(2*time.Hour)),
	}

	if got := placedBetween(records, nil, nil); len(got) != 3 {
		t.Fatalf("open window should keep everything, got %d", len(got))
	}

	from, to := base.Add(time.Hour), base.Add(2*time.Hour)
	got := placedBetween(records, &from, &to)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("window should be [from, to), got %+v", got)
	}
	if len(records) != 3 || records[0].ID != "a" {
		t.Fatalf("input slice was modified: %+v", records)
	}
}

func TestDownsamplePointsKeepsEnds(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	points := make([]stats.Point, 10)
	for i := range points {
		points[i] = stats.Point{At: base.Add(time.Duration(i) * time.Hour)}
	}

	got := downsamplePoints(points, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 points, got %d", len(got))
	}
	if !got[0].At.Equal(points[0].At) || !got[3].At.Equal(points[9].At) {
		t.Fatalf("first and last points must survive: %v .. %v", got[0].At, got[3].At)
	}
	if same := downsamplePoints(points, 0); len(same) != 10 {
		t.Fatalf("zero max should not downsample, got %d", len(same))
	}
}

func TestWriteBetsCSV(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	claimedAt := base.Add(time.Hour)
	claimTx := "0xclaim"
	won := exportRecord("won", base)
	won.Claimed = true
	won.ClaimedAt = &claimedAt
	won.ClaimTxHash = &claimTx

	path := filepath.Join(t.TempDir(), "nested", "bets.csv")
	if err := writeBetsCSV(path, []storage.BetRecord{won, exportRecord("open", base)}); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(rows))
	}
	if rows[0][0] != "id" || rows[0][12] != "claim_tx_hash" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][10] != "claimed" || rows[1][12] != "0xclaim" {
		t.Fatalf("claimed row wrong: %v", rows[1])
	}
	if rows[2][10] != "placed" || rows[2][11] != "" || rows[2][12] != "" {
		t.Fatalf("pending row wrong: %v", rows[2])
	}
}
