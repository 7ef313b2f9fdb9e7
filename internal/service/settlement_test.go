package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/scheduler"
	"skillbet/internal/storage"
)

func seed(t *testing.T, h *harness, id, tag string, tier bet.Tier, threshold int, wallet string, placedAt time.Time) {
	t.Helper()
	rec := storage.BetRecord{
		ID:                id,
		Game:              bet.GameClashOfClans,
		GameIdentifier:    tag,
		Tier:              tier,
		ExpectedThreshold: threshold,
		Stake:             intake(tag, tier, threshold, "0.05").Stake,
		PayoutMultiplier:  tier.Multiplier(),
		WalletAddress:     wallet,
		TxHash:            "0xseed" + id,
		PlacedAt:          placedAt,
	}
	if err := h.store.InsertBet(context.Background(), rec); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSettleEvaluatesAndAutoClaims(t *testing.T) {
	h := newHarness(Options{AutoClaim: true, MaxRetries: 3, RetryBase: time.Millisecond})
	h.oracle.set("WIN", 90)
	h.oracle.set("LOSE", 50)
	h.oracle.failures = 2

	seed(t, h, "w1", "WIN", bet.TierEasy, 75, playerAddress.Hex(), h.clock.Add(-time.Hour))
	seed(t, h, "l1", "LOSE", bet.TierEasy, 75, playerAddress.Hex(), h.clock.Add(-time.Hour))

	report, err := h.coord.Settle(context.Background(), h.clock)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if report.Evaluated != 2 || report.Won != 1 || report.Lost != 1 || report.Claimed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("transient oracle failures should have been retried: %+v", report.Failures)
	}

	win, _ := h.store.GetBet(context.Background(), "w1")
	lose, _ := h.store.GetBet(context.Background(), "l1")
	if !win.Claimed || lose.Claimed {
		t.Fatalf("win claimed=%t lose claimed=%t", win.Claimed, lose.Claimed)
	}
}

func TestSettleWithoutAutoClaimOnlyEvaluates(t *testing.T) {
	h := newHarness(Options{})
	h.oracle.set("WIN", 90)
	seed(t, h, "w1", "WIN", bet.TierEasy, 75, playerAddress.Hex(), h.clock)
	seed(t, h, "w2", "WIN", bet.TierEasy, 75, playerAddress.Hex(), h.clock)

	report, err := h.coord.Settle(context.Background(), h.clock)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if report.Won != 2 || report.Claimed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, claim := h.ledger.counts(); claim != 0 {
		t.Fatal("no claims without auto-claim")
	}
	if h.oracle.calls != 1 {
		t.Fatalf("bets on the same clan and threshold should share one oracle read, got %d", h.oracle.calls)
	}
}

func TestSettleGivesUpAfterRetries(t *testing.T) {
	h := newHarness(Options{MaxRetries: 2, RetryBase: time.Millisecond})
	h.oracle.failures = 10
	seed(t, h, "w1", "WIN", bet.TierEasy, 75, playerAddress.Hex(), h.clock)

	report, err := h.coord.Settle(context.Background(), h.clock)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, bet.ErrOracle) {
		t.Fatalf("expected one oracle failure, got %+v", report.Failures)
	}
	if h.oracle.calls != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", h.oracle.calls)
	}
}

func TestSettleDoesNotRetryMismatch(t *testing.T) {
	h := newHarness(Options{MaxRetries: 5, RetryBase: time.Millisecond})
	h.oracle.set("WIN", 90)
	no := false
	h.proofs.force = &no
	seed(t, h, "w1", "WIN", bet.TierEasy, 75, playerAddress.Hex(), h.clock)

	report, err := h.coord.Settle(context.Background(), h.clock)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if report.Mismatched != 1 || h.proofs.calls != 1 {
		t.Fatalf("mismatch must not be retried: report=%+v proof calls=%d", report, h.proofs.calls)
	}
}

func TestSettleExpiresStaleBets(t *testing.T) {
	h := newHarness(Options{ExpireAfter: 24 * time.Hour})
	h.oracle.set("NEW", 90)
	seed(t, h, "old", "OLD", bet.TierEasy, 75, playerAddress.Hex(), h.clock.Add(-48*time.Hour))
	seed(t, h, "new", "NEW", bet.TierEasy, 75, playerAddress.Hex(), h.clock.Add(-time.Hour))

	report, err := h.coord.Settle(context.Background(), h.clock)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if report.Expired != 1 || report.Evaluated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	old, _ := h.store.GetBet(context.Background(), "old")
	if old.Status() != storage.StatusExpired {
		t.Fatalf("old bet status = %s", old.Status())
	}
}

func TestSettleSkipsWhenLockHeld(t *testing.T) {
	mem := newMemoryStore()
	mem.locked = map[int64]bool{42: true}
	coord := New(Options{AdvisoryLockKey: 42}, Deps{Store: lockingStore{mem}}, zerolog.Nop())

	report, err := coord.Settle(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !report.Skipped {
		t.Fatal("pass should be skipped while another instance holds the lock")
	}
}

func TestRunDrivesSettlement(t *testing.T) {
	h := newHarness(Options{})
	h.coord.scheduler = scheduler.New(scheduler.Options{Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())
	h.oracle.set("WIN", 90)
	seed(t, h, "w1", "WIN", bet.TierEasy, 75, playerAddress.Hex(), h.clock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.coord.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}

	h.oracle.mu.Lock()
	calls := h.oracle.calls
	h.oracle.mu.Unlock()
	if calls == 0 {
		t.Fatal("settlement pass never ran")
	}
}

func TestRunWithoutScheduler(t *testing.T) {
	h := newHarness(Options{})
	if err := h.coord.Run(context.Background()); err == nil {
		t.Fatal("expected an error without a scheduler")
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(Options{})
	single := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	multi := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	untouched := common.HexToAddress("0x00000000000000000000000000000000000000b3")

	seed(t, h, "s1", "AAA", bet.TierEasy, 75, single.Hex(), h.clock)
	seed(t, h, "m1", "BBB", bet.TierEasy, 75, multi.Hex(), h.clock)
	seed(t, h, "m2", "CCC", bet.TierEasy, 75, multi.Hex(), h.clock.Add(time.Minute))
	seed(t, h, "u1", "DDD", bet.TierEasy, 75, untouched.Hex(), h.clock)

	h.ledger.hasClaimed[single] = true
	h.ledger.hasClaimed[multi] = true

	report, err := h.coord.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Checked != 3 {
		t.Fatalf("checked %d wallets", report.Checked)
	}
	if len(report.Reconciled) != 1 || report.Reconciled[0] != "s1" {
		t.Fatalf("reconciled %v", report.Reconciled)
	}
	if len(report.Ambiguous) != 1 || report.Ambiguous[0].Address != multi.Hex() || len(report.Ambiguous[0].BetIDs) != 2 {
		t.Fatalf("ambiguous %+v", report.Ambiguous)
	}

	for id, want := range map[string]bool{"s1": true, "m1": false, "m2": false, "u1": false} {
		rec, _ := h.store.GetBet(context.Background(), id)
		if rec.Claimed != want {
			t.Fatalf("%s claimed=%t, want %t", id, rec.Claimed, want)
		}
	}
}

func TestReconcileReportsLedgerErrors(t *testing.T) {
	h := newHarness(Options{})
	h.ledger.hasClaimErr = &bet.LedgerError{Kind: bet.KindUnavailable, Op: "hasClaimed"}
	seed(t, h, "s1", "AAA", bet.TierEasy, 75, playerAddress.Hex(), h.clock)

	_, err := h.coord.Reconcile(context.Background())
	if !errors.Is(err, bet.ErrLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
}
