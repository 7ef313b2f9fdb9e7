package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-retry"

	"skillbet/internal/bet"
	"skillbet/internal/storage"
)

// SettlementFailure records a bet the pass could not settle.
type SettlementFailure struct {
	BetID string
	Err   error
}

// SettlementReport summarises one settlement pass.
type SettlementReport struct {
	At         time.Time
	Skipped    bool
	Expired    int64
	Evaluated  int
	Won        int
	Lost       int
	Mismatched int
	Claimed    int
	Failures   []SettlementFailure
}

// Settle runs one pass over pending bets: age out stale records, evaluate the rest,
// and claim winners when auto-claim is on. Per-bet failures land in the report.
func (c *Coordinator) Settle(ctx context.Context, at time.Time) (SettlementReport, error) {
	report := SettlementReport{At: at}

	unlock, acquired, err := c.acquireLock(ctx, c.opts.AdvisoryLockKey)
	if err != nil {
		c.metrics.SettlementRun("error")
		return report, err
	}
	if !acquired {
		c.logger.Info().Msg("another instance is settling; skipping this pass")
		c.metrics.SettlementRun("skipped")
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	if c.opts.ExpireAfter > 0 {
		cutoff := at.Add(-c.opts.ExpireAfter)
		expired, err := c.store.ExpireBefore(ctx, cutoff, c.now())
		if err != nil {
			c.metrics.SettlementRun("error")
			return report, fmt.Errorf("expire stale bets: %w", err)
		}
		report.Expired = expired
		c.metrics.Expired(expired)
		if expired > 0 {
			c.logger.Info().Int64("expired", expired).Time("cutoff", cutoff).Msg("expired stale bets")
		}
	}

	pending, err := c.store.ListBets(ctx, storage.ListFilter{Status: storage.StatusPlaced})
	if err != nil {
		c.metrics.SettlementRun("error")
		return report, fmt.Errorf("list pending bets: %w", err)
	}

	// Bets on the same clan and threshold share one evaluation per pass.
	evaluations := make(map[string]Evaluation)
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			c.metrics.SettlementRun("error")
			return report, err
		}

		key := rec.GameIdentifier + "|" + strconv.Itoa(rec.ExpectedThreshold)
		eval, ok := evaluations[key]
		if !ok {
			eval, err = c.evaluateWithRetry(ctx, rec.GameIdentifier, rec.ExpectedThreshold)
			if err != nil {
				if errors.Is(err, bet.ErrAttestationMismatch) {
					report.Mismatched++
				}
				report.Failures = append(report.Failures, SettlementFailure{BetID: rec.ID, Err: err})
				c.logger.Warn().Err(err).Str("bet_id", rec.ID).Msg("failed to evaluate bet")
				continue
			}
			evaluations[key] = eval
		}
		report.Evaluated++

		if !eval.Eligible() {
			report.Lost++
			continue
		}
		report.Won++

		if !c.opts.AutoClaim {
			continue
		}
		if _, err := c.ClaimReward(ctx, rec.ID, eval); err != nil {
			report.Failures = append(report.Failures, SettlementFailure{BetID: rec.ID, Err: err})
			c.logger.Warn().Err(err).Str("bet_id", rec.ID).Msg("auto-claim failed")
			continue
		}
		report.Claimed++
	}

	c.logger.Info().
		Int("pending", len(pending)).
		Int("evaluated", report.Evaluated).
		Int("won", report.Won).
		Int("claimed", report.Claimed).
		Int("failures", len(report.Failures)).
		Msg("settlement pass complete")
	c.metrics.SettlementRun("ok")
	return report, nil
}

// evaluateWithRetry retries oracle and proof-service failures with exponential backoff.
func (c *Coordinator) evaluateWithRetry(ctx context.Context, gameIdentifier string, expected int) (Evaluation, error) {
	var eval Evaluation
	backoff := retry.WithMaxRetries(c.opts.MaxRetries, retry.NewExponential(c.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		eval, err = c.EvaluateOutcome(ctx, gameIdentifier, expected)
		if err != nil && bet.IsRetryable(err) {
			c.logger.Debug().Err(err).Str("game_identifier", gameIdentifier).Msg("retrying evaluation")
			return retry.RetryableError(err)
		}
		return err
	})
	return eval, err
}

// Run drives Settle on the configured schedule until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.scheduler == nil {
		return errors.New("settlement scheduler not configured")
	}
	return c.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := c.Settle(ctx, at)
		return err
	})
}

// AmbiguousWallet is an address the ledger reports as claimed while several local bets are pending.
type AmbiguousWallet struct {
	Address string
	BetIDs  []string
}

// ReconcileReport summarises one reconciliation against ledger state.
type ReconcileReport struct {
	Checked    int
	Reconciled []string
	Ambiguous  []AmbiguousWallet
}

// Reconcile marks pending records claimed when the ledger says their wallet already claimed.
// A record is only marked when it is the single pending bet for that wallet.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	pending, err := c.store.ListBets(ctx, storage.ListFilter{Status: storage.StatusPlaced})
	if err != nil {
		return report, fmt.Errorf("list pending bets: %w", err)
	}

	byWallet := make(map[string][]storage.BetRecord)
	var order []string
	for _, rec := range pending {
		if !common.IsHexAddress(rec.WalletAddress) {
			c.logger.Warn().Str("bet_id", rec.ID).Str("wallet", rec.WalletAddress).Msg("skipping bet with invalid wallet address")
			continue
		}
		key := strings.ToLower(rec.WalletAddress)
		if _, seen := byWallet[key]; !seen {
			order = append(order, key)
		}
		byWallet[key] = append(byWallet[key], rec)
	}

	var errs []error
	for _, key := range order {
		records := byWallet[key]
		address := common.HexToAddress(key)
		report.Checked++

		claimed, err := c.ledger.HasClaimed(ctx, address)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", address.Hex(), err))
			continue
		}
		if !claimed {
			continue
		}

		if len(records) > 1 {
			ids := make([]string, 0, len(records))
			for _, rec := range records {
				ids = append(ids, rec.ID)
			}
			report.Ambiguous = append(report.Ambiguous, AmbiguousWallet{Address: address.Hex(), BetIDs: ids})
			c.logger.Warn().Str("wallet", address.Hex()).Strs("bet_ids", ids).Msg("ledger shows a claim but several bets are pending")
			continue
		}

		if c.reconcileClaimed(ctx, records[0].ID, "") {
			report.Reconciled = append(report.Reconciled, records[0].ID)
		}
	}

	return report, errors.Join(errs...)
}
