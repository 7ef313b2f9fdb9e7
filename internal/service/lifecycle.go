package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/ledger"
	"skillbet/internal/notify"
	"skillbet/internal/oracle"
	"skillbet/internal/proof"
	"skillbet/internal/storage"
)

// Placement is the outcome of a successful PlaceBet.
type Placement struct {
	Record storage.BetRecord
	TxHash string
}

// Evaluation is one oracle read plus the proof verdict for it.
type Evaluation struct {
	GameIdentifier string
	Expected       int
	Outcome        oracle.Outcome
	Attestation    proof.Attestation
	HasWon         bool
	EvaluatedAt    time.Time
}

// Eligible is true only when the proof verdict and the independent win check agree on a win.
func (e Evaluation) Eligible() bool {
	return e.HasWon && e.Attestation.IsWinner
}

// Consistent reports whether the proof verdict agrees with the game result.
func (e Evaluation) Consistent() bool {
	return e.HasWon == e.Attestation.IsWinner
}

// ClaimResult is the outcome of a successful ClaimReward.
type ClaimResult struct {
	Record storage.BetRecord
	TxHash string
	Payout decimal.Decimal
}

// PlaceBet validates the intake, stakes it on the ledger, and records it locally.
// Nothing is persisted unless the ledger accepted the stake.
func (c *Coordinator) PlaceBet(ctx context.Context, in bet.Intake) (Placement, error) {
	if in.Game == "" {
		in.Game = bet.GameClashOfClans
	}
	if err := in.Validate(); err != nil {
		return Placement{}, err
	}
	in.GameIdentifier = bet.NormalizeTag(in.GameIdentifier)

	stakeWei, err := bet.ToWei(in.Stake)
	if err != nil {
		return Placement{}, err
	}

	session, err := c.ensureSession(ctx)
	if err != nil {
		return Placement{}, err
	}

	id, err := c.newID()
	if err != nil {
		return Placement{}, fmt.Errorf("generate bet id: %w", err)
	}

	logger := c.logger.With().Str("bet_id", id).Str("game_identifier", in.GameIdentifier).Str("tier", in.Tier.String()).Logger()
	logger.Info().Str("stake", in.Stake.String()).Int("expected", in.ExpectedThreshold).Msg("placing bet")

	receipt, err := c.ledger.PlaceBet(ctx, session, stakeWei)
	if err != nil {
		logger.Warn().Err(err).Msg("ledger rejected bet")
		return Placement{}, err
	}

	rec := storage.BetRecord{
		ID:                id,
		Game:              in.Game,
		GameIdentifier:    in.GameIdentifier,
		Tier:              in.Tier,
		ExpectedThreshold: in.ExpectedThreshold,
		Stake:             in.Stake,
		PayoutMultiplier:  in.Tier.Multiplier(),
		WalletAddress:     session.Address.Hex(),
		TxHash:            receipt.TxHash,
		PlacedAt:          c.now(),
	}
	if err := c.store.InsertBet(ctx, rec); err != nil {
		logger.Error().Err(err).Str("tx_hash", receipt.TxHash).Msg("bet staked on ledger but not recorded locally")
		return Placement{}, fmt.Errorf("record bet placed in tx %s: %w", receipt.TxHash, err)
	}

	logger.Info().Str("tx_hash", receipt.TxHash).Uint64("block", receipt.BlockNumber).Msg("bet placed")
	c.metrics.BetPlaced(in.Tier.String(), in.Stake.InexactFloat64())
	c.notify(ctx, notify.Notification{
		Kind:           notify.KindBetPlaced,
		BetID:          rec.ID,
		Game:           string(rec.Game),
		GameIdentifier: rec.GameIdentifier,
		Tier:           rec.Tier.String(),
		Threshold:      rec.ExpectedThreshold,
		Stake:          rec.Stake,
		Payout:         rec.Payout(),
		WalletAddress:  rec.WalletAddress,
		TxHash:         rec.TxHash,
		At:             rec.PlacedAt,
	})

	return Placement{Record: rec, TxHash: receipt.TxHash}, nil
}

// EvaluateOutcome fetches the game result and a proof verdict for it. It has no side effects.
// When the verdict contradicts the result the evaluation is returned along with ErrAttestationMismatch.
func (c *Coordinator) EvaluateOutcome(ctx context.Context, gameIdentifier string, expected int) (Evaluation, error) {
	tag := bet.NormalizeTag(gameIdentifier)
	if tag == "" {
		return Evaluation{}, bet.Validationf("game identifier is required")
	}

	outcome, err := c.oracle.FetchOutcome(ctx, tag)
	if err != nil {
		c.metrics.Evaluated("oracle_error")
		return Evaluation{}, err
	}

	att, err := c.proofs.RequestAttestation(ctx, outcome.Actual, expected)
	if err != nil {
		c.metrics.Evaluated("proof_error")
		return Evaluation{}, err
	}

	eval := Evaluation{
		GameIdentifier: tag,
		Expected:       expected,
		Outcome:        outcome,
		Attestation:    att,
		HasWon:         bet.Won(expected, outcome.Actual),
		EvaluatedAt:    c.now(),
	}

	if !eval.Consistent() {
		c.metrics.Evaluated("mismatch")
		c.logger.Error().
			Str("game_identifier", tag).
			Int("expected", expected).
			Int("actual", outcome.Actual).
			Bool("is_winner", att.IsWinner).
			Msg("proof verdict disagrees with game result")
		return eval, fmt.Errorf("%w: proof says winner=%t, result %d%% against %d%%",
			bet.ErrAttestationMismatch, att.IsWinner, outcome.Actual, expected)
	}

	if eval.HasWon {
		c.metrics.Evaluated("won")
	} else {
		c.metrics.Evaluated("lost")
	}
	return eval, nil
}

// EvaluateBet evaluates a stored bet against its own threshold.
func (c *Coordinator) EvaluateBet(ctx context.Context, id string) (storage.BetRecord, Evaluation, error) {
	rec, err := c.store.GetBet(ctx, id)
	if err != nil {
		return storage.BetRecord{}, Evaluation{}, err
	}
	eval, err := c.EvaluateOutcome(ctx, rec.GameIdentifier, rec.ExpectedThreshold)
	return rec, eval, err
}

// ClaimReward submits a claim for the bet identified by id. It runs at most once per record.
func (c *Coordinator) ClaimReward(ctx context.Context, id string, eval Evaluation) (ClaimResult, error) {
	release := c.claimLocks.Lock(id)
	defer release()

	unlock, acquired, err := c.acquireLock(ctx, claimLockKey(id))
	if err != nil {
		return ClaimResult{}, err
	}
	if !acquired {
		return ClaimResult{}, ErrClaimInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	rec, err := c.store.GetBet(ctx, id)
	if err != nil {
		return ClaimResult{}, err
	}
	return c.claim(ctx, rec, eval)
}

// CheckClaimable rejects a record that can no longer be claimed, without any oracle or ledger call.
func CheckClaimable(rec storage.BetRecord) error {
	if rec.Claimed {
		return &bet.LedgerError{Kind: bet.KindAlreadyClaimed, Op: "claimReward"}
	}
	if rec.ExpiredAt != nil {
		return fmt.Errorf("%w: bet expired at %s", bet.ErrIneligibleClaim, rec.ExpiredAt.Format(time.RFC3339))
	}
	return nil
}

// LatestBet finds the most recent pending bet for the identifier and tier. When none is pending
// but one was claimed, it returns that record with the already-claimed ledger error.
func (c *Coordinator) LatestBet(ctx context.Context, gameIdentifier string, tier bet.Tier) (storage.BetRecord, error) {
	tag := bet.NormalizeTag(gameIdentifier)
	rec, err := c.store.FindLatestUnclaimed(ctx, tag, tier.String())
	if !errors.Is(err, bet.ErrNotFound) {
		return rec, err
	}

	claimed, listErr := c.store.ListBets(ctx, storage.ListFilter{
		Status:         storage.StatusClaimed,
		GameIdentifier: tag,
		Tier:           tier,
		Limit:          1,
	})
	if listErr != nil {
		return storage.BetRecord{}, listErr
	}
	if len(claimed) == 0 {
		return storage.BetRecord{}, err
	}
	c.metrics.Claimed("already_claimed", 0)
	return claimed[0], CheckClaimable(claimed[0])
}

// ClaimLatest resolves the most recent pending bet for the identifier and tier once, evaluates it
// against its own threshold, and claims that record. The evaluation is returned even when the claim fails.
func (c *Coordinator) ClaimLatest(ctx context.Context, gameIdentifier string, tier bet.Tier) (Evaluation, ClaimResult, error) {
	rec, err := c.LatestBet(ctx, gameIdentifier, tier)
	if err != nil {
		return Evaluation{}, ClaimResult{}, err
	}
	eval, err := c.EvaluateOutcome(ctx, rec.GameIdentifier, rec.ExpectedThreshold)
	if err != nil && !errors.Is(err, bet.ErrAttestationMismatch) {
		return eval, ClaimResult{}, err
	}
	res, err := c.ClaimReward(ctx, rec.ID, eval)
	return eval, res, err
}

func (c *Coordinator) claim(ctx context.Context, rec storage.BetRecord, eval Evaluation) (ClaimResult, error) {
	logger := c.logger.With().Str("bet_id", rec.ID).Str("game_identifier", rec.GameIdentifier).Logger()

	if err := CheckClaimable(rec); err != nil {
		if rec.Claimed {
			c.metrics.Claimed("already_claimed", 0)
		} else {
			c.metrics.Claimed("ineligible", 0)
		}
		return ClaimResult{}, err
	}
	if eval.GameIdentifier != "" && bet.NormalizeTag(eval.GameIdentifier) != rec.GameIdentifier {
		c.metrics.Claimed("ineligible", 0)
		return ClaimResult{}, fmt.Errorf("%w: evaluation is for %s, bet is on %s", bet.ErrIneligibleClaim, eval.GameIdentifier, rec.GameIdentifier)
	}

	hasWon := bet.Won(rec.ExpectedThreshold, eval.Outcome.Actual)
	if hasWon != eval.Attestation.IsWinner {
		c.metrics.Claimed("ineligible", 0)
		logger.Error().Int("actual", eval.Outcome.Actual).Bool("is_winner", eval.Attestation.IsWinner).Msg("claim blocked by proof mismatch")
		return ClaimResult{}, fmt.Errorf("%w: %w", bet.ErrIneligibleClaim, bet.ErrAttestationMismatch)
	}
	if !hasWon {
		c.metrics.Claimed("ineligible", 0)
		return ClaimResult{}, fmt.Errorf("%w: result %d%% is below the expected %d%%", bet.ErrIneligibleClaim, eval.Outcome.Actual, rec.ExpectedThreshold)
	}

	proofWords, err := eval.Attestation.ProofWords()
	if err != nil {
		return ClaimResult{}, fmt.Errorf("%w: %v", bet.ErrProofService, err)
	}
	signalWords, err := eval.Attestation.SignalWords()
	if err != nil {
		return ClaimResult{}, fmt.Errorf("%w: %v", bet.ErrProofService, err)
	}

	session, err := c.ensureSession(ctx)
	if err != nil {
		return ClaimResult{}, err
	}

	logger.Info().Int64("multiplier", rec.PayoutMultiplier).Msg("claiming reward")
	receipt, err := c.ledger.ClaimReward(ctx, session, proofWords, signalWords, rec.PayoutMultiplier)
	if err != nil {
		kind, _ := bet.LedgerKindOf(err)
		c.metrics.Claimed(string(kind), 0)
		if kind == bet.KindAlreadyClaimed {
			c.reconcileClaimed(ctx, rec.ID, "")
		}
		logger.Warn().Err(err).Msg("claim failed")
		return ClaimResult{}, err
	}

	claimedAt := c.now()
	if err := c.store.MarkClaimed(ctx, rec.ID, claimedAt, receipt.TxHash); err != nil {
		logger.Error().Err(err).Str("tx_hash", receipt.TxHash).Msg("reward claimed on ledger but not recorded locally")
		return ClaimResult{}, fmt.Errorf("record claim in tx %s: %w", receipt.TxHash, err)
	}
	rec.Claimed = true
	rec.ClaimedAt = &claimedAt
	txHash := receipt.TxHash
	rec.ClaimTxHash = &txHash

	payout := rec.Payout()
	if ev, ok := receipt.Find(ledger.EventRewardClaimed); ok && ev.Amount != nil {
		payout = bet.FromWei(ev.Amount)
	}

	logger.Info().Str("tx_hash", receipt.TxHash).Str("payout", payout.String()).Msg("reward claimed")
	c.metrics.Claimed("success", payout.InexactFloat64())
	actual := eval.Outcome.Actual
	c.notify(ctx, notify.Notification{
		Kind:           notify.KindRewardClaimed,
		BetID:          rec.ID,
		Game:           string(rec.Game),
		GameIdentifier: rec.GameIdentifier,
		Tier:           rec.Tier.String(),
		Threshold:      rec.ExpectedThreshold,
		Actual:         &actual,
		Stake:          rec.Stake,
		Payout:         payout,
		WalletAddress:  rec.WalletAddress,
		TxHash:         receipt.TxHash,
		At:             claimedAt,
	})

	return ClaimResult{Record: rec, TxHash: receipt.TxHash, Payout: payout}, nil
}

// reconcileClaimed marks a record claimed after the ledger reported it was claimed elsewhere.
func (c *Coordinator) reconcileClaimed(ctx context.Context, id, claimTx string) bool {
	err := c.store.MarkClaimed(ctx, id, c.now(), claimTx)
	switch {
	case err == nil:
		c.metrics.Reconciled()
		c.logger.Info().Str("bet_id", id).Msg("bet marked claimed from ledger state")
		return true
	case errors.Is(err, storage.ErrAlreadyClaimed):
		return false
	default:
		c.logger.Warn().Err(err).Str("bet_id", id).Msg("failed to mark bet claimed from ledger state")
		return false
	}
}

// GetBet loads one record.
func (c *Coordinator) GetBet(ctx context.Context, id string) (storage.BetRecord, error) {
	return c.store.GetBet(ctx, id)
}

// ListBets lists records matching filter, newest first.
func (c *Coordinator) ListBets(ctx context.Context, filter storage.ListFilter) ([]storage.BetRecord, error) {
	return c.store.ListBets(ctx, filter)
}
