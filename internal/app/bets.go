package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/service"
	"skillbet/internal/storage"
)

// PlaceOptions describe a bet requested from the CLI. SignerKey, when set, replaces the configured wallet key.
type PlaceOptions struct {
	Game           string
	GameIdentifier string
	Tier           string
	Threshold      int
	Stake          string
	SignerKey      string
}

// ClaimOptions select the bet to claim. ID wins over the identifier and tier lookup.
type ClaimOptions struct {
	ID             string
	GameIdentifier string
	Tier           string
	SignerKey      string
}

// ListOptions configure the bet list command.
type ListOptions struct {
	Status string
	Wallet string
	Limit  int
}

// PlaceBet stakes a bet on the ledger and records it.
func (a *App) PlaceBet(ctx context.Context, opts PlaceOptions) error {
	in, err := opts.intake()
	if err != nil {
		return err
	}

	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := a.useSigner(ctx, rt, opts.SignerKey); err != nil {
		return err
	}

	placed, err := rt.coordinator.PlaceBet(ctx, in)
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Bet %s placed in tx %s", placed.Record.ID, placed.TxHash)
	return renderBets([]storage.BetRecord{placed.Record})
}

func (opts PlaceOptions) intake() (bet.Intake, error) {
	game, err := bet.ParseGame(opts.Game)
	if err != nil {
		return bet.Intake{}, err
	}
	tier, err := bet.ParseTier(opts.Tier)
	if err != nil {
		return bet.Intake{}, err
	}
	stake, err := decimal.NewFromString(opts.Stake)
	if err != nil {
		return bet.Intake{}, bet.Validationf("stake %q is not a number", opts.Stake)
	}
	return bet.Intake{
		Game:              game,
		GameIdentifier:    opts.GameIdentifier,
		Tier:              tier,
		ExpectedThreshold: opts.Threshold,
		Stake:             stake,
	}, nil
}

// Evaluate fetches the game result and proof verdict for a stored bet.
func (a *App) Evaluate(ctx context.Context, id string) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, eval, err := rt.coordinator.EvaluateBet(ctx, id)
	if err != nil && !errors.Is(err, bet.ErrAttestationMismatch) {
		return err
	}
	renderEvaluation(rec, eval)
	if err != nil {
		pterm.Error.Println(bet.UserMessage(err))
		return err
	}
	return nil
}

// Claim evaluates a bet and submits the reward claim when it won.
func (a *App) Claim(ctx context.Context, opts ClaimOptions) error {
	rt, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := a.useSigner(ctx, rt, opts.SignerKey); err != nil {
		return err
	}

	var (
		eval service.Evaluation
		res  service.ClaimResult
	)
	if opts.ID != "" {
		eval, res, err = claimByID(ctx, rt.coordinator, opts.ID)
	} else {
		tier, perr := bet.ParseTier(opts.Tier)
		if perr != nil {
			return perr
		}
		eval, res, err = rt.coordinator.ClaimLatest(ctx, opts.GameIdentifier, tier)
	}
	if eval.GameIdentifier != "" {
		id := opts.ID
		if id == "" {
			id = res.Record.ID
		}
		renderEvaluation(storage.BetRecord{ID: id, GameIdentifier: eval.GameIdentifier}, eval)
	}
	if err != nil {
		pterm.Error.Println(bet.UserMessage(err))
		return err
	}
	pterm.Success.Printfln("Reward of %s ETH claimed in tx %s", res.Payout.String(), res.TxHash)
	return nil
}

// claimByID refuses claimed or expired bets before evaluating, then claims the record.
func claimByID(ctx context.Context, coord *service.Coordinator, id string) (service.Evaluation, service.ClaimResult, error) {
	rec, err := coord.GetBet(ctx, id)
	if err != nil {
		return service.Evaluation{}, service.ClaimResult{}, err
	}
	if err := service.CheckClaimable(rec); err != nil {
		return service.Evaluation{}, service.ClaimResult{}, err
	}
	eval, err := coord.EvaluateOutcome(ctx, rec.GameIdentifier, rec.ExpectedThreshold)
	if err != nil && !errors.Is(err, bet.ErrAttestationMismatch) {
		return eval, service.ClaimResult{}, err
	}
	res, err := coord.ClaimReward(ctx, rec.ID, eval)
	return eval, res, err
}

// useSigner switches the session to key when one was supplied.
func (a *App) useSigner(ctx context.Context, rt *runtime, key string) error {
	if key == "" {
		return nil
	}
	session, err := rt.wallet.SwitchAccount(ctx, key)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("address", session.Address.Hex()).Msg("signing with supplied key")
	return nil
}

// List prints stored bets.
func (a *App) List(ctx context.Context, opts ListOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListBets(ctx, storage.ListFilter{
		Status:        storage.Status(opts.Status),
		WalletAddress: opts.Wallet,
		Limit:         opts.Limit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		pterm.Info.Println("no bets found")
		return nil
	}
	return renderBets(records)
}

func renderBets(records []storage.BetRecord) error {
	data := pterm.TableData{{"ID", "Placed (UTC)", "Clan", "Tier", "Target", "Stake", "Payout", "Status", "Tx"}}
	for _, rec := range records {
		data = append(data, []string{
			rec.ID,
			rec.PlacedAt.UTC().Format(time.RFC3339),
			"#" + rec.GameIdentifier,
			rec.Tier.String(),
			strconv.Itoa(rec.ExpectedThreshold) + "%",
			rec.Stake.String(),
			rec.Payout().String(),
			statusLabel(rec.Status()),
			shortHash(rec.TxHash),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderEvaluation(rec storage.BetRecord, eval service.Evaluation) {
	verdict := pterm.LightRed("not reached")
	if eval.HasWon {
		verdict = pterm.LightGreen("reached")
	}
	body := fmt.Sprintf("%s vs %s\nDestruction: %d%% (opponent %d%%)\nTarget: %d%% %s\nProof verdict: winner=%t",
		eval.Outcome.ClanName, eval.Outcome.OpponentName,
		eval.Outcome.Actual, eval.Outcome.Opponent,
		eval.Expected, verdict,
		eval.Attestation.IsWinner)
	title := "#" + rec.GameIdentifier
	if rec.ID != "" {
		title = rec.ID + " " + title
	}
	pterm.DefaultBox.WithTitle(title).WithTitleTopCenter().Println(body)
}

func statusLabel(s storage.Status) string {
	switch s {
	case storage.StatusClaimed:
		return pterm.LightGreen(string(s))
	case storage.StatusExpired:
		return pterm.Gray(string(s))
	default:
		return pterm.LightYellow(string(s))
	}
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}
