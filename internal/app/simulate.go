package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/notify"
	"skillbet/internal/oracle"
	"skillbet/internal/proof"
	"skillbet/internal/service"
	"skillbet/internal/storage"
)

// SimulateOptions 描述一次模拟结算的输入。
type SimulateOptions struct {
	GameIdentifier string
	Tier           string
	Threshold      int
	Actual         int
	Stake          string
	Notify         bool
}

// SimulateOutcome 用给定的战绩模拟一次评估流程，不访问链上或后端。
func (a *App) SimulateOutcome(ctx context.Context, opts SimulateOptions) error {
	tier, err := bet.ParseTier(opts.Tier)
	if err != nil {
		return err
	}
	rules, _ := tier.Rules()
	if err := rules.CheckThreshold(opts.Threshold); err != nil {
		return err
	}
	stake := rules.MinStake
	if opts.Stake != "" {
		if stake, err = decimal.NewFromString(opts.Stake); err != nil {
			return bet.Validationf("stake %q is not a number", opts.Stake)
		}
	}

	var notifier notify.Notifier
	if opts.Notify {
		n, closeNotifier := a.newNotifier()
		defer closeNotifier()
		if n == nil {
			return errors.New("未配置任何通知通道")
		}
		notifier = n
	}

	svc := service.New(service.Options{}, service.Deps{
		Oracle: &staticOracle{actual: opts.Actual},
		Proofs: staticProofs{},
	}, a.Logger)
	defer svc.Close()

	eval, err := svc.EvaluateOutcome(ctx, opts.GameIdentifier, opts.Threshold)
	if err != nil {
		return err
	}
	renderEvaluation(storage.BetRecord{GameIdentifier: eval.GameIdentifier}, eval)

	if !eval.Eligible() {
		pterm.Info.Println("Target not reached; nothing to claim")
		return nil
	}
	payout := rules.Payout(stake)
	pterm.Success.Printfln("Would pay %s ETH for a %s ETH stake", payout.String(), stake.String())

	if notifier == nil {
		return nil
	}
	actual := eval.Outcome.Actual
	return notifier.Notify(ctx, notify.Notification{
		Kind:           notify.KindRewardClaimed,
		BetID:          "simulated",
		Game:           string(bet.GameClashOfClans),
		GameIdentifier: eval.GameIdentifier,
		Tier:           tier.String(),
		Threshold:      eval.Expected,
		Actual:         &actual,
		Stake:          stake,
		Payout:         payout,
		TxHash:         "simulated",
		At:             time.Now().UTC(),
	})
}

// staticOracle 返回固定战绩。
type staticOracle struct {
	actual int
}

func (s *staticOracle) FetchOutcome(ctx context.Context, clanTag string) (oracle.Outcome, error) {
	return oracle.Outcome{Actual: s.actual, ClanName: "#" + clanTag, OpponentName: "simulated"}, nil
}

// staticProofs 按胜负规则给出判定，证明内容为空。
type staticProofs struct{}

func (staticProofs) RequestAttestation(ctx context.Context, actual, expected int) (proof.Attestation, error) {
	won := bet.Won(expected, actual)
	result := "lost"
	if won {
		result = "won"
	}
	return proof.Attestation{
		IsWinner:      won,
		Proof:         json.RawMessage("[]"),
		PublicSignals: json.RawMessage("[]"),
		Result:        result,
	}, nil
}

var _ oracle.ResultOracle = (*staticOracle)(nil)
var _ proof.Service = staticProofs{}
