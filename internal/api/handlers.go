package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/oracle"
	"skillbet/internal/service"
	"skillbet/internal/stats"
	"skillbet/internal/storage"
)

const maxBodyBytes = 1 << 16

type placeBetRequest struct {
	Game              string `json:"game" validate:"omitempty,oneof=coc clash-of-clans valorant csgo"`
	GameIdentifier    string `json:"game_identifier" validate:"required,max=32"`
	Tier              string `json:"tier" validate:"required,oneof=easy medium hard"`
	ExpectedThreshold int    `json:"expected_threshold" validate:"min=0,max=100"`
	Stake             string `json:"stake" validate:"required,numeric"`
}

type listQuery struct {
	Status string `validate:"omitempty,oneof=placed claimed expired"`
	Wallet string `validate:"omitempty,eth_addr"`
	Limit  int    `validate:"min=0,max=500"`
}

type betView struct {
	ID                string          `json:"id"`
	Game              string          `json:"game"`
	GameIdentifier    string          `json:"game_identifier"`
	Tier              string          `json:"tier"`
	ExpectedThreshold int             `json:"expected_threshold"`
	Stake             decimal.Decimal `json:"stake"`
	Payout            decimal.Decimal `json:"payout"`
	WalletAddress     string          `json:"wallet_address"`
	TxHash            string          `json:"tx_hash"`
	Status            string          `json:"status"`
	PlacedAt          time.Time       `json:"placed_at"`
	ClaimedAt         *time.Time      `json:"claimed_at,omitempty"`
	ClaimTxHash       *string         `json:"claim_tx_hash,omitempty"`
	ExpiredAt         *time.Time      `json:"expired_at,omitempty"`
}

func newBetView(rec storage.BetRecord) betView {
	return betView{
		ID:                rec.ID,
		Game:              string(rec.Game),
		GameIdentifier:    rec.GameIdentifier,
		Tier:              rec.Tier.String(),
		ExpectedThreshold: rec.ExpectedThreshold,
		Stake:             rec.Stake,
		Payout:            rec.Payout(),
		WalletAddress:     rec.WalletAddress,
		TxHash:            rec.TxHash,
		Status:            string(rec.Status()),
		PlacedAt:          rec.PlacedAt,
		ClaimedAt:         rec.ClaimedAt,
		ClaimTxHash:       rec.ClaimTxHash,
		ExpiredAt:         rec.ExpiredAt,
	}
}

type evaluationView struct {
	BetID       string         `json:"bet_id"`
	Expected    int            `json:"expected"`
	Outcome     oracle.Outcome `json:"outcome"`
	IsWinner    bool           `json:"is_winner"`
	HasWon      bool           `json:"has_won"`
	Eligible    bool           `json:"eligible"`
	Result      string         `json:"result,omitempty"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
	Warning     string         `json:"warning,omitempty"`
}

type claimView struct {
	Bet    betView         `json:"bet"`
	TxHash string          `json:"tx_hash"`
	Payout decimal.Decimal `json:"payout"`
}

type tierView struct {
	Tier         string          `json:"tier"`
	MinThreshold int             `json:"min_threshold"`
	MaxThreshold int             `json:"max_threshold"`
	MinStake     decimal.Decimal `json:"min_stake"`
	Multiplier   int64           `json:"multiplier"`
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Game = strings.ToLower(strings.TrimSpace(req.Game))
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	if err := s.check(req); err != nil {
		writeError(w, r, err)
		return
	}

	in, err := req.intake()
	if err != nil {
		writeError(w, r, err)
		return
	}

	placed, err := s.bets.PlaceBet(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBetView(placed.Record))
}

func (req placeBetRequest) intake() (bet.Intake, error) {
	game, err := bet.ParseGame(req.Game)
	if err != nil {
		return bet.Intake{}, err
	}
	tier, err := bet.ParseTier(req.Tier)
	if err != nil {
		return bet.Intake{}, err
	}
	stake, err := decimal.NewFromString(req.Stake)
	if err != nil {
		return bet.Intake{}, bet.Validationf("stake %q is not a number", req.Stake)
	}
	return bet.Intake{
		Game:              game,
		GameIdentifier:    req.GameIdentifier,
		Tier:              tier,
		ExpectedThreshold: req.ExpectedThreshold,
		Stake:             stake,
	}, nil
}

func (s *Server) handleListBets(w http.ResponseWriter, r *http.Request) {
	filter, err := s.listFilter(r, 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.bets.ListBets(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]betView, 0, len(records))
	for _, rec := range records {
		views = append(views, newBetView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetBet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bets.GetBet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBetView(rec))
}

// handleEvaluate returns the evaluation even when the proof disagrees with the result,
// flagged with a warning.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.bets.GetBet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := service.CheckClaimable(rec); err != nil {
		writeError(w, r, err)
		return
	}

	_, eval, err := s.bets.EvaluateBet(r.Context(), id)
	if err != nil && !errors.Is(err, bet.ErrAttestationMismatch) {
		writeError(w, r, err)
		return
	}

	view := evaluationView{
		BetID:       id,
		Expected:    eval.Expected,
		Outcome:     eval.Outcome,
		IsWinner:    eval.Attestation.IsWinner,
		HasWon:      eval.HasWon,
		Eligible:    eval.Eligible(),
		Result:      eval.Attestation.Result,
		EvaluatedAt: eval.EvaluatedAt,
	}
	if err != nil {
		view.Warning = bet.UserMessage(err)
	}
	writeJSON(w, http.StatusOK, view)
}

// handleClaim evaluates the bet server side and claims it when eligible.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.bets.GetBet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := service.CheckClaimable(rec); err != nil {
		writeError(w, r, err)
		return
	}

	_, eval, err := s.bets.EvaluateBet(r.Context(), id)
	if err != nil && !errors.Is(err, bet.ErrAttestationMismatch) {
		writeError(w, r, err)
		return
	}

	res, err := s.bets.ClaimReward(r.Context(), id, eval)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimView{Bet: newBetView(res.Record), TxHash: res.TxHash, Payout: res.Payout})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := s.listFilter(r, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.Status = ""
	filter.Limit = 0
	records, err := s.bets.ListBets(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Summarize(records))
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	rules := bet.Tiers()
	views := make([]tierView, 0, len(rules))
	for _, t := range rules {
		views = append(views, tierView{
			Tier:         t.Tier.String(),
			MinThreshold: t.MinThreshold,
			MaxThreshold: t.MaxThreshold,
			MinStake:     t.MinStake,
			Multiplier:   t.Multiplier,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listFilter(r *http.Request, defaultLimit int) (storage.ListFilter, error) {
	q := r.URL.Query()
	query := listQuery{
		Status: strings.ToLower(q.Get("status")),
		Wallet: q.Get("wallet"),
		Limit:  defaultLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return storage.ListFilter{}, bet.Validationf("limit %q is not a number", raw)
		}
		query.Limit = limit
	}
	if err := s.check(query); err != nil {
		return storage.ListFilter{}, err
	}
	return storage.ListFilter{
		Status:        storage.Status(query.Status),
		WalletAddress: query.Wallet,
		Limit:         query.Limit,
	}, nil
}

// check runs struct validation and reports failures as bet validation errors.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return bet.Validationf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return bet.Validationf("%s failed %s", fe.Field(), fe.Tag())
	}
	return bet.Validationf("%v", err)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bet.Validationf("malformed request body: %v", err)
	}
	return nil
}

var _ Lifecycle = (*service.Coordinator)(nil)
