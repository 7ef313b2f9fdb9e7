package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"skillbet/internal/bet"
	"skillbet/internal/oracle"
	"skillbet/internal/proof"
	"skillbet/internal/service"
	"skillbet/internal/storage"
)

type fakeLifecycle struct {
	records  map[string]storage.BetRecord
	placed   []bet.Intake
	placeErr error
	evalErr  error
	eval     service.Evaluation
	claimErr error
	claims   int
	filter   storage.ListFilter
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{records: make(map[string]storage.BetRecord)}
}

func (f *fakeLifecycle) PlaceBet(ctx context.Context, in bet.Intake) (service.Placement, error) {
	if err := in.Validate(); err != nil {
		return service.Placement{}, err
	}
	if f.placeErr != nil {
		return service.Placement{}, f.placeErr
	}
	f.placed = append(f.placed, in)
	rec := storage.BetRecord{
		ID:                fmt.Sprintf("bet-%d", len(f.placed)),
		Game:              in.Game,
		GameIdentifier:    bet.NormalizeTag(in.GameIdentifier),
		Tier:              in.Tier,
		ExpectedThreshold: in.ExpectedThreshold,
		Stake:             in.Stake,
		PayoutMultiplier:  in.Tier.Multiplier(),
		TxHash:            "0xabc",
		PlacedAt:          time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	f.records[rec.ID] = rec
	return service.Placement{Record: rec, TxHash: rec.TxHash}, nil
}

func (f *fakeLifecycle) EvaluateBet(ctx context.Context, id string) (storage.BetRecord, service.Evaluation, error) {
	rec, ok := f.records[id]
	if !ok {
		return storage.BetRecord{}, service.Evaluation{}, bet.ErrNotFound
	}
	return rec, f.eval, f.evalErr
}

func (f *fakeLifecycle) ClaimReward(ctx context.Context, id string, eval service.Evaluation) (service.ClaimResult, error) {
	f.claims++
	if f.claimErr != nil {
		return service.ClaimResult{}, f.claimErr
	}
	rec := f.records[id]
	rec.Claimed = true
	return service.ClaimResult{Record: rec, TxHash: "0xclaim", Payout: rec.Payout()}, nil
}

func (f *fakeLifecycle) GetBet(ctx context.Context, id string) (storage.BetRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return storage.BetRecord{}, bet.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLifecycle) ListBets(ctx context.Context, filter storage.ListFilter) ([]storage.BetRecord, error) {
	f.filter = filter
	out := make([]storage.BetRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func newTestServer(t *testing.T, f *fakeLifecycle) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(Options{}, f, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestPlaceBet(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)

	resp := post(t, srv.URL+"/api/bets", `{"game_identifier":"#2pp","tier":"Easy","expected_threshold":75,"stake":"0.02"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
	view := decode[betView](t, resp)
	if view.ID != "bet-1" || view.Tier != "easy" || view.Status != "placed" || !view.Payout.Equal(decimal.RequireFromString("0.06")) {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(f.placed) != 1 || f.placed[0].Game != bet.GameClashOfClans {
		t.Fatalf("unexpected intake %+v", f.placed)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing identifier", `{"tier":"easy","expected_threshold":75,"stake":"0.02"}`},
		{"unknown tier", `{"game_identifier":"2PP","tier":"legendary","expected_threshold":75,"stake":"0.02"}`},
		{"stake not numeric", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"lots"}`},
		{"threshold out of tier", `{"game_identifier":"2PP","tier":"hard","expected_threshold":80,"stake":"0.05"}`},
		{"stake below minimum", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"0.005"}`},
		{"unknown field", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"0.02","odds":3}`},
		{"not json", `nope`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeLifecycle()
			srv := newTestServer(t, f)
			resp := post(t, srv.URL+"/api/bets", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			body := decode[errorResponse](t, resp)
			if body.Error != "validation" || body.RequestID == "" {
				t.Fatalf("unexpected error body %+v", body)
			}
			if len(f.placed) != 0 {
				t.Fatal("nothing should be placed")
			}
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&bet.LedgerError{Kind: bet.KindAlreadyClaimed}, http.StatusConflict, "already-claimed"},
		{&bet.LedgerError{Kind: bet.KindInvalidProof}, http.StatusUnprocessableEntity, "invalid-proof"},
		{&bet.LedgerError{Kind: bet.KindUnavailable}, http.StatusServiceUnavailable, "unavailable"},
		{&bet.LedgerError{Kind: bet.KindUnconfirmed}, http.StatusGatewayTimeout, "unconfirmed"},
		{fmt.Errorf("%w: %w", bet.ErrIneligibleClaim, bet.ErrAttestationMismatch), http.StatusUnprocessableEntity, "ineligible_claim"},
		{service.ErrClaimInProgress, http.StatusConflict, "claim_in_progress"},
		{fmt.Errorf("%w: boom", bet.ErrOracle), http.StatusBadGateway, "oracle"},
		{bet.ErrWalletConnection, http.StatusServiceUnavailable, "wallet_connection"},
		{bet.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("%v: got %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestClaimFlow(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)
	resp := post(t, srv.URL+"/api/bets", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"0.02"}`)
	resp.Body.Close()

	f.eval = service.Evaluation{Expected: 75, Outcome: oracle.Outcome{Actual: 80}, Attestation: proof.Attestation{IsWinner: true}, HasWon: true}
	resp = post(t, srv.URL+"/api/bets/bet-1/claim", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	view := decode[claimView](t, resp)
	if view.TxHash != "0xclaim" || view.Bet.Status != "claimed" {
		t.Fatalf("unexpected claim view %+v", view)
	}

	f.claimErr = &bet.LedgerError{Kind: bet.KindAlreadyClaimed, Op: "claimReward"}
	resp = post(t, srv.URL+"/api/bets/bet-1/claim", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Message != "This reward has already been claimed." {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestClaimOracleFailureSkipsLedger(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)
	post(t, srv.URL+"/api/bets", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"0.02"}`).Body.Close()

	f.evalErr = fmt.Errorf("%w: 503", bet.ErrOracle)
	resp := post(t, srv.URL+"/api/bets/bet-1/claim", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.claims != 0 {
		t.Fatal("claim must not run without an evaluation")
	}
}

func TestClaimOfClaimedBetSkipsEvaluation(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)
	post(t, srv.URL+"/api/bets", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"0.02"}`).Body.Close()

	rec := f.records["bet-1"]
	rec.Claimed = true
	f.records["bet-1"] = rec
	f.evalErr = fmt.Errorf("%w: 503", bet.ErrOracle)

	resp := post(t, srv.URL+"/api/bets/bet-1/claim", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[errorResponse](t, resp)
	if body.Error != "already-claimed" {
		t.Fatalf("unexpected error code %q", body.Error)
	}
	if f.claims != 0 {
		t.Fatal("claim must not reach the ledger")
	}
}

func TestEvaluateReturnsMismatchForDisplay(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)
	post(t, srv.URL+"/api/bets", `{"game_identifier":"2PP","tier":"easy","expected_threshold":75,"stake":"0.02"}`).Body.Close()

	f.eval = service.Evaluation{Expected: 75, Outcome: oracle.Outcome{Actual: 70}, Attestation: proof.Attestation{IsWinner: true}}
	f.evalErr = fmt.Errorf("%w: disagree", bet.ErrAttestationMismatch)

	resp := post(t, srv.URL+"/api/bets/bet-1/evaluate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	view := decode[evaluationView](t, resp)
	if view.Outcome.Actual != 70 || view.Eligible || view.Warning == "" {
		t.Fatalf("unexpected evaluation view %+v", view)
	}
}

func TestGetBetNotFound(t *testing.T) {
	srv := newTestServer(t, newFakeLifecycle())
	resp, err := http.Get(srv.URL + "/api/bets/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListBetsQuery(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)

	resp, err := http.Get(srv.URL + "/api/bets?status=Claimed&wallet=0x00000000000000000000000000000000000000a1&limit=5")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.filter.Status != storage.StatusClaimed || f.filter.Limit != 5 || f.filter.WalletAddress == "" {
		t.Fatalf("unexpected filter %+v", f.filter)
	}

	for _, q := range []string{"status=lost", "wallet=nope", "limit=-1", "limit=x"} {
		resp, err := http.Get(srv.URL + "/api/bets?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", q, resp.StatusCode)
		}
	}
}

func TestStatsAndTiers(t *testing.T) {
	f := newFakeLifecycle()
	srv := newTestServer(t, f)
	post(t, srv.URL+"/api/bets", `{"game_identifier":"2PP","tier":"medium","expected_threshold":85,"stake":"0.02"}`).Body.Close()

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	var summary struct {
		Bets    int `json:"bets"`
		Pending int `json:"pending"`
		Tiers   []struct {
			Tier string `json:"tier"`
		} `json:"tiers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if summary.Bets != 1 || summary.Pending != 1 || len(summary.Tiers) != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	resp, err = http.Get(srv.URL + "/api/tiers")
	if err != nil {
		t.Fatal(err)
	}
	tiers := decode[[]tierView](t, resp)
	if len(tiers) != 3 || tiers[1].Tier != "medium" || tiers[1].MinThreshold != 80 || tiers[1].Multiplier != 4 {
		t.Fatalf("unexpected tiers %+v", tiers)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, newFakeLifecycle())
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/bets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("preflight should be answered by the CORS handler")
	}
}
