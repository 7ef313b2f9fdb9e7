package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/ledger"
	"skillbet/internal/notify"
	"skillbet/internal/oracle"
	"skillbet/internal/proof"
	"skillbet/internal/storage"
	"skillbet/internal/wallet"
)

var playerAddress = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type fakeWallet struct {
	mu         sync.Mutex
	session    *wallet.Session
	connected  bool
	requestErr error
	requests   int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{session: &wallet.Session{Address: playerAddress, ChainID: big.NewInt(1337)}}
}

func (w *fakeWallet) RequestAccounts(ctx context.Context) (*wallet.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests++
	if w.requestErr != nil {
		return nil, w.requestErr
	}
	w.connected = true
	return w.session, nil
}

func (w *fakeWallet) Session() (*wallet.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return nil, false
	}
	return w.session, true
}

func (w *fakeWallet) Subscribe(fn func(wallet.Event)) func() { return func() {} }

func (w *fakeWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}

type fakeLedger struct {
	mu          sync.Mutex
	placeCalls  int
	claimCalls  int
	placeErr    error
	claimErr    error
	claimEvent  *big.Int
	claimDelay  time.Duration
	lastMult    int64
	lastStake   *big.Int
	hasClaimed  map[common.Address]bool
	hasClaimErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{hasClaimed: make(map[common.Address]bool)}
}

func (l *fakeLedger) PlaceBet(ctx context.Context, session *wallet.Session, stakeWei *big.Int) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.placeCalls++
	if l.placeErr != nil {
		return ledger.Receipt{}, l.placeErr
	}
	l.lastStake = new(big.Int).Set(stakeWei)
	return ledger.Receipt{
		TxHash:      fmt.Sprintf("0xplace%02d", l.placeCalls),
		BlockNumber: uint64(100 + l.placeCalls),
		Events:      []ledger.Event{{Name: ledger.EventBetPlaced, User: session.Address, Amount: stakeWei}},
	}, nil
}

func (l *fakeLedger) ClaimReward(ctx context.Context, session *wallet.Session, proofWords [proof.ProofLen]*big.Int, signals [proof.SignalLen]*big.Int, multiplier int64) (ledger.Receipt, error) {
	if l.claimDelay > 0 {
		time.Sleep(l.claimDelay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claimCalls++
	l.lastMult = multiplier
	if l.claimErr != nil {
		return ledger.Receipt{}, l.claimErr
	}
	receipt := ledger.Receipt{TxHash: fmt.Sprintf("0xclaim%02d", l.claimCalls), BlockNumber: 200}
	if l.claimEvent != nil {
		receipt.Events = []ledger.Event{{Name: ledger.EventRewardClaimed, User: session.Address, Amount: l.claimEvent}}
	}
	return receipt, nil
}

func (l *fakeLedger) HasClaimed(ctx context.Context, user common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasClaimErr != nil {
		return false, l.hasClaimErr
	}
	return l.hasClaimed[user], nil
}

func (l *fakeLedger) StakeOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (l *fakeLedger) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (l *fakeLedger) counts() (place, claim int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.placeCalls, l.claimCalls
}

type fakeOracle struct {
	mu       sync.Mutex
	outcomes map[string]oracle.Outcome
	failures int
	err      error
	calls    int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{outcomes: make(map[string]oracle.Outcome)}
}

func (o *fakeOracle) set(tag string, actual int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[bet.NormalizeTag(tag)] = oracle.Outcome{Actual: actual, Opponent: 50, ClanName: "Raiders", OpponentName: "Defenders"}
}

func (o *fakeOracle) FetchOutcome(ctx context.Context, clanTag string) (oracle.Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.failures > 0 {
		o.failures--
		return oracle.Outcome{}, fmt.Errorf("%w: upstream 503", bet.ErrOracle)
	}
	if o.err != nil {
		return oracle.Outcome{}, o.err
	}
	outcome, ok := o.outcomes[clanTag]
	if !ok {
		return oracle.Outcome{}, fmt.Errorf("%w: no war log for %s", bet.ErrOracle, clanTag)
	}
	return outcome, nil
}

// fakeProofs answers honestly unless forced.
type fakeProofs struct {
	mu     sync.Mutex
	force  *bool
	err    error
	calls  int
	shortP bool
}

func (p *fakeProofs) RequestAttestation(ctx context.Context, actual, expected int) (proof.Attestation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return proof.Attestation{}, p.err
	}
	winner := actual >= expected
	if p.force != nil {
		winner = *p.force
	}
	n := proof.ProofLen
	if p.shortP {
		n = 3
	}
	return proof.Attestation{
		IsWinner:      winner,
		Proof:         wordsJSON(n),
		PublicSignals: json.RawMessage(`["1"]`),
		Result:        fmt.Sprintf("%d/%d", actual, expected),
	}, nil
}

func wordsJSON(n int) json.RawMessage {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf(`"%d"`, i+1)
	}
	return json.RawMessage("[" + strings.Join(words, ",") + "]")
}

// memoryStore mirrors the SQL stores, including the conditional claim update.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]storage.BetRecord
	marks   map[string]int
	lockErr error
	locked  map[int64]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string]storage.BetRecord),
		marks:   make(map[string]int),
	}
}

func (s *memoryStore) InsertBet(ctx context.Context, rec storage.BetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.records[rec.ID]; dup {
		return fmt.Errorf("duplicate id %s", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *memoryStore) GetBet(ctx context.Context, id string) (storage.BetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return storage.BetRecord{}, bet.ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) FindLatestUnclaimed(ctx context.Context, gameIdentifier string, tier string) (storage.BetRecord, error) {
	recs, _ := s.ListBets(ctx, storage.ListFilter{Status: storage.StatusPlaced})
	for _, rec := range recs {
		if rec.GameIdentifier == gameIdentifier && rec.Tier.String() == tier {
			return rec, nil
		}
	}
	return storage.BetRecord{}, bet.ErrNotFound
}

func (s *memoryStore) ListBets(ctx context.Context, filter storage.ListFilter) ([]storage.BetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.BetRecord
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status() != filter.Status {
			continue
		}
		if filter.WalletAddress != "" && !strings.EqualFold(filter.WalletAddress, rec.WalletAddress) {
			continue
		}
		if filter.GameIdentifier != "" && rec.GameIdentifier != filter.GameIdentifier {
			continue
		}
		if filter.Tier != "" && rec.Tier != filter.Tier {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryStore) MarkClaimed(ctx context.Context, id string, claimedAt time.Time, claimTx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return bet.ErrNotFound
	}
	if rec.Claimed {
		return storage.ErrAlreadyClaimed
	}
	rec.Claimed = true
	at := claimedAt
	rec.ClaimedAt = &at
	if claimTx != "" {
		tx := claimTx
		rec.ClaimTxHash = &tx
	}
	s.records[id] = rec
	s.marks[id]++
	return nil
}

func (s *memoryStore) ExpireBefore(ctx context.Context, cutoff, expiredAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if rec.Pending() && rec.PlacedAt.Before(cutoff) {
			at := expiredAt
			rec.ExpiredAt = &at
			s.records[id] = rec
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) claimMarks(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[id]
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// lockingStore adds advisory locks with a fixed set of keys held elsewhere.
type lockingStore struct {
	*memoryStore
}

func (s lockingStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, false, s.lockErr
	}
	if s.locked[key] {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Kind)
	}
	return out
}

type harness struct {
	coord    *Coordinator
	wallet   *fakeWallet
	ledger   *fakeLedger
	oracle   *fakeOracle
	proofs   *fakeProofs
	store    *memoryStore
	notifier *recordingNotifier
	clock    time.Time
}

func newHarness(opts Options) *harness {
	h := &harness{
		wallet:   newFakeWallet(),
		ledger:   newFakeLedger(),
		oracle:   newFakeOracle(),
		proofs:   &fakeProofs{},
		store:    newMemoryStore(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.coord = New(opts, Deps{
		Wallet:   h.wallet,
		Ledger:   h.ledger,
		Oracle:   h.oracle,
		Proofs:   h.proofs,
		Store:    h.store,
		Notifier: h.notifier,
	}, zerolog.Nop())
	h.coord.now = func() time.Time { return h.clock }
	return h
}
