package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/ledger"
	"skillbet/internal/metrics"
	"skillbet/internal/notify"
	"skillbet/internal/oracle"
	"skillbet/internal/proof"
	"skillbet/internal/scheduler"
	"skillbet/internal/storage"
	"skillbet/internal/wallet"
)

// ErrClaimInProgress is returned when another process holds the claim lock for a record.
var ErrClaimInProgress = errors.New("claim already in progress for this bet")

// Options tune settlement behaviour.
type Options struct {
	AutoClaim       bool
	ExpireAfter     time.Duration
	MaxRetries      uint64
	RetryBase       time.Duration
	AdvisoryLockKey int64
}

// Deps are the collaborators the coordinator drives. Notifier, Metrics and Scheduler are optional.
type Deps struct {
	Wallet    wallet.Connector
	Ledger    ledger.Contract
	Oracle    oracle.ResultOracle
	Proofs    proof.Service
	Store     storage.BetStore
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Scheduler *scheduler.Scheduler
}

// Coordinator drives bets from intake to settlement.
type Coordinator struct {
	wallet    wallet.Connector
	ledger    ledger.Contract
	oracle    oracle.ResultOracle
	proofs    proof.Service
	store     storage.BetStore
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
	opts      Options

	claimLocks  keyedMutex
	unsubscribe func()

	newID func() (string, error)
	now   func() time.Time
}

// New constructs the coordinator.
func New(opts Options, deps Deps, logger zerolog.Logger) *Coordinator {
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	c := &Coordinator{
		wallet:     deps.Wallet,
		ledger:     deps.Ledger,
		oracle:     deps.Oracle,
		proofs:     deps.Proofs,
		store:      deps.Store,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		scheduler:  deps.Scheduler,
		locker:     locker,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		opts:       opts,
		claimLocks: keyedMutex{locks: make(map[string]*keyLock)},
		newID:      func() (string, error) { return gonanoid.New() },
		now:        func() time.Time { return time.Now().UTC() },
	}

	if c.wallet != nil {
		c.unsubscribe = c.wallet.Subscribe(c.onWalletEvent)
	}
	return c
}

// Close detaches the coordinator from wallet events.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Coordinator) onWalletEvent(ev wallet.Event) {
	switch ev.Kind {
	case wallet.AccountChanged:
		c.logger.Info().Str("previous", ev.Previous.Hex()).Str("address", ev.Address.Hex()).Msg("wallet account changed")
	case wallet.Disconnected:
		c.logger.Info().Str("previous", ev.Previous.Hex()).Msg("wallet disconnected")
	}
}

// ensureSession returns the open wallet session, requesting one when absent.
func (c *Coordinator) ensureSession(ctx context.Context) (*wallet.Session, error) {
	if c.wallet == nil {
		return nil, fmt.Errorf("%w: no wallet configured", bet.ErrWalletConnection)
	}
	if session, ok := c.wallet.Session(); ok {
		return session, nil
	}
	session, err := c.wallet.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, bet.ErrWalletConnection) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", bet.ErrWalletConnection, err)
	}
	return session, nil
}

func (c *Coordinator) notify(ctx context.Context, note notify.Notification) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, note); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(note.Kind)).Str("bet_id", note.BetID).Msg("failed to dispatch notification")
	}
}

func (c *Coordinator) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || c.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// claimLockKey derives a per-record advisory lock key from the bet id.
func claimLockKey(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("claim:" + id))
	key := int64(h.Sum64())
	if key == 0 {
		key = 1
	}
	return key
}

type keyLock struct {
	sync.Mutex
	refs int
}

// keyedMutex serialises work per key inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
