package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/storage"
)

// EventKind names a session change.
type EventKind string

const (
	AccountChanged EventKind = "account_changed"
	Disconnected   EventKind = "disconnected"
)

// Event reports a session change to subscribers.
type Event struct {
	Kind     EventKind
	Address  common.Address
	Previous common.Address
}

// Session is an unlocked account able to sign transactions.
type Session struct {
	Address common.Address
	ChainID *big.Int
	auth    *bind.TransactOpts
}

// TransactOpts returns a copy of the signer bound to ctx.
func (s *Session) TransactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *s.auth
	opts.Context = ctx
	return &opts
}

// Connector hands out signing sessions.
type Connector interface {
	RequestAccounts(ctx context.Context) (*Session, error)
	Session() (*Session, bool)
	Subscribe(fn func(Event)) (unsubscribe func())
	Disconnect(ctx context.Context) error
}

// ChainIDSource resolves the network id when it is not configured.
type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Options locate the key material.
type Options struct {
	PrivateKey   string
	KeystorePath string
	Passphrase   string
	ChainID      int64
}

// KeyConnector unlocks a local private key or keystore file.
type KeyConnector struct {
	opts   Options
	chain  ChainIDSource
	state  storage.WalletStateStore
	logger zerolog.Logger

	mu          sync.Mutex
	session     *Session
	subscribers map[int]func(Event)
	nextSub     int
}

// NewKeyConnector builds a connector. chain and state may be nil.
func NewKeyConnector(opts Options, chain ChainIDSource, state storage.WalletStateStore, logger zerolog.Logger) *KeyConnector {
	return &KeyConnector{
		opts:        opts,
		chain:       chain,
		state:       state,
		logger:      logger.With().Str("component", "wallet").Logger(),
		subscribers: make(map[int]func(Event)),
	}
}

// RequestAccounts unlocks the configured key and opens a session. An open session is reused.
func (c *KeyConnector) RequestAccounts(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session != nil {
		s := c.session
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	key, err := c.loadKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bet.ErrWalletConnection, err)
	}
	return c.open(ctx, key)
}

// SwitchAccount replaces the session with a different hex key.
func (c *KeyConnector) SwitchAccount(ctx context.Context, hexKey string) (*Session, error) {
	key, err := parseHexKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bet.ErrWalletConnection, err)
	}
	return c.open(ctx, key)
}

func (c *KeyConnector) open(ctx context.Context, key *ecdsa.PrivateKey) (*Session, error) {
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve chain id: %v", bet.ErrWalletConnection, err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: build signer: %v", bet.ErrWalletConnection, err)
	}
	session := &Session{Address: auth.From, ChainID: chainID, auth: auth}

	c.mu.Lock()
	previous := c.session
	c.session = session
	c.mu.Unlock()

	c.persist(ctx, storage.WalletState{Connected: true, Address: session.Address.Hex(), UpdatedAt: time.Now().UTC()})

	if previous != nil && previous.Address != session.Address {
		c.publish(Event{Kind: AccountChanged, Address: session.Address, Previous: previous.Address})
	}
	c.logger.Info().Str("address", session.Address.Hex()).Str("chain_id", chainID.String()).Msg("wallet connected")
	return session, nil
}

// Session returns the open session, if any.
func (c *KeyConnector) Session() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session != nil
}

// Subscribe registers fn for session changes until the returned func is called.
func (c *KeyConnector) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Disconnect drops the session and clears the persisted flags.
func (c *KeyConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	previous := c.session
	c.session = nil
	c.mu.Unlock()

	if c.state != nil {
		if err := c.state.ClearWalletState(ctx); err != nil {
			return fmt.Errorf("clear wallet state: %w", err)
		}
	}
	if previous != nil {
		c.publish(Event{Kind: Disconnected, Previous: previous.Address})
		c.logger.Info().Str("address", previous.Address.Hex()).Msg("wallet disconnected")
	}
	return nil
}

// LastKnown reads the persisted connection flags without unlocking any key.
func (c *KeyConnector) LastKnown(ctx context.Context) (storage.WalletState, error) {
	if c.state == nil {
		return storage.WalletState{}, nil
	}
	return c.state.LoadWalletState(ctx)
}

func (c *KeyConnector) publish(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *KeyConnector) persist(ctx context.Context, state storage.WalletState) {
	if c.state == nil {
		return
	}
	if err := c.state.SaveWalletState(ctx, state); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist wallet state")
	}
}

func (c *KeyConnector) resolveChainID(ctx context.Context) (*big.Int, error) {
	if c.opts.ChainID > 0 {
		return big.NewInt(c.opts.ChainID), nil
	}
	if c.chain == nil {
		return nil, errors.New("ethereum.chain_id not configured and no rpc to query")
	}
	return c.chain.ChainID(ctx)
}

func (c *KeyConnector) loadKey() (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(c.opts.PrivateKey) != "":
		return parseHexKey(c.opts.PrivateKey)
	case c.opts.KeystorePath != "":
		raw, err := os.ReadFile(c.opts.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("read keystore: %w", err)
		}
		key, err := keystore.DecryptKey(raw, c.opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt keystore: %w", err)
		}
		return key.PrivateKey, nil
	default:
		return nil, errors.New("no wallet configured: set wallet.private_key or wallet.keystore_path")
	}
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	hexKey := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

var _ Connector = (*KeyConnector)(nil)
