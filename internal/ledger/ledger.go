package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
	"skillbet/internal/wallet"
)

// Receipt summarises a confirmed transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Events      []Event
}

// Event is a decoded contract log.
type Event struct {
	Name   string
	User   common.Address
	Amount *big.Int
}

// Find returns the first event with the given name.
func (r Receipt) Find(name string) (Event, bool) {
	for _, ev := range r.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

// Contract is the betting contract as seen by the coordinator.
type Contract interface {
	PlaceBet(ctx context.Context, session *wallet.Session, stakeWei *big.Int) (Receipt, error)
	ClaimReward(ctx context.Context, session *wallet.Session, proof [24]*big.Int, signals [1]*big.Int, multiplier int64) (Receipt, error)
	HasClaimed(ctx context.Context, user common.Address) (bool, error)
	StakeOf(ctx context.Context, user common.Address) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Options parameterise the contract client.
type Options struct {
	RPCURL          string
	ContractAddress string
	GasLimit        uint64
	RequestTimeout  time.Duration
	ConfirmTimeout  time.Duration
}

// Client talks to the betting contract over JSON-RPC.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds a contract client. The RPC connection is dialled lazily.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 3 * time.Minute
	}
	return &Client{opts: opts, logger: logger.With().Str("component", "ledger").Logger()}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// PlaceBet sends the stake to the payable placeBet function and waits for the receipt.
func (c *Client) PlaceBet(ctx context.Context, session *wallet.Session, stakeWei *big.Int) (Receipt, error) {
	if stakeWei == nil || stakeWei.Sign() <= 0 {
		return Receipt{}, bet.Validationf("stake must be positive")
	}
	return c.transact(ctx, methodPlaceBet, session, stakeWei)
}

// ClaimReward submits the proof words and multiplier to claimReward.
func (c *Client) ClaimReward(ctx context.Context, session *wallet.Session, proof [24]*big.Int, signals [1]*big.Int, multiplier int64) (Receipt, error) {
	receipt, err := c.transact(ctx, methodClaimReward, session, nil, proof, signals, big.NewInt(multiplier))
	if err != nil {
		return receipt, err
	}
	if _, failed := receipt.Find(EventProofFailed); failed {
		return receipt, &bet.LedgerError{
			Kind:   bet.KindInvalidProof,
			Op:     methodClaimReward,
			TxHash: receipt.TxHash,
			Err:    errors.New("contract emitted ProofFailed"),
		}
	}
	return receipt, nil
}

// HasClaimed reads hasClaimed(user).
func (c *Client) HasClaimed(ctx context.Context, user common.Address) (bool, error) {
	out, err := c.call(ctx, methodHasClaimed, user)
	if err != nil {
		return false, err
	}
	claimed, ok := out[0].(bool)
	if !ok {
		return false, classify(methodHasClaimed, "", errors.New("failed to decode hasClaimed output"))
	}
	return claimed, nil
}

// StakeOf reads userBets(user).
func (c *Client) StakeOf(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := c.call(ctx, methodUserBets, user)
	if err != nil {
		return nil, err
	}
	stake, ok := out[0].(*big.Int)
	if !ok {
		return nil, classify(methodUserBets, "", errors.New("failed to decode userBets output"))
	}
	return stake, nil
}

// ChainID returns the network id of the RPC endpoint.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, classify("chainId", "", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, classify("chainId", "", err)
	}
	return id, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	addr, err := c.contractAddress()
	if err != nil {
		return nil, classify(method, "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, classify(method, "", err)
	}

	payload, err := betContractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, classify(method, "", err)
	}
	out, err := betContractABI.Unpack(method, res)
	if err != nil {
		return nil, classify(method, "", fmt.Errorf("unpack %s: %w", method, err))
	}
	if len(out) != 1 {
		return nil, classify(method, "", fmt.Errorf("unexpected %s response", method))
	}
	return out, nil
}

func (c *Client) transact(ctx context.Context, method string, session *wallet.Session, value *big.Int, args ...any) (Receipt, error) {
	if session == nil {
		return Receipt{}, fmt.Errorf("%w: no wallet session", bet.ErrWalletConnection)
	}
	addr, err := c.contractAddress()
	if err != nil {
		return Receipt{}, classify(method, "", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	client, err := c.getClient(dialCtx)
	cancel()
	if err != nil {
		return Receipt{}, classify(method, "", err)
	}

	opts := session.TransactOpts(ctx)
	opts.Value = value
	opts.NoSend = true
	if c.opts.GasLimit > 0 {
		opts.GasLimit = c.opts.GasLimit
	}

	// Gas estimation, nonce and signing happen here; nothing has reached the mempool yet.
	contract := bind.NewBoundContract(addr, betContractABI, client, client, client)
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return Receipt{}, classify(method, "", err)
	}
	txHash := tx.Hash().Hex()

	sendCtx, cancelSend := context.WithTimeout(ctx, c.opts.RequestTimeout)
	err = client.SendTransaction(sendCtx, tx)
	cancelSend()
	if err != nil {
		return Receipt{TxHash: txHash}, classifySend(method, txHash, err)
	}
	c.logger.Info().Str("method", method).Str("tx_hash", txHash).Str("from", session.Address.Hex()).Msg("transaction submitted")

	waitCtx, cancelWait := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancelWait()
	mined, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		return Receipt{TxHash: txHash}, &bet.LedgerError{Kind: bet.KindUnconfirmed, Op: method, TxHash: txHash, Err: err}
	}

	receipt := Receipt{
		TxHash:      txHash,
		BlockNumber: mined.BlockNumber.Uint64(),
		Events:      DecodeEvents(addr, mined.Logs),
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return receipt, &bet.LedgerError{Kind: bet.KindReverted, Op: method, TxHash: txHash, Err: errors.New("receipt status failed")}
	}

	c.logger.Info().Str("method", method).Str("tx_hash", txHash).Uint64("block", receipt.BlockNumber).Msg("transaction confirmed")
	return receipt, nil
}

func (c *Client) contractAddress() (common.Address, error) {
	if c.opts.RPCURL == "" {
		return common.Address{}, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(c.opts.ContractAddress) {
		return common.Address{}, fmt.Errorf("invalid contract address %q", c.opts.ContractAddress)
	}
	return common.HexToAddress(c.opts.ContractAddress), nil
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// DecodeEvents extracts the betting contract events from receipt logs.
func DecodeEvents(contract common.Address, logs []*types.Log) []Event {
	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg == nil || lg.Address != contract || len(lg.Topics) == 0 {
			continue
		}
		abiEvent, err := betContractABI.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		ev := Event{Name: abiEvent.Name}
		if len(lg.Topics) > 1 {
			ev.User = common.BytesToAddress(lg.Topics[1].Bytes())
		}
		if len(lg.Data) > 0 {
			values, err := betContractABI.Unpack(abiEvent.Name, lg.Data)
			if err == nil && len(values) == 1 {
				if amount, ok := values[0].(*big.Int); ok {
					ev.Amount = amount
				}
			}
		}
		events = append(events, ev)
	}
	return events
}

var revertPatterns = []struct {
	needle string
	kind   bet.LedgerKind
}{
	{"user rejected", bet.KindUserRejected},
	{"user denied", bet.KindUserRejected},
	{"rejected by user", bet.KindUserRejected},
	{"invalid zk proof", bet.KindInvalidProof},
	{"invalid proof", bet.KindInvalidProof},
	{"already claimed", bet.KindAlreadyClaimed},
	{"no bet placed", bet.KindNoBet},
	{"no bet found", bet.KindNoBet},
}

var unavailablePatterns = []string{
	"rpc url not configured",
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"eof",
}

// classify maps a go-ethereum error to the ledger taxonomy.
func classify(op, txHash string, err error) *bet.LedgerError {
	lerr := &bet.LedgerError{Kind: bet.KindReverted, Op: op, TxHash: txHash, Err: err}
	if err == nil {
		return lerr
	}

	msg := strings.ToLower(err.Error())
	for _, p := range revertPatterns {
		if strings.Contains(msg, p.needle) {
			lerr.Kind = p.kind
			return lerr
		}
	}
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "insufficient funds") {
		return lerr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		lerr.Kind = bet.KindUnavailable
		return lerr
	}
	for _, needle := range unavailablePatterns {
		if strings.Contains(msg, needle) {
			lerr.Kind = bet.KindUnavailable
			return lerr
		}
	}
	return lerr
}

// classifySend maps an error from broadcasting a signed transaction. The node may have
// accepted it before the failure surfaced, so transport failures are unconfirmed, never unavailable.
func classifySend(op, txHash string, err error) *bet.LedgerError {
	lerr := classify(op, txHash, err)
	if lerr.Kind == bet.KindUnavailable {
		lerr.Kind = bet.KindUnconfirmed
	}
	return lerr
}

var _ Contract = (*Client)(nil)
