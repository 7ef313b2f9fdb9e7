package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"skillbet/internal/bet"
)

const (
	generateProofPath = "/api/gp"

	// ProofLen is the number of uint256 words the verifier expects.
	ProofLen = 24
	// SignalLen is the number of public signals the verifier expects.
	SignalLen = 1
)

// Attestation is the proof service verdict on (actual, expected).
type Attestation struct {
	IsWinner      bool            `json:"isWinner"`
	Proof         json.RawMessage `json:"proof"`
	PublicSignals json.RawMessage `json:"publicSignals"`
	Result        string          `json:"result"`
}

// Service requests attestations.
type Service interface {
	RequestAttestation(ctx context.Context, actual, expected int) (Attestation, error)
}

// Options parameterise the proof client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client calls the proof generation endpoint.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a proof client. Proof generation is slow, so the default timeout is generous.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "proof_service").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// RequestAttestation asks for a proof that actual meets expected.
func (c *Client) RequestAttestation(ctx context.Context, actual, expected int) (Attestation, error) {
	body, err := json.Marshal(proofRequest{Actual: actual, Expected: expected})
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: marshal request: %v", bet.ErrProofService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generateProofPath, bytes.NewReader(body))
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: build request: %v", bet.ErrProofService, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: %v", bet.ErrProofService, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: read body: %v", bet.ErrProofService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Attestation{}, fmt.Errorf("%w: proof api error (%d): %s", bet.ErrProofService, resp.StatusCode, msg)
	}

	var raw proofResponse
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Attestation{}, fmt.Errorf("%w: decode response: %v", bet.ErrProofService, err)
	}
	winner, err := parseFlag(raw.IsWinner)
	if err != nil {
		return Attestation{}, fmt.Errorf("%w: isWinner: %v", bet.ErrProofService, err)
	}
	if len(raw.Proof) == 0 || string(raw.Proof) == "null" {
		return Attestation{}, fmt.Errorf("%w: response carries no proof", bet.ErrProofService)
	}

	att := Attestation{
		IsWinner:      winner,
		Proof:         raw.Proof,
		PublicSignals: raw.PublicSignals,
		Result:        raw.Result,
	}
	c.logger.Debug().Int("actual", actual).Int("expected", expected).Bool("is_winner", winner).Msg("attestation received")
	return att, nil
}

type proofRequest struct {
	Actual   int `json:"actual"`
	Expected int `json:"expected"`
}

type proofResponse struct {
	Proof         json.RawMessage `json:"proof"`
	PublicSignals json.RawMessage `json:"publicSignals"`
	IsWinner      json.RawMessage `json:"isWinner"`
	Result        string          `json:"result"`
}

// parseFlag accepts 0/1, true/false, or their string forms.
func parseFlag(raw json.RawMessage) (bool, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	switch strings.ToLower(s) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("unexpected value %q", string(raw))
}

// ProofWords converts the proof blob into the verifier's fixed-size word array.
func (a Attestation) ProofWords() ([ProofLen]*big.Int, error) {
	var out [ProofLen]*big.Int
	words, err := decodeWords(a.Proof)
	if err != nil {
		return out, fmt.Errorf("proof: %w", err)
	}
	if len(words) != ProofLen {
		return out, fmt.Errorf("proof: expected %d words, got %d", ProofLen, len(words))
	}
	copy(out[:], words)
	return out, nil
}

// SignalWords converts the public signals into the verifier's fixed-size word array.
func (a Attestation) SignalWords() ([SignalLen]*big.Int, error) {
	var out [SignalLen]*big.Int
	words, err := decodeWords(a.PublicSignals)
	if err != nil {
		return out, fmt.Errorf("public signals: %w", err)
	}
	if len(words) != SignalLen {
		return out, fmt.Errorf("public signals: expected %d words, got %d", SignalLen, len(words))
	}
	copy(out[:], words)
	return out, nil
}

// decodeWords accepts a JSON array of numbers or numeric strings, or a single hex
// string holding the words back to back as 32-byte big-endian values.
func decodeWords(raw json.RawMessage) ([]*big.Int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty value")
	}

	if trimmed[0] == '"' {
		var blob string
		if err := json.Unmarshal(trimmed, &blob); err != nil {
			return nil, err
		}
		return splitHexWords(blob)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("expected array or hex string: %w", err)
	}
	words := make([]*big.Int, 0, len(items))
	for i, item := range items {
		word, err := parseWord(item)
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", i, err)
		}
		words = append(words, word)
	}
	return words, nil
}

func splitHexWords(blob string) ([]*big.Int, error) {
	data, err := hexutil.Decode(blob)
	if err != nil {
		return nil, err
	}
	if len(data)%32 != 0 {
		return nil, fmt.Errorf("hex blob length %d is not a multiple of 32", len(data))
	}
	words := make([]*big.Int, 0, len(data)/32)
	for off := 0; off < len(data); off += 32 {
		words = append(words, new(big.Int).SetBytes(data[off:off+32]))
	}
	return words, nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func parseWord(raw json.RawMessage) (*big.Int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return nil, fmt.Errorf("empty word")
	}
	word, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	if word.Sign() < 0 || word.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%s does not fit uint256", s)
	}
	return word, nil
}

var _ Service = (*Client)(nil)
