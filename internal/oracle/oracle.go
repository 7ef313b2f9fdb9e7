package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"skillbet/internal/bet"
)

const warlogPath = "/api/coc/warlog/"

// Outcome is the authoritative result of the war a bet is settled against.
type Outcome struct {
	Actual       int    `json:"actual"`
	Opponent     int    `json:"opponent"`
	ClanName     string `json:"clanName"`
	OpponentName string `json:"opponentName"`
}

// ResultOracle retrieves game results.
type ResultOracle interface {
	FetchOutcome(ctx context.Context, clanTag string) (Outcome, error)
}

// Options parameterise the war log client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	WarIndex  int
}

// Client reads the clan war log from the backend API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a war log client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "result_oracle").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchOutcome returns the destruction percentages of the configured war, floored to integers.
func (c *Client) FetchOutcome(ctx context.Context, clanTag string) (Outcome, error) {
	tag := bet.NormalizeTag(clanTag)
	if tag == "" {
		return Outcome{}, bet.Validationf("clan tag is required")
	}

	endpoint := c.baseURL + warlogPath + url.PathEscape(tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: build request: %v", bet.ErrOracle, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "skillbet/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", bet.ErrOracle, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read body: %v", bet.ErrOracle, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("%w: %v", bet.ErrOracle, parseHTTPError(resp.StatusCode, payload))
	}

	var log warLog
	if err := json.Unmarshal(payload, &log); err != nil {
		return Outcome{}, fmt.Errorf("%w: decode war log: %v", bet.ErrOracle, err)
	}

	index := c.opts.WarIndex
	if index < 0 || index >= len(log.Items) {
		return Outcome{}, fmt.Errorf("%w: war log for %s has %d entries, need index %d", bet.ErrOracle, tag, len(log.Items), index)
	}
	war := log.Items[index]
	if war.Clan.DestructionPercentage == nil {
		return Outcome{}, fmt.Errorf("%w: war %d for %s has no destruction percentage", bet.ErrOracle, index, tag)
	}

	outcome := Outcome{
		Actual:       floorPercent(*war.Clan.DestructionPercentage),
		ClanName:     war.Clan.Name,
		OpponentName: war.Opponent.Name,
	}
	if war.Opponent.DestructionPercentage != nil {
		outcome.Opponent = floorPercent(*war.Opponent.DestructionPercentage)
	}

	c.logger.Debug().Str("clan_tag", tag).
		Int("actual", outcome.Actual).
		Int("opponent", outcome.Opponent).
		Msg("war result fetched")
	return outcome, nil
}

func floorPercent(v float64) int {
	return int(math.Floor(v))
}

type warLog struct {
	Items []warEntry `json:"items"`
}

type warEntry struct {
	Clan     warSide `json:"clan"`
	Opponent warSide `json:"opponent"`
}

type warSide struct {
	Name                  string   `json:"name"`
	DestructionPercentage *float64 `json:"destructionPercentage"`
}

type errorResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("war log api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("war log api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Reason != "" {
			return fmt.Errorf("war log api error (%d): %s", status, apiErr.Reason)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("war log api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("war log api error (%d)", status)
}

var _ ResultOracle = (*Client)(nil)
