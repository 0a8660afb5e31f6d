package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"levelwatch/internal/version"
)

const coinGeckoPricePath = "/simple/price"

var coinGeckoIDs = map[Symbol]string{
	BTC: "bitcoin",
	ETH: "ethereum",
}

// CoinGeckoOptions parameterise the CoinGecko fetcher.
type CoinGeckoOptions struct {
	BaseURL           string
	APIKey            string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
}

// CoinGecko reads spot prices from the public simple/price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewCoinGecko constructs a CoinGecko fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	// burst of two lets BTC and ETH of one cycle go out back to back
	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 2)
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: limiter,
	}
}

// Name identifies the provider in logs and errors.
func (c *CoinGecko) Name() string { return "coingecko" }

// FetchPrice returns the USD price of symbol.
func (c *CoinGecko) FetchPrice(ctx context.Context, symbol Symbol) (float64, error) {
	price, err := c.fetch(ctx, symbol)
	if err != nil {
		return 0, &Error{Provider: c.Name(), Symbol: symbol, Err: err}
	}
	return price, nil
}

func (c *CoinGecko) fetch(ctx context.Context, symbol Symbol) (float64, error) {
	id, ok := coinGeckoIDs[symbol]
	if !ok {
		return 0, fmt.Errorf("unsupported symbol %q", symbol)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limiter: %w", err)
		}
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")
	endpoint := c.baseURL + coinGeckoPricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode != http.StatusOK {
		return 0, parseCoinGeckoError(resp.StatusCode, payload)
	}

	var prices map[string]map[string]float64
	if err := json.Unmarshal(payload, &prices); err != nil {
		return 0, fmt.Errorf("decode price payload: %w", err)
	}

	price, ok := prices[id]["usd"]
	if !ok {
		return 0, fmt.Errorf("price for %s missing from response", id)
	}
	if price <= 0 {
		return 0, errors.New("price returned non-positive")
	}

	c.logger.Debug().Str("symbol", string(symbol)).Float64("price", price).Msg("price fetched")
	return price, nil
}

type coinGeckoErrorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseCoinGeckoError(status int, payload []byte) error {
	var apiErr coinGeckoErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ PriceSource = (*CoinGecko)(nil)
