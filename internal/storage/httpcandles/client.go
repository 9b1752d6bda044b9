// Package httpcandles fetches OHLCV candles from an HTTP market data API.
package httpcandles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/storage"
)

// Default client settings.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// Client implements storage.CandleSource over the /defi/ohlcv endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Compile-time interface check.
var _ storage.CandleSource = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithAPIKey sets the X-API-KEY header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// New creates a candle client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ohlcvResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Items []struct {
			UnixTime int64   `json:"unixTime"`
			O        float64 `json:"o"`
			H        float64 `json:"h"`
			L        float64 `json:"l"`
			C        float64 `json:"c"`
			V        float64 `json:"v"`
		} `json:"items"`
	} `json:"data"`
	Message string `json:"message"`
}

// apiInterval maps interval labels to the API's type parameter.
func apiInterval(label string) string {
	if label == "1h" {
		return "1H"
	}
	return label
}

// Fetch returns candles within [start, end], ordered by timestamp ASC.
func (c *Client) Fetch(ctx context.Context, assetKey, chain string, start, end int64, interval string) ([]domain.Candle, error) {
	if domain.IntervalSeconds(interval) == 0 {
		return nil, fmt.Errorf("%w: interval %q", storage.ErrInvalidInput, interval)
	}

	q := url.Values{}
	q.Set("address", assetKey)
	q.Set("type", apiInterval(interval))
	q.Set("time_from", strconv.FormatInt(start, 10))
	q.Set("time_to", strconv.FormatInt(end, 10))
	endpoint := c.baseURL + "/defi/ohlcv?" + q.Encode()

	t0 := time.Now()
	body, err := c.get(ctx, endpoint, chain)
	observability.RecordHTTPLatency("candles", time.Since(t0).Seconds())
	if err != nil {
		return nil, err
	}

	var resp ohlcvResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal ohlcv: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("ohlcv request for %s failed: %s", assetKey, resp.Message)
	}

	candles := make([]domain.Candle, 0, len(resp.Data.Items))
	for _, it := range resp.Data.Items {
		if it.UnixTime < start || it.UnixTime > end {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: it.UnixTime,
			Open:      it.O,
			High:      it.H,
			Low:       it.L,
			Close:     it.C,
			Volume:    it.V,
		})
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
	return candles, nil
}

// get performs a GET with retries and exponential backoff. 4xx responses
// other than 429 are not retried.
func (c *Client) get(ctx context.Context, endpoint, chain string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-KEY", c.apiKey)
		}
		if chain != "" {
			req.Header.Set("x-chain", chain)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
