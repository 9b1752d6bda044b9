package feed

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

	"quantbot-core/internal/domain"
	"quantbot-core/internal/observability"
)

// Default poll client settings.
const (
	DefaultPollTimeout     = 10 * time.Second
	DefaultPollMaxRetries  = 3
	DefaultPollRetryDelay  = 500 * time.Millisecond
	DefaultPollMaxDelay    = 5 * time.Second
	DefaultPollBackoffMult = 2.0
)

// ErrNoPrice is returned when the endpoint answers without a usable price.
var ErrNoPrice = errors.New("no price in response")

// PollClient fetches single prices from a request/response endpoint. It is
// used while the websocket feed is disabled.
type PollClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	now         func() time.Time
}

// PollOption configures PollClient.
type PollOption func(*PollClient)

// WithPollTimeout sets the HTTP client timeout.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *PollClient) {
		c.client.Timeout = d
	}
}

// WithPollMaxRetries sets maximum retry attempts.
func WithPollMaxRetries(n int) PollOption {
	return func(c *PollClient) {
		c.maxRetries = n
	}
}

// WithPollRetryDelay sets the initial retry delay.
func WithPollRetryDelay(d time.Duration) PollOption {
	return func(c *PollClient) {
		c.retryDelay = d
	}
}

// WithPollAPIKey sets the X-API-KEY header.
func WithPollAPIKey(key string) PollOption {
	return func(c *PollClient) {
		c.apiKey = key
	}
}

// WithPollHTTPClient sets a custom http.Client.
func WithPollHTTPClient(client *http.Client) PollOption {
	return func(c *PollClient) {
		c.client = client
	}
}

// NewPollClient creates a poll client for baseURL.
func NewPollClient(baseURL string, opts ...PollOption) *PollClient {
	c := &PollClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultPollTimeout},
		maxRetries:  DefaultPollMaxRetries,
		retryDelay:  DefaultPollRetryDelay,
		maxDelay:    DefaultPollMaxDelay,
		backoffMult: DefaultPollBackoffMult,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type priceResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Value          float64 `json:"value"`
		Marketcap      float64 `json:"marketcap"`
		UpdateUnixTime int64   `json:"updateUnixTime"`
	} `json:"data"`
	Message string `json:"message"`
}

// FetchPrice returns the latest price for account on chain.
func (c *PollClient) FetchPrice(ctx context.Context, account, chain string) (domain.PriceUpdate, error) {
	q := url.Values{}
	q.Set("address", account)
	endpoint := c.baseURL + "/defi/price?" + q.Encode()

	start := time.Now()
	body, err := c.get(ctx, endpoint, chain)
	observability.RecordHTTPLatency("poll", time.Since(start).Seconds())
	if err != nil {
		observability.RecordPoll("error")
		return domain.PriceUpdate{}, err
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		observability.RecordPoll("error")
		return domain.PriceUpdate{}, fmt.Errorf("unmarshal price: %w", err)
	}
	if !resp.Success || resp.Data == nil || resp.Data.Value <= 0 {
		observability.RecordPoll("empty")
		return domain.PriceUpdate{}, fmt.Errorf("%w for %s: %s", ErrNoPrice, account, resp.Message)
	}

	ts := resp.Data.UpdateUnixTime
	if ts <= 0 {
		ts = c.now().Unix()
	}
	observability.RecordPoll("ok")
	return domain.PriceUpdate{
		AssetKey:  account,
		Chain:     chain,
		Price:     resp.Data.Value,
		Marketcap: resp.Data.Marketcap,
		Timestamp: ts,
	}, nil
}

// get performs a GET with retries and exponential backoff. 4xx responses
// other than 429 are not retried.
func (c *PollClient) get(ctx context.Context, endpoint, chain string) ([]byte, error) {
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
