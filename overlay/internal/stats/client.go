package stats

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/gridstats/horosafe"
	"github.com/hazyhaar/gridstats/overlay/internal/fault"
)

// DefaultEndpoint is the public statistics API.
const DefaultEndpoint = "https://6858ebf3138a18086dfc43e0.mockapi.io/web-api/theme-statistics"

const maxBody = 10 << 20

// Fetcher performs one remote statistics call.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// Client fetches statistics over HTTP.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	Logger   *slog.Logger
}

// NewClient creates a Client. A zero timeout means 15s.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: timeout},
		Logger:   logger,
	}
}

// Fetch implements Fetcher. Transport failures and non-2xx answers wrap
// fault.ErrNetwork; undecodable payloads wrap fault.ErrData.
func (c *Client) Fetch(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stats: new request: %v: %w", err, fault.ErrNetwork)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats: http: %v: %w", err, fault.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stats: http %d: %w", resp.StatusCode, fault.ErrNetwork)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, maxBody)
	if err != nil {
		return nil, fmt.Errorf("stats: read body: %v: %w", err, fault.ErrNetwork)
	}

	entries, err := Decode(body)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("stats: fetched", "entries", len(entries), "duration", time.Since(start))
	return entries, nil
}
