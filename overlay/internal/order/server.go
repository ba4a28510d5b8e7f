package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/gridstats/horosafe"
	"github.com/hazyhaar/gridstats/overlay/internal/fault"
)

// DefaultServerEndpoint receives the theme order of the merchant admin.
const DefaultServerEndpoint = "https://www.kartenliebe.de/designer-admin/themes-sorting/sort-themes"

// Position is one element of the server payload. Sort is 1-based.
type Position struct {
	ID   int `json:"id"`
	Sort int `json:"sort"`
}

// BuildPayload numbers items by grid position (1-based) and keeps those
// with a numeric identity. Zero qualifying items is a validation error.
func BuildPayload(items []Item) ([]Position, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order: no card tiles found: %w", fault.ErrValidation)
	}
	out := make([]Position, 0, len(items))
	for i, it := range items {
		if it.ID == "" {
			continue
		}
		id, err := strconv.Atoi(it.ID)
		if err != nil {
			continue
		}
		out = append(out, Position{ID: id, Sort: i + 1})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("order: no valid product IDs found: %w", fault.ErrValidation)
	}
	return out, nil
}

// CookieSource supplies the ambient session cookies for a URL.
type CookieSource interface {
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
}

// ServerClient submits the grid order to the merchant server.
type ServerClient struct {
	Endpoint string
	HTTP     *http.Client
	Cookies  CookieSource
	Logger   *slog.Logger
}

// NewServerClient creates a ServerClient. cookies may be nil, in which
// case only the http.Client's jar (if any) authenticates the request.
func NewServerClient(endpoint string, timeout time.Duration, cookies CookieSource, logger *slog.Logger) *ServerClient {
	if endpoint == "" {
		endpoint = DefaultServerEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerClient{
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: timeout},
		Cookies:  cookies,
		Logger:   logger,
	}
}

// Save validates items, posts one multipart form with the JSON payload in
// field "sorted" and returns the decoded JSON reply. No retry.
func (c *ServerClient) Save(ctx context.Context, items []Item) (any, error) {
	payload, err := BuildPayload(items)
	if err != nil {
		return nil, err
	}
	sorted, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("order: encode payload: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("sorted", string(sorted)); err != nil {
		return nil, fmt.Errorf("order: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("order: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("order: new request: %v: %w", err, fault.ErrNetwork)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	if c.Cookies != nil {
		cookies, err := c.Cookies.Cookies(ctx, c.Endpoint)
		if err != nil {
			c.Logger.Warn("order: session cookies unavailable", "error", err)
		}
		for _, ck := range cookies {
			req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
		}
	}

	c.Logger.Info("order: pushing to server", "endpoint", c.Endpoint, "positions", len(payload))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order: http: %v: %w", err, fault.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("order: HTTP error! status: %d: %w", resp.StatusCode, fault.ErrNetwork)
	}

	data, err := horosafe.LimitedReadAll(resp.Body, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("order: read reply: %v: %w", err, fault.ErrNetwork)
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("order: decode reply: %v: %w", err, fault.ErrData)
	}
	return result, nil
}
