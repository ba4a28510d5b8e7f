package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/gridstats/horosafe"
)

// maxHTTPResponseBody caps what is read from a remote endpoint.
const maxHTTPResponseBody int64 = 10 << 20

// httpConfig is the per-route JSON config.
type httpConfig struct {
	TimeoutMs   int64  `json:"timeout_ms"`
	ContentType string `json:"content_type"`
}

type httpOptions struct {
	allowPrivate bool
	client       *http.Client
}

// HTTPOption configures HTTPFactory.
type HTTPOption func(*httpOptions)

// AllowPrivate accepts loopback and private endpoints. The CLI client
// talks to a daemon on 127.0.0.1 and needs it.
func AllowPrivate() HTTPOption {
	return func(o *httpOptions) { o.allowPrivate = true }
}

// WithHTTPClient uses c instead of a fresh client per route. The route's
// timeout_ms is then ignored.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) { o.client = c }
}

// HTTPFactory creates Handlers that POST the payload to an HTTP endpoint.
// Endpoints are validated at route creation; private addresses are
// rejected unless AllowPrivate is set.
func HTTPFactory(opts ...HTTPOption) TransportFactory {
	var o httpOptions
	for _, fn := range opts {
		fn(&o)
	}

	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if o.allowPrivate {
			if err := horosafe.ValidateScheme(endpoint); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: %w", err)
			}
		} else if err := horosafe.ValidateURL(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}

		var cfg httpConfig
		if len(config) > 0 {
			_ = json.Unmarshal(config, &cfg)
		}
		contentType := "application/json"
		if cfg.ContentType != "" {
			contentType = cfg.ContentType
		}

		client := o.client
		if client == nil {
			timeout := 60 * time.Second
			if cfg.TimeoutMs > 0 {
				timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
			}
			client = &http.Client{Timeout: timeout}
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Accept", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			body, err := horosafe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &ErrRemoteStatus{Endpoint: endpoint, Status: resp.StatusCode, Body: body}
			}
			return body, nil
		}

		closeFn := func() {
			if o.client == nil {
				client.CloseIdleConnections()
			}
		}
		return handler, closeFn, nil
	}
}
