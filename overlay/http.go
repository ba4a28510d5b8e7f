package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/gridstats/connectivity"
	"github.com/hazyhaar/gridstats/horosafe"
	"github.com/hazyhaar/gridstats/kit"
	"github.com/hazyhaar/gridstats/observability"
	"github.com/hazyhaar/gridstats/shield"
)

// EventSource lists recorded business events, newest first.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]observability.BusinessEvent, error)
}

// HTTPOption configures NewHTTPHandler.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	events EventSource
}

// WithEventSource serves GET /api/events from src.
func WithEventSource(src EventSource) HTTPOption {
	return func(c *httpConfig) { c.events = src }
}

const maxEventsLimit = 500

// NewHTTPHandler serves the command surface:
//
//	POST /api/commands/{action}  any registered command
//	GET  /api/status             getStatus
//	GET  /api/events?limit=N     recent business events, with WithEventSource
//	GET  /healthz                liveness and the registered commands
//	     /mcp                    MCP streamable HTTP, when srv is non-nil
func NewHTTPHandler(router *connectivity.Router, srv *mcp.Server, logger *slog.Logger, opts ...HTTPOption) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var cfg httpConfig
	for _, o := range opts {
		o(&cfg)
	}
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "commands": router.Services()})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		call(w, req, router, ActionGetStatus, nil)
	})

	r.Post("/api/commands/{action}", func(w http.ResponseWriter, req *http.Request) {
		action := chi.URLParam(req, "action")
		if err := horosafe.ValidateIdentifier(action); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		call(w, req, router, action, body)
	})

	if cfg.events != nil {
		r.Get("/api/events", func(w http.ResponseWriter, req *http.Request) {
			limit := 50
			if v := req.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 || n > maxEventsLimit {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1.." + strconv.Itoa(maxEventsLimit)})
					return
				}
				limit = n
			}
			events, err := cfg.events.Recent(req.Context(), limit)
			if err != nil {
				shield.GetLogger(req.Context()).Error("overlay: list events", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "events unavailable"})
				return
			}
			if events == nil {
				events = []observability.BusinessEvent{}
			}
			writeJSON(w, http.StatusOK, events)
		})
	}

	if srv != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}
	return r
}

func call(w http.ResponseWriter, req *http.Request, router *connectivity.Router, action string, payload []byte) {
	log := shield.GetLogger(req.Context())
	ctx := kit.WithTransport(req.Context(), "http")
	resp, err := router.Call(ctx, action, payload)
	if err != nil {
		var nf *connectivity.ErrServiceNotFound
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown command: " + action})
			return
		}
		log.Error("overlay: command failed", "action", action, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
