package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/gridstats/connectivity"
	"github.com/hazyhaar/gridstats/kit"
)

// Command names, shared by the router, the HTTP API and the CLI client.
const (
	ActionToggle     = "toggle"
	ActionRefresh    = "refresh"
	ActionGetStatus  = "getStatus"
	ActionResetOrder = "resetOrder"
	ActionSaveOrder  = "saveOrder"
)

// Actions lists every command name.
var Actions = []string{ActionToggle, ActionRefresh, ActionGetStatus, ActionResetOrder, ActionSaveOrder}

// CommandTimeout bounds one command, network calls included.
const CommandTimeout = 60 * time.Second

// ToggleResponse answers toggle. Error is set when enabling ran a pass
// that failed; the state change still happened.
type ToggleResponse struct {
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// RefreshResponse answers refresh.
type RefreshResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// ResetOrderResponse answers resetOrder.
type ResetOrderResponse struct {
	Success bool   `json:"success"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// SaveOrderResponse answers saveOrder.
type SaveOrderResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Endpoints returns one kit.Endpoint per command. None of them returns a
// Go error: failures are reported inside the response value.
func (c *Controller) Endpoints() map[string]kit.Endpoint {
	return map[string]kit.Endpoint{
		ActionToggle: func(ctx context.Context, _ any) (any, error) {
			enabled, err := c.Toggle(ctx)
			resp := ToggleResponse{Enabled: enabled}
			if err != nil {
				resp.Error = err.Error()
			}
			return resp, nil
		},
		ActionRefresh: func(ctx context.Context, _ any) (any, error) {
			if err := c.Refresh(ctx); err != nil {
				return RefreshResponse{Error: err.Error(), Kind: Kind(err)}, nil
			}
			return RefreshResponse{Success: true}, nil
		},
		ActionGetStatus: func(ctx context.Context, _ any) (any, error) {
			return c.Status(ctx), nil
		},
		ActionResetOrder: func(ctx context.Context, _ any) (any, error) {
			enabled, err := c.ResetOrder(ctx)
			if err != nil {
				return ResetOrderResponse{Enabled: enabled, Error: err.Error()}, nil
			}
			return ResetOrderResponse{Success: true, Enabled: enabled}, nil
		},
		ActionSaveOrder: func(ctx context.Context, _ any) (any, error) {
			result, err := c.SaveOrder(ctx)
			if err != nil {
				return SaveOrderResponse{Error: err.Error(), Kind: Kind(err)}, nil
			}
			return SaveOrderResponse{Success: true, Result: result}, nil
		},
	}
}

// RegisterCommands registers every command on router as a local handler
// wrapped with logging, panic recovery and CommandTimeout. Commands take
// no payload; whatever is sent is ignored.
func RegisterCommands(router *connectivity.Router, c *Controller, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	eps := c.Endpoints()
	for _, action := range Actions {
		mw := connectivity.Chain(
			connectivity.Logging(logger, action),
			connectivity.Recovery(logger),
			connectivity.Timeout(CommandTimeout),
		)
		router.RegisterLocal(action, mw(jsonHandler(eps[action])))
	}
}

func jsonHandler(ep kit.Endpoint) connectivity.Handler {
	return func(ctx context.Context, _ []byte) ([]byte, error) {
		resp, err := ep(ctx, nil)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}
