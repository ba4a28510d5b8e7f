package overlay

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/gridstats/kit"
)

var mcpTools = []struct {
	name        string
	action      string
	description string
}{
	{"gridstats_toggle", ActionToggle,
		"Enable or disable the statistics overlays on the product grid. Returns {enabled}."},
	{"gridstats_refresh", ActionRefresh,
		"Drop the cached statistics and, when enabled, re-render every overlay from a fresh fetch. Returns {success}."},
	{"gridstats_status", ActionGetStatus,
		"Report whether overlays are enabled and any tile count problem. Returns {enabled, tileCountError?}."},
	{"gridstats_reset_order", ActionResetOrder,
		"Forget the custom tile order and restore the natural grid order. Returns {success, enabled}."},
	{"gridstats_save_order", ActionSaveOrder,
		"Push the current grid order to the merchant server. Returns {success, result?} or {success:false, error}."},
}

// RegisterMCP registers one MCP tool per command on srv.
func (c *Controller) RegisterMCP(srv *mcp.Server) {
	eps := c.Endpoints()
	for _, t := range mcpTools {
		kit.RegisterMCPTool(srv, &mcp.Tool{
			Name:        t.name,
			Description: t.description,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		}, eps[t.action], kit.NoArgs)
	}
}
