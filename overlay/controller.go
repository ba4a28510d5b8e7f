package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/gridstats/grid"
	"github.com/hazyhaar/gridstats/idgen"
	"github.com/hazyhaar/gridstats/kit"
	"github.com/hazyhaar/gridstats/observability"
	"github.com/hazyhaar/gridstats/overlay/internal/fault"
	"github.com/hazyhaar/gridstats/overlay/internal/identity"
	"github.com/hazyhaar/gridstats/overlay/internal/match"
	"github.com/hazyhaar/gridstats/overlay/internal/observer"
	"github.com/hazyhaar/gridstats/overlay/internal/order"
	"github.com/hazyhaar/gridstats/overlay/internal/render"
	"github.com/hazyhaar/gridstats/overlay/internal/stats"
)

// EventSink records business events (toggle, refresh, order changes).
type EventSink interface {
	LogEvent(ctx context.Context, ev observability.BusinessEvent)
}

// MetricSink records pass metrics.
type MetricSink interface {
	RecordSimple(name string, value float64, unit string)
}

// Status is the answer to getStatus.
type Status struct {
	Enabled        bool   `json:"enabled"`
	TileCountError string `json:"tileCountError,omitempty"`
}

// Deps are the collaborators of a Controller. Grid, Cache and Orders are
// required; the rest have defaults.
type Deps struct {
	Grid     grid.Grid
	Cache    *stats.Cache
	Orders   *order.Store
	Server   *order.ServerClient
	Resolver *identity.Resolver
	Matcher  *match.Matcher
	Renderer *render.Renderer
	Gate     TileGate
	Events   EventSink
	Metrics  MetricSink
	Logger   *slog.Logger
}

// Options tune the state machine.
type Options struct {
	// DefaultEnabled is the state after Start. Default: disabled.
	DefaultEnabled bool

	// Debounce is the observer window, used as is.
	Debounce time.Duration
}

// Controller owns the enablement state and drives every pass over the
// grid. Commands, observer passes and drag-end saves are serialised by mu.
type Controller struct {
	grid     grid.Grid
	cache    *stats.Cache
	orders   *order.Store
	server   *order.ServerClient
	resolver *identity.Resolver
	matcher  *match.Matcher
	renderer *render.Renderer
	gate     TileGate
	events   EventSink
	metrics  MetricSink
	logger   *slog.Logger
	opts     Options

	obs *observer.GridObserver

	mu       sync.Mutex
	enabled  bool
	closed   bool
	rendered atomic.Bool
}

// NewController wires a Controller. Call Start to apply DefaultEnabled and
// begin observing.
func NewController(deps Deps, opts Options) (*Controller, error) {
	if deps.Grid == nil || deps.Cache == nil || deps.Orders == nil {
		return nil, fmt.Errorf("overlay: grid, cache and order store are required")
	}
	if deps.Resolver == nil {
		deps.Resolver = identity.New(identity.Primary())
	}
	if deps.Matcher == nil {
		deps.Matcher = match.New(match.Exact)
	}
	if deps.Renderer == nil {
		deps.Renderer = render.New("")
	}
	if deps.Gate == nil {
		deps.Gate = MinTiles(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Controller{
		grid:     deps.Grid,
		cache:    deps.Cache,
		orders:   deps.Orders,
		server:   deps.Server,
		resolver: deps.Resolver,
		matcher:  deps.Matcher,
		renderer: deps.Renderer,
		gate:     deps.Gate,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		opts:     opts,
	}
	c.obs = observer.New(deps.Grid, observer.Config{
		Window:   opts.Debounce,
		Rendered: c.rendered.Load,
		Logger:   deps.Logger,
	}, c.onChange)
	return c, nil
}

// Start installs the grid observer and, when DefaultEnabled is set, runs
// the first full pass. A failed pass is logged, not returned.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.obs.Install(ctx); err != nil {
		return fmt.Errorf("overlay: start: %w", err)
	}
	if !c.opts.DefaultEnabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.enabled = true
	if err := c.scanLocked(ctx); err != nil {
		c.logger.Warn("overlay: initial pass failed", "error", err)
	}
	return nil
}

// Toggle flips the enablement state. Enabling runs a full pass; its error
// is returned alongside the new state. Disabling removes every overlay and
// the reorder mechanism but keeps the cache and the persisted order.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.enabled, errClosed
	}
	c.enabled = !c.enabled
	c.logger.Info("overlay: toggled", "enabled", c.enabled)

	var err error
	if c.enabled {
		err = c.scanLocked(ctx)
	} else {
		c.teardownLocked(ctx)
	}
	c.event(ctx, "toggle", fmt.Sprintf(`{"enabled":%t}`, c.enabled), err == nil)
	return c.enabled, err
}

// Refresh drops the cache and, when enabled, runs a full pass.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed
	}
	c.cache.Clear()
	c.logger.Info("overlay: cache cleared", "enabled", c.enabled)

	var err error
	if c.enabled {
		err = c.scanLocked(ctx)
	}
	c.event(ctx, "refresh", "", err == nil)
	return err
}

// Status reports the enablement state and the tile gate's verdict.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()

	return Status{
		Enabled:        enabled,
		TileCountError: c.gate.Check(ctx, c.grid),
	}
}

// Enabled reports the enablement state.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ResetOrder clears the persisted order in any state. When enabled, the
// grid goes back to its natural order in place. It returns the enablement
// state.
func (c *Controller) ResetOrder(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.enabled, errClosed
	}
	if err := c.orders.Reset(ctx); err != nil {
		c.event(ctx, "reset_order", "", false)
		return c.enabled, err
	}
	c.logger.Info("overlay: custom order reset")

	if c.enabled {
		if err := c.naturalOrderLocked(ctx); err != nil {
			c.logger.Warn("overlay: restore natural order", "error", err)
		}
	}
	c.event(ctx, "reset_order", "", true)
	return c.enabled, nil
}

// SaveOrder pushes the current grid order to the merchant server and
// returns the server's JSON reply.
func (c *Controller) SaveOrder(ctx context.Context) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	if c.server == nil {
		return nil, fmt.Errorf("overlay: server order push is not configured: %w", ErrValidation)
	}

	tiles, err := c.grid.Tiles(ctx)
	if errors.Is(err, grid.ErrNotFound) {
		return nil, fmt.Errorf("overlay: cards grid not found: %w", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("overlay: read grid: %w", err)
	}

	result, err := c.server.Save(ctx, c.itemsLocked(tiles))
	details := ""
	if err == nil {
		if b, mErr := json.Marshal(result); mErr == nil {
			details = string(b)
		}
	}
	c.event(ctx, "save_order", details, err == nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("overlay: order saved to server", "tiles", len(tiles))
	return result, nil
}

// Close stops observing. The controller refuses commands afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	// Outside mu: Stop waits for a running observer pass, which takes mu.
	c.obs.Stop()
	c.logger.Info("overlay: controller closed")
}

var errClosed = errors.New("overlay: controller closed")

// onChange runs a debounced observer pass.
func (c *Controller) onChange(ctx context.Context, _ observer.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.enabled {
		return
	}
	// Re-decide under mu: a command may have rendered meanwhile.
	var err error
	switch observer.Decide(c.rendered.Load()) {
	case observer.FullScan:
		err = c.scanLocked(ctx)
	case observer.IncrementalScan:
		err = c.incrementalLocked(ctx)
	}
	if err != nil {
		c.logger.Warn("overlay: observer pass failed", "error", err)
	}
}

// scanLocked is the full pass: discover, identify, fetch-or-reuse, render,
// apply the custom order, enable sorting, observe.
func (c *Controller) scanLocked(ctx context.Context) error {
	pass := idgen.New()
	log := c.logger.With("pass", pass)
	start := time.Now()

	if err := c.obs.Install(ctx); err != nil {
		log.Warn("overlay: observer install", "error", err)
	}

	if n, err := c.grid.RemoveInfoTiles(ctx); err != nil {
		log.Warn("overlay: remove info tiles", "error", err)
	} else if n > 0 {
		log.Debug("overlay: removed info tiles", "count", n)
	}

	tiles, err := c.grid.Tiles(ctx)
	if errors.Is(err, grid.ErrNotFound) {
		log.Debug("overlay: cards grid not present yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("overlay: read grid: %w", err)
	}
	if len(tiles) == 0 {
		log.Debug("overlay: no tiles")
		return nil
	}

	ids, writes := c.resolver.Batch(tiles, true)
	if err := c.grid.Annotate(ctx, writes); err != nil {
		return fmt.Errorf("overlay: annotate: %w", err)
	}

	entries, fetchErr := c.cache.Get(ctx)
	drawn := false
	switch {
	case fetchErr == nil, errors.Is(fetchErr, ErrData):
		if err := c.renderLocked(ctx, tiles, ids, positions(tiles), entries); err != nil {
			return err
		}
		drawn = true
	default:
		log.Warn("overlay: statistics unavailable, overlays skipped", "error", fetchErr)
	}

	if err := c.applyOrderLocked(ctx, tiles, ids); err != nil {
		log.Warn("overlay: apply custom order", "error", err)
	}
	if err := c.grid.EnableSorting(ctx, c.onReorder); err != nil && !errors.Is(err, grid.ErrNotFound) {
		log.Warn("overlay: enable sorting", "error", err)
	}

	// Without overlays the next mutation must run a full pass again.
	c.rendered.Store(drawn)
	log.Info("overlay: full pass", "tiles", len(tiles), "entries", len(entries), "fetch_error", fetchErr != nil)
	if c.metrics != nil {
		c.metrics.RecordSimple(observability.MetricPassDurationMs, float64(time.Since(start).Milliseconds()), "milliseconds")
		c.metrics.RecordSimple(observability.MetricPassTiles, float64(len(tiles)), "count")
		if fetchErr != nil {
			c.metrics.RecordSimple(observability.MetricFetchFailures, 1, "count")
		}
	}
	return fetchErr
}

// incrementalLocked renders overlays on tiles that lack one, from the
// cached entries only.
func (c *Controller) incrementalLocked(ctx context.Context) error {
	entries, ok := c.cache.Cached()
	if !ok {
		age, has := c.cache.Age()
		c.logger.Info("overlay: cache stale, incremental pass declined", "cached", has, "age", age)
		return nil
	}

	tiles, err := c.grid.Tiles(ctx)
	if errors.Is(err, grid.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("overlay: read grid: %w", err)
	}

	ids := make(map[int]string)
	writes := make(map[int]string)
	natural := identity.NaturalIndex(tiles)
	var pending []grid.Tile
	for _, t := range tiles {
		if t.HasOverlay {
			continue
		}
		id, ok := c.resolver.Resolve(t, natural[t.Seq])
		if !ok {
			id = ""
		}
		ids[t.Seq] = id
		if !t.Annotated {
			writes[t.Seq] = id
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := c.grid.Annotate(ctx, writes); err != nil {
		return fmt.Errorf("overlay: annotate: %w", err)
	}
	if err := c.renderLocked(ctx, pending, ids, positions(tiles), entries); err != nil {
		return err
	}
	if err := c.grid.EnableSorting(ctx, c.onReorder); err != nil && !errors.Is(err, grid.ErrNotFound) {
		c.logger.Warn("overlay: enable sorting", "error", err)
	}
	c.logger.Info("overlay: incremental pass", "new_tiles", len(pending))
	return nil
}

// renderLocked gives every tile an overlay: its record, or the placeholder.
// pos maps Seq to grid position for positional matching.
func (c *Controller) renderLocked(ctx context.Context, tiles []grid.Tile, ids map[int]string, pos map[int]int, entries []stats.Entry) error {
	overlays := make([]grid.Overlay, 0, len(tiles))
	for _, t := range tiles {
		rec, ok := c.matcher.FindStats(ids[t.Seq], pos[t.Seq], entries)
		if !ok {
			rec = match.Placeholder()
		}
		markup, err := c.renderer.Overlay(rec)
		if err != nil {
			return err
		}
		overlays = append(overlays, grid.Overlay{Seq: t.Seq, HTML: markup})
	}
	if err := c.grid.RenderOverlays(ctx, overlays); err != nil {
		return fmt.Errorf("overlay: render: %w", err)
	}
	return nil
}

func (c *Controller) applyOrderLocked(ctx context.Context, tiles []grid.Tile, ids map[int]string) error {
	live := make([]order.Item, len(tiles))
	for i, t := range tiles {
		live[i] = order.Item{Seq: t.Seq, ID: ids[t.Seq]}
	}
	ordered, changed, err := c.orders.Apply(ctx, live)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := c.grid.Reorder(ctx, order.Seqs(ordered)); err != nil {
		return err
	}
	c.logger.Debug("overlay: custom order applied", "tiles", len(ordered))
	return nil
}

func (c *Controller) naturalOrderLocked(ctx context.Context) error {
	tiles, err := c.grid.Tiles(ctx)
	if errors.Is(err, grid.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	seqs := make([]int, len(tiles))
	for i, t := range tiles {
		seqs[i] = t.Seq
	}
	slices.Sort(seqs)
	return c.grid.Reorder(ctx, seqs)
}

// onReorder persists the grid order after a drag that moved a tile.
func (c *Controller) onReorder(oldIndex, newIndex int) {
	if oldIndex == newIndex {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.enabled {
		return
	}

	tiles, err := c.grid.Tiles(ctx)
	if err != nil {
		c.logger.Warn("overlay: read grid after drag", "error", err)
		return
	}
	ids, err := c.orders.Save(ctx, c.itemsLocked(tiles))
	if err != nil {
		c.logger.Error("overlay: save custom order", "error", err)
		c.event(ctx, "save_custom_order", "", false)
		return
	}
	c.logger.Info("overlay: custom order saved", "from", oldIndex, "to", newIndex, "ids", len(ids))
	c.event(ctx, "save_custom_order", fmt.Sprintf(`{"from":%d,"to":%d}`, oldIndex, newIndex), true)
}

func (c *Controller) teardownLocked(ctx context.Context) {
	c.rendered.Store(false)
	if err := c.grid.RemoveOverlays(ctx); err != nil {
		c.logger.Warn("overlay: remove overlays", "error", err)
	}
	if err := c.grid.DisableSorting(ctx); err != nil {
		c.logger.Warn("overlay: disable sorting", "error", err)
	}
}

func positions(tiles []grid.Tile) map[int]int {
	pos := make(map[int]int, len(tiles))
	for i, t := range tiles {
		pos[t.Seq] = i
	}
	return pos
}

// itemsLocked pairs tiles, in grid order, with their identities.
func (c *Controller) itemsLocked(tiles []grid.Tile) []order.Item {
	items := make([]order.Item, len(tiles))
	natural := identity.NaturalIndex(tiles)
	for i, t := range tiles {
		id, ok := c.resolver.Resolve(t, natural[t.Seq])
		if !ok {
			id = ""
		}
		items[i] = order.Item{Seq: t.Seq, ID: id}
	}
	return items
}

func (c *Controller) event(ctx context.Context, action, details string, ok bool) {
	c.logger.Debug("overlay: event", "action", action, "success", ok,
		"transport", kit.GetTransport(ctx), "request_id", kit.GetRequestID(ctx))
	if c.events == nil {
		return
	}
	c.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "overlay." + action,
		ServiceName: "gridstats",
		EntityType:  "grid",
		Action:      action,
		Details:     details,
		Success:     ok,
	})
}

// Kind classifies err for command responses: "network", "data",
// "validation" or "".
func Kind(err error) string {
	switch {
	case errors.Is(err, fault.ErrNetwork):
		return "network"
	case errors.Is(err, fault.ErrData):
		return "data"
	case errors.Is(err, fault.ErrValidation):
		return "validation"
	}
	return ""
}
