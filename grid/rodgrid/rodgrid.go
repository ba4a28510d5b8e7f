// Package rodgrid implements grid.Grid on a live Chrome tab. An embedded
// JS bridge performs every DOM read and write in the page; structural
// mutations and drag-end events come back through a Runtime binding.
package rodgrid

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/gridstats/grid"
)

//go:embed bridge.js
var bridgeJS string

const bindingName = "__gridstats_binding"

// Grid drives the product grid of one rod page.
type Grid struct {
	page   *rod.Page
	sel    grid.Selectors
	logger *slog.Logger

	mu       sync.Mutex
	subs     map[int]func()
	subSeq   int
	onEnd    func(oldIndex, newIndex int)
	listen   context.CancelFunc
	listened bool
}

var _ grid.Grid = (*Grid)(nil)

// New wraps page. The bridge is registered for every future document and
// injected into the current one.
func New(page *rod.Page, sel grid.Selectors, logger *slog.Logger) (*Grid, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Grid{
		page:   page,
		sel:    sel.WithDefaults(),
		logger: logger,
		subs:   make(map[int]func()),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		logger.Warn("rodgrid: addBinding failed (may already exist)", "error", err)
	}
	if _, err := page.EvalOnNewDocument(bridgeJS); err != nil {
		return nil, fmt.Errorf("rodgrid: register bridge: %w", err)
	}
	if err := g.ensureBridge(context.Background()); err != nil {
		return nil, err
	}
	return g, nil
}

// jsConfig is the selector set handed to every bridge call.
type jsConfig struct {
	Grid         string `json:"grid"`
	Tile         string `json:"tile"`
	InfoTile     string `json:"info_tile"`
	OverlayClass string `json:"overlay_class"`
	IDAttribute  string `json:"id_attribute"`
}

func (g *Grid) jsCfg() jsConfig {
	return jsConfig{
		Grid:         g.sel.Grid,
		Tile:         g.sel.Tile,
		InfoTile:     g.sel.InfoTile,
		OverlayClass: g.sel.OverlayClass,
		IDAttribute:  g.sel.IDAttribute,
	}
}

// ensureBridge injects the bridge when the current document lacks it
// (navigation before EvalOnNewDocument took effect).
func (g *Grid) ensureBridge(ctx context.Context) error {
	res, err := g.page.Context(ctx).Eval(`() => !!window.__gridstats`)
	if err != nil {
		return fmt.Errorf("rodgrid: check bridge: %w", err)
	}
	if res.Value.Bool() {
		return nil
	}
	if _, err := g.page.Context(ctx).Eval(`() => {` + bridgeJS + `}`); err != nil {
		return fmt.Errorf("rodgrid: inject bridge: %w", err)
	}
	return nil
}

// call runs one bridge method and returns its string result.
func (g *Grid) call(ctx context.Context, method string, args ...any) (string, error) {
	if err := g.ensureBridge(ctx); err != nil {
		return "", err
	}
	js := fmt.Sprintf(`(...args) => window.__gridstats.%s(...args)`, method)
	res, err := g.page.Context(ctx).Eval(js, append([]any{g.jsCfg()}, args...)...)
	if err != nil {
		return "", fmt.Errorf("rodgrid: %s: %w", method, err)
	}
	return res.Value.Str(), nil
}

type foundReply struct {
	Found bool        `json:"found"`
	Tiles []grid.Tile `json:"tiles"`
}

// Tiles implements grid.Grid.
func (g *Grid) Tiles(ctx context.Context) ([]grid.Tile, error) {
	out, err := g.call(ctx, "scan")
	if err != nil {
		return nil, err
	}
	var reply foundReply
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		return nil, fmt.Errorf("rodgrid: decode scan: %w", err)
	}
	if !reply.Found {
		return nil, grid.ErrNotFound
	}
	return reply.Tiles, nil
}

// Annotate implements grid.Grid.
func (g *Grid) Annotate(ctx context.Context, ids map[int]string) error {
	if len(ids) == 0 {
		return nil
	}
	keyed := make(map[string]string, len(ids))
	for seq, id := range ids {
		keyed[strconv.Itoa(seq)] = id
	}
	_, err := g.call(ctx, "annotate", keyed)
	return err
}

// RenderOverlays implements grid.Grid.
func (g *Grid) RenderOverlays(ctx context.Context, overlays []grid.Overlay) error {
	if len(overlays) == 0 {
		return nil
	}
	_, err := g.call(ctx, "render", overlays)
	return err
}

// RemoveOverlays implements grid.Grid.
func (g *Grid) RemoveOverlays(ctx context.Context) error {
	_, err := g.call(ctx, "clear")
	return err
}

// Reorder implements grid.Grid.
func (g *Grid) Reorder(ctx context.Context, seqs []int) error {
	out, err := g.call(ctx, "reorder", seqs)
	if err != nil {
		return err
	}
	return foundOrErr(out)
}

// RemoveInfoTiles implements grid.Grid.
func (g *Grid) RemoveInfoTiles(ctx context.Context) (int, error) {
	out, err := g.call(ctx, "removeInfo")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("rodgrid: removeInfo reply %q: %w", out, err)
	}
	return n, nil
}

// EnableSorting implements grid.Grid.
func (g *Grid) EnableSorting(ctx context.Context, onEnd func(oldIndex, newIndex int)) error {
	out, err := g.call(ctx, "sort", true)
	if err != nil {
		return err
	}
	if err := foundOrErr(out); err != nil {
		return err
	}
	g.mu.Lock()
	g.onEnd = onEnd
	g.mu.Unlock()
	g.startListening()
	return nil
}

// DisableSorting implements grid.Grid.
func (g *Grid) DisableSorting(ctx context.Context) error {
	g.mu.Lock()
	g.onEnd = nil
	g.mu.Unlock()

	out, err := g.call(ctx, "sort", false)
	if err != nil {
		return err
	}
	if err := foundOrErr(out); err != nil && !errors.Is(err, grid.ErrNotFound) {
		return err
	}
	return nil
}

// Subscribe implements grid.Grid.
func (g *Grid) Subscribe(_ context.Context, onChange func()) (func(), error) {
	g.mu.Lock()
	g.subSeq++
	id := g.subSeq
	g.subs[id] = onChange
	g.mu.Unlock()

	g.startListening()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}, nil
}

// Cookies returns the browser's cookies for rawURL, so requests made on
// behalf of the page carry the merchant session.
func (g *Grid) Cookies(_ context.Context, rawURL string) ([]*http.Cookie, error) {
	cookies, err := g.page.Cookies([]string{rawURL})
	if err != nil {
		return nil, fmt.Errorf("rodgrid: cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out, nil
}

// Close stops the binding listener.
func (g *Grid) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listen != nil {
		g.listen()
		g.listen = nil
	}
	g.subs = make(map[int]func())
	g.onEnd = nil
}

type bridgeEvent struct {
	Type     string `json:"type"`
	OldIndex int    `json:"old_index"`
	NewIndex int    `json:"new_index"`
}

func (g *Grid) startListening() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listened {
		return
	}
	g.listened = true

	ctx, cancel := context.WithCancel(context.Background())
	g.listen = cancel

	wait := g.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var ev bridgeEvent
		if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
			g.logger.Warn("rodgrid: parse binding payload", "error", err)
			return
		}
		g.dispatch(ev)
	})
	go wait()
}

func (g *Grid) dispatch(ev bridgeEvent) {
	g.mu.Lock()
	subs := make([]func(), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	onEnd := g.onEnd
	g.mu.Unlock()

	switch ev.Type {
	case "mutation":
		for _, fn := range subs {
			fn()
		}
	case "sort_end":
		if onEnd != nil {
			go onEnd(ev.OldIndex, ev.NewIndex)
		}
	default:
		g.logger.Debug("rodgrid: unknown bridge event", "type", ev.Type)
	}
}

func foundOrErr(out string) error {
	var reply foundReply
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		return fmt.Errorf("rodgrid: decode reply: %w", err)
	}
	if !reply.Found {
		return grid.ErrNotFound
	}
	return nil
}
