// Package htmlgrid implements grid.Grid over an in-memory HTML document
// parsed with golang.org/x/net/html. It backs the snapshot mode of the CLI
// and stands in for a live browser tab in tests.
package htmlgrid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/gridstats/grid"
)

const sortableClass = "sortable-enabled"

// Grid is an in-memory document holding a product grid. Safe for
// concurrent use; change handlers run outside the internal lock.
type Grid struct {
	mu      sync.Mutex
	doc     *html.Node
	base    *url.URL
	sel     grid.Selectors
	nextSeq int

	subs   map[int]func()
	subSeq int
	onEnd  func(oldIndex, newIndex int)
}

var _ grid.Grid = (*Grid)(nil)

// Parse reads an HTML document. baseURL resolves relative anchors and may
// be empty.
func Parse(r io.Reader, baseURL string, sel grid.Selectors) (*Grid, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmlgrid: parse: %w", err)
	}
	g := &Grid{
		doc:  doc,
		sel:  sel.WithDefaults(),
		subs: make(map[int]func()),
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("htmlgrid: base url: %w", err)
		}
		g.base = u
	}
	return g, nil
}

// ParseString is Parse for an inline document.
func ParseString(doc, baseURL string, sel grid.Selectors) (*Grid, error) {
	return Parse(strings.NewReader(doc), baseURL, sel)
}

// Tiles implements grid.Grid.
func (g *Grid) Tiles(_ context.Context) ([]grid.Tile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes, err := g.tileNodesLocked()
	if err != nil {
		return nil, err
	}
	tiles := make([]grid.Tile, 0, len(nodes))
	for _, n := range nodes {
		tiles = append(tiles, g.viewLocked(n))
	}
	return tiles, nil
}

// Annotate implements grid.Grid.
func (g *Grid) Annotate(_ context.Context, ids map[int]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for seq, id := range ids {
		n := g.findLocked(seq)
		if n == nil {
			continue
		}
		setAttr(n, g.sel.IDAttribute, id)
	}
	return nil
}

// RenderOverlays implements grid.Grid.
func (g *Grid) RenderOverlays(_ context.Context, overlays []grid.Overlay) error {
	g.mu.Lock()
	changed := false
	for _, o := range overlays {
		n := g.findLocked(o.Seq)
		if n == nil {
			continue
		}
		for _, old := range queryAll(n, "."+g.sel.OverlayClass) {
			old.Parent.RemoveChild(old)
		}
		frag, err := html.ParseFragment(strings.NewReader(o.HTML), &html.Node{
			Type: html.ElementNode, Data: "div", DataAtom: atom.Div,
		})
		if err != nil {
			g.mu.Unlock()
			return fmt.Errorf("htmlgrid: overlay fragment for tile %d: %w", o.Seq, err)
		}
		for _, c := range frag {
			n.AppendChild(c)
		}
		changed = true
	}
	subs := g.subscribersLocked()
	g.mu.Unlock()

	if changed {
		notify(subs)
	}
	return nil
}

// RemoveOverlays implements grid.Grid.
func (g *Grid) RemoveOverlays(_ context.Context) error {
	g.mu.Lock()
	removed := g.removeAllLocked("." + g.sel.OverlayClass)
	subs := g.subscribersLocked()
	g.mu.Unlock()

	if removed > 0 {
		notify(subs)
	}
	return nil
}

// Reorder implements grid.Grid.
func (g *Grid) Reorder(_ context.Context, seqs []int) error {
	g.mu.Lock()
	if err := g.reorderLocked(seqs); err != nil {
		g.mu.Unlock()
		return err
	}
	subs := g.subscribersLocked()
	g.mu.Unlock()

	notify(subs)
	return nil
}

// RemoveInfoTiles implements grid.Grid.
func (g *Grid) RemoveInfoTiles(_ context.Context) (int, error) {
	g.mu.Lock()
	removed := g.removeAllLocked(g.sel.InfoTile)
	subs := g.subscribersLocked()
	g.mu.Unlock()

	if removed > 0 {
		notify(subs)
	}
	return removed, nil
}

// EnableSorting implements grid.Grid.
func (g *Grid) EnableSorting(_ context.Context, onEnd func(oldIndex, newIndex int)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	container := query(g.doc, g.sel.Grid)
	if container == nil {
		return grid.ErrNotFound
	}
	addClass(container, sortableClass)
	g.onEnd = onEnd
	return nil
}

// DisableSorting implements grid.Grid.
func (g *Grid) DisableSorting(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if container := query(g.doc, g.sel.Grid); container != nil {
		removeClass(container, sortableClass)
	}
	g.onEnd = nil
	return nil
}

// Subscribe implements grid.Grid.
func (g *Grid) Subscribe(_ context.Context, onChange func()) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.subSeq++
	id := g.subSeq
	g.subs[id] = onChange

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}, nil
}

// AppendTile parses a tile fragment and appends it to the grid container,
// the way a host page appends tiles on infinite scroll.
func (g *Grid) AppendTile(fragment string) error {
	g.mu.Lock()
	container := query(g.doc, g.sel.Grid)
	if container == nil {
		g.mu.Unlock()
		return grid.ErrNotFound
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), container)
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("htmlgrid: tile fragment: %w", err)
	}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	subs := g.subscribersLocked()
	g.mu.Unlock()

	notify(subs)
	return nil
}

// Move simulates a user drag: the tile at index from ends up at index to.
// When sorting is enabled the drag-end handler fires after the move.
func (g *Grid) Move(from, to int) error {
	g.mu.Lock()
	nodes, err := g.tileNodesLocked()
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if from < 0 || from >= len(nodes) || to < 0 || to >= len(nodes) {
		g.mu.Unlock()
		return fmt.Errorf("htmlgrid: move %d->%d out of range (%d tiles)", from, to, len(nodes))
	}
	moved := nodes[from]
	nodes = slices.Delete(nodes, from, from+1)
	nodes = slices.Insert(nodes, to, moved)

	seqs := make([]int, len(nodes))
	for i, n := range nodes {
		seqs[i] = g.seqLocked(n)
	}
	if err := g.reorderLocked(seqs); err != nil {
		g.mu.Unlock()
		return err
	}
	onEnd := g.onEnd
	subs := g.subscribersLocked()
	g.mu.Unlock()

	notify(subs)
	if onEnd != nil {
		onEnd(from, to)
	}
	return nil
}

// HTML renders the current document.
func (g *Grid) HTML() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var buf bytes.Buffer
	_ = html.Render(&buf, g.doc)
	return buf.String()
}

// Sorting reports whether the drag-and-drop mechanism is installed.
func (g *Grid) Sorting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.onEnd != nil
}

func (g *Grid) tileNodesLocked() ([]*html.Node, error) {
	container := query(g.doc, g.sel.Grid)
	if container == nil {
		return nil, grid.ErrNotFound
	}
	nodes := queryAll(container, g.sel.Tile)
	for _, n := range nodes {
		g.seqLocked(n)
	}
	return nodes, nil
}

// seqLocked returns the tile's Seq, assigning the next one on first sight.
func (g *Grid) seqLocked(n *html.Node) int {
	if v, ok := lookupAttr(n, grid.SeqAttribute); ok {
		if seq, err := strconv.Atoi(v); err == nil {
			return seq
		}
	}
	g.nextSeq++
	setAttr(n, grid.SeqAttribute, strconv.Itoa(g.nextSeq))
	return g.nextSeq
}

func (g *Grid) findLocked(seq int) *html.Node {
	container := query(g.doc, g.sel.Grid)
	if container == nil {
		return nil
	}
	want := strconv.Itoa(seq)
	for _, n := range queryAll(container, g.sel.Tile) {
		if attr(n, grid.SeqAttribute) == want {
			return n
		}
	}
	return nil
}

func (g *Grid) viewLocked(n *html.Node) grid.Tile {
	t := grid.Tile{
		Seq:     g.seqLocked(n),
		Attrs:   make(map[string]string, len(n.Attr)),
		Classes: strings.Fields(attr(n, "class")),
	}
	for _, a := range n.Attr {
		t.Attrs[a.Key] = a.Val
	}
	if id, ok := lookupAttr(n, g.sel.IDAttribute); ok {
		t.ResolvedID = id
		t.Annotated = true
	}
	if link := query(n, "a[href]"); link != nil {
		t.Href = g.resolve(attr(link, "href"))
	}
	t.HasOverlay = query(n, "."+g.sel.OverlayClass) != nil
	return t
}

// resolve makes href absolute against the base URL. Unparseable hrefs are
// returned verbatim so identity extraction can fall back to pattern matching.
func (g *Grid) resolve(href string) string {
	if g.base == nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return g.base.ResolveReference(u).String()
}

func (g *Grid) reorderLocked(seqs []int) error {
	container := query(g.doc, g.sel.Grid)
	if container == nil {
		return grid.ErrNotFound
	}
	nodes, err := g.tileNodesLocked()
	if err != nil {
		return err
	}
	bySeq := make(map[int]*html.Node, len(nodes))
	for _, n := range nodes {
		bySeq[g.seqLocked(n)] = n
	}

	ordered := make([]*html.Node, 0, len(nodes))
	placed := make(map[*html.Node]bool, len(nodes))
	for _, seq := range seqs {
		if n, ok := bySeq[seq]; ok && !placed[n] {
			ordered = append(ordered, n)
			placed[n] = true
		}
	}
	for _, n := range nodes {
		if !placed[n] {
			ordered = append(ordered, n)
		}
	}

	for _, n := range ordered {
		n.Parent.RemoveChild(n)
		container.AppendChild(n)
	}
	return nil
}

func (g *Grid) removeAllLocked(selector string) int {
	nodes := queryAll(g.doc, selector)
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return len(nodes)
}

func (g *Grid) subscribersLocked() []func() {
	out := make([]func(), 0, len(g.subs))
	for _, fn := range g.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}
