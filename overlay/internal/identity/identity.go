// Package identity derives a stable product identifier from a grid tile.
//
// Strategies run in order and the first success wins:
//
//  1. an explicit identity attribute on the tile (data-product-id, data-id)
//  2. the first anchor: a known query parameter (themeId), or a
//     /product/<id> | /p/<id> path segment when the URL cannot be parsed
//  3. a product-<token> class name (degraded variant only)
//  4. a positional placeholder product-<index+1> (only when explicitly allowed)
package identity

import (
	"net/url"
	"regexp"
	"slices"
	"strconv"

	"github.com/hazyhaar/gridstats/grid"
)

// Config selects the strategy chain.
type Config struct {
	// IDAttributes are read in order. Default: data-product-id, data-id.
	IDAttributes []string

	// QueryParam is read from the first anchor's URL. Default: themeId.
	QueryParam string

	// PathPattern captures the id in group 2. Default matches /product/<id>
	// and /p/<id>.
	PathPattern *regexp.Regexp

	// PathFallbackAlways also tries PathPattern when the URL parses but
	// carries no QueryParam. Off in the primary variant, where the path is
	// only consulted for unparseable URLs.
	PathFallbackAlways bool

	// ClassTokens enables the product-<token> class strategy.
	ClassTokens bool

	// AllowPositionalFallback synthesises product-<index+1> when everything
	// else fails. When false the tile stays unidentified and the overlay
	// shows placeholder data.
	AllowPositionalFallback bool
}

var (
	primaryPath  = regexp.MustCompile(`/(product|p)/([^/?#]+)`)
	degradedPath = regexp.MustCompile(`/(product|p|item)/([^/?#]+)`)
	classToken   = regexp.MustCompile(`(?i)^product-([\w-]+)$`)
)

// Primary is the strict variant: attributes, then the anchor.
func Primary() Config {
	return Config{
		IDAttributes: []string{"data-product-id", "data-id"},
		QueryParam:   "themeId",
		PathPattern:  primaryPath,
	}
}

// Degraded adds the class-name and positional strategies.
func Degraded() Config {
	return Config{
		IDAttributes:            []string{"data-product-id", "data-id", "data-item-id"},
		QueryParam:              "themeId",
		PathPattern:             degradedPath,
		PathFallbackAlways:      true,
		ClassTokens:             true,
		AllowPositionalFallback: true,
	}
}

// Resolver derives tile identities. It has no side effects; persisting the
// result on the tile is the caller's job (grid.Annotate).
type Resolver struct {
	cfg Config
}

// New creates a Resolver, filling unset fields from Primary.
func New(cfg Config) *Resolver {
	p := Primary()
	if len(cfg.IDAttributes) == 0 {
		cfg.IDAttributes = p.IDAttributes
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = p.QueryParam
	}
	if cfg.PathPattern == nil {
		cfg.PathPattern = p.PathPattern
	}
	return &Resolver{cfg: cfg}
}

// Resolve returns the tile's session annotation when present, otherwise
// derives it. Repeated scans of an annotated tile cost nothing.
func (r *Resolver) Resolve(t grid.Tile, fallbackIndex int) (string, bool) {
	if t.Annotated {
		return t.ResolvedID, t.ResolvedID != ""
	}
	return r.Derive(t, fallbackIndex)
}

// Derive runs the strategy chain, ignoring any annotation.
func (r *Resolver) Derive(t grid.Tile, fallbackIndex int) (string, bool) {
	for _, name := range r.cfg.IDAttributes {
		if v, ok := t.Attr(name); ok && v != "" {
			return v, true
		}
	}

	if t.Href != "" {
		if id, ok := r.fromHref(t.Href); ok {
			return id, true
		}
	}

	if r.cfg.ClassTokens {
		for _, c := range t.Classes {
			if m := classToken.FindStringSubmatch(c); m != nil {
				return m[1], true
			}
		}
	}

	if r.cfg.AllowPositionalFallback {
		return "product-" + strconv.Itoa(fallbackIndex+1), true
	}
	return "", false
}

func (r *Resolver) fromHref(href string) (string, bool) {
	u, err := url.Parse(href)
	if err == nil {
		if id := u.Query().Get(r.cfg.QueryParam); id != "" {
			return id, true
		}
		if !r.cfg.PathFallbackAlways {
			return "", false
		}
	}
	if m := r.cfg.PathPattern.FindStringSubmatch(href); len(m) > 2 {
		return m[2], true
	}
	return "", false
}

// NaturalIndex maps each tile's Seq to its rank among the live Seqs. Seq
// follows document encounter order and is never reused, so the rank is
// the tile's position before any reorder and survives drags.
func NaturalIndex(tiles []grid.Tile) map[int]int {
	seqs := make([]int, len(tiles))
	for i, t := range tiles {
		seqs[i] = t.Seq
	}
	slices.Sort(seqs)
	idx := make(map[int]int, len(seqs))
	for i, s := range seqs {
		idx[s] = i
	}
	return idx
}

// Batch resolves every tile and returns the identities keyed by Seq plus
// the annotations that must be written back (tiles whose annotation is
// missing or differs). With rederive set, existing annotations are ignored.
// Positional fallbacks use NaturalIndex, never the current grid position.
func (r *Resolver) Batch(tiles []grid.Tile, rederive bool) (ids map[int]string, writes map[int]string) {
	ids = make(map[int]string, len(tiles))
	writes = make(map[int]string)
	natural := NaturalIndex(tiles)
	for _, t := range tiles {
		var (
			id string
			ok bool
		)
		if rederive {
			id, ok = r.Derive(t, natural[t.Seq])
		} else {
			id, ok = r.Resolve(t, natural[t.Seq])
		}
		if !ok {
			id = ""
		}
		ids[t.Seq] = id
		if !t.Annotated || t.ResolvedID != id {
			writes[t.Seq] = id
		}
	}
	return ids, writes
}
