// Package grid defines the DOM contract consumed by the overlay engine: a
// product grid container holding tile elements. The engine never creates or
// destroys tiles; it reads them, annotates them, decorates them with an
// overlay and repositions them.
//
// Two implementations exist: htmlgrid (in-memory, golang.org/x/net/html) and
// rodgrid (a live Chrome tab driven over CDP).
package grid

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Grid.Tiles when the grid container is absent
// from the current document.
var ErrNotFound = errors.New("grid: container not found")

// Tile is a point-in-time view of one product tile.
type Tile struct {
	// Seq is a page-session handle assigned in DOM encounter order the first
	// time the tile is seen. It is never reused, so sorting by Seq yields the
	// host page's natural order.
	Seq int `json:"seq"`

	Attrs   map[string]string `json:"attrs"`
	Href    string            `json:"href"` // first anchor inside the tile, absolute when known
	Classes []string          `json:"classes"`

	// ResolvedID is the identity annotation left by a previous pass. An
	// annotated tile with an empty ResolvedID resolved to "no identity".
	ResolvedID string `json:"resolved_id"`
	Annotated  bool   `json:"annotated"`

	HasOverlay bool `json:"has_overlay"`
}

// Attr returns a tile attribute.
func (t Tile) Attr(name string) (string, bool) {
	v, ok := t.Attrs[name]
	return v, ok
}

// Overlay is the rendered badge for one tile.
type Overlay struct {
	Seq  int    `json:"seq"`
	HTML string `json:"html"`
}

// Grid is a product grid in a live (or simulated) document.
type Grid interface {
	// Tiles returns every tile under the container in DOM order.
	Tiles(ctx context.Context) ([]Tile, error)

	// Annotate stores resolved identities on tiles, keyed by Seq. An empty
	// value records that resolution failed.
	Annotate(ctx context.Context, ids map[int]string) error

	// RenderOverlays replaces any existing overlay on each target tile.
	RenderOverlays(ctx context.Context, overlays []Overlay) error

	// RemoveOverlays removes every overlay in the document.
	RemoveOverlays(ctx context.Context) error

	// Reorder repositions tiles so that the listed ones appear in the given
	// order. Tiles not listed keep their relative position after them.
	Reorder(ctx context.Context, seqs []int) error

	// RemoveInfoTiles deletes promotional info tiles and reports how many.
	RemoveInfoTiles(ctx context.Context) (int, error)

	// EnableSorting installs the drag-and-drop mechanism. onEnd receives the
	// tile's index before and after each drag.
	EnableSorting(ctx context.Context, onEnd func(oldIndex, newIndex int)) error

	// DisableSorting tears the drag-and-drop mechanism down.
	DisableSorting(ctx context.Context) error

	// Subscribe registers a handler for structural (child-list) changes
	// anywhere in the document. The returned cancel function is idempotent.
	Subscribe(ctx context.Context, onChange func()) (cancel func(), err error)
}

// Selectors locates the grid and its parts. Defaults match the merchant
// page the engine was built for.
type Selectors struct {
	Grid         string `yaml:"grid"`
	Tile         string `yaml:"tile"`
	InfoTile     string `yaml:"info_tile"`
	OverlayClass string `yaml:"overlay_class"`
	IDAttribute  string `yaml:"id_attribute"`
}

// DefaultSelectors returns the selectors of the cards grid.
func DefaultSelectors() Selectors {
	return Selectors{
		Grid:         ".cards-grid__container",
		Tile:         ".cards-tile",
		InfoTile:     ".info-tile",
		OverlayClass: "product-stats-overlay",
		IDAttribute:  "data-extracted-product-id",
	}
}

// WithDefaults fills empty fields from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if s.Grid == "" {
		s.Grid = d.Grid
	}
	if s.Tile == "" {
		s.Tile = d.Tile
	}
	if s.InfoTile == "" {
		s.InfoTile = d.InfoTile
	}
	if s.OverlayClass == "" {
		s.OverlayClass = d.OverlayClass
	}
	if s.IDAttribute == "" {
		s.IDAttribute = d.IDAttribute
	}
	return s
}

// SeqAttribute is the attribute carrying Tile.Seq in the document.
const SeqAttribute = "data-gridstats-seq"
