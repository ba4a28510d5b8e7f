package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/gridstats/grid"
)

// TileGate validates the grid for getStatus. Check returns a message for
// the popup, or "" when the grid is acceptable.
type TileGate interface {
	Check(ctx context.Context, g grid.Grid) string
}

// MinTiles flags grids with fewer tiles than the threshold. Zero disables
// the check.
type MinTiles int

// Check implements TileGate.
func (m MinTiles) Check(ctx context.Context, g grid.Grid) string {
	if m <= 0 {
		return ""
	}
	tiles, err := g.Tiles(ctx)
	if errors.Is(err, grid.ErrNotFound) {
		return "cards grid not found"
	}
	if err != nil {
		return fmt.Sprintf("cannot read grid: %v", err)
	}
	if len(tiles) < int(m) {
		return fmt.Sprintf("only %d product tiles found, expected at least %d", len(tiles), int(m))
	}
	return ""
}
