// Package match joins tile identities against statistics entries.
package match

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/gridstats/overlay/internal/stats"
)

// Mode selects the matching policy. The two are never blended.
type Mode string

const (
	// Exact matches the identity field only.
	Exact Mode = "exact"
	// Fuzzy tries exact, then substring, then position modulo the entry count.
	Fuzzy Mode = "fuzzy"
)

// ParseMode accepts "" (Exact), "exact" and "fuzzy".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", Exact:
		return Exact, nil
	case Fuzzy:
		return Fuzzy, nil
	default:
		return "", fmt.Errorf("match: unknown mode %q", s)
	}
}

// PlaceholderName is shown on tiles without statistics.
const PlaceholderName = "Unknown Product"

// Placeholder is the record rendered when nothing matches.
func Placeholder() stats.Record {
	return stats.Record{ProductName: PlaceholderName}
}

// Matcher finds the statistics of one tile.
type Matcher struct {
	mode Mode
}

// New creates a Matcher. An unknown mode falls back to Exact.
func New(mode Mode) *Matcher {
	if mode != Fuzzy {
		mode = Exact
	}
	return &Matcher{mode: mode}
}

// FindStats returns the normalised record for id. index is the tile's
// position in the grid and is only used by the Fuzzy positional step.
func (m *Matcher) FindStats(id string, index int, entries []stats.Entry) (stats.Record, bool) {
	if len(entries) == 0 {
		return stats.Record{}, false
	}
	if id != "" {
		for _, e := range entries {
			if sameID(e.Key(), id) {
				return e.Normalize(), true
			}
		}
	}
	if m.mode != Fuzzy {
		return stats.Record{}, false
	}

	if id != "" {
		for _, e := range entries {
			k := e.Key()
			if k != "" && (strings.Contains(k, id) || strings.Contains(id, k)) {
				return e.Normalize(), true
			}
		}
	}
	if index < 0 {
		index = -index
	}
	return entries[index%len(entries)].Normalize(), true
}

// sameID compares identities as strings, or as integers when both parse,
// so "05" and 5 from a numeric remote field still agree.
func sameID(a, b string) bool {
	if a == b {
		return true
	}
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	return errA == nil && errB == nil && x == y
}
