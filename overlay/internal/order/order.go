// Package order keeps the user's custom tile order: a preference list of
// product identities persisted in a key/value store, reconciled against
// whatever tiles are live, and optionally pushed to the merchant server.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// DefaultKey is the storage key of the custom order.
const DefaultKey = "productStats_cardOrder"

// Item is one live tile: its page-session handle and resolved identity
// (empty when unresolved).
type Item struct {
	Seq int
	ID  string
}

// Reconcile orders live by the preference list. Each occurrence of an
// identity in order places the next live tile carrying it, so duplicate
// identities keep their relative positions. Identities in order that match
// no remaining live tile are skipped; live tiles not placed by order follow
// in their original order. The result is always a permutation of live, and
// Reconcile(IDs(live), live) returns live unchanged.
func Reconcile(order []string, live []Item) []Item {
	out := make([]Item, 0, len(live))
	placed := make([]bool, len(live))

	byID := make(map[string][]int, len(live))
	for i, it := range live {
		if it.ID != "" {
			byID[it.ID] = append(byID[it.ID], i)
		}
	}
	for _, id := range order {
		queue := byID[id]
		if len(queue) == 0 {
			continue
		}
		i := queue[0]
		byID[id] = queue[1:]
		placed[i] = true
		out = append(out, live[i])
	}
	for i, it := range live {
		if !placed[i] {
			out = append(out, it)
		}
	}
	return out
}

// IDs returns the resolved identities in item order, skipping unresolved
// tiles.
func IDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID != "" {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Seqs returns the Seq of every item, in order.
func Seqs(items []Item) []int {
	seqs := make([]int, len(items))
	for i, it := range items {
		seqs[i] = it.Seq
	}
	return seqs
}

// Store persists the custom order under one key.
type Store struct {
	kv     KV
	key    string
	logger *slog.Logger
}

// NewStore creates a Store. An empty key selects DefaultKey.
func NewStore(kv KV, key string, logger *slog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, key: key, logger: logger}
}

// Load returns the persisted order, or nil when none is stored. A corrupt
// value is logged and treated as empty.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("order: load: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		s.logger.Warn("order: stored order is corrupt, ignoring", "key", s.key, "error", err)
		return nil, nil
	}
	return ids, nil
}

// Save replaces the persisted order with the identities of items, in item
// order. Unresolved tiles are left out. It returns what was stored.
func (s *Store) Save(ctx context.Context, items []Item) ([]string, error) {
	ids := IDs(items)
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("order: encode: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return nil, fmt.Errorf("order: save: %w", err)
	}
	s.logger.Debug("order: saved", "ids", len(ids))
	return ids, nil
}

// Reset deletes the persisted order.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("order: reset: %w", err)
	}
	return nil
}

// Apply loads the persisted order and reconciles live against it. changed
// reports whether the result differs from live.
func (s *Store) Apply(ctx context.Context, live []Item) (ordered []Item, changed bool, err error) {
	pref, err := s.Load(ctx)
	if err != nil {
		return live, false, err
	}
	if len(pref) == 0 {
		return live, false, nil
	}
	ordered = Reconcile(pref, live)
	for i := range ordered {
		if ordered[i].Seq != live[i].Seq {
			return ordered, true, nil
		}
	}
	return ordered, false, nil
}
