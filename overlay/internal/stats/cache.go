package stats

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultExpiry is how long a fetched dataset stays fresh.
const DefaultExpiry = 5 * time.Minute

// DatasetKey names the single dataset the cache holds.
const DatasetKey = "productStats"

// entry is replaced wholesale, never mutated.
type entry struct {
	entries   []Entry
	timestamp time.Time
}

// Cache wraps a Fetcher with a freshness window. The entry is swapped with
// one atomic store; readers never see a half-written value.
type Cache struct {
	fetcher Fetcher
	expiry  time.Duration
	now     func() time.Time
	logger  *slog.Logger

	cur   atomic.Pointer[entry]
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithExpiry overrides DefaultExpiry.
func WithExpiry(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.expiry = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates an empty cache over f.
func NewCache(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: f,
		expiry:  DefaultExpiry,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached entries when fresh. Otherwise it performs exactly
// one fetch; concurrent callers share it. Errors propagate untouched and
// leave the previous entry in place.
func (c *Cache) Get(ctx context.Context) ([]Entry, error) {
	if entries, ok := c.Cached(); ok {
		return entries, nil
	}

	v, err, shared := c.group.Do(DatasetKey, func() (any, error) {
		// A caller that lost the race may arrive after the winner stored.
		if entries, ok := c.Cached(); ok {
			return entries, nil
		}
		entries, err := c.fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.cur.Store(&entry{entries: entries, timestamp: c.now()})
		c.logger.Info("stats: cache filled", "entries", len(entries))
		return entries, nil
	})
	if err != nil {
		c.logger.Warn("stats: fetch failed", "error", err, "shared", shared)
		return nil, err
	}
	return v.([]Entry), nil
}

// Cached returns the entries only when fresh. It never fetches.
func (c *Cache) Cached() ([]Entry, bool) {
	e := c.cur.Load()
	if e == nil || !c.fresh(e) {
		return nil, false
	}
	return e.entries, true
}

// Fresh reports whether a fresh entry exists.
func (c *Cache) Fresh() bool {
	_, ok := c.Cached()
	return ok
}

// Clear drops the entry regardless of freshness.
func (c *Cache) Clear() {
	c.cur.Store(nil)
}

// Age returns the age of the current entry, or false when empty.
func (c *Cache) Age() (time.Duration, bool) {
	e := c.cur.Load()
	if e == nil {
		return 0, false
	}
	return c.now().Sub(e.timestamp), true
}

func (c *Cache) fresh(e *entry) bool {
	return c.now().Sub(e.timestamp) < c.expiry
}
