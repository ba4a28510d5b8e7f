package stats

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/gridstats/overlay/internal/fault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newStatsServer(t *testing.T, body string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDecode_BothShapes(t *testing.T) {
	entries, err := Decode([]byte(`[
		{"id": "5", "orderCount": 3, "orderValue": 12.5, "productName": "Flat"},
		{"themeId": 7, "orders": {"count": 2, "value": 9.99}, "productName": "Nested"},
		{"themeId": 8, "orders": {"count": 1, "value": 1}}
	]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Shape != ShapeFlat || entries[1].Shape != ShapeNested {
		t.Fatalf("shapes = %v, %v", entries[0].Shape, entries[1].Shape)
	}

	got := []Record{entries[0].Normalize(), entries[1].Normalize(), entries[2].Normalize()}
	want := []Record{
		{ID: "5", OrderCount: 3, OrderValue: 12.5, ProductName: "Flat"},
		{ID: "7", OrderCount: 2, OrderValue: 9.99, ProductName: "Nested"},
		{ID: "8", OrderCount: 1, OrderValue: 1, ProductName: "Theme 8"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if entries[1].Key() != "7" {
		t.Errorf("Key = %q, want 7", entries[1].Key())
	}
}

func TestDecode_OrdersNotObjectIsFlat(t *testing.T) {
	entries, err := Decode([]byte(`[{"id": 1, "orders": 4, "orderCount": 4}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if entries[0].Shape != ShapeFlat {
		t.Errorf("shape = %v, want flat", entries[0].Shape)
	}
}

func TestDecode_NegativeClamped(t *testing.T) {
	entries, err := Decode([]byte(`[{"id": 1, "orderCount": -2, "orderValue": -3.5}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r := entries[0].Normalize()
	if r.OrderCount != 0 || r.OrderValue != 0 {
		t.Errorf("got %+v, want zero counts", r)
	}
}

func TestDecode_BadShape(t *testing.T) {
	for _, body := range []string{``, `{"id": 1}`, `not json`, `[1, 2]`, `[{"id": `} {
		if _, err := Decode([]byte(body)); !errors.Is(err, fault.ErrData) {
			t.Errorf("Decode(%q) err = %v, want ErrData", body, err)
		}
	}
}

func TestClient_NonSuccessIsNetworkError(t *testing.T) {
	srv, calls := newStatsServer(t, `oops`, http.StatusBadGateway)
	c := NewClient(srv.URL, time.Second, nil)

	_, err := c.Fetch(context.Background())
	if !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_UnreachableIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second, nil).Fetch(context.Background())
	if !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestClient_BadPayloadIsDataError(t *testing.T) {
	srv, _ := newStatsServer(t, `{"error": "nope"}`, http.StatusOK)
	_, err := NewClient(srv.URL, time.Second, nil).Fetch(context.Background())
	if !errors.Is(err, fault.ErrData) {
		t.Fatalf("err = %v, want ErrData", err)
	}
}

func TestCache_HitWithinExpiry(t *testing.T) {
	srv, calls := newStatsServer(t, `[{"id": "5", "orderCount": 3, "orderValue": 12.5}]`, http.StatusOK)
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(NewClient(srv.URL, time.Second, nil), WithClock(clock.Now))
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	clock.Advance(DefaultExpiry - time.Millisecond)
	entries, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (second Get must hit cache)", calls.Load())
	}
}

func TestCache_ExactlyAtExpiryRefetches(t *testing.T) {
	srv, calls := newStatsServer(t, `[]`, http.StatusOK)
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(NewClient(srv.URL, time.Second, nil), WithClock(clock.Now))
	ctx := context.Background()

	c.Get(ctx)
	clock.Advance(DefaultExpiry)
	if c.Fresh() {
		t.Fatal("entry exactly at expiry must be stale")
	}
	c.Get(ctx)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestCache_FailureKeepsPreviousEntry(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id": 1}]`))
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewCache(NewClient(srv.URL, time.Second, nil), WithClock(clock.Now), WithExpiry(time.Minute))
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	fail.Store(true)
	clock.Advance(time.Minute)
	if _, err := c.Get(ctx); !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if _, ok := c.Cached(); ok {
		t.Error("stale entry must not be served after a failed refetch")
	}
	if age, ok := c.Age(); !ok || age != time.Minute {
		t.Errorf("Age = %v,%v, want previous entry kept", age, ok)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (no retry)", calls.Load())
	}
}

func TestCache_ClearForcesFetch(t *testing.T) {
	srv, calls := newStatsServer(t, `[]`, http.StatusOK)
	c := NewCache(NewClient(srv.URL, time.Second, nil))
	ctx := context.Background()

	c.Get(ctx)
	c.Clear()
	if c.Fresh() {
		t.Fatal("Fresh after Clear")
	}
	c.Get(ctx)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestCache_CachedNeverFetches(t *testing.T) {
	srv, calls := newStatsServer(t, `[]`, http.StatusOK)
	c := NewCache(NewClient(srv.URL, time.Second, nil))

	if _, ok := c.Cached(); ok {
		t.Fatal("empty cache reported fresh")
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

type blockingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context) ([]Entry, error) {
	b.calls.Add(1)
	<-b.release
	return []Entry{}, nil
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{})}
	c := NewCache(f)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background()); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	// Let the goroutines pile up on the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}
