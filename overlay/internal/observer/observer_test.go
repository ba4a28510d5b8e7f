package observer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/gridstats/grid"
	"github.com/hazyhaar/gridstats/grid/htmlgrid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const page = `<html><body>
<div class="cards-grid__container">
  <div class="cards-tile" data-product-id="1"><a href="/x?themeId=1">one</a></div>
</div>
</body></html>`

func newGrid(t *testing.T) *htmlgrid.Grid {
	t.Helper()
	g, err := htmlgrid.ParseString(page, "https://shop.test/", grid.DefaultSelectors())
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return g
}

type recorder struct {
	mu    sync.Mutex
	modes []Mode
	calls chan Mode
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan Mode, 16)}
}

func (r *recorder) handle(_ context.Context, m Mode) {
	r.mu.Lock()
	r.modes = append(r.modes, m)
	r.mu.Unlock()
	r.calls <- m
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modes)
}

func TestClampWindow(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, DefaultWindow},
		{-time.Second, DefaultWindow},
		{100 * time.Millisecond, MinWindow},
		{750 * time.Millisecond, 750 * time.Millisecond},
		{5 * time.Second, MaxWindow},
	}
	for _, tt := range tests {
		if got := ClampWindow(tt.in); got != tt.want {
			t.Errorf("ClampWindow(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	if Decide(false) != FullScan {
		t.Error("unrendered grid must get a full scan")
	}
	if Decide(true) != IncrementalScan {
		t.Error("rendered grid must get an incremental scan")
	}
}

func TestObserver_BurstCoalesced(t *testing.T) {
	g := newGrid(t)
	rec := newRecorder()
	o := New(g, Config{Window: 150 * time.Millisecond}, rec.handle)
	if err := o.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer o.Stop()

	for i := 0; i < 5; i++ {
		if err := g.AppendTile(`<div class="cards-tile" data-product-id="9"></div>`); err != nil {
			t.Fatalf("AppendTile: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case m := <-rec.calls:
		if m != FullScan {
			t.Errorf("mode = %v, want full", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never called")
	}

	time.Sleep(300 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("handler calls = %d, want 1 for one burst", n)
	}
}

func TestObserver_TrailingEdge(t *testing.T) {
	g := newGrid(t)
	rec := newRecorder()
	window := 80 * time.Millisecond
	o := New(g, Config{Window: window}, rec.handle)
	if err := o.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer o.Stop()

	start := time.Now()
	o.Notify()
	time.Sleep(50 * time.Millisecond)
	o.Notify()

	select {
	case <-rec.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never called")
	}
	// The second signal restarted the window.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond+window {
		t.Errorf("fired after %v, want >= %v", elapsed, 50*time.Millisecond+window)
	}
}

func TestObserver_ModeFollowsRendered(t *testing.T) {
	g := newGrid(t)
	rec := newRecorder()
	var rendered atomic.Bool
	rendered.Store(true)
	o := New(g, Config{Window: 10 * time.Millisecond, Rendered: rendered.Load}, rec.handle)
	if err := o.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer o.Stop()

	o.Notify()
	select {
	case m := <-rec.calls:
		if m != IncrementalScan {
			t.Errorf("mode = %v, want incremental", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never called")
	}
}

func TestObserver_InstallIdempotent(t *testing.T) {
	g := newGrid(t)
	rec := newRecorder()
	o := New(g, Config{Window: 20 * time.Millisecond}, rec.handle)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := o.Install(ctx); err != nil {
			t.Fatalf("Install #%d: %v", i, err)
		}
	}
	if !o.Installed() {
		t.Fatal("not installed")
	}

	if err := g.AppendTile(`<div class="cards-tile"></div>`); err != nil {
		t.Fatalf("AppendTile: %v", err)
	}
	<-rec.calls
	time.Sleep(60 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("handler calls = %d, want 1 (one subscription)", n)
	}
	o.Stop()
}

func TestObserver_StopDropsPending(t *testing.T) {
	g := newGrid(t)
	rec := newRecorder()
	o := New(g, Config{Window: 50 * time.Millisecond}, rec.handle)
	if err := o.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	o.Notify()
	o.Stop()
	o.Stop()
	if o.Installed() {
		t.Fatal("still installed after Stop")
	}

	g.AppendTile(`<div class="cards-tile"></div>`)
	time.Sleep(100 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("handler calls after Stop = %d, want 0", n)
	}

	// Reinstall after Stop works.
	if err := o.Install(context.Background()); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	o.Notify()
	select {
	case <-rec.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never called after reinstall")
	}
	o.Stop()
}
