// Package observer watches a product grid for structural changes and
// schedules one debounced pass per burst of mutations.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/gridstats/grid"
)

const (
	// DefaultWindow is the debounce window.
	DefaultWindow = 1000 * time.Millisecond
	// MinWindow and MaxWindow bound configured windows.
	MinWindow = 500 * time.Millisecond
	MaxWindow = 1000 * time.Millisecond
)

// ClampWindow maps a configured window into [MinWindow, MaxWindow]. Zero
// selects DefaultWindow.
func ClampWindow(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultWindow
	case d < MinWindow:
		return MinWindow
	case d > MaxWindow:
		return MaxWindow
	}
	return d
}

// Mode is the kind of pass a debounced change asks for.
type Mode int

const (
	// FullScan re-derives every identity and goes through the cache.
	FullScan Mode = iota
	// IncrementalScan only handles tiles without an overlay and never
	// touches the network.
	IncrementalScan
)

func (m Mode) String() string {
	if m == IncrementalScan {
		return "incremental"
	}
	return "full"
}

// Decide picks the pass for a change: a grid that has not been rendered
// since enable needs a full pass.
func Decide(rendered bool) Mode {
	if rendered {
		return IncrementalScan
	}
	return FullScan
}

// Handler runs one pass. It is called from the observer goroutine, never
// concurrently with itself.
type Handler func(ctx context.Context, mode Mode)

// Config configures a GridObserver.
type Config struct {
	// Window is the debounce window. Default: DefaultWindow. Not clamped
	// here; see ClampWindow.
	Window time.Duration

	// Rendered reports whether the grid has been rendered since enable.
	Rendered func() bool

	Logger *slog.Logger
}

// GridObserver subscribes to a grid once and turns change bursts into
// Handler calls.
type GridObserver struct {
	g       grid.Grid
	cfg     Config
	handler Handler

	mu      sync.Mutex
	signals chan struct{}
	cancel  context.CancelFunc
	unsub   func()
	done    chan struct{}
}

// New creates an observer. Nothing is watched until Install.
func New(g grid.Grid, cfg Config, handler Handler) *GridObserver {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Rendered == nil {
		cfg.Rendered = func() bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GridObserver{g: g, cfg: cfg, handler: handler}
}

// Install subscribes to the grid and starts the loop. Calling it again
// while installed is a no-op.
func (o *GridObserver) Install(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	signals := make(chan struct{}, 1)
	unsub, err := o.g.Subscribe(ctx, func() {
		select {
		case signals <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("observer: subscribe: %w", err)
	}

	o.signals = signals
	o.cancel = cancel
	o.unsub = unsub
	o.done = make(chan struct{})
	go o.loop(loopCtx, signals, o.done)

	o.cfg.Logger.Debug("observer: installed", "window", o.cfg.Window)
	return nil
}

// Installed reports whether the observer is running.
func (o *GridObserver) Installed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done != nil
}

// Notify injects a change signal, as if the grid had mutated.
func (o *GridObserver) Notify() {
	o.mu.Lock()
	signals := o.signals
	o.mu.Unlock()
	if signals == nil {
		return
	}
	select {
	case signals <- struct{}{}:
	default:
	}
}

// Stop unsubscribes, cancels any pending window and waits for the loop
// (and a running Handler) to return. Safe to call more than once.
func (o *GridObserver) Stop() {
	o.mu.Lock()
	done := o.done
	if done == nil {
		o.mu.Unlock()
		return
	}
	o.unsub()
	o.cancel()
	o.done = nil
	o.signals = nil
	o.unsub = nil
	o.cancel = nil
	o.mu.Unlock()

	<-done
	o.cfg.Logger.Debug("observer: stopped")
}

func (o *GridObserver) loop(ctx context.Context, signals <-chan struct{}, done chan struct{}) {
	defer close(done)

	d := newDebouncer(o.cfg.Window)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			d.add()
		case <-d.timerC():
			n := d.fire()
			mode := Decide(o.cfg.Rendered())
			o.cfg.Logger.Debug("observer: change burst", "signals", n, "mode", mode)
			o.handler(ctx, mode)
		}
	}
}
