// Package connectivity dispatches named commands either to an in-process
// handler or to a remote endpoint through a transport factory. Callers see
// one signature, bytes in and bytes out, wherever the handler lives.
//
//	router := connectivity.New()
//	router.RegisterLocal("toggle", toggleHandler)
//	resp, err := router.Call(ctx, "toggle", nil)
//
// The CLI client mode registers the same command names as remote routes
// pointing at a running daemon:
//
//	router.RegisterTransport("http", connectivity.HTTPFactory(connectivity.AllowPrivate()))
//	router.RegisterRemote("toggle", "http", "http://127.0.0.1:8787/api/commands/toggle", nil)
package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
)

// Handler is a transport-agnostic command function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory creates a Handler for a remote endpoint. The returned
// close function may be nil.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

type remoteEntry struct {
	protocol string
	endpoint string
	handler  Handler
	close    func()
}

// Router dispatches calls by service name. Remote routes win over local
// handlers of the same name.
type Router struct {
	mu            sync.RWMutex
	localHandlers map[string]Handler
	remoteEntries map[string]remoteEntry
	factories     map[string]TransportFactory
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		localHandlers: make(map[string]Handler),
		remoteEntries: make(map[string]remoteEntry),
		factories:     make(map[string]TransportFactory),
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-memory handler for a service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.localHandlers[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers a factory for a protocol ("http", ...).
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// RegisterRemote routes service to endpoint through the protocol's
// factory, replacing (and closing) any previous remote route.
func (r *Router) RegisterRemote(service, protocol, endpoint string, config json.RawMessage) error {
	r.mu.RLock()
	factory, ok := r.factories[protocol]
	r.mu.RUnlock()
	if !ok {
		return &ErrNoFactory{Service: service, Strategy: protocol}
	}

	h, closeFn, err := factory(endpoint, config)
	if err != nil {
		return &ErrFactoryFailed{Service: service, Strategy: protocol, Endpoint: endpoint, Cause: err}
	}

	r.mu.Lock()
	old, had := r.remoteEntries[service]
	r.remoteEntries[service] = remoteEntry{protocol: protocol, endpoint: endpoint, handler: h, close: closeFn}
	r.mu.Unlock()

	if had && old.close != nil {
		old.close()
	}
	r.logger.Debug("connectivity: route built", "service", service, "strategy", protocol, "endpoint", endpoint)
	return nil
}

// Call dispatches a call: remote route first, then local handler.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	entry, hasRemote := r.remoteEntries[service]
	localH := r.localHandlers[service]
	r.mu.RUnlock()

	if hasRemote {
		r.logger.DebugContext(ctx, "connectivity: routing remote",
			"service", service, "strategy", entry.protocol, "endpoint", entry.endpoint)
		return entry.handler(ctx, payload)
	}
	if localH != nil {
		r.logger.DebugContext(ctx, "connectivity: routing local", "service", service)
		return localH(ctx, payload)
	}
	return nil, &ErrServiceNotFound{Service: service}
}

// Services lists every routable service name, sorted.
func (r *Router) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.localHandlers)+len(r.remoteEntries))
	for name := range r.localHandlers {
		seen[name] = true
	}
	for name := range r.remoteEntries {
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Close shuts down all remote handlers.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.remoteEntries {
		if entry.close != nil {
			entry.close()
		}
	}
	r.remoteEntries = make(map[string]remoteEntry)
	return nil
}
