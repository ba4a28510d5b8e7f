package overlay

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/gridstats/grid"
	"github.com/hazyhaar/gridstats/overlay/internal/config"
	"github.com/hazyhaar/gridstats/overlay/internal/identity"
	"github.com/hazyhaar/gridstats/overlay/internal/match"
	"github.com/hazyhaar/gridstats/overlay/internal/observer"
	"github.com/hazyhaar/gridstats/overlay/internal/order"
	"github.com/hazyhaar/gridstats/overlay/internal/render"
	"github.com/hazyhaar/gridstats/overlay/internal/stats"
)

// Config is the YAML configuration of gridstats.
type Config = config.Config

// LoadConfig reads a YAML configuration file and applies defaults.
func LoadConfig(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config { return config.Default() }

// KV is the durable local storage of the custom order.
type KV = order.KV

// CookieSource supplies ambient session cookies for the order push.
type CookieSource = order.CookieSource

// Env carries the host-provided pieces that do not come from the config.
type Env struct {
	// KV is the durable local storage. Required.
	KV KV

	// Cookies supplies the browser session for the order push. Optional.
	Cookies CookieSource

	Events  EventSink
	Metrics MetricSink
	Logger  *slog.Logger
}

// New builds a Controller for g from cfg.
func New(cfg *Config, g grid.Grid, env Env) (*Controller, error) {
	if env.KV == nil {
		return nil, fmt.Errorf("overlay: local storage is required")
	}
	log := env.Logger
	if log == nil {
		log = slog.Default()
	}

	idCfg := identity.Primary()
	if cfg.Identity.Variant == "degraded" {
		idCfg = identity.Degraded()
	}
	if len(cfg.Identity.Attributes) > 0 {
		idCfg.IDAttributes = cfg.Identity.Attributes
	}
	if cfg.Identity.QueryParam != "" {
		idCfg.QueryParam = cfg.Identity.QueryParam
	}
	if cfg.Identity.AllowPositionalFallback != nil {
		idCfg.AllowPositionalFallback = *cfg.Identity.AllowPositionalFallback
	}

	mode, err := match.ParseMode(cfg.Match.Mode)
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}

	client := stats.NewClient(cfg.Stats.Endpoint, cfg.Stats.Timeout, log)
	cache := stats.NewCache(client, stats.WithExpiry(cfg.Stats.Expiry), stats.WithLogger(log))

	return NewController(Deps{
		Grid:     g,
		Cache:    cache,
		Orders:   order.NewStore(env.KV, cfg.Order.StorageKey, log),
		Server:   order.NewServerClient(cfg.Order.Endpoint, cfg.Order.Timeout, env.Cookies, log),
		Resolver: identity.New(idCfg),
		Matcher:  match.New(mode),
		Renderer: render.New(cfg.Page.Selectors.OverlayClass),
		Gate:     MinTiles(cfg.Controller.MinTiles),
		Events:   env.Events,
		Metrics:  env.Metrics,
		Logger:   log,
	}, Options{
		DefaultEnabled: cfg.Controller.DefaultEnabled,
		Debounce:       observer.ClampWindow(cfg.Controller.Debounce),
	})
}

// Storage is a KV that must be closed.
type Storage interface {
	KV
	Close() error
}

// OpenStorage opens the SQLite local storage at path.
func OpenStorage(path string) (Storage, error) {
	kv, err := order.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return kv, nil
}

// NewMemoryStorage returns a process-local KV, for snapshot runs.
func NewMemoryStorage() KV {
	return order.NewMemoryKV()
}
