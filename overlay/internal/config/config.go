// Package config loads the gridstats YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/gridstats/grid"
)

// Config is the top-level configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Page       PageConfig       `yaml:"page"`
	Stats      StatsConfig      `yaml:"stats"`
	Order      OrderConfig      `yaml:"order"`
	Identity   IdentityConfig   `yaml:"identity"`
	Match      MatchConfig      `yaml:"match"`
	Controller ControllerConfig `yaml:"controller"`
	Server     ServerConfig     `yaml:"server"`
	Events     EventsConfig     `yaml:"events"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Headless          bool          `yaml:"headless"`
	Stealth           bool          `yaml:"stealth"`
	UserDataDir       string        `yaml:"user_data_dir"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// PageConfig names the merchant page and its DOM contract.
type PageConfig struct {
	URL       string         `yaml:"url"`
	Selectors grid.Selectors `yaml:"selectors"`
}

// StatsConfig controls the statistics endpoint and cache.
type StatsConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Expiry   time.Duration `yaml:"expiry"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OrderConfig controls custom order persistence.
type OrderConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	StorageKey string        `yaml:"storage_key"`
	DBPath     string        `yaml:"db_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// IdentityConfig selects the identity strategy chain.
type IdentityConfig struct {
	Variant                 string   `yaml:"variant"` // primary | degraded
	Attributes              []string `yaml:"attributes"`
	QueryParam              string   `yaml:"query_param"`
	AllowPositionalFallback *bool    `yaml:"allow_positional_fallback"`
}

// MatchConfig selects the matching policy.
type MatchConfig struct {
	Mode string `yaml:"mode"` // exact | fuzzy
}

// ControllerConfig controls the controller state machine.
type ControllerConfig struct {
	DefaultEnabled bool          `yaml:"default_enabled"`
	Debounce       time.Duration `yaml:"debounce"`
	MinTiles       int           `yaml:"min_tiles"`
}

// ServerConfig controls the command surface listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// EventsConfig controls business event and metric logging.
type EventsConfig struct {
	DBPath string `yaml:"db_path"`

	// RetentionDays and MetricsRetentionDays bound the event and metric
	// tables. Defaults: 30 and 7. A negative value keeps everything.
	RetentionDays        int           `yaml:"retention_days"`
	MetricsRetentionDays int           `yaml:"metrics_retention_days"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`

	// Synchronous and BusyTimeout tune the SQLite connection.
	Synchronous string        `yaml:"synchronous"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	c.Page.Selectors = c.Page.Selectors.WithDefaults()
	if c.Stats.Endpoint == "" {
		c.Stats.Endpoint = "https://6858ebf3138a18086dfc43e0.mockapi.io/web-api/theme-statistics"
	}
	if c.Stats.Expiry <= 0 {
		c.Stats.Expiry = 5 * time.Minute
	}
	if c.Stats.Timeout <= 0 {
		c.Stats.Timeout = 15 * time.Second
	}
	if c.Order.Endpoint == "" {
		c.Order.Endpoint = "https://www.kartenliebe.de/designer-admin/themes-sorting/sort-themes"
	}
	if c.Order.StorageKey == "" {
		c.Order.StorageKey = "productStats_cardOrder"
	}
	if c.Order.DBPath == "" {
		c.Order.DBPath = "gridstats.db"
	}
	if c.Order.Timeout <= 0 {
		c.Order.Timeout = 30 * time.Second
	}
	if c.Identity.Variant == "" {
		c.Identity.Variant = "primary"
	}
	if c.Match.Mode == "" {
		c.Match.Mode = "exact"
	}
	if c.Controller.Debounce <= 0 {
		c.Controller.Debounce = time.Second
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8787"
	}
	if c.Events.DBPath == "" {
		c.Events.DBPath = c.Order.DBPath
	}
	if c.Events.RetentionDays == 0 {
		c.Events.RetentionDays = 30
	}
	if c.Events.MetricsRetentionDays == 0 {
		c.Events.MetricsRetentionDays = 7
	}
	if c.Events.CleanupInterval <= 0 {
		c.Events.CleanupInterval = 24 * time.Hour
	}
	if c.Events.Synchronous == "" {
		c.Events.Synchronous = "NORMAL"
	}
	if c.Events.BusyTimeout <= 0 {
		c.Events.BusyTimeout = 10 * time.Second
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Identity.Variant {
	case "primary", "degraded":
	default:
		return fmt.Errorf("config: identity.variant %q: want primary or degraded", c.Identity.Variant)
	}
	switch c.Match.Mode {
	case "exact", "fuzzy":
	default:
		return fmt.Errorf("config: match.mode %q: want exact or fuzzy", c.Match.Mode)
	}
	if c.Controller.MinTiles < 0 {
		return fmt.Errorf("config: controller.min_tiles must be >= 0")
	}
	switch c.Events.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: events.synchronous %q: want OFF, NORMAL, FULL or EXTRA", c.Events.Synchronous)
	}
	return nil
}
