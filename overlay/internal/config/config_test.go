package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Stats.Expiry != 5*time.Minute {
		t.Errorf("Stats.Expiry = %v", cfg.Stats.Expiry)
	}
	if cfg.Order.StorageKey != "productStats_cardOrder" {
		t.Errorf("Order.StorageKey = %q", cfg.Order.StorageKey)
	}
	if cfg.Page.Selectors.Grid != ".cards-grid__container" {
		t.Errorf("Selectors.Grid = %q", cfg.Page.Selectors.Grid)
	}
	if cfg.Controller.DefaultEnabled {
		t.Error("controller should start disabled by default")
	}
	if cfg.Identity.AllowPositionalFallback != nil {
		t.Error("positional fallback should follow the variant when unset")
	}
	if cfg.Events.DBPath != cfg.Order.DBPath {
		t.Errorf("Events.DBPath = %q, want %q", cfg.Events.DBPath, cfg.Order.DBPath)
	}
	if cfg.Events.RetentionDays != 30 || cfg.Events.MetricsRetentionDays != 7 || cfg.Events.CleanupInterval != 24*time.Hour {
		t.Errorf("Events retention = %+v", cfg.Events)
	}
	if cfg.Events.Synchronous != "NORMAL" || cfg.Events.BusyTimeout != 10*time.Second {
		t.Errorf("Events sqlite tuning = %q %v", cfg.Events.Synchronous, cfg.Events.BusyTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridstats.yaml")
	data := `
page:
  url: https://shop.test/cards
  selectors:
    tile: .tile
stats:
  expiry: 90s
identity:
  variant: degraded
  allow_positional_fallback: false
match:
  mode: fuzzy
controller:
  default_enabled: true
  debounce: 750ms
  min_tiles: 8
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Page.Selectors.Tile != ".tile" || cfg.Page.Selectors.Grid != ".cards-grid__container" {
		t.Errorf("selectors = %+v", cfg.Page.Selectors)
	}
	if cfg.Stats.Expiry != 90*time.Second {
		t.Errorf("Stats.Expiry = %v", cfg.Stats.Expiry)
	}
	if cfg.Identity.AllowPositionalFallback == nil || *cfg.Identity.AllowPositionalFallback {
		t.Error("allow_positional_fallback: false not honoured")
	}
	if cfg.Match.Mode != "fuzzy" || !cfg.Controller.DefaultEnabled {
		t.Errorf("match/controller = %+v / %+v", cfg.Match, cfg.Controller)
	}
	if cfg.Controller.Debounce != 750*time.Millisecond || cfg.Controller.MinTiles != 8 {
		t.Errorf("controller = %+v", cfg.Controller)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"identity: {variant: loose}",
		"match: {mode: nearest}",
		"controller: {min_tiles: -1}",
		"events: {synchronous: sometimes}",
		"page: [",
	} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
