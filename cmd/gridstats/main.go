// Command gridstats decorates a merchant product grid with per-product
// sales statistics and keeps a hand-arranged tile order.
//
// Usage:
//
//	gridstats -config gridstats.yaml               # daemon: Chrome tab + command surface
//	gridstats -url https://shop.example/themes     # daemon on a single page, default config
//	gridstats -send toggle                         # send one command to a running daemon
//	gridstats -snapshot page.html                  # render overlays into a static page, print it
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/gridstats/connectivity"
	"github.com/hazyhaar/gridstats/dbopen"
	"github.com/hazyhaar/gridstats/grid/htmlgrid"
	"github.com/hazyhaar/gridstats/grid/rodgrid"
	"github.com/hazyhaar/gridstats/horosafe"
	"github.com/hazyhaar/gridstats/internal/browser"
	"github.com/hazyhaar/gridstats/observability"
	"github.com/hazyhaar/gridstats/overlay"
)

const version = "0.3.0"

// maxSnapshotPage bounds a page fetched for -snapshot.
const maxSnapshotPage = 8 << 20

func main() {
	configPath := flag.String("config", "", "path to gridstats.yaml")
	pageURL := flag.String("url", "", "merchant page to open (overrides page.url)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	send := flag.String("send", "", "send a command (toggle, refresh, getStatus, resetOrder, saveOrder) to a running daemon")
	addr := flag.String("addr", "", "daemon base URL for -send (default: http://<server.listen>)")
	snapshot := flag.String("snapshot", "", "render overlays into a saved page (file or URL) and print the result")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("gridstats: config", "error", err)
		os.Exit(1)
	}
	if *pageURL != "" {
		cfg.Page.URL = *pageURL
	}

	switch {
	case *send != "":
		err = runSend(ctx, logger, cfg, *addr, *send)
	case *snapshot != "":
		err = runSnapshot(ctx, logger, cfg, *snapshot)
	default:
		err = runDaemon(ctx, logger, cfg)
	}
	if err != nil {
		logger.Error("gridstats: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*overlay.Config, error) {
	if path == "" {
		return overlay.DefaultConfig(), nil
	}
	return overlay.LoadConfig(path)
}

// runDaemon opens the merchant page in Chrome, attaches the controller to
// it and serves the command surface until ctx ends.
func runDaemon(ctx context.Context, logger *slog.Logger, cfg *overlay.Config) error {
	if cfg.Page.URL == "" {
		return fmt.Errorf("no page: set page.url or pass -url")
	}
	if err := horosafe.ValidateScheme(cfg.Page.URL); err != nil {
		return fmt.Errorf("page url: %w", err)
	}

	storage, err := overlay.OpenStorage(cfg.Order.DBPath)
	if err != nil {
		return err
	}
	defer storage.Close()

	eventsDB, err := dbopen.Open(cfg.Events.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(observability.Schema),
		dbopen.WithSynchronous(cfg.Events.Synchronous),
		dbopen.WithBusyTimeout(int(cfg.Events.BusyTimeout.Milliseconds())),
	)
	if err != nil {
		return fmt.Errorf("events db: %w", err)
	}
	defer eventsDB.Close()

	go observability.RunRetention(ctx, eventsDB, observability.RetentionConfig{
		EventLogsDays: cfg.Events.RetentionDays,
		MetricsDays:   cfg.Events.MetricsRetentionDays,
	}, cfg.Events.CleanupInterval, logger)

	events := observability.NewEventLogger(eventsDB, observability.WithEventLogger(logger))
	metrics := observability.NewMetricsManager(eventsDB, 100, 10*time.Second, logger)
	defer metrics.Close()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:         cfg.Browser.Remote,
		Headless:          cfg.Browser.Headless,
		Stealth:           cfg.Browser.Stealth,
		UserDataDir:       cfg.Browser.UserDataDir,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Logger:            logger,
	})
	defer mgr.Close()
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	page, err := mgr.OpenTab(ctx, cfg.Page.URL)
	if err != nil {
		return err
	}
	g, err := rodgrid.New(page, cfg.Page.Selectors, logger)
	if err != nil {
		return err
	}
	defer g.Close()

	ctrl, err := overlay.New(cfg, g, overlay.Env{
		KV:      storage,
		Cookies: g,
		Events:  events,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	router := connectivity.New(connectivity.WithLogger(logger))
	defer router.Close()
	overlay.RegisterCommands(router, ctrl, logger)

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "gridstats", Version: version}, nil)
	ctrl.RegisterMCP(mcpSrv)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           overlay.NewHTTPHandler(router, mcpSrv, logger, overlay.WithEventSource(events)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gridstats: listening", "addr", cfg.Server.Listen, "page", cfg.Page.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("gridstats: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runSend routes one command to the daemon over HTTP and prints the reply.
func runSend(ctx context.Context, logger *slog.Logger, cfg *overlay.Config, addr, action string) error {
	if addr == "" {
		addr = "http://" + cfg.Server.Listen
	}
	if err := horosafe.ValidateIdentifier(action); err != nil {
		return fmt.Errorf("command: %w", err)
	}

	router := connectivity.New(connectivity.WithLogger(logger))
	defer router.Close()
	client := &http.Client{Timeout: overlay.CommandTimeout + 5*time.Second}
	router.RegisterTransport("http", connectivity.HTTPFactory(
		connectivity.AllowPrivate(),
		connectivity.WithHTTPClient(client),
	))
	endpoint := strings.TrimRight(addr, "/") + "/api/commands/" + action
	if err := router.RegisterRemote(action, "http", endpoint, nil); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, overlay.CommandTimeout)
	defer cancel()
	resp, err := router.Call(callCtx, action, nil)
	if err != nil {
		return err
	}
	os.Stdout.Write(resp)
	os.Stdout.Write([]byte("\n"))
	return nil
}

// runSnapshot renders the overlays into a saved copy of the page. The order
// is kept in memory only and the result goes to stdout.
func runSnapshot(ctx context.Context, logger *slog.Logger, cfg *overlay.Config, source string) error {
	doc, base, err := readPage(ctx, source, cfg.Page.URL)
	if err != nil {
		return err
	}
	g, err := htmlgrid.Parse(doc, base, cfg.Page.Selectors)
	if closer, ok := doc.(io.Closer); ok {
		closer.Close()
	}
	if err != nil {
		return err
	}

	cfg.Controller.DefaultEnabled = true
	ctrl, err := overlay.New(cfg, g, overlay.Env{
		KV:     overlay.NewMemoryStorage(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	if msg := ctrl.Status(ctx).TileCountError; msg != "" {
		logger.Warn("gridstats: tile count", "error", msg)
	}

	_, err = io.WriteString(os.Stdout, g.HTML())
	return err
}

// readPage opens source as a URL when it has an http(s) scheme, else as a
// file. base resolves relative anchors.
func readPage(ctx context.Context, source, base string) (io.Reader, string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, "", fmt.Errorf("snapshot: %w", err)
		}
		return f, base, nil
	}

	if err := horosafe.ValidateScheme(source); err != nil {
		return nil, "", fmt.Errorf("snapshot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("snapshot: fetch %s: status %d", source, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, maxSnapshotPage)
	if err != nil {
		return nil, "", fmt.Errorf("snapshot: %w", err)
	}
	return strings.NewReader(string(body)), source, nil
}
