package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen == "" || cfg.Order.StorageKey != "productStats_cardOrder" {
		t.Fatalf("defaults not applied: %+v", cfg.Server)
	}
}

func TestReadPage(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "page.html")
	os.WriteFile(path, []byte("<html>file</html>"), 0o644)
	r, base, err := readPage(ctx, path, "https://shop.test/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(r)
	if string(body) != "<html>file</html>" || base != "https://shop.test/" {
		t.Fatalf("file page = %q base %q", body, base)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "<html>remote</html>")
	}))
	defer srv.Close()

	r, base, err = readPage(ctx, srv.URL+"/page", "")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(r)
	if string(body) != "<html>remote</html>" || base != srv.URL+"/page" {
		t.Fatalf("remote page = %q base %q", body, base)
	}

	if _, _, err := readPage(ctx, srv.URL+"/missing", ""); err == nil {
		t.Fatal("404 page accepted")
	}
}

func TestRunSend_RejectsBadCommand(t *testing.T) {
	cfg, _ := loadConfig("")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := runSend(context.Background(), logger, cfg, "http://127.0.0.1:1", "bad cmd"); err == nil {
		t.Fatal("invalid command name accepted")
	}
}
