package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/gridstats/kit"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func stackRouter(h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	for _, mw := range APIStack(quiet()) {
		r.Use(mw)
	}
	r.Get("/api/status", h)
	r.Post("/api/commands/{action}", h)
	return r
}

func TestAPIStack_HeadersAndRequestID(t *testing.T) {
	var seen string
	h := stackRouter(func(w http.ResponseWriter, r *http.Request) {
		seen = kit.GetRequestID(r.Context())
		if GetLogger(r.Context()) == slog.Default() {
			t.Error("per-request logger not set")
		}
		w.Write([]byte(`{}`))
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for name, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if !strings.HasPrefix(seen, "req_") || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("request id: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_KeepsCallerID(t *testing.T) {
	h := stackRouter(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "cli-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "cli-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestHeadToGet(t *testing.T) {
	h := stackRouter(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD status = %d, want 200", rec.Code)
	}
}

func TestMaxBody(t *testing.T) {
	h := stackRouter(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	big := strings.NewReader(strings.Repeat("x", int(MaxAPIBody)+1))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands/toggle", big))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
