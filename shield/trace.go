package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/gridstats/idgen"
	"github.com/hazyhaar/gridstats/kit"
)

var newRequestID = idgen.Prefixed("req_", idgen.Default)

// RequestID tags each request with an ID (kept from X-Request-ID when the
// caller sends a valid one), echoes it in the response, and stores it and a
// per-request logger in the context.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = newRequestID()
			}
			w.Header().Set("X-Request-ID", id)

			reqLog := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, LoggerKey, reqLog)
			reqLog.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
