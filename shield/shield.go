// Package shield holds the HTTP middleware in front of the gridstats
// control API: security headers, a JSON body cap, per-request IDs and
// loggers, and HEAD handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// MaxAPIBody caps command request bodies.
const MaxAPIBody int64 = 64 * 1024

// APIStack returns the middleware for the control API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(MaxAPIBody),
		RequestID(logger),
	}
}

// GetLogger returns the per-request logger, or slog.Default.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
