// Package logging provides structured JSON logging for the router with
// request-scoped correlation IDs. It wraps log/slog: HTTP middleware injects
// a request ID into the context, and FromContext returns a logger that is
// pre-annotated with it. NewErrorID generates the short opaque identifiers
// that are returned to callers in place of internal error detail.
package logging

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Logger is the package-level structured logger. Callers should prefer
// FromContext(ctx) so the request ID is attached automatically.
var Logger *slog.Logger

func init() {
	Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Setup (re-)initialises the package logger. level is one of
// debug/info/warn/error (default info). format is "json" (default) or "text".
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// NewRequestID generates a random request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// NewErrorID generates a short correlation ID of the form "err-xxxxxxxx".
// Full error detail is logged under this ID; only the ID itself is returned
// to callers.
func NewErrorID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "err-" + id[:8]
}

// WithRequestID stores a request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID stored in the context.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// FromContext returns a *slog.Logger pre-annotated with the request_id
// from ctx.
func FromContext(ctx context.Context) *slog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return Logger.With("request_id", id)
	}
	return Logger
}

// Middleware injects a request ID into every request context and echoes it
// in the X-Request-ID response header. Uses the incoming X-Request-ID header
// if present, otherwise generates a new one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = NewRequestID()
		}
		ctx := WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
