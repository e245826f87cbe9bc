package server

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// validRequestID bounds caller-supplied request IDs.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware stores a request ID in context and echoes it in
// X-Request-ID. A well-formed incoming X-Request-ID is kept so callers can
// correlate their logs with the daemon's.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if !validRequestID.MatchString(reqID) {
			reqID = requestID()
		}
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs one line per request. Server errors log at ERROR,
// client errors at WARN. Polled paths (/metrics, the dashboard) log at DEBUG.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Log(r.Context(), requestLevel(r.URL.Path, sw.status), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).String(),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case path == "/metrics" || strings.HasPrefix(path, "/ui"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
