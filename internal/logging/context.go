package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// ProviderContext creates a logger context for RPC provider operations
func ProviderContext(endpointURL string, priority string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"endpoint": endpointURL,
		"priority": priority,
	}).WithComponent("rpc")
}

// ListenerContext creates a logger context for fan-in adapter operations
func ListenerContext(source string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"source": source,
	}).WithComponent("listener")
}

// ThreatContext creates a logger context for threat-scoring operations
func ThreatContext(mint string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"mint": mint,
	}).WithComponent("threat")
}

// StrategyContext creates a logger context for strategy evaluation
func StrategyContext(mint, strategyTag string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"mint":     mint,
		"strategy": strategyTag,
	}).WithComponent("strategy")
}

// PositionContext creates a logger context for position operations
func PositionContext(mint string, state string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"mint":  mint,
		"state": state,
	}).WithComponent("position")
}

// ExecutionContext creates a logger context for transaction bundling/submission
func ExecutionContext(mint, action string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"mint":   mint,
		"action": action,
	}).WithComponent("execution")
}

// APIContext creates a logger context for Control API operations
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}

// OverrideContext creates a logger context for override console commands
func OverrideContext(kind string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"kind": kind,
	}).WithComponent("override")
}

// HTTPMiddleware is a middleware that adds logging to HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = GenerateTraceID()
		}

		l := Default().WithTraceID(traceID).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
		}).WithComponent("http")

		ctx := NewContext(r.Context(), l)
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		l.WithDuration(duration).WithField("status_code", wrapped.statusCode).Info("request completed")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// StorageContext creates a logger context for persistence operations
func StorageContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("storage")
}

// NotificationContext creates a logger context for notifications
func NotificationContext(provider string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"provider": provider,
	}).WithComponent("notification")
}
