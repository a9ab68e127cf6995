package worker

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"edit_worker/logging"
)

// RequestLogger logs every HTTP request with method, path, status,
// duration and response size.
//
// Thread-safe for concurrent HTTP requests.
type RequestLogger struct {
	logger *logging.Logger

	// skipPaths are not logged (e.g., health checks)
	skipPaths map[string]bool
}

// NewRequestLogger creates a RequestLogger that ignores skipPaths.
func NewRequestLogger(logger *logging.Logger, skipPaths ...string) *RequestLogger {
	if logger == nil {
		logger = logging.NewNop()
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &RequestLogger{logger: logger, skipPaths: skip}
}

// Handler wraps next with request logging.
func (m *RequestLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("remote_addr", clientIP(r)),
		}
		if id := middleware.GetReqID(r.Context()); id != "" {
			fields = append(fields, zap.String("http_request_id", id))
		}

		switch {
		case status >= 500:
			m.logger.Error("http request", fields...)
		case status >= 400:
			m.logger.Warn("http request", fields...)
		default:
			m.logger.Info("http request", fields...)
		}
	})
}

// clientIP prefers the first X-Forwarded-For entry. RealIP has usually
// rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}
