package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// checkPath is the public license validation route. Devices re-validate on
// every app launch, so this route dominates traffic.
const checkPath = "/api/v1/check"

// Logger returns an HTTP middleware that logs every request through slog.
// Successful license checks are logged at debug so steady-state validation
// traffic does not drown the administrative log; rate-limited requests are
// logged at warn since a burst of them usually means key enumeration.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", rec.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}

			switch {
			case rec.status >= 500:
				logger.Log(r.Context(), slog.LevelError, "request", attrs...)
			case rec.status == http.StatusTooManyRequests:
				logger.Log(r.Context(), slog.LevelWarn, "request rate limited", attrs...)
			case rec.status >= 400:
				logger.Log(r.Context(), slog.LevelWarn, "request", attrs...)
			case r.Method == http.MethodPost && r.URL.Path == checkPath:
				logger.Log(r.Context(), slog.LevelDebug, "license check", attrs...)
			default:
				logger.Log(r.Context(), slog.LevelInfo, "request", attrs...)
			}
		})
	}
}

// statusRecorder captures the status code and body size for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying ResponseWriter so http.Flusher and friends
// still work through the chain.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
