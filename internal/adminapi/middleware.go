package adminapi

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// LoggingMiddleware logs every request with its path, method, duration,
// and response status, the net/http counterpart of
// internal/server's LoggingInterceptor.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", duration),
		}
		level := slog.LevelInfo
		if sw.status >= 400 {
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "request completed", attrs...)
	})
}

// RecoveryMiddleware recovers from a panic in a later handler, logging it
// at Error level and returning 500 instead of crashing the server, the
// net/http counterpart of internal/server's RecoveryInterceptor.
func RecoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				logger.ErrorContext(r.Context(), "panic recovered in admin api handler",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(buf[:n])),
				)
				writeError(w, http.StatusInternalServerError, ErrPanicRecovered)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the status code written to an http.ResponseWriter
// for logging purposes.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}
