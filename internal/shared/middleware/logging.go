package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sterling/internal/shared/logger"
)

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) Status() int {
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// Logging writes one line per request and seeds the request context with
// a request-scoped logger, which handlers pick up via logger.FromContext.
func Logging(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := log.With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ctx := logger.WithContext(r.Context(), reqLog)

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			status := wrapped.status
			if status == 0 {
				status = 200
			}

			reqLog.Info().
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
