package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Recovery returns a middleware that recovers from panics and logs the error.
func Recovery() func(http.Handler) http.Handler {
	return RecoveryWithLogger(log.Logger)
}

// RecoveryWithLogger returns a middleware that recovers from panics using a custom logger.
// No error response is written once the connection has been hijacked for a
// push channel.
func RecoveryWithLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := newStatusWriter(w)
			defer func() {
				if err := recover(); err != nil {
					logger.Error().
						Interface("panic", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("remote_addr", r.RemoteAddr).
						Bool("upgraded", wrapped.hijacked).
						Bytes("stack", debug.Stack()).
						Msg("Panic recovered")

					if !wrapped.hijacked {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
