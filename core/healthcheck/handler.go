// Package healthcheck provides liveness and readiness probe handlers for the
// realtime server and consumer binaries.
package healthcheck

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/veltio/realtime/core/logger"
)

// Handler creates a probe handler that serves as both a liveness and a
// readiness check depending on the provided dependency functions.
//
// With no dependency functions it acts as a liveness probe and always answers
// "ALIVE". With dependency functions it acts as a readiness probe: each
// function runs in sequence and any failure yields 503.
//
// Example:
//
//	mux.Handle("/health/live", healthcheck.Handler(log))
//	mux.Handle("/health/ready", healthcheck.Handler(log,
//		redis.Healthcheck(client),
//		manager.Healthcheck(),
//	))
func Handler(log *slog.Logger, fn ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(fn) == 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}

		for _, f := range fn {
			if err := f(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
