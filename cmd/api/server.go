package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sterling/internal/interfaces/scheduler"
)

// StartServer creates the HTTP server and starts it in the background.
func StartServer(addr string, handler http.Handler, log zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	return srv
}

// GracefulShutdown stops the scheduler first so no new dedup runs start,
// then drains the HTTP server.
func GracefulShutdown(srv *http.Server, sched *scheduler.Scheduler, timeout time.Duration, log zerolog.Logger) {
	log.Info().Msg("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if sched != nil {
		sched.Shutdown(timeout)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down server")
	}

	log.Info().Msg("server stopped")
}
