package main

import (
	"net/http"

	"github.com/rs/zerolog"

	httphandlers "sterling/internal/interfaces/http"
	"sterling/internal/shared/config"
	"sterling/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler
// with middleware applied.
func SetupRoutes(deps *Dependencies, cfg *config.Config, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check stays public for load balancer probes.
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	auth := middleware.Auth(cfg.Server.APIToken)

	mux.Handle("/api/v1/transactions", auth(http.HandlerFunc(deps.TransactionHandler.HandleListTransactions)))
	mux.Handle("/api/v1/transactions/{id}", auth(http.HandlerFunc(deps.TransactionHandler.HandleGetTransaction)))
	mux.Handle("/api/v1/groups", auth(http.HandlerFunc(deps.GroupHandler.HandleListGroups)))
	mux.Handle("/api/v1/groups/{id}", auth(http.HandlerFunc(deps.GroupHandler.HandleGetGroup)))
	mux.Handle("/api/v1/dedup/run", auth(http.HandlerFunc(deps.DedupHandler.HandleRun)))
	mux.Handle("/api/v1/dedup/reset", auth(http.HandlerFunc(deps.DedupHandler.HandleReset)))
	mux.Handle("/api/v1/dedup/stats", auth(http.HandlerFunc(deps.DedupHandler.HandleStats)))

	return middleware.Telemetry(middleware.Logging(log)(middleware.CORS(mux)))
}
