package main

import (
	"net/http"

	httphandlers "payrecon/internal/interfaces/http"
	"payrecon/internal/shared/config"
	"payrecon/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Sync routes
	mux.HandleFunc("/api/sync/status", deps.SyncHandler.HandleSyncStatus)
	mux.HandleFunc("/api/sync/", deps.SyncHandler.HandleTriggerSync)

	// Reconciliation routes
	mux.HandleFunc("/api/reconciliation/run", deps.ReconciliationHandler.HandleRunReconciliation)
	mux.HandleFunc("/api/reconciliation/runs", deps.ReconciliationHandler.HandleListRuns)
	mux.HandleFunc("/api/reconciliation/runs/", deps.ReconciliationHandler.HandleGetRun)

	// Apply global middleware
	handler := middleware.Logging(mux)
	if cfg.Telemetry.Enabled {
		handler = middleware.Tracing(handler)
	}

	return handler
}
