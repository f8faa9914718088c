package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"payrecon/internal/domain/reconciliation"
	"payrecon/internal/shared/runlock"
)

type ReconciliationHandler struct {
	engine *reconciliation.Engine
	runs   reconciliation.Repository
}

func NewReconciliationHandler(engine *reconciliation.Engine, runs reconciliation.Repository) *ReconciliationHandler {
	return &ReconciliationHandler{
		engine: engine,
		runs:   runs,
	}
}

// HandleRunReconciliation starts a reconciliation run for one date:
// POST /api/reconciliation/run?date=YYYY-MM-DD. Without a date parameter
// the previous day is reconciled. A run already in flight for the same
// date returns 409.
func (h *ReconciliationHandler) HandleRunReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date := time.Now().UTC().AddDate(0, 0, -1)
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			http.Error(w, "Invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	run, err := h.engine.Run(r.Context(), date)
	if errors.Is(err, runlock.ErrAlreadyRunning) {
		http.Error(w, "Reconciliation already running for "+date.Format("2006-01-02"), http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("Error running reconciliation for %s: %v", date.Format("2006-01-02"), err)
		http.Error(w, "Reconciliation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// HandleListRuns lists runs for a date: GET /api/reconciliation/runs?date=YYYY-MM-DD.
func (h *ReconciliationHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "Invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	runs, err := h.runs.ListRunsByDate(r.Context(), date)
	if err != nil {
		log.Printf("Error listing reconciliation runs for %s: %v", dateStr, err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

type runDetailResponse struct {
	Run     *reconciliation.Run     `json:"run"`
	Results []reconciliation.Result `json:"results"`
}

// HandleGetRun returns one run with its full result set:
// GET /api/reconciliation/runs/{id}.
func (h *ReconciliationHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/reconciliation/runs/")
	runID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}

	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		log.Printf("Error getting reconciliation run %s: %v", runID, err)
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	results, err := h.runs.ListResults(r.Context(), runID)
	if err != nil {
		log.Printf("Error listing results for run %s: %v", runID, err)
		http.Error(w, "Failed to list results", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runDetailResponse{Run: run, Results: results})
}
