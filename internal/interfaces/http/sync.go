package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"payrecon/internal/domain/etl"
	"payrecon/internal/domain/transaction"
	"payrecon/internal/shared/runlock"
)

type SyncHandler struct {
	orchestrators map[transaction.Source]*etl.Orchestrator
	states        etl.StateStore
}

func NewSyncHandler(orchestrators map[transaction.Source]*etl.Orchestrator, states etl.StateStore) *SyncHandler {
	return &SyncHandler{
		orchestrators: orchestrators,
		states:        states,
	}
}

type syncRunResponse struct {
	Source    string `json:"source"`
	Backfill  bool   `json:"backfill"`
	Pages     int    `json:"pages"`
	Records   int    `json:"records"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
}

// HandleTriggerSync runs one sync pass for the source named in the path:
// POST /api/sync/{source}. A run already in flight returns 409 without
// queuing a second one.
func (h *SyncHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/sync/")
	source, err := transaction.ParseSource(name)
	if err != nil {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}

	orchestrator, ok := h.orchestrators[source]
	if !ok {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}

	result, err := orchestrator.Run(r.Context())
	if errors.Is(err, runlock.ErrAlreadyRunning) {
		http.Error(w, "Sync already running for "+name, http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("Error running sync for %s: %v", name, err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(syncRunResponse{
		Source:    string(result.Source),
		Backfill:  result.Backfill,
		Pages:     result.Pages,
		Records:   result.Records,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Unchanged: result.Unchanged,
		Skipped:   result.Skipped,
	})
}

type syncStateResponse struct {
	Source               string  `json:"source"`
	Status               string  `json:"status"`
	LastCreateCursor     *string `json:"lastCreateCursor,omitempty"`
	LastSyncAt           *string `json:"lastSyncAt,omitempty"`
	LastSuccessfulSyncAt *string `json:"lastSuccessfulSyncAt,omitempty"`
	RecordsSynced        int64   `json:"recordsSynced"`
	ErrorMessage         *string `json:"errorMessage,omitempty"`
}

// HandleSyncStatus returns the sync state of every known source:
// GET /api/sync/status.
func (h *SyncHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var states []syncStateResponse
	for _, source := range transaction.Sources {
		state, err := h.states.Ensure(r.Context(), source)
		if err != nil {
			log.Printf("Error loading sync state for %s: %v", source, err)
			http.Error(w, "Failed to load sync state", http.StatusInternalServerError)
			return
		}

		resp := syncStateResponse{
			Source:           string(state.Source),
			Status:           string(state.Status),
			LastCreateCursor: state.LastCreateCursor,
			RecordsSynced:    state.RecordsSynced,
			ErrorMessage:     state.ErrorMessage,
		}
		if state.LastSyncAt != nil {
			v := state.LastSyncAt.UTC().Format("2006-01-02T15:04:05Z07:00")
			resp.LastSyncAt = &v
		}
		if state.LastSuccessfulSyncAt != nil {
			v := state.LastSuccessfulSyncAt.UTC().Format("2006-01-02T15:04:05Z07:00")
			resp.LastSuccessfulSyncAt = &v
		}
		states = append(states, resp)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(states)
}
