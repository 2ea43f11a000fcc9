package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"sterling/internal/domain/dedup"
	"sterling/internal/shared/logger"
)

// DedupService runs the matching pipeline.
type DedupService interface {
	Run(ctx context.Context, opts dedup.RunOptions) (*dedup.RunStats, error)
}

// DedupStore exposes the bookkeeping side of dedup storage.
type DedupStore interface {
	Stats(ctx context.Context) (*dedup.Stats, error)
	Reset(ctx context.Context) (int64, error)
}

type DedupHandler struct {
	service DedupService
	store   DedupStore
}

func NewDedupHandler(service DedupService, store DedupStore) *DedupHandler {
	return &DedupHandler{service: service, store: store}
}

type runRequest struct {
	Institution string `json:"institution"`
	DryRun      bool   `json:"dryRun"`
}

// HandleRun triggers a dedup run. The body is optional; an empty body
// runs every rule for real.
func (h *DedupHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stats, err := h.service.Run(r.Context(), dedup.RunOptions{
		Institution: req.Institution,
		DryRun:      req.DryRun,
	})
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("dedup run failed")
		http.Error(w, "Dedup run failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// HandleReset deletes every match group, restoring all raw rows to the
// active view. Raw rows themselves are untouched.
func (h *DedupHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deleted, err := h.store.Reset(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("dedup reset failed")
		http.Error(w, "Dedup reset failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"groupsDeleted": deleted})
}

// HandleStats reports group counts, active/raw totals and remaining
// cross-source overlaps.
func (h *DedupHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to load dedup stats")
		http.Error(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
