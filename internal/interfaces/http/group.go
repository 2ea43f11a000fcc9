package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"sterling/internal/domain/dedup"
	"sterling/internal/shared/logger"
)

// GroupStore is the slice of dedup storage the group endpoints read from.
type GroupStore interface {
	ListGroups(ctx context.Context, rule string, limit, offset int) ([]*dedup.Group, error)
	GetGroup(ctx context.Context, id uuid.UUID) (*dedup.Group, error)
}

type GroupHandler struct {
	store GroupStore
}

func NewGroupHandler(store GroupStore) *GroupHandler {
	return &GroupHandler{store: store}
}

// HandleListGroups pages match groups, optionally filtered by rule.
func (h *GroupHandler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rule := r.URL.Query().Get("rule")
	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	groups, err := h.store.ListGroups(r.Context(), rule, limit, offset)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to list groups")
		http.Error(w, "Failed to list groups", http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []*dedup.Group{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(groups)
}

// HandleGetGroup returns one group with its members.
func (h *GroupHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid group id", http.StatusBadRequest)
		return
	}

	group, err := h.store.GetGroup(r.Context(), id)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("id", id.String()).Msg("failed to get group")
		http.Error(w, "Failed to get group", http.StatusInternalServerError)
		return
	}
	if group == nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(group)
}
