package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sterling/internal/domain/ledger"
	"sterling/internal/shared/logger"
)

// TransactionStore is the slice of the ledger the transaction endpoints
// read from.
type TransactionStore interface {
	GetActive(ctx context.Context, id uuid.UUID) (*ledger.RawTransaction, error)
	ListActive(ctx context.Context, filter ledger.ActiveFilter) ([]*ledger.RawTransaction, error)
}

type TransactionHandler struct {
	store TransactionStore
}

func NewTransactionHandler(store TransactionStore) *TransactionHandler {
	return &TransactionHandler{store: store}
}

// HandleListTransactions returns active transactions, filtered by query
// parameters.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := ledger.ActiveFilter{
		Institution: r.URL.Query().Get("institution"),
		AccountRef:  r.URL.Query().Get("accountRef"),
		Source:      r.URL.Query().Get("source"),
		Limit:       50,
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.From = from
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.To = to
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	txns, err := h.store.ListActive(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to list transactions")
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []*ledger.RawTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// HandleGetTransaction returns one active transaction by id.
func (h *TransactionHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}

	txn, err := h.store.GetActive(r.Context(), id)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("id", id.String()).Msg("failed to get transaction")
		http.Error(w, "Failed to get transaction", http.StatusInternalServerError)
		return
	}
	if txn == nil {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}
