package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for raw transaction data access
type Repository interface {
	// InsertBatch inserts raw transactions, silently skipping rows whose
	// (institution, account_ref, transaction_ref) natural key already exists.
	// Returns how many rows were inserted and how many were skipped.
	InsertBatch(ctx context.Context, txns []*RawTransaction) (inserted, skipped int, err error)
	// GetActive returns an active (non-suppressed) transaction by id,
	// or nil if the id is unknown or suppressed.
	GetActive(ctx context.Context, id uuid.UUID) (*RawTransaction, error)
	// ListActive returns active transactions matching the filter,
	// newest first.
	ListActive(ctx context.Context, filter ActiveFilter) ([]*RawTransaction, error)
	// UpsertAlias registers or replaces an account alias.
	UpsertAlias(ctx context.Context, alias Alias) error
}
