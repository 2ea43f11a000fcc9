package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RawTransaction is a transaction exactly as one feed reported it. Rows are
// append-only: ingestion never updates or deletes, and deduplication marks
// rows as suppressed through group membership rather than touching them.
type RawTransaction struct {
	ID             uuid.UUID       `json:"id"`
	Source         string          `json:"source"`
	Institution    string          `json:"institution"`
	AccountRef     string          `json:"accountRef"`
	TransactionRef *string         `json:"transactionRef,omitempty"`
	PostedAt       time.Time       `json:"postedAt"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	RawMerchant    string          `json:"rawMerchant"`
	RawMemo        *string         `json:"rawMemo,omitempty"`
	RawData        json.RawMessage `json:"rawData,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Alias maps a source-specific account reference to the canonical reference
// the rest of the pipeline uses. CSV exports, API feeds, and legacy ledgers
// frequently spell the same account differently.
type Alias struct {
	Institution  string `json:"institution"`
	AccountRef   string `json:"accountRef"`
	CanonicalRef string `json:"canonicalRef"`
}

// ActiveFilter narrows active-transaction listings. Zero values mean "any".
type ActiveFilter struct {
	Institution string
	AccountRef  string
	Source      string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// ImportResult aggregates the outcome of a file import run.
type ImportResult struct {
	FilesProcessed int
	Inserted       int
	Skipped        int
	Errors         []string
}
