package dedup

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchRule identifies which matcher created a group.
type MatchRule string

const (
	RuleSourceSuperseded      MatchRule = "source_superseded"
	RuleDeclined              MatchRule = "declined"
	RuleInternalDuplicate     MatchRule = "internal_duplicate"
	RuleCrossSourceDateAmount MatchRule = "cross_source_date_amount"
)

// SyntheticSource marks rows generated by the system itself (opening
// balances, adjustments). They never count as feed coverage.
const SyntheticSource = "synthetic"

const (
	internalDuplicateConfidence = 0.95
	crossSourceConfidence       = 1.0
)

// Candidate is the slice of a raw transaction the matchers work with.
type Candidate struct {
	ID       uuid.UUID
	Source   string
	PostedAt time.Time
	Amount   decimal.Decimal
	Currency string
}

// MatchPair is two candidates the matchers believe describe the same
// real-world transaction.
type MatchPair struct {
	A Candidate
	B Candidate
}

// Membership records which group a raw transaction belongs to.
type Membership struct {
	GroupID     uuid.UUID
	IsPreferred bool
}

// RunOptions controls a dedup run.
type RunOptions struct {
	// Institution limits the run to one institution's rules.
	// Empty means all institutions.
	Institution string
	// DryRun counts what would change without writing anything.
	DryRun bool
}

// RunStats counts what a run did, keyed the same way the rules are.
type RunStats struct {
	SourceSuperseded        int `json:"source_superseded"`
	Declined                int `json:"declined"`
	InternalDuplicateGroups int `json:"internal_duplicate_groups"`
	CrossSourceGroups       int `json:"cross_source_groups"`
	CrossSourceExtended     int `json:"cross_source_extended"`
	Skipped                 int `json:"skipped"`
}

// Group is a set of raw transactions judged to be the same transaction.
type Group struct {
	ID          uuid.UUID     `json:"id"`
	CanonicalID uuid.UUID     `json:"canonicalId"`
	MatchRule   MatchRule     `json:"matchRule"`
	Confidence  float64       `json:"confidence"`
	CreatedAt   time.Time     `json:"createdAt"`
	Members     []GroupMember `json:"members,omitempty"`
}

// GroupMember is one raw transaction inside a group, with enough of the
// underlying row to make audit listings readable.
type GroupMember struct {
	RawTransactionID uuid.UUID       `json:"rawTransactionId"`
	Source           string          `json:"source"`
	PostedAt         time.Time       `json:"postedAt"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	RawMerchant      string          `json:"rawMerchant"`
	IsPreferred      bool            `json:"isPreferred"`
}

// RuleStats is the per-rule slice of the stats report.
type RuleStats struct {
	Rule    MatchRule `json:"rule"`
	Groups  int       `json:"groups"`
	Members int       `json:"members"`
}

// Overlap is a pair of sources that still report matching rows for the
// same account and day after deduplication. A non-empty overlap report
// usually means a cross-source rule is missing.
type Overlap struct {
	Institution string `json:"institution"`
	AccountRef  string `json:"accountRef"`
	SourceA     string `json:"sourceA"`
	SourceB     string `json:"sourceB"`
	Count       int    `json:"count"`
}

// Stats summarises the dedup state of the whole ledger.
type Stats struct {
	Groups      int         `json:"groups"`
	Members     int         `json:"members"`
	Preferred   int         `json:"preferred"`
	RawTotal    int         `json:"rawTotal"`
	ActiveTotal int         `json:"activeTotal"`
	Removed     int         `json:"removed"`
	ByRule      []RuleStats `json:"byRule"`
	Overlaps    []Overlap   `json:"overlaps"`
}
