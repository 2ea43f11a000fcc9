package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage surface the dedup engine runs against.
// Candidate queries must exclude rows that already sit in a group as a
// non-preferred member, so a second run over the same data finds nothing.
type Repository interface {
	// AliasRefs returns every account ref that identifies the same
	// account as accountRef at the institution, including accountRef
	// itself.
	AliasRefs(ctx context.Context, institution, accountRef string) ([]string, error)

	// CoverageStart returns the earliest posted date carried by any
	// replacement source for the account. ok is false when no
	// replacement rows exist.
	CoverageStart(ctx context.Context, institution string, refs []string, supersededSource string) (time.Time, bool, error)

	// SupersededCandidates lists rows from the superseded source at or
	// after coverageStart, ordered by posted date then id.
	SupersededCandidates(ctx context.Context, institution, accountRef, source string, coverageStart time.Time) ([]uuid.UUID, error)

	// DeclinedCandidates lists rows from source whose raw payload
	// carries a non-empty value under payloadKey.
	DeclinedCandidates(ctx context.Context, source, payloadKey string) ([]uuid.UUID, error)

	// InternalDuplicatePairs lists same-source row pairs that agree on
	// institution, account, posted date, amount, currency and merchant.
	// An empty institution matches all institutions.
	InternalDuplicatePairs(ctx context.Context, source, institution string) ([]MatchPair, error)

	// MatchCandidates lists ungrouped rows from the two sources for the
	// account, ordered by posted date then id.
	MatchCandidates(ctx context.Context, institution string, refs []string, sourceA, sourceB string) ([]Candidate, error)

	// MembershipIndex loads current group membership for the given rows,
	// plus the preferred member of every group touched.
	MembershipIndex(ctx context.Context, ids []uuid.UUID) (*GroupIndex, error)

	// Suppress puts each row in its own single-member group under rule,
	// demoting it everywhere it already appears as a preferred member.
	// Rows already grouped are left alone beyond the demotion.
	Suppress(ctx context.Context, ids []uuid.UUID, rule MatchRule) error

	// ApplyGroupOps applies the ops in order inside one transaction.
	ApplyGroupOps(ctx context.Context, ops []GroupOp) error

	// Reset deletes every group and returns how many were removed.
	Reset(ctx context.Context) (int64, error)

	// Stats summarizes groups, members and per-rule counts, along with
	// remaining cross-source overlaps among active rows.
	Stats(ctx context.Context) (*Stats, error)

	// ListGroups pages groups with their members, newest first. An empty
	// rule matches all rules.
	ListGroups(ctx context.Context, rule string, limit, offset int) ([]*Group, error)

	// GetGroup loads one group with its members, or nil when absent.
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
}
