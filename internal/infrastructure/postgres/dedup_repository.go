package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sterling/internal/domain/dedup"
)

// DedupRepository stores match groups alongside the raw ledger. Candidate
// queries all read from the active_transaction view, so rows suppressed by
// an earlier run never come back as candidates.
type DedupRepository struct {
	db *DB
}

func NewDedupRepository(db *DB) *DedupRepository {
	return &DedupRepository{db: db}
}

// uuidStrings converts ids for ANY($n::uuid[]) binds, which lib/pq only
// accepts as a string array.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (r *DedupRepository) AliasRefs(ctx context.Context, institution, accountRef string) ([]string, error) {
	refs := []string{accountRef}
	seen := map[string]struct{}{accountRef: {}}

	// Rules usually name the canonical ref directly, but resolve first so
	// a rule written against an alias still finds its sibling refs.
	canonical := accountRef
	var resolved string
	err := r.db.QueryRowContext(ctx, `
		SELECT canonical_ref FROM account_alias
		WHERE institution = $1 AND account_ref = $2
	`, institution, accountRef).Scan(&resolved)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to resolve canonical ref: %w", err)
	}
	if err == nil {
		canonical = resolved
		if _, ok := seen[canonical]; !ok {
			seen[canonical] = struct{}{}
			refs = append(refs, canonical)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT account_ref FROM account_alias
		WHERE institution = $1 AND canonical_ref = $2
		ORDER BY account_ref
	`, institution, canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to list alias refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan alias ref: %w", err)
		}
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alias refs: %w", err)
	}

	return refs, nil
}

// CoverageStart looks at the raw table, not the active view: replacement
// rows that a later rule suppressed still prove the replacement feed
// covers the period.
func (r *DedupRepository) CoverageStart(ctx context.Context, institution string, refs []string, supersededSource string) (time.Time, bool, error) {
	query := `
		SELECT MIN(posted_at)
		FROM raw_transaction
		WHERE institution = $1
		  AND account_ref = ANY($2::text[])
		  AND source <> $3
		  AND source <> $4
	`

	var start sql.NullTime
	err := r.db.QueryRowContext(ctx, query, institution, pq.Array(refs), supersededSource, dedup.SyntheticSource).Scan(&start)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find coverage start: %w", err)
	}
	if !start.Valid {
		return time.Time{}, false, nil
	}
	return start.Time, true, nil
}

func (r *DedupRepository) SupersededCandidates(ctx context.Context, institution, accountRef, source string, coverageStart time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM active_transaction
		WHERE institution = $1
		  AND account_ref = $2
		  AND source = $3
		  AND posted_at >= $4
		ORDER BY posted_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, institution, accountRef, source, coverageStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list superseded candidates: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (r *DedupRepository) DeclinedCandidates(ctx context.Context, source, payloadKey string) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM active_transaction
		WHERE source = $1
		  AND COALESCE(raw_data->>$2, '') <> ''
		ORDER BY posted_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, source, payloadKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list declined candidates: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}

func (r *DedupRepository) InternalDuplicatePairs(ctx context.Context, source, institution string) ([]dedup.MatchPair, error) {
	query := `
		SELECT a.id, a.source, a.posted_at, a.amount, a.currency,
		       b.id, b.source, b.posted_at, b.amount, b.currency
		FROM active_transaction a
		JOIN active_transaction b
		  ON a.institution = b.institution
		 AND a.account_ref = b.account_ref
		 AND a.posted_at = b.posted_at
		 AND a.amount = b.amount
		 AND a.currency = b.currency
		 AND a.raw_merchant = b.raw_merchant
		 AND a.id < b.id
		WHERE a.source = $1
		  AND b.source = $1
	`
	args := []any{source}
	if institution != "" {
		query += " AND a.institution = $2"
		args = append(args, institution)
	}
	query += " ORDER BY a.posted_at, a.amount, a.id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list internal duplicates: %w", err)
	}
	defer rows.Close()

	var pairs []dedup.MatchPair
	for rows.Next() {
		var pair dedup.MatchPair
		err := rows.Scan(
			&pair.A.ID, &pair.A.Source, &pair.A.PostedAt, &pair.A.Amount, &pair.A.Currency,
			&pair.B.ID, &pair.B.Source, &pair.B.PostedAt, &pair.B.Amount, &pair.B.Currency,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duplicate pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating duplicate pairs: %w", err)
	}

	return pairs, nil
}

func (r *DedupRepository) MatchCandidates(ctx context.Context, institution string, refs []string, sourceA, sourceB string) ([]dedup.Candidate, error) {
	query := `
		SELECT id, source, posted_at, amount, currency
		FROM active_transaction
		WHERE institution = $1
		  AND account_ref = ANY($2::text[])
		  AND source IN ($3, $4)
		ORDER BY posted_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, institution, pq.Array(refs), sourceA, sourceB)
	if err != nil {
		return nil, fmt.Errorf("failed to list match candidates: %w", err)
	}
	defer rows.Close()

	var cands []dedup.Candidate
	for rows.Next() {
		var c dedup.Candidate
		if err := rows.Scan(&c.ID, &c.Source, &c.PostedAt, &c.Amount, &c.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan match candidate: %w", err)
		}
		cands = append(cands, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match candidates: %w", err)
	}

	return cands, nil
}

func (r *DedupRepository) MembershipIndex(ctx context.Context, ids []uuid.UUID) (*dedup.GroupIndex, error) {
	idx := dedup.NewGroupIndex()
	if len(ids) == 0 {
		return idx, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT raw_transaction_id, dedup_group_id, is_preferred
		FROM dedup_group_member
		WHERE raw_transaction_id = ANY($1::uuid[])
	`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]struct{})
	var groupIDs []string
	for rows.Next() {
		var rawID, groupID uuid.UUID
		var isPreferred bool
		if err := rows.Scan(&rawID, &groupID, &isPreferred); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		idx.Track(rawID, groupID, isPreferred)
		if _, ok := seen[groupID]; !ok {
			seen[groupID] = struct{}{}
			groupIDs = append(groupIDs, groupID.String())
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	if len(groupIDs) == 0 {
		return idx, nil
	}

	prefRows, err := r.db.QueryContext(ctx, `
		SELECT m.dedup_group_id, m.raw_transaction_id, rt.source
		FROM dedup_group_member m
		JOIN raw_transaction rt ON rt.id = m.raw_transaction_id
		WHERE m.dedup_group_id = ANY($1::uuid[])
		  AND m.is_preferred = true
	`, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load preferred members: %w", err)
	}
	defer prefRows.Close()

	for prefRows.Next() {
		var groupID, rawID uuid.UUID
		var source string
		if err := prefRows.Scan(&groupID, &rawID, &source); err != nil {
			return nil, fmt.Errorf("failed to scan preferred member: %w", err)
		}
		idx.TrackPreferred(groupID, rawID, source)
	}
	if err = prefRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preferred members: %w", err)
	}

	return idx, nil
}

// Suppress demotes each row everywhere it is currently preferred, then
// wraps rows with no membership at all in a fresh single-member group.
// Either way the row drops out of the active view.
func (r *DedupRepository) Suppress(ctx context.Context, ids []uuid.UUID, rule dedup.MatchRule) error {
	if len(ids) == 0 {
		return nil
	}
	idArray := pq.Array(uuidStrings(ids))

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dedup_group_member
			SET is_preferred = false
			WHERE raw_transaction_id = ANY($1::uuid[])
			  AND is_preferred = true
		`, idArray); err != nil {
			return fmt.Errorf("failed to demote preferred members: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			WITH fresh AS (
				SELECT rt.id
				FROM raw_transaction rt
				WHERE rt.id = ANY($1::uuid[])
				  AND NOT EXISTS (
					SELECT 1 FROM dedup_group_member m
					WHERE m.raw_transaction_id = rt.id
				  )
			), g AS (
				INSERT INTO dedup_group (canonical_id, match_rule)
				SELECT id, $2 FROM fresh
				RETURNING id, canonical_id
			)
			INSERT INTO dedup_group_member (dedup_group_id, raw_transaction_id, is_preferred)
			SELECT id, canonical_id, false FROM g
		`, idArray, string(rule)); err != nil {
			return fmt.Errorf("failed to create suppression groups: %w", err)
		}
		return nil
	})
}

func (r *DedupRepository) ApplyGroupOps(ctx context.Context, ops []dedup.GroupOp) error {
	if len(ops) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			switch {
			case op.Create != nil:
				if err := applyCreate(ctx, tx, op.Create); err != nil {
					return err
				}
			case op.Extend != nil:
				if err := applyExtend(ctx, tx, op.Extend); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func applyCreate(ctx context.Context, tx *sql.Tx, create *dedup.GroupCreate) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dedup_group (id, canonical_id, match_rule, confidence)
		VALUES ($1, $2, $3, $4)
	`, create.ID, create.CanonicalID, string(create.Rule), create.Confidence); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	for _, member := range create.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dedup_group_member (dedup_group_id, raw_transaction_id, is_preferred)
			VALUES ($1, $2, $3)
		`, create.ID, member.RawID, member.Preferred); err != nil {
			return fmt.Errorf("failed to add group member: %w", err)
		}
	}
	return nil
}

func applyExtend(ctx context.Context, tx *sql.Tx, extend *dedup.GroupExtend) error {
	if extend.Promote {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dedup_group_member
			SET is_preferred = false
			WHERE dedup_group_id = $1
			  AND is_preferred = true
		`, extend.GroupID); err != nil {
			return fmt.Errorf("failed to demote preferred member: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dedup_group_member (dedup_group_id, raw_transaction_id, is_preferred)
		VALUES ($1, $2, $3)
	`, extend.GroupID, extend.RawID, extend.Promote); err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}

	if extend.Promote {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dedup_group
			SET canonical_id = $2
			WHERE id = $1
		`, extend.GroupID, extend.RawID); err != nil {
			return fmt.Errorf("failed to update canonical transaction: %w", err)
		}
	}
	return nil
}

func (r *DedupRepository) Reset(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM dedup_group`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete groups: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

func (r *DedupRepository) Stats(ctx context.Context) (*dedup.Stats, error) {
	stats := &dedup.Stats{}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM dedup_group),
			(SELECT COUNT(*) FROM dedup_group_member),
			(SELECT COUNT(*) FROM dedup_group_member WHERE is_preferred = true),
			(SELECT COUNT(*) FROM raw_transaction),
			(SELECT COUNT(*) FROM active_transaction)
	`).Scan(&stats.Groups, &stats.Members, &stats.Preferred, &stats.RawTotal, &stats.ActiveTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup stats: %w", err)
	}
	stats.Removed = stats.RawTotal - stats.ActiveTotal

	ruleRows, err := r.db.QueryContext(ctx, `
		SELECT g.match_rule, COUNT(DISTINCT g.id), COUNT(m.raw_transaction_id)
		FROM dedup_group g
		LEFT JOIN dedup_group_member m ON m.dedup_group_id = g.id
		GROUP BY g.match_rule
		ORDER BY g.match_rule
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load per-rule stats: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var rs dedup.RuleStats
		if err := ruleRows.Scan(&rs.Rule, &rs.Groups, &rs.Members); err != nil {
			return nil, fmt.Errorf("failed to scan rule stats: %w", err)
		}
		stats.ByRule = append(stats.ByRule, rs)
	}
	if err = ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule stats: %w", err)
	}

	overlapRows, err := r.db.QueryContext(ctx, `
		SELECT a.institution, a.account_ref, a.source, b.source, COUNT(*)
		FROM active_transaction a
		JOIN active_transaction b
		  ON a.institution = b.institution
		 AND a.account_ref = b.account_ref
		 AND a.posted_at = b.posted_at
		 AND a.amount = b.amount
		 AND a.currency = b.currency
		 AND a.source < b.source
		GROUP BY a.institution, a.account_ref, a.source, b.source
		ORDER BY COUNT(*) DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlap stats: %w", err)
	}
	defer overlapRows.Close()

	for overlapRows.Next() {
		var o dedup.Overlap
		if err := overlapRows.Scan(&o.Institution, &o.AccountRef, &o.SourceA, &o.SourceB, &o.Count); err != nil {
			return nil, fmt.Errorf("failed to scan overlap: %w", err)
		}
		stats.Overlaps = append(stats.Overlaps, o)
	}
	if err = overlapRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overlaps: %w", err)
	}

	return stats, nil
}

func (r *DedupRepository) ListGroups(ctx context.Context, rule string, limit, offset int) ([]*dedup.Group, error) {
	query := `
		SELECT id, canonical_id, match_rule, confidence, created_at
		FROM dedup_group
	`
	var args []any
	if rule != "" {
		query += " WHERE match_rule = $1"
		args = append(args, rule)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*dedup.Group
	for rows.Next() {
		var g dedup.Group
		if err := rows.Scan(&g.ID, &g.CanonicalID, &g.MatchRule, &g.Confidence, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	if err := r.attachMembers(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *DedupRepository) GetGroup(ctx context.Context, id uuid.UUID) (*dedup.Group, error) {
	query := `
		SELECT id, canonical_id, match_rule, confidence, created_at
		FROM dedup_group
		WHERE id = $1
	`

	var g dedup.Group
	err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.CanonicalID, &g.MatchRule, &g.Confidence, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	if err := r.attachMembers(ctx, []*dedup.Group{&g}); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *DedupRepository) attachMembers(ctx context.Context, groups []*dedup.Group) error {
	if len(groups) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*dedup.Group, len(groups))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
		ids = append(ids, g.ID.String())
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT m.dedup_group_id, m.raw_transaction_id, m.is_preferred,
		       rt.source, rt.posted_at, rt.amount, rt.currency, rt.raw_merchant
		FROM dedup_group_member m
		JOIN raw_transaction rt ON rt.id = m.raw_transaction_id
		WHERE m.dedup_group_id = ANY($1::uuid[])
		ORDER BY m.dedup_group_id, rt.posted_at, rt.id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupID uuid.UUID
		var member dedup.GroupMember
		err := rows.Scan(
			&groupID, &member.RawTransactionID, &member.IsPreferred,
			&member.Source, &member.PostedAt, &member.Amount, &member.Currency, &member.RawMerchant,
		)
		if err != nil {
			return fmt.Errorf("failed to scan group member: %w", err)
		}
		if g, ok := byID[groupID]; ok {
			g.Members = append(g.Members, member)
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating group members: %w", err)
	}

	return nil
}
