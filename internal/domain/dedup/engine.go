package dedup

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine runs the dedup pipeline over the raw ledger: supersessions first,
// then declined markers, same-source duplicates, and cross-source matching.
// Each rule unit commits on its own, so a failed run leaves earlier units
// applied and the next run picks up where it stopped.
type Engine struct {
	repo  Repository
	rules *Rules
	log   zerolog.Logger
}

func NewEngine(repo Repository, rules *Rules, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, rules: rules, log: log}
}

// Run executes every configured rule and returns per-stage counts. With
// DryRun set it reports what would be grouped without writing anything.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunStats, error) {
	stats := &RunStats{}

	if err := e.runSupersessions(ctx, opts, stats); err != nil {
		return nil, err
	}
	if err := e.runDeclined(ctx, opts, stats); err != nil {
		return nil, err
	}
	if err := e.runInternalDuplicates(ctx, opts, stats); err != nil {
		return nil, err
	}
	if err := e.runCrossSource(ctx, opts, stats); err != nil {
		return nil, err
	}

	e.log.Info().
		Bool("dryRun", opts.DryRun).
		Int("sourceSuperseded", stats.SourceSuperseded).
		Int("declined", stats.Declined).
		Int("internalDuplicateGroups", stats.InternalDuplicateGroups).
		Int("crossSourceGroups", stats.CrossSourceGroups).
		Int("crossSourceExtended", stats.CrossSourceExtended).
		Int("skipped", stats.Skipped).
		Msg("dedup run complete")

	return stats, nil
}

// runSupersessions suppresses rows from a replaced source once a
// replacement source covers the account. Only rows posted at or after the
// replacement's earliest date are touched, so history before the cutover
// survives.
func (e *Engine) runSupersessions(ctx context.Context, opts RunOptions, stats *RunStats) error {
	for _, rule := range e.rules.Supersessions {
		if opts.Institution != "" && opts.Institution != rule.Institution {
			continue
		}

		refs, err := e.repo.AliasRefs(ctx, rule.Institution, rule.AccountRef)
		if err != nil {
			return fmt.Errorf("failed to resolve account refs for %s/%s: %w", rule.Institution, rule.AccountRef, err)
		}

		covStart, ok, err := e.repo.CoverageStart(ctx, rule.Institution, refs, rule.SupersededSource)
		if err != nil {
			return fmt.Errorf("failed to find replacement coverage for %s/%s: %w", rule.Institution, rule.AccountRef, err)
		}
		if !ok {
			e.log.Warn().
				Str("institution", rule.Institution).
				Str("accountRef", rule.AccountRef).
				Str("source", rule.SupersededSource).
				Msg("no replacement coverage found, skipping supersession")
			continue
		}

		ids, err := e.repo.SupersededCandidates(ctx, rule.Institution, rule.AccountRef, rule.SupersededSource, covStart)
		if err != nil {
			return fmt.Errorf("failed to list superseded rows for %s/%s: %w", rule.Institution, rule.AccountRef, err)
		}
		if len(ids) == 0 {
			continue
		}

		if !opts.DryRun {
			if err := e.repo.Suppress(ctx, ids, RuleSourceSuperseded); err != nil {
				return fmt.Errorf("failed to suppress superseded rows for %s/%s: %w", rule.Institution, rule.AccountRef, err)
			}
		}
		stats.SourceSuperseded += len(ids)
		e.log.Debug().
			Str("institution", rule.Institution).
			Str("source", rule.SupersededSource).
			Int("rows", len(ids)).
			Msg("superseded rows suppressed")
	}
	return nil
}

// runDeclined suppresses rows whose raw payload marks them as declined.
// Declined markers are per source, so the institution filter does not
// apply here.
func (e *Engine) runDeclined(ctx context.Context, opts RunOptions, stats *RunStats) error {
	for _, marker := range e.rules.Declined {
		ids, err := e.repo.DeclinedCandidates(ctx, marker.Source, marker.PayloadKey)
		if err != nil {
			return fmt.Errorf("failed to list declined rows for %s: %w", marker.Source, err)
		}
		if len(ids) == 0 {
			continue
		}

		if !opts.DryRun {
			if err := e.repo.Suppress(ctx, ids, RuleDeclined); err != nil {
				return fmt.Errorf("failed to suppress declined rows for %s: %w", marker.Source, err)
			}
		}
		stats.Declined += len(ids)
	}
	return nil
}

func (e *Engine) runInternalDuplicates(ctx context.Context, opts RunOptions, stats *RunStats) error {
	for _, source := range e.rules.InternalDuplicateSources {
		pairs, err := e.repo.InternalDuplicatePairs(ctx, source, opts.Institution)
		if err != nil {
			return fmt.Errorf("failed to list internal duplicates for %s: %w", source, err)
		}
		if len(pairs) == 0 {
			continue
		}

		idx, err := e.repo.MembershipIndex(ctx, pairIDs(pairs))
		if err != nil {
			return fmt.Errorf("failed to load membership for %s duplicates: %w", source, err)
		}

		var ops []GroupOp
		for _, pair := range pairs {
			op, ok := decideCreate(idx, e.rules, RuleInternalDuplicate, internalDuplicateConfidence, pair.A, pair.B)
			if !ok {
				stats.Skipped++
				continue
			}
			ops = append(ops, op)
			stats.InternalDuplicateGroups++
		}
		if len(ops) == 0 || opts.DryRun {
			continue
		}
		if err := e.repo.ApplyGroupOps(ctx, ops); err != nil {
			return fmt.Errorf("failed to group internal duplicates for %s: %w", source, err)
		}
	}
	return nil
}

func (e *Engine) runCrossSource(ctx context.Context, opts RunOptions, stats *RunStats) error {
	for _, rule := range e.rules.CrossSource {
		if opts.Institution != "" && opts.Institution != rule.Institution {
			continue
		}

		refs, err := e.repo.AliasRefs(ctx, rule.Institution, rule.AccountRef)
		if err != nil {
			return fmt.Errorf("failed to resolve account refs for %s/%s: %w", rule.Institution, rule.AccountRef, err)
		}

		for _, sources := range rule.Pairs {
			cands, err := e.repo.MatchCandidates(ctx, rule.Institution, refs, sources.A, sources.B)
			if err != nil {
				return fmt.Errorf("failed to list match candidates for %s/%s: %w", rule.Institution, rule.AccountRef, err)
			}

			pairs := matchPositional(cands, sources.A, sources.B, rule.DateToleranceDays)
			if len(pairs) == 0 {
				continue
			}

			idx, err := e.repo.MembershipIndex(ctx, pairIDs(pairs))
			if err != nil {
				return fmt.Errorf("failed to load membership for %s/%s matches: %w", rule.Institution, rule.AccountRef, err)
			}

			var ops []GroupOp
			for _, pair := range pairs {
				op, outcome := decidePair(idx, e.rules, pair.A, pair.B)
				switch outcome {
				case pairCreated:
					ops = append(ops, op)
					stats.CrossSourceGroups++
				case pairExtended:
					ops = append(ops, op)
					stats.CrossSourceExtended++
				default:
					stats.Skipped++
				}
			}
			if len(ops) == 0 || opts.DryRun {
				continue
			}
			if err := e.repo.ApplyGroupOps(ctx, ops); err != nil {
				return fmt.Errorf("failed to group %s+%s matches for %s/%s: %w", sources.A, sources.B, rule.Institution, rule.AccountRef, err)
			}
			e.log.Debug().
				Str("institution", rule.Institution).
				Str("accountRef", rule.AccountRef).
				Str("sourceA", sources.A).
				Str("sourceB", sources.B).
				Int("ops", len(ops)).
				Msg("cross-source matches applied")
		}
	}
	return nil
}

// pairIDs collects the distinct row ids across pairs, preserving order.
func pairIDs(pairs []MatchPair) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(pairs)*2)
	seen := make(map[uuid.UUID]struct{}, len(pairs)*2)
	for _, p := range pairs {
		for _, id := range []uuid.UUID{p.A.ID, p.B.ID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
