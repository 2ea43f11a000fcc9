package dedup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testRules() *Rules {
	return &Rules{
		DefaultPriority: 99,
		Priorities: map[string]int{
			"bank_api":      1,
			"card_api":      1,
			"bank_csv":      2,
			"legacy_import": 3,
		},
	}
}

func testCandidate(source string) Candidate {
	return Candidate{
		ID:       uuid.New(),
		Source:   source,
		PostedAt: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Amount:   decimal.NewFromFloat(-42.50),
		Currency: "GBP",
	}
}

func TestDecideCreate_PreferredByPriority(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_csv")
	b := testCandidate("bank_api")

	op, ok := decideCreate(idx, rules, RuleCrossSourceDateAmount, crossSourceConfidence, a, b)
	if !ok {
		t.Fatal("decideCreate returned false, want true")
	}
	if op.Create == nil {
		t.Fatal("op.Create is nil")
	}
	if op.Create.CanonicalID != b.ID {
		t.Errorf("CanonicalID = %v, want %v (bank_api member)", op.Create.CanonicalID, b.ID)
	}
	if len(op.Create.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2", len(op.Create.Members))
	}
	if op.Create.Members[0].Preferred {
		t.Error("bank_csv member marked preferred, want non-preferred")
	}
	if !op.Create.Members[1].Preferred {
		t.Error("bank_api member not marked preferred")
	}
}

func TestDecideCreate_TieKeepsFirstMember(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_api")
	b := testCandidate("card_api")

	op, ok := decideCreate(idx, rules, RuleCrossSourceDateAmount, crossSourceConfidence, a, b)
	if !ok {
		t.Fatal("decideCreate returned false, want true")
	}
	if op.Create.CanonicalID != a.ID {
		t.Errorf("CanonicalID = %v, want %v (first member on tie)", op.Create.CanonicalID, a.ID)
	}
}

func TestDecideCreate_SkipsGroupedMember(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_api")
	b := testCandidate("bank_csv")
	idx.Track(a.ID, uuid.New(), true)

	if _, ok := decideCreate(idx, rules, RuleInternalDuplicate, internalDuplicateConfidence, a, b); ok {
		t.Error("decideCreate returned true for an already grouped member")
	}
}

func TestDecideCreate_TracksNewMembership(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_csv")
	b := testCandidate("bank_api")

	op, ok := decideCreate(idx, rules, RuleCrossSourceDateAmount, crossSourceConfidence, a, b)
	if !ok {
		t.Fatal("decideCreate returned false, want true")
	}
	if !idx.Grouped(a.ID) || !idx.Grouped(b.ID) {
		t.Error("members not tracked in index after create")
	}
	source, ok := idx.PreferredSource(op.Create.ID)
	if !ok {
		t.Fatal("no preferred source tracked for new group")
	}
	if source != "bank_api" {
		t.Errorf("preferred source = %q, want %q", source, "bank_api")
	}
}

func TestDecidePair_CreatesWhenBothFree(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_api")
	b := testCandidate("bank_csv")

	op, outcome := decidePair(idx, rules, a, b)
	if outcome != pairCreated {
		t.Fatalf("outcome = %d, want pairCreated", outcome)
	}
	if op.Create == nil {
		t.Fatal("op.Create is nil")
	}
	if op.Create.Rule != RuleCrossSourceDateAmount {
		t.Errorf("Rule = %q, want %q", op.Create.Rule, RuleCrossSourceDateAmount)
	}
	if op.Create.Confidence != crossSourceConfidence {
		t.Errorf("Confidence = %v, want %v", op.Create.Confidence, crossSourceConfidence)
	}
}

func TestDecidePair_SkipsWhenBothGrouped(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_api")
	b := testCandidate("bank_csv")
	idx.Track(a.ID, uuid.New(), true)
	idx.Track(b.ID, uuid.New(), false)

	if _, outcome := decidePair(idx, rules, a, b); outcome != pairSkipped {
		t.Errorf("outcome = %d, want pairSkipped", outcome)
	}
}

func TestDecidePair_ExtendsExistingGroup(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	a := testCandidate("bank_api")
	b := testCandidate("bank_csv")
	groupID := uuid.New()
	idx.Track(a.ID, groupID, true)
	idx.TrackPreferred(groupID, a.ID, a.Source)

	op, outcome := decidePair(idx, rules, a, b)
	if outcome != pairExtended {
		t.Fatalf("outcome = %d, want pairExtended", outcome)
	}
	if op.Extend == nil {
		t.Fatal("op.Extend is nil")
	}
	if op.Extend.GroupID != groupID {
		t.Errorf("GroupID = %v, want %v", op.Extend.GroupID, groupID)
	}
	if op.Extend.RawID != b.ID {
		t.Errorf("RawID = %v, want %v", op.Extend.RawID, b.ID)
	}
	if op.Extend.Promote {
		t.Error("bank_csv promoted over bank_api, want non-preferred insert")
	}
}

func TestDecidePair_ExtendPromotesBetterSource(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	existing := testCandidate("bank_csv")
	newcomer := testCandidate("bank_api")
	groupID := uuid.New()
	idx.Track(existing.ID, groupID, true)
	idx.TrackPreferred(groupID, existing.ID, existing.Source)

	op, outcome := decidePair(idx, rules, existing, newcomer)
	if outcome != pairExtended {
		t.Fatalf("outcome = %d, want pairExtended", outcome)
	}
	if !op.Extend.Promote {
		t.Error("bank_api not promoted over bank_csv")
	}
	source, ok := idx.PreferredSource(groupID)
	if !ok || source != "bank_api" {
		t.Errorf("preferred source after promote = %q, want %q", source, "bank_api")
	}
	if m := idx.members[existing.ID]; m.IsPreferred {
		t.Error("previous preferred member not demoted")
	}
}

func TestDecidePair_SkipsWhenGroupedMemberNotPreferred(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	existing := testCandidate("bank_csv")
	newcomer := testCandidate("legacy_import")
	groupID := uuid.New()
	idx.Track(existing.ID, groupID, false)

	if _, outcome := decidePair(idx, rules, existing, newcomer); outcome != pairSkipped {
		t.Errorf("outcome = %d, want pairSkipped for a non-preferred member", outcome)
	}
	if idx.Grouped(newcomer.ID) {
		t.Error("newcomer tracked in index despite skip")
	}
}

func TestDecidePair_DemotedMemberStopsMatchingLaterPairs(t *testing.T) {
	idx := NewGroupIndex()
	rules := testRules()
	csvRow := testCandidate("bank_csv")
	apiRow := testCandidate("bank_api")
	legacyRow := testCandidate("legacy_import")
	groupID := uuid.New()
	idx.Track(csvRow.ID, groupID, true)
	idx.TrackPreferred(groupID, csvRow.ID, csvRow.Source)

	if _, outcome := decidePair(idx, rules, csvRow, apiRow); outcome != pairExtended {
		t.Fatalf("first pair outcome = %d, want pairExtended", outcome)
	}
	if g, ok := idx.GroupOf(apiRow.ID); !ok || g != groupID {
		t.Errorf("GroupOf(apiRow) = (%v, %v), want (%v, true)", g, ok, groupID)
	}
	if _, outcome := decidePair(idx, rules, csvRow, legacyRow); outcome != pairSkipped {
		t.Errorf("second pair outcome = %d, want pairSkipped once the member is demoted", outcome)
	}
}

func TestGroupIndex_PromoteDemotesPrevious(t *testing.T) {
	idx := NewGroupIndex()
	groupID := uuid.New()
	first := uuid.New()
	second := uuid.New()
	idx.Track(first, groupID, true)
	idx.TrackPreferred(groupID, first, "bank_csv")

	idx.promote(groupID, second, "bank_api")

	if m := idx.members[first]; m.IsPreferred {
		t.Error("first member still preferred after promote")
	}
	if m := idx.members[second]; !m.IsPreferred {
		t.Error("second member not preferred after promote")
	}
	if source, _ := idx.PreferredSource(groupID); source != "bank_api" {
		t.Errorf("preferred source = %q, want %q", source, "bank_api")
	}
}
