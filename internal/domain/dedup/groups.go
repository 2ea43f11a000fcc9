package dedup

import (
	"github.com/google/uuid"
)

// preferredMember tracks which member currently carries a group's
// preferred flag.
type preferredMember struct {
	RawID  uuid.UUID
	Source string
}

// GroupIndex is an in-memory view of group membership for the rows a
// matcher batch is about to touch. The engine threads one index through
// the batch so every decision sees the groups created earlier in the same
// batch, before anything is committed.
type GroupIndex struct {
	members   map[uuid.UUID]Membership
	preferred map[uuid.UUID]preferredMember
}

func NewGroupIndex() *GroupIndex {
	return &GroupIndex{
		members:   make(map[uuid.UUID]Membership),
		preferred: make(map[uuid.UUID]preferredMember),
	}
}

// Track records a membership.
func (idx *GroupIndex) Track(rawID, groupID uuid.UUID, isPreferred bool) {
	idx.members[rawID] = Membership{GroupID: groupID, IsPreferred: isPreferred}
}

// TrackPreferred records which member holds a group's preferred flag.
func (idx *GroupIndex) TrackPreferred(groupID, rawID uuid.UUID, source string) {
	idx.preferred[groupID] = preferredMember{RawID: rawID, Source: source}
}

// Grouped reports whether a row already belongs to any group.
func (idx *GroupIndex) Grouped(rawID uuid.UUID) bool {
	_, ok := idx.members[rawID]
	return ok
}

// GroupOf returns the group a row belongs to.
func (idx *GroupIndex) GroupOf(rawID uuid.UUID) (uuid.UUID, bool) {
	m, ok := idx.members[rawID]
	return m.GroupID, ok
}

// PreferredSource returns the source of a group's current preferred member.
func (idx *GroupIndex) PreferredSource(groupID uuid.UUID) (string, bool) {
	p, ok := idx.preferred[groupID]
	return p.Source, ok
}

// promote hands the preferred flag to rawID, demoting the previous holder.
func (idx *GroupIndex) promote(groupID, rawID uuid.UUID, source string) {
	if prev, ok := idx.preferred[groupID]; ok {
		idx.members[prev.RawID] = Membership{GroupID: groupID, IsPreferred: false}
	}
	idx.members[rawID] = Membership{GroupID: groupID, IsPreferred: true}
	idx.preferred[groupID] = preferredMember{RawID: rawID, Source: source}
}

// NewMember is one row to insert into a new group.
type NewMember struct {
	RawID     uuid.UUID
	Preferred bool
}

// GroupCreate creates a group with its initial members.
type GroupCreate struct {
	ID          uuid.UUID
	Rule        MatchRule
	Confidence  float64
	CanonicalID uuid.UUID
	Members     []NewMember
}

// GroupExtend adds one row to an existing group. Promote demotes the
// current preferred member and hands the flag, along with the group's
// canonical id, to the newcomer.
type GroupExtend struct {
	GroupID uuid.UUID
	RawID   uuid.UUID
	Promote bool
}

// GroupOp is one group write. Exactly one field is set. Ops are applied
// in emission order inside a single transaction.
type GroupOp struct {
	Create *GroupCreate
	Extend *GroupExtend
}

type pairOutcome int

const (
	pairSkipped pairOutcome = iota
	pairCreated
	pairExtended
)

// decideCreate builds a group-create op for the given members, or reports
// false if any member is already grouped. Preferred status goes to the
// best-ranked source; on a tie the earlier member keeps it.
func decideCreate(idx *GroupIndex, rules *Rules, rule MatchRule, confidence float64, members ...Candidate) (GroupOp, bool) {
	for _, m := range members {
		if idx.Grouped(m.ID) {
			return GroupOp{}, false
		}
	}

	preferred := 0
	for i := 1; i < len(members); i++ {
		if rules.Priority(members[i].Source) < rules.Priority(members[preferred].Source) {
			preferred = i
		}
	}

	create := &GroupCreate{
		ID:          uuid.New(),
		Rule:        rule,
		Confidence:  confidence,
		CanonicalID: members[preferred].ID,
	}
	for i, m := range members {
		create.Members = append(create.Members, NewMember{RawID: m.ID, Preferred: i == preferred})
		idx.Track(m.ID, create.ID, i == preferred)
	}
	idx.TrackPreferred(create.ID, members[preferred].ID, members[preferred].Source)

	return GroupOp{Create: create}, true
}

// decideExtend builds an op that adds newcomer to member's group, or
// reports false when the newcomer is already grouped or the member is
// not its group's preferred row. Only a preferred member can pull a
// newcomer into its group; a row demoted earlier in the batch no longer
// stands for one. The newcomer takes the preferred flag only when its
// source strictly outranks the group's current preferred source.
func decideExtend(idx *GroupIndex, rules *Rules, member, newcomer Candidate) (GroupOp, bool) {
	if idx.Grouped(newcomer.ID) {
		return GroupOp{}, false
	}
	m, ok := idx.members[member.ID]
	if !ok || !m.IsPreferred {
		return GroupOp{}, false
	}
	groupID := m.GroupID

	current := rules.DefaultPriority
	if source, ok := idx.PreferredSource(groupID); ok {
		current = rules.Priority(source)
	}
	promote := rules.Priority(newcomer.Source) < current

	if promote {
		idx.promote(groupID, newcomer.ID, newcomer.Source)
	} else {
		idx.Track(newcomer.ID, groupID, false)
	}

	return GroupOp{Extend: &GroupExtend{GroupID: groupID, RawID: newcomer.ID, Promote: promote}}, true
}

// decidePair resolves one matched pair against the index: create a group
// when both rows are free, extend when exactly one is already grouped,
// skip when both belong somewhere.
func decidePair(idx *GroupIndex, rules *Rules, a, b Candidate) (GroupOp, pairOutcome) {
	aGrouped := idx.Grouped(a.ID)
	bGrouped := idx.Grouped(b.ID)

	switch {
	case aGrouped && bGrouped:
		return GroupOp{}, pairSkipped
	case aGrouped:
		if op, ok := decideExtend(idx, rules, a, b); ok {
			return op, pairExtended
		}
		return GroupOp{}, pairSkipped
	case bGrouped:
		if op, ok := decideExtend(idx, rules, b, a); ok {
			return op, pairExtended
		}
		return GroupOp{}, pairSkipped
	default:
		op, ok := decideCreate(idx, rules, RuleCrossSourceDateAmount, crossSourceConfidence, a, b)
		if !ok {
			return GroupOp{}, pairSkipped
		}
		return op, pairCreated
	}
}
