package dedup

import (
	"bytes"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func mkMatchCandidate(t *testing.T, source, day, amount string) Candidate {
	t.Helper()
	postedAt, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatalf("bad day %q: %v", day, err)
	}
	return Candidate{
		ID:       uuid.New(),
		Source:   source,
		PostedAt: postedAt,
		Amount:   decimal.RequireFromString(amount),
		Currency: "GBP",
	}
}

func TestMatchPositional_PairsSameDayAndAmount(t *testing.T) {
	a := mkMatchCandidate(t, "bank_api", "2024-03-10", "-42.50")
	b := mkMatchCandidate(t, "bank_csv", "2024-03-10", "-42.50")

	pairs := matchPositional([]Candidate{a, b}, "bank_api", "bank_csv", 0)
	if len(pairs) != 1 {
		t.Fatalf("len(pairs) = %d, want 1", len(pairs))
	}
	if pairs[0].A.ID != a.ID || pairs[0].B.ID != b.ID {
		t.Errorf("pair = (%v, %v), want (%v, %v)", pairs[0].A.ID, pairs[0].B.ID, a.ID, b.ID)
	}
}

func TestMatchPositional_ZipsRepeatedCharges(t *testing.T) {
	var as, bs []Candidate
	for i := 0; i < 3; i++ {
		as = append(as, mkMatchCandidate(t, "bank_api", "2024-03-10", "-3.20"))
		bs = append(bs, mkMatchCandidate(t, "bank_csv", "2024-03-10", "-3.20"))
	}
	all := append(append([]Candidate{}, as...), bs...)

	pairs := matchPositional(all, "bank_api", "bank_csv", 0)
	if len(pairs) != 3 {
		t.Fatalf("len(pairs) = %d, want 3", len(pairs))
	}

	sort.Slice(as, func(i, j int) bool { return bytes.Compare(as[i].ID[:], as[j].ID[:]) < 0 })
	sort.Slice(bs, func(i, j int) bool { return bytes.Compare(bs[i].ID[:], bs[j].ID[:]) < 0 })
	for k, pair := range pairs {
		if pair.A.ID != as[k].ID {
			t.Errorf("pair %d A = %v, want %v", k, pair.A.ID, as[k].ID)
		}
		if pair.B.ID != bs[k].ID {
			t.Errorf("pair %d B = %v, want %v", k, pair.B.ID, bs[k].ID)
		}
	}
}

func TestMatchPositional_UnevenBucketsPairShorterSide(t *testing.T) {
	cands := []Candidate{
		mkMatchCandidate(t, "bank_api", "2024-03-10", "-3.20"),
		mkMatchCandidate(t, "bank_api", "2024-03-10", "-3.20"),
		mkMatchCandidate(t, "bank_csv", "2024-03-10", "-3.20"),
		mkMatchCandidate(t, "bank_csv", "2024-03-10", "-3.20"),
		mkMatchCandidate(t, "bank_csv", "2024-03-10", "-3.20"),
	}

	pairs := matchPositional(cands, "bank_api", "bank_csv", 0)
	if len(pairs) != 2 {
		t.Errorf("len(pairs) = %d, want 2", len(pairs))
	}
}

func TestMatchPositional_NormalizesAmountScale(t *testing.T) {
	a := mkMatchCandidate(t, "bank_api", "2024-03-10", "12.3")
	b := mkMatchCandidate(t, "bank_csv", "2024-03-10", "12.30")

	pairs := matchPositional([]Candidate{a, b}, "bank_api", "bank_csv", 0)
	if len(pairs) != 1 {
		t.Errorf("len(pairs) = %d, want 1 (12.3 and 12.30 are the same amount)", len(pairs))
	}
}

func TestMatchPositional_DateTolerance(t *testing.T) {
	a := mkMatchCandidate(t, "bank_api", "2024-03-10", "-42.50")
	b := mkMatchCandidate(t, "bank_csv", "2024-03-11", "-42.50")

	if pairs := matchPositional([]Candidate{a, b}, "bank_api", "bank_csv", 0); len(pairs) != 0 {
		t.Errorf("tolerance 0: len(pairs) = %d, want 0", len(pairs))
	}
	if pairs := matchPositional([]Candidate{a, b}, "bank_api", "bank_csv", 1); len(pairs) != 1 {
		t.Errorf("tolerance 1: len(pairs) = %d, want 1", len(pairs))
	}
}

func TestMatchPositional_CurrencyMustMatch(t *testing.T) {
	a := mkMatchCandidate(t, "bank_api", "2024-03-10", "-42.50")
	b := mkMatchCandidate(t, "bank_csv", "2024-03-10", "-42.50")
	b.Currency = "USD"

	if pairs := matchPositional([]Candidate{a, b}, "bank_api", "bank_csv", 0); len(pairs) != 0 {
		t.Errorf("len(pairs) = %d, want 0 for mismatched currency", len(pairs))
	}
}

func TestMatchPositional_IgnoresOtherSources(t *testing.T) {
	a := mkMatchCandidate(t, "bank_api", "2024-03-10", "-42.50")
	other := mkMatchCandidate(t, "card_api", "2024-03-10", "-42.50")

	if pairs := matchPositional([]Candidate{a, other}, "bank_api", "bank_csv", 0); len(pairs) != 0 {
		t.Errorf("len(pairs) = %d, want 0 when only unrelated sources overlap", len(pairs))
	}
}

func TestMatchPositional_OrdersByDayThenAmount(t *testing.T) {
	cands := []Candidate{
		mkMatchCandidate(t, "bank_api", "2024-03-11", "5.00"),
		mkMatchCandidate(t, "bank_csv", "2024-03-11", "5.00"),
		mkMatchCandidate(t, "bank_api", "2024-03-10", "9.00"),
		mkMatchCandidate(t, "bank_csv", "2024-03-10", "9.00"),
		mkMatchCandidate(t, "bank_api", "2024-03-10", "2.00"),
		mkMatchCandidate(t, "bank_csv", "2024-03-10", "2.00"),
	}

	pairs := matchPositional(cands, "bank_api", "bank_csv", 0)
	if len(pairs) != 3 {
		t.Fatalf("len(pairs) = %d, want 3", len(pairs))
	}
	want := []string{"2", "9", "5"}
	for i, amount := range want {
		if pairs[i].A.Amount.String() != amount {
			t.Errorf("pair %d amount = %s, want %s", i, pairs[i].A.Amount.String(), amount)
		}
	}
}
