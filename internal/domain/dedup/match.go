package dedup

import (
	"bytes"
	"sort"
	"time"
)

// bucketKey identifies a run of same-day, same-amount rows from one source.
type bucketKey struct {
	day      int
	amount   string
	currency string
}

// dayNumber converts a timestamp to a whole day count so date distance is
// plain integer subtraction.
func dayNumber(t time.Time) int {
	return int(t.UTC().Unix() / 86400)
}

func sortByID(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		return bytes.Compare(cands[i].ID[:], cands[j].ID[:]) < 0
	})
}

// matchPositional pairs rows from sourceA with rows from sourceB that
// share amount and currency and post within toleranceDays of each other.
// Rows inside a bucket are ordered by id and the k-th row of one bucket
// pairs with the k-th row of the other, so two same-day purchases of the
// same amount yield two pairs instead of a crossed match. With a non-zero
// tolerance a row can appear in pairs against several buckets; the
// membership index resolves those when the pairs are applied.
func matchPositional(cands []Candidate, sourceA, sourceB string, toleranceDays int) []MatchPair {
	byA := make(map[bucketKey][]Candidate)
	byB := make(map[bucketKey][]Candidate)
	for _, c := range cands {
		key := bucketKey{day: dayNumber(c.PostedAt), amount: c.Amount.StringFixed(4), currency: c.Currency}
		switch c.Source {
		case sourceA:
			byA[key] = append(byA[key], c)
		case sourceB:
			byB[key] = append(byB[key], c)
		}
	}
	for _, bucket := range byA {
		sortByID(bucket)
	}
	for _, bucket := range byB {
		sortByID(bucket)
	}

	var pairs []MatchPair
	for keyA, bucketA := range byA {
		for keyB, bucketB := range byB {
			if keyA.amount != keyB.amount || keyA.currency != keyB.currency {
				continue
			}
			if delta := keyA.day - keyB.day; delta > toleranceDays || delta < -toleranceDays {
				continue
			}
			n := len(bucketA)
			if len(bucketB) < n {
				n = len(bucketB)
			}
			for k := 0; k < n; k++ {
				pairs = append(pairs, MatchPair{A: bucketA[k], B: bucketB[k]})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		di, dj := dayNumber(pairs[i].A.PostedAt), dayNumber(pairs[j].A.PostedAt)
		if di != dj {
			return di < dj
		}
		if cmp := pairs[i].A.Amount.Cmp(pairs[j].A.Amount); cmp != 0 {
			return cmp < 0
		}
		if cmp := bytes.Compare(pairs[i].A.ID[:], pairs[j].A.ID[:]); cmp != 0 {
			return cmp < 0
		}
		return bytes.Compare(pairs[i].B.ID[:], pairs[j].B.ID[:]) < 0
	})
	return pairs
}
