package ranking

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/neexbeast/mystery-trip/internal/destination"
)

// orderByScore sorts candidates by descending score. Equal scores keep their input order.
func orderByScore(cands []*Candidate) {
	slices.SortStableFunc(cands, func(a, b *Candidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

// orderWithPriceTieBreak sorts by descending score, then swaps adjacent
// candidates whose scores are within threshold so the cheaper one comes first.
// Pairs further apart than threshold never change relative order, and every
// swap removes one price inversion, so the loop terminates.
func orderWithPriceTieBreak(cands []*Candidate, threshold float64) {
	orderByScore(cands)

	for swapped := true; swapped; {
		swapped = false
		for i := 0; i+1 < len(cands); i++ {
			a, b := cands[i], cands[i+1]
			if math.Abs(a.Score-b.Score) < threshold && b.cheapestPrice() < a.cheapestPrice() {
				cands[i], cands[i+1] = b, a
				swapped = true
			}
		}
	}
}

type offerKey struct {
	price     float64
	airline   string
	departure time.Time
}

// mergeOffers deduplicates offers by price, airline and departure time, sorts
// them ascending by price and keeps at most keep of them.
func mergeOffers(offers []destination.FlightOption, keep int) []destination.FlightOption {
	seen := make(map[offerKey]struct{}, len(offers))
	out := make([]destination.FlightOption, 0, len(offers))

	for _, o := range offers {
		k := offerKey{price: o.Price, airline: o.Airline}
		if o.DepartureAt != nil {
			k.departure = o.DepartureAt.UTC()
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o)
	}

	slices.SortStableFunc(out, func(a, b destination.FlightOption) int {
		return cmp.Compare(a.Price, b.Price)
	})

	if keep >= 0 && len(out) > keep {
		out = out[:keep]
	}
	return out
}
