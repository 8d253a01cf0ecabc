package ranking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neexbeast/mystery-trip/internal/destination"
	"github.com/neexbeast/mystery-trip/internal/flights"
)

// collectOffers prices every candidate from every origin in parallel and
// stores the merged, deduplicated, cheapest offers on each candidate.
// Lookup failures, panics and timeouts only drop the affected leg.
func (r *Ranker) collectOffers(ctx context.Context, cands []*Candidate, depart time.Time, travelers int) error {
	ret := depart.AddDate(0, 0, 1)

	var mu sync.Mutex
	raw := make(map[*Candidate][]destination.FlightOption, len(cands))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.LookupConcurrency)

	for _, c := range cands {
		for _, origin := range r.cfg.Origins {
			q := flights.Query{
				Origin:      origin,
				Destination: *c.Destination.AirportCode,
				Depart:      depart,
				Return:      ret,
				Travelers:   travelers,
			}

			g.Go(func() error {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("flight lookup panicked", "origin", q.Origin, "destination", q.Destination, "recover", rec)
					}
				}()

				offers := r.lookupLeg(gCtx, q)
				if len(offers) == 0 {
					return nil
				}

				mu.Lock()
				raw[c] = append(raw[c], offers...)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("collecting flight offers: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("collecting flight offers: %w", err)
	}

	for _, c := range cands {
		c.Offers = mergeOffers(raw[c], r.weights.OffersKept)
	}
	return nil
}

// lookupLeg queries one origin/destination pair with a bounded timeout.
// Errors and timeouts are logged and reported as no offers.
func (r *Ranker) lookupLeg(ctx context.Context, q flights.Query) []destination.FlightOption {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	offers, err := r.lookup.GetOffers(callCtx, q)
	if err != nil {
		r.log.Warn("flight lookup failed", "origin", q.Origin, "destination", q.Destination, "err", err)
		return nil
	}
	return offers
}
