package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neexbeast/mystery-trip/internal/destination"
	"github.com/neexbeast/mystery-trip/internal/flights"
)

// Store is the persistence the Ranker needs. *storage.Repository satisfies it.
type Store interface {
	GetBooking(ctx context.Context, bookingID string) (*destination.Booking, error)
	ListActiveDestinations(ctx context.Context, requireAirport bool) ([]destination.Destination, error)
	ReplaceSuggestions(ctx context.Context, bookingID string, suggestions []destination.Suggestion) ([]destination.Suggestion, error)
	ListSuggestions(ctx context.Context, bookingID string) ([]destination.Suggestion, error)
	SelectDestination(ctx context.Context, bookingID, destinationID string, adminNotes *string) (*destination.Booking, error)
}

// Config controls how flight prices are gathered.
type Config struct {
	Origins           []string
	LookupTimeout     time.Duration
	LookupConcurrency int
}

// DefaultConfig prices from Madrid and Barcelona with an 8 second per-call timeout.
func DefaultConfig() Config {
	return Config{
		Origins:           []string{"MAD", "BCN"},
		LookupTimeout:     8 * time.Second,
		LookupConcurrency: 4,
	}
}

// Request is the input of a ranking run.
type Request struct {
	BookingID   string
	Package     destination.PackageType
	DepartDate  time.Time
	Travelers   int
	Preferences destination.Preferences
}

// Ranker scores the destination catalog for a booking and persists the result.
type Ranker struct {
	store   Store
	lookup  flights.Lookup
	scorer  *Scorer
	weights Weights
	cfg     Config
	log     *slog.Logger
}

// NewRanker constructs a Ranker. Zero-valued config fields fall back to DefaultConfig.
func NewRanker(store Store, lookup flights.Lookup, weights Weights, cfg Config, log *slog.Logger) *Ranker {
	def := DefaultConfig()
	if len(cfg.Origins) == 0 {
		cfg.Origins = def.Origins
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = def.LookupConcurrency
	}

	return &Ranker{
		store:   store,
		lookup:  lookup,
		scorer:  NewScorer(weights),
		weights: weights,
		cfg:     cfg,
		log:     log,
	}
}

// SuggestDestinations ranks the active catalog for req and replaces the
// booking's persisted suggestions with the top results.
func (r *Ranker) SuggestDestinations(ctx context.Context, req Request) ([]destination.Suggestion, error) {
	if req.BookingID == "" || req.DepartDate.IsZero() || req.Travelers < 1 {
		return nil, fmt.Errorf("%w: booking id, depart date and at least one traveler are required", destination.ErrInvalidRequest)
	}
	pkg, err := destination.ParsePackageType(string(req.Package))
	if err != nil {
		return nil, err
	}
	req.Package = pkg

	booking, err := r.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("loading booking %s: %w", req.BookingID, err)
	}
	if !booking.Active() {
		return nil, fmt.Errorf("booking %s is %s: %w", req.BookingID, booking.Status, destination.ErrBookingNotFound)
	}

	withFlight := pkg.IncludesFlight()

	dests, err := r.store.ListActiveDestinations(ctx, withFlight)
	if err != nil {
		return nil, fmt.Errorf("loading destinations: %w", err)
	}

	cands := make([]*Candidate, 0, len(dests))
	for _, d := range dests {
		if withFlight && (d.AirportCode == nil || !destination.ValidAirportCode(*d.AirportCode)) {
			continue
		}
		cands = append(cands, &Candidate{Destination: d})
	}

	if withFlight {
		if err := r.collectOffers(ctx, cands, req.DepartDate, req.Travelers); err != nil {
			return nil, err
		}
	}

	for _, c := range cands {
		r.scorer.Score(c, req.Preferences, withFlight)
	}

	if withFlight {
		orderWithPriceTieBreak(cands, r.weights.TieThreshold)
	} else {
		orderByScore(cands)
	}

	if r.weights.Limit > 0 && len(cands) > r.weights.Limit {
		cands = cands[:r.weights.Limit]
	}

	suggestions := make([]destination.Suggestion, 0, len(cands))
	for i, c := range cands {
		suggestions = append(suggestions, toSuggestion(req.BookingID, c, i+1, withFlight))
	}

	saved, err := r.store.ReplaceSuggestions(ctx, req.BookingID, suggestions)
	if err != nil {
		return nil, fmt.Errorf("saving suggestions for booking %s: %w", req.BookingID, err)
	}

	r.log.Info("destinations suggested",
		"booking_id", req.BookingID,
		"package", pkg,
		"candidates", len(dests),
		"saved", len(saved),
	)
	return saved, nil
}

// AutoSuggest ranks destinations using the tier, date, party size and
// preferences stored on the booking itself.
func (r *Ranker) AutoSuggest(ctx context.Context, bookingID string) ([]destination.Suggestion, error) {
	booking, err := r.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("loading booking %s: %w", bookingID, err)
	}

	return r.SuggestDestinations(ctx, Request{
		BookingID:   booking.ID,
		Package:     booking.PackageType,
		DepartDate:  booking.TravelDate,
		Travelers:   booking.Travelers,
		Preferences: booking.Preferences,
	})
}

// GetBookingSuggestions returns the persisted ranking in rank order. An
// empty result for a booking that does not exist is a not-found error.
func (r *Ranker) GetBookingSuggestions(ctx context.Context, bookingID string) ([]destination.Suggestion, error) {
	suggestions, err := r.store.ListSuggestions(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("listing suggestions for booking %s: %w", bookingID, err)
	}
	if len(suggestions) == 0 {
		if _, err := r.store.GetBooking(ctx, bookingID); err != nil {
			return nil, fmt.Errorf("loading booking %s: %w", bookingID, err)
		}
	}
	return suggestions, nil
}

// SelectDestinationForBooking reveals destinationID on the booking. Only a
// destination that was suggested for the booking can be selected, and a
// booking that already has a different selection is rejected.
func (r *Ranker) SelectDestinationForBooking(ctx context.Context, bookingID, destinationID string, adminNotes *string) (*destination.Booking, error) {
	if bookingID == "" || destinationID == "" {
		return nil, fmt.Errorf("%w: booking id and destination id are required", destination.ErrInvalidRequest)
	}

	booking, err := r.store.SelectDestination(ctx, bookingID, destinationID, adminNotes)
	if err != nil {
		if errors.Is(err, destination.ErrSuggestionNotFound) || errors.Is(err, destination.ErrAlreadySelected) {
			r.log.Warn("destination selection rejected", "booking_id", bookingID, "destination_id", destinationID, "err", err)
		}
		return nil, fmt.Errorf("selecting destination %s for booking %s: %w", destinationID, bookingID, err)
	}

	r.log.Info("destination selected", "booking_id", bookingID, "destination_id", destinationID)
	return booking, nil
}

func toSuggestion(bookingID string, c *Candidate, rank int, withFlight bool) destination.Suggestion {
	s := destination.Suggestion{
		BookingID:     bookingID,
		DestinationID: c.Destination.ID,
		Destination:   c.Destination,
		Reason:        c.Reason(),
		AdminNotes:    fmt.Sprintf("score=%.2f rank=%d", c.Score, rank),
		Score:         c.Score,
		Rank:          rank,
		FlightOptions: []destination.FlightOption{},
	}

	if withFlight {
		if o := c.Cheapest(); o != nil {
			price, cur := o.Price, o.Currency
			s.FlightPrice = &price
			s.Currency = &cur
		}
		s.FlightOptions = append(s.FlightOptions, c.Offers...)
	}

	return s
}
