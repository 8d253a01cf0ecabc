package ranking_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/mystery-trip/internal/destination"
	"github.com/neexbeast/mystery-trip/internal/flights"
	"github.com/neexbeast/mystery-trip/internal/ranking"
)

// ---- fakes ----

type fakeStore struct {
	mu           sync.Mutex
	bookings     map[string]destination.Booking
	destinations []destination.Destination
	suggestions  map[string][]destination.Suggestion
	replaceErr   error
	selectFn     func(bookingID, destinationID string, notes *string) (*destination.Booking, error)
	nextID       int
}

func newFakeStore(dests ...destination.Destination) *fakeStore {
	return &fakeStore{
		bookings: map[string]destination.Booking{
			"bk_1": {ID: "bk_1", PackageType: destination.PackageComfort, TravelDate: departDate(), Travelers: 2, Status: destination.StatusConfirmed},
		},
		destinations: dests,
		suggestions:  map[string][]destination.Suggestion{},
	}
}

func (f *fakeStore) GetBooking(_ context.Context, id string) (*destination.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, destination.ErrBookingNotFound
	}
	return &b, nil
}

func (f *fakeStore) ListActiveDestinations(_ context.Context, requireAirport bool) ([]destination.Destination, error) {
	var out []destination.Destination
	for _, d := range f.destinations {
		if !d.IsActive || (requireAirport && d.AirportCode == nil) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) ReplaceSuggestions(_ context.Context, bookingID string, s []destination.Suggestion) ([]destination.Suggestion, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make([]destination.Suggestion, len(s))
	copy(saved, s)
	for i := range saved {
		f.nextID++
		saved[i].ID = fmt.Sprintf("sg_%d", f.nextID)
	}
	f.suggestions[bookingID] = saved
	return saved, nil
}

func (f *fakeStore) ListSuggestions(_ context.Context, bookingID string) ([]destination.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suggestions[bookingID], nil
}

func (f *fakeStore) SelectDestination(_ context.Context, bookingID, destinationID string, notes *string) (*destination.Booking, error) {
	return f.selectFn(bookingID, destinationID, notes)
}

type fakeLookup struct {
	calls atomic.Int32
	fn    func(ctx context.Context, q flights.Query) ([]destination.FlightOption, error)
}

func (f *fakeLookup) GetOffers(ctx context.Context, q flights.Query) ([]destination.FlightOption, error) {
	f.calls.Add(1)
	return f.fn(ctx, q)
}

func failingLookup() *fakeLookup {
	return &fakeLookup{fn: func(context.Context, flights.Query) ([]destination.FlightOption, error) {
		return nil, errors.New("pricing API unavailable")
	}}
}

// ---- helpers ----

func departDate() time.Time {
	return time.Date(2026, time.November, 14, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func dest(id, name, city, country, league string, airport *string) destination.Destination {
	return destination.Destination{
		ID: id, Name: name, City: city, Country: country, League: league,
		AirportCode: airport, IsActive: true,
	}
}

func catalog() []destination.Destination {
	return []destination.Destination{
		dest("d_ars", "Arsenal", "London", "England", "Premier League", ptr("LHR")),
		dest("d_bay", "Bayern Munich", "Munich", "Germany", "Bundesliga", ptr("MUC")),
		dest("d_aja", "Ajax", "Amsterdam", "Netherlands", "Eredivisie", ptr("AMS")),
		dest("d_ben", "Benfica", "Lisbon", "Portugal", "Primeira Liga", ptr("LIS")),
		dest("d_cel", "Celtic", "Glasgow", "Scotland", "Scottish Premiership", nil),
		dest("d_nap", "Napoli", "Naples", "Italy", "Serie A", ptr("nap")),
	}
}

func newRanker(store ranking.Store, lookup flights.Lookup) *ranking.Ranker {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := ranking.Config{Origins: []string{"MAD", "BCN"}, LookupTimeout: 200 * time.Millisecond, LookupConcurrency: 4}
	return ranking.NewRanker(store, lookup, ranking.DefaultWeights(), cfg, log)
}

func request(pkg destination.PackageType, prefs destination.Preferences) ranking.Request {
	return ranking.Request{BookingID: "bk_1", Package: pkg, DepartDate: departDate(), Travelers: 2, Preferences: prefs}
}

func byDestination(s []destination.Suggestion) map[string]destination.Suggestion {
	m := make(map[string]destination.Suggestion, len(s))
	for _, v := range s {
		m[v.DestinationID] = v
	}
	return m
}

// ---- basic package ----

func TestSuggest_Basic_NoFlightsAndLeagueBonus(t *testing.T) {
	store := newFakeStore(catalog()...)
	lookup := failingLookup()
	r := newRanker(store, lookup)

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageBasic, destination.Preferences{}))
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Zero(t, lookup.calls.Load(), "basic package must not price flights")

	for _, s := range got {
		assert.Nil(t, s.FlightPrice)
		assert.Empty(t, s.FlightOptions)
	}

	scores := byDestination(got)
	assert.Equal(t, 80.0, scores["d_ars"].Score)
	assert.Equal(t, 80.0, scores["d_bay"].Score)
	assert.Equal(t, 80.0, scores["d_nap"].Score)
	assert.Equal(t, 50.0, scores["d_aja"].Score)
	assert.Equal(t, 50.0, scores["d_cel"].Score)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
		assert.Equal(t, i+1, got[i].Rank)
	}
	assert.Equal(t, "score=80.00 rank=1", got[0].AdminNotes)
}

func TestSuggest_HatedTeamCostsFiftyPoints(t *testing.T) {
	r := newRanker(newFakeStore(catalog()...), failingLookup())

	plain, err := r.SuggestDestinations(context.Background(), request(destination.PackageBasic, destination.Preferences{}))
	require.NoError(t, err)
	hated, err := r.SuggestDestinations(context.Background(), request(destination.PackageBasic,
		destination.Preferences{HatedTeams: []string{" arsenal "}}))
	require.NoError(t, err)

	before := byDestination(plain)["d_ars"]
	after := byDestination(hated)["d_ars"]
	assert.GreaterOrEqual(t, before.Score-after.Score, 50.0)
	assert.Contains(t, after.Reason, "Customer dislikes Arsenal")
	assert.Equal(t, before.Score, byDestination(hated)["d_bay"].Score, "other destinations are unaffected")
}

func TestSuggest_VisitedCityPenalty(t *testing.T) {
	r := newRanker(newFakeStore(catalog()...), failingLookup())

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageBasic,
		destination.Preferences{VisitedCities: []string{"Munich"}}))
	require.NoError(t, err)

	bayern := byDestination(got)["d_bay"]
	assert.Equal(t, 50.0, bayern.Score)
	assert.Contains(t, bayern.Reason, "already visited Munich")
}

// ---- flight packages ----

func TestSuggest_Comfort_ScoresCheapNonStopFlight(t *testing.T) {
	lookup := &fakeLookup{fn: func(_ context.Context, q flights.Query) ([]destination.FlightOption, error) {
		if q.Destination != "AMS" || q.Origin != "MAD" {
			return nil, nil
		}
		return []destination.FlightOption{{
			Price: 120, Currency: "EUR", Airline: "KL", Stops: ptr(0), DurationMinutes: ptr(150), OriginAirport: "MAD",
		}}, nil
	}}
	store := newFakeStore(catalog()...)
	r := newRanker(store, lookup)

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)
	require.Len(t, got, 4, "destinations without a valid airport code are skipped")

	ajax := byDestination(got)["d_aja"]
	assert.Equal(t, 103.0, ajax.Score)
	require.NotNil(t, ajax.FlightPrice)
	assert.Equal(t, 120.0, *ajax.FlightPrice)
	assert.Equal(t, "EUR", *ajax.Currency)
	assert.Contains(t, ajax.Reason, "Flights from 120.00 EUR")
	assert.Contains(t, ajax.Reason, "non-stop")
	assert.Contains(t, ajax.Reason, "under 4h")
	assert.Equal(t, "d_aja", got[0].DestinationID)

	arsenal := byDestination(got)["d_ars"]
	assert.Equal(t, 60.0, arsenal.Score)
	assert.Nil(t, arsenal.FlightPrice)

	assert.Equal(t, int32(8), lookup.calls.Load(), "four candidates priced from two origins")
}

func TestSuggest_TierIsCaseInsensitive(t *testing.T) {
	for _, tier := range []destination.PackageType{"Comfort", " PREMIUM "} {
		t.Run(string(tier), func(t *testing.T) {
			lookup := &fakeLookup{fn: func(_ context.Context, q flights.Query) ([]destination.FlightOption, error) {
				return []destination.FlightOption{{Price: 300, Currency: "EUR", Airline: "IB", OriginAirport: q.Origin}}, nil
			}}
			r := newRanker(newFakeStore(catalog()...), lookup)

			got, err := r.SuggestDestinations(context.Background(), request(tier, destination.Preferences{}))
			require.NoError(t, err)
			require.Len(t, got, 4, "flight mode skips destinations without a valid airport")
			assert.Equal(t, int32(8), lookup.calls.Load())
			for _, s := range got {
				require.NotNil(t, s.FlightPrice, s.DestinationID)
				assert.Equal(t, 300.0, *s.FlightPrice)
				assert.NotEmpty(t, s.FlightOptions)
			}
		})
	}
}

func TestSuggest_Premium_ReturnDateIsNextDay(t *testing.T) {
	var mu sync.Mutex
	var seen []flights.Query
	lookup := &fakeLookup{fn: func(_ context.Context, q flights.Query) ([]destination.FlightOption, error) {
		mu.Lock()
		seen = append(seen, q)
		mu.Unlock()
		return nil, nil
	}}
	r := newRanker(newFakeStore(catalog()...), lookup)

	_, err := r.SuggestDestinations(context.Background(), request(destination.PackagePremium, destination.Preferences{}))
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	for _, q := range seen {
		assert.Equal(t, departDate(), q.Depart)
		assert.Equal(t, departDate().AddDate(0, 0, 1), q.Return)
		assert.Equal(t, 2, q.Travelers)
	}
}

func TestSuggest_MergesOffersAcrossOrigins(t *testing.T) {
	dep := time.Date(2026, time.November, 14, 7, 30, 0, 0, time.UTC)
	lookup := &fakeLookup{fn: func(_ context.Context, q flights.Query) ([]destination.FlightOption, error) {
		if q.Destination != "LHR" {
			return nil, nil
		}
		if q.Origin == "MAD" {
			return []destination.FlightOption{
				{Price: 100, Currency: "EUR", Airline: "IB", DepartureAt: &dep, OriginAirport: "MAD"},
				{Price: 150, Currency: "EUR", Airline: "VY", OriginAirport: "MAD"},
			}, nil
		}
		return []destination.FlightOption{
			{Price: 100, Currency: "EUR", Airline: "IB", DepartureAt: &dep, OriginAirport: "BCN"},
			{Price: 90, Currency: "EUR", Airline: "VY", OriginAirport: "BCN"},
			{Price: 200, Currency: "EUR", Airline: "BA", OriginAirport: "BCN"},
			{Price: 210, Currency: "EUR", Airline: "BA", OriginAirport: "BCN"},
			{Price: 220, Currency: "EUR", Airline: "BA", OriginAirport: "BCN"},
		}, nil
	}}
	r := newRanker(newFakeStore(catalog()...), lookup)

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)

	arsenal := byDestination(got)["d_ars"]
	require.Len(t, arsenal.FlightOptions, 5)
	prices := make([]float64, 0, 5)
	for _, o := range arsenal.FlightOptions {
		prices = append(prices, o.Price)
	}
	assert.Equal(t, []float64{90, 100, 150, 200, 210}, prices)
	assert.Equal(t, 90.0, *arsenal.FlightPrice)
}

func TestSuggest_AllLookupsFail_StillRanksTen(t *testing.T) {
	var dests []destination.Destination
	for i := 0; i < 12; i++ {
		code := fmt.Sprintf("AA%c", 'A'+i)
		dests = append(dests, dest(fmt.Sprintf("d_%02d", i), "Club "+code, "City "+code, "Nowhere", "Local League", ptr(code)))
	}
	r := newRanker(newFakeStore(dests...), failingLookup())

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)
	require.Len(t, got, 10)
	for _, s := range got {
		assert.Equal(t, 30.0, s.Score)
		assert.Nil(t, s.FlightPrice)
		assert.Contains(t, s.Reason, "No live flight pricing available")
	}
}

func TestSuggest_SlowLookupTimesOut(t *testing.T) {
	lookup := &fakeLookup{fn: func(ctx context.Context, _ flights.Query) ([]destination.FlightOption, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := newRanker(newFakeStore(catalog()...), lookup)

	start := time.Now()
	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSuggest_LookupPanicIsContained(t *testing.T) {
	lookup := &fakeLookup{fn: func(_ context.Context, q flights.Query) ([]destination.FlightOption, error) {
		if q.Destination == "MUC" {
			panic("boom")
		}
		return nil, nil
	}}
	r := newRanker(newFakeStore(catalog()...), lookup)

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestSuggest_FlightOrderingTieBreak(t *testing.T) {
	// Bayern 110, Arsenal 95, Ajax 92, Benfica 50: Ajax is within 5 of Arsenal and cheaper.
	prices := map[string]float64{"LHR": 350, "MUC": 200, "AMS": 80, "LIS": 500}
	lookup := &fakeLookup{fn: func(_ context.Context, q flights.Query) ([]destination.FlightOption, error) {
		return []destination.FlightOption{{Price: prices[q.Destination], Currency: "EUR", Airline: "XX", OriginAirport: q.Origin}}, nil
	}}
	r := newRanker(newFakeStore(catalog()...), lookup)

	got, err := r.SuggestDestinations(context.Background(), request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)
	require.Len(t, got, 4)

	order := make([]string, 0, len(got))
	for _, s := range got {
		order = append(order, s.DestinationID)
	}
	assert.Equal(t, []string{"d_bay", "d_aja", "d_ars", "d_ben"}, order)

	for i := 1; i < len(got); i++ {
		a, b := got[i-1], got[i]
		if a.Score-b.Score >= 5 || b.Score-a.Score >= 5 {
			assert.Greater(t, a.Score, b.Score, "far-apart scores stay descending")
			continue
		}
		assert.LessOrEqual(t, *a.FlightPrice, *b.FlightPrice, "near-equal scores prefer the cheaper flight")
	}
}

// ---- persistence ----

func TestSuggest_RerunReplacesPreviousSet(t *testing.T) {
	store := newFakeStore(catalog()...)
	r := newRanker(store, failingLookup())
	ctx := context.Background()

	_, err := r.SuggestDestinations(ctx, request(destination.PackageBasic, destination.Preferences{}))
	require.NoError(t, err)
	second, err := r.SuggestDestinations(ctx, request(destination.PackageComfort, destination.Preferences{}))
	require.NoError(t, err)

	stored, err := r.GetBookingSuggestions(ctx, "bk_1")
	require.NoError(t, err)
	require.Len(t, stored, len(second))

	seen := map[string]bool{}
	for _, s := range stored {
		assert.False(t, seen[s.DestinationID], "duplicate suggestion for %s", s.DestinationID)
		seen[s.DestinationID] = true
	}
	assert.False(t, seen["d_cel"], "basic-only candidate must not survive the comfort re-run")
}

func TestGetBookingSuggestions_UnknownBookingIsNotFound(t *testing.T) {
	r := newRanker(newFakeStore(catalog()...), failingLookup())

	_, err := r.GetBookingSuggestions(context.Background(), "missing")
	require.ErrorIs(t, err, destination.ErrBookingNotFound)

	got, err := r.GetBookingSuggestions(context.Background(), "bk_1")
	require.NoError(t, err, "a known booking without suggestions is not an error")
	assert.Empty(t, got)
}

func TestSuggest_PersistenceFailureIsSurfaced(t *testing.T) {
	store := newFakeStore(catalog()...)
	store.replaceErr = errors.New("tx aborted")
	r := newRanker(store, failingLookup())

	_, err := r.SuggestDestinations(context.Background(), request(destination.PackageBasic, destination.Preferences{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving suggestions")
}

// ---- errors ----

func TestSuggest_UnknownBooking(t *testing.T) {
	r := newRanker(newFakeStore(catalog()...), failingLookup())
	req := request(destination.PackageBasic, destination.Preferences{})
	req.BookingID = "missing"

	_, err := r.SuggestDestinations(context.Background(), req)
	require.ErrorIs(t, err, destination.ErrBookingNotFound)
}

func TestSuggest_CancelledBooking(t *testing.T) {
	store := newFakeStore(catalog()...)
	store.bookings["bk_1"] = destination.Booking{ID: "bk_1", Status: destination.StatusCancelled}
	r := newRanker(store, failingLookup())

	_, err := r.SuggestDestinations(context.Background(), request(destination.PackageBasic, destination.Preferences{}))
	require.ErrorIs(t, err, destination.ErrBookingNotFound)
}

func TestSuggest_InvalidInput(t *testing.T) {
	r := newRanker(newFakeStore(catalog()...), failingLookup())

	req := request("platinum", destination.Preferences{})
	_, err := r.SuggestDestinations(context.Background(), req)
	require.ErrorIs(t, err, destination.ErrInvalidPackage)

	req = request(destination.PackageBasic, destination.Preferences{})
	req.Travelers = 0
	_, err = r.SuggestDestinations(context.Background(), req)
	require.ErrorIs(t, err, destination.ErrInvalidRequest)
}

func TestAutoSuggest_UsesBookingRecord(t *testing.T) {
	store := newFakeStore(catalog()...)
	store.bookings["bk_1"] = destination.Booking{
		ID: "bk_1", PackageType: destination.PackageBasic, TravelDate: departDate(), Travelers: 3,
		Preferences: destination.Preferences{HatedTeams: []string{"Napoli"}}, Status: destination.StatusPending,
	}
	lookup := failingLookup()
	r := newRanker(store, lookup)

	got, err := r.AutoSuggest(context.Background(), "bk_1")
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Zero(t, lookup.calls.Load())
	assert.Equal(t, 30.0, byDestination(got)["d_nap"].Score)
}

func TestSelectDestination_PassesThroughAndWraps(t *testing.T) {
	store := newFakeStore(catalog()...)
	store.selectFn = func(bookingID, destinationID string, notes *string) (*destination.Booking, error) {
		if destinationID != "d_ars" {
			return nil, destination.ErrSuggestionNotFound
		}
		return &destination.Booking{ID: bookingID, Destination: ptr("Arsenal (London, England)"), AdminNotes: notes}, nil
	}
	r := newRanker(store, failingLookup())

	b, err := r.SelectDestinationForBooking(context.Background(), "bk_1", "d_ars", ptr("confirmed by phone"))
	require.NoError(t, err)
	assert.Equal(t, "Arsenal (London, England)", *b.Destination)
	assert.Equal(t, "confirmed by phone", *b.AdminNotes)

	_, err = r.SelectDestinationForBooking(context.Background(), "bk_1", "d_bay", nil)
	require.ErrorIs(t, err, destination.ErrSuggestionNotFound)

	_, err = r.SelectDestinationForBooking(context.Background(), "bk_1", "", nil)
	require.ErrorIs(t, err, destination.ErrInvalidRequest)
}
