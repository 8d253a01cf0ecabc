package ranking

// Weights are the tunable constants of the scoring rules and ordering.
type Weights struct {
	Baseline float64

	// Flight rules.
	PriceCeiling     float64 // upper bound of the price contribution
	PriceDivisor     float64 // price units per lost point
	NonStopBonus     float64
	ShortFlightMax   int // minutes
	ShortFlightBonus float64
	NoOfferPenalty   float64

	// Preference rules.
	HatedTeamPenalty    float64
	VisitedCityPenalty  float64
	PopularLeagueBonus  float64
	PopularCountryBonus float64

	PopularLeagues   []string
	PopularCountries []string

	// Candidates whose scores differ by less than this are ordered by price.
	TieThreshold float64

	// Number of suggestions kept per booking.
	Limit int

	// Number of cheapest distinct offers kept per candidate.
	OffersKept int
}

// DefaultWeights returns the production scoring constants.
func DefaultWeights() Weights {
	return Weights{
		Baseline:            50,
		PriceCeiling:        50,
		PriceDivisor:        10,
		NonStopBonus:        10,
		ShortFlightMax:      240,
		ShortFlightBonus:    5,
		NoOfferPenalty:      20,
		HatedTeamPenalty:    50,
		VisitedCityPenalty:  30,
		PopularLeagueBonus:  20,
		PopularCountryBonus: 10,
		PopularLeagues:      []string{"Premier League", "La Liga", "Bundesliga", "Serie A"},
		PopularCountries:    []string{"England", "Spain", "Germany", "Italy"},
		TieThreshold:        5,
		Limit:               10,
		OffersKept:          5,
	}
}
