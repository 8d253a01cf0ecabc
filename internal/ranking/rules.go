package ranking

import (
	"fmt"
	"math"
	"strings"

	"github.com/neexbeast/mystery-trip/internal/destination"
)

// Candidate is a destination under consideration for one ranking run.
type Candidate struct {
	Destination destination.Destination
	Offers      []destination.FlightOption // ascending by price
	Score       float64
	Reasons     []string
}

// Cheapest returns the cheapest offer, or nil when there is none.
func (c *Candidate) Cheapest() *destination.FlightOption {
	if len(c.Offers) == 0 {
		return nil
	}
	return &c.Offers[0]
}

// cheapestPrice is +Inf when the candidate has no offers.
func (c *Candidate) cheapestPrice() float64 {
	if o := c.Cheapest(); o != nil {
		return o.Price
	}
	return math.Inf(1)
}

// Reason joins the reason fragments collected while scoring.
func (c *Candidate) Reason() string {
	if len(c.Reasons) == 0 {
		return "No preference adjustments"
	}
	return strings.Join(c.Reasons, "; ")
}

// Rule is a single named scoring adjustment. A nil Reason adds points without
// a reason fragment of its own.
type Rule struct {
	Name   string
	Match  func(c *Candidate, prefs destination.Preferences) bool
	Points func(c *Candidate) float64
	Reason func(c *Candidate) string
}

// FlightRules returns the rules applied only to flight-inclusive packages, in order.
func FlightRules(w Weights) []Rule {
	hasOffer := func(c *Candidate, _ destination.Preferences) bool { return c.Cheapest() != nil }
	nonStop := func(o *destination.FlightOption) bool { return o != nil && o.NonStop() }
	short := func(o *destination.FlightOption) bool {
		return o != nil && o.DurationMinutes != nil && *o.DurationMinutes < w.ShortFlightMax
	}
	shortLabel := "under " + formatMinutes(w.ShortFlightMax)

	return []Rule{
		{
			Name:  "flight-price",
			Match: hasOffer,
			Points: func(c *Candidate) float64 {
				return math.Max(0, w.PriceCeiling-c.Cheapest().Price/w.PriceDivisor)
			},
			// The non-stop and short-flight qualifiers describe the same offer,
			// so they are reported here rather than as separate fragments.
			Reason: func(c *Candidate) string {
				o := c.Cheapest()
				var quals []string
				if nonStop(o) {
					quals = append(quals, "non-stop")
				}
				if short(o) {
					quals = append(quals, shortLabel)
				}
				s := fmt.Sprintf("Flights from %.2f %s", o.Price, o.Currency)
				if len(quals) > 0 {
					s += " (" + strings.Join(quals, ", ") + ")"
				}
				return s
			},
		},
		{
			Name: "non-stop",
			Match: func(c *Candidate, _ destination.Preferences) bool {
				return nonStop(c.Cheapest())
			},
			Points: constant(w.NonStopBonus),
		},
		{
			Name: "short-flight",
			Match: func(c *Candidate, _ destination.Preferences) bool {
				return short(c.Cheapest())
			},
			Points: constant(w.ShortFlightBonus),
		},
		{
			Name: "no-live-pricing",
			Match: func(c *Candidate, _ destination.Preferences) bool {
				return c.Cheapest() == nil
			},
			Points: constant(-w.NoOfferPenalty),
			Reason: text("No live flight pricing available"),
		},
	}
}

// PreferenceRules returns the rules applied to every package, in order.
func PreferenceRules(w Weights) []Rule {
	return []Rule{
		{
			Name: "hated-team",
			Match: func(c *Candidate, p destination.Preferences) bool {
				return containsFold(p.HatedTeams, c.Destination.Name)
			},
			Points: constant(-w.HatedTeamPenalty),
			Reason: func(c *Candidate) string {
				return fmt.Sprintf("Customer dislikes %s", c.Destination.Name)
			},
		},
		{
			Name: "visited-city",
			Match: func(c *Candidate, p destination.Preferences) bool {
				return containsFold(p.VisitedCities, c.Destination.City)
			},
			Points: constant(-w.VisitedCityPenalty),
			Reason: func(c *Candidate) string {
				return fmt.Sprintf("Customer already visited %s", c.Destination.City)
			},
		},
		{
			Name: "popular-league",
			Match: func(c *Candidate, _ destination.Preferences) bool {
				return containsFold(w.PopularLeagues, c.Destination.League)
			},
			Points: constant(w.PopularLeagueBonus),
			Reason: func(c *Candidate) string {
				return fmt.Sprintf("Popular league (%s)", c.Destination.League)
			},
		},
		{
			Name: "popular-country",
			Match: func(c *Candidate, _ destination.Preferences) bool {
				return containsFold(w.PopularCountries, c.Destination.Country)
			},
			Points: constant(w.PopularCountryBonus),
			Reason: func(c *Candidate) string {
				return fmt.Sprintf("Popular country (%s)", c.Destination.Country)
			},
		},
	}
}

// Scorer applies an ordered rule list on top of a baseline.
type Scorer struct {
	baseline        float64
	flightRules     []Rule
	preferenceRules []Rule
}

// NewScorer builds a Scorer from w with the default rule lists.
func NewScorer(w Weights) *Scorer {
	return &Scorer{
		baseline:        w.Baseline,
		flightRules:     FlightRules(w),
		preferenceRules: PreferenceRules(w),
	}
}

// Score resets c's score and reasons and evaluates every applicable rule.
func (s *Scorer) Score(c *Candidate, prefs destination.Preferences, includeFlight bool) {
	c.Score = s.baseline
	c.Reasons = c.Reasons[:0]

	if includeFlight {
		s.apply(c, prefs, s.flightRules)
	}
	s.apply(c, prefs, s.preferenceRules)
}

func (s *Scorer) apply(c *Candidate, prefs destination.Preferences, rules []Rule) {
	for _, r := range rules {
		if !r.Match(c, prefs) {
			continue
		}
		c.Score += r.Points(c)
		if r.Reason != nil {
			c.Reasons = append(c.Reasons, r.Reason(c))
		}
	}
}

func constant(v float64) func(*Candidate) float64 {
	return func(*Candidate) float64 { return v }
}

func text(s string) func(*Candidate) string {
	return func(*Candidate) string { return s }
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

func formatMinutes(m int) string {
	if m%60 == 0 {
		return fmt.Sprintf("%dh", m/60)
	}
	return fmt.Sprintf("%dh%02d", m/60, m%60)
}
