package destination

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrDestinationNotFound = errors.New("destination not found")
	ErrSuggestionNotFound  = errors.New("no suggestion for this destination")
	ErrAlreadySelected     = errors.New("booking already has a selected destination")
	ErrInvalidPackage      = errors.New("invalid package type")
	ErrInvalidRequest      = errors.New("invalid ranking request")
)

// PackageType is the booking product tier.
type PackageType string

const (
	PackageBasic   PackageType = "basic"
	PackageComfort PackageType = "comfort"
	PackagePremium PackageType = "premium"
)

// ParsePackageType validates a raw tier name.
func ParsePackageType(s string) (PackageType, error) {
	switch p := PackageType(strings.ToLower(strings.TrimSpace(s))); p {
	case PackageBasic, PackageComfort, PackagePremium:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPackage, s)
	}
}

// IncludesFlight reports whether the tier is priced with flights.
func (p PackageType) IncludesFlight() bool {
	return p == PackageComfort || p == PackagePremium
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

var airportCodeRe = regexp.MustCompile(`^[A-Z]{3,4}$`)

// ValidAirportCode reports whether code looks like an IATA/ICAO airport code.
func ValidAirportCode(code string) bool {
	return airportCodeRe.MatchString(code)
}

// Destination is a catalog entry a mystery trip can resolve to.
type Destination struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	City        string    `json:"city"`
	Country     string    `json:"country"`
	League      string    `json:"league"`
	Stadium     string    `json:"stadium"`
	AirportCode *string   `json:"airportCode,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DisplayString is what gets written onto a booking once revealed.
func (d Destination) DisplayString() string {
	return fmt.Sprintf("%s (%s, %s)", d.Name, d.City, d.Country)
}

// Preferences are the customer's stated likes and dislikes. All fields are optional.
type Preferences struct {
	HatedTeams    []string `json:"hatedTeams,omitempty"`
	VisitedCities []string `json:"visitedCities,omitempty"`
	TravelStyle   string   `json:"travelStyle,omitempty"`
}

// Booking is the subset of a booking record the ranker reads and the selection writes.
type Booking struct {
	ID          string        `json:"id"`
	PackageType PackageType   `json:"packageType"`
	TravelDate  time.Time     `json:"travelDate"`
	Travelers   int           `json:"travelers"`
	Preferences Preferences   `json:"preferences"`
	Status      BookingStatus `json:"status"`
	Destination *string       `json:"destination,omitempty"`
	RevealedAt  *time.Time    `json:"revealedAt,omitempty"`
	AdminNotes  *string       `json:"adminNotes,omitempty"`
}

// Active reports whether the booking can still receive suggestions.
func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

// FlightOption is one priced offer for an origin/destination/date combination.
type FlightOption struct {
	ID              string     `json:"id,omitempty"`
	Price           float64    `json:"price"`
	Currency        string     `json:"currency"`
	Airline         string     `json:"airline"`
	FlightNumber    *string    `json:"flightNumber,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	Stops           *int       `json:"stops,omitempty"`
	DepartureAt     *time.Time `json:"departureAt,omitempty"`
	ArrivalAt       *time.Time `json:"arrivalAt,omitempty"`
	BookingToken    *string    `json:"bookingToken,omitempty"`
	OriginAirport   string     `json:"originAirport"`
}

// NonStop reports whether the offer is known to have zero stops.
func (f FlightOption) NonStop() bool {
	return f.Stops != nil && *f.Stops == 0
}

// Suggestion is a ranked candidate destination persisted for a booking.
type Suggestion struct {
	ID            string         `json:"id"`
	BookingID     string         `json:"bookingId"`
	DestinationID string         `json:"destinationId"`
	Destination   Destination    `json:"destination"`
	FlightPrice   *float64       `json:"flightPrice"`
	Currency      *string        `json:"currency,omitempty"`
	Reason        string         `json:"reason"`
	AdminNotes    string         `json:"adminNotes"`
	Score         float64        `json:"score"`
	Rank          int            `json:"rank"`
	IsSelected    bool           `json:"isSelected"`
	FlightOptions []FlightOption `json:"flightOptions"`
	CreatedAt     time.Time      `json:"createdAt"`
}
