package flights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/neexbeast/mystery-trip/internal/destination"
)

const (
	httpTimeout    = 10 * time.Second
	dateLayout     = "2006-01-02"
	defaultBaseURL = "https://api.travelpayouts.com/aviasales/v3/prices_for_dates"
	offersPerQuery = 10
)

// Query identifies a single priced leg.
type Query struct {
	Origin      string
	Destination string
	Depart      time.Time
	Return      time.Time
	Travelers   int
}

// Key is a stable identifier for the query, used for caching.
// Fares are quoted per passenger, so travelers is not part of it.
func (q Query) Key() string {
	return strings.ToLower(q.Origin) + ":" + strings.ToLower(q.Destination) + ":" +
		q.Depart.Format(dateLayout) + ":" + q.Return.Format(dateLayout)
}

// Client queries the Aviasales (Travelpayouts) data API for cached fares.
type Client struct {
	token    string
	baseURL  string
	currency string
	client   *http.Client
	limiter  *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a custom endpoint (for tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithCurrency sets the currency fares are requested in.
func WithCurrency(cur string) Option {
	return func(c *Client) { c.currency = strings.ToUpper(cur) }
}

// WithRateLimit caps outbound requests per second. Zero or negative disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewClient constructs a Client with the given API token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:    token,
		baseURL:  defaultBaseURL,
		currency: "EUR",
		client:   &http.Client{Timeout: httpTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pricesResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Currency string `json:"currency"`
	Data     []struct {
		OriginAirport string  `json:"origin_airport"`
		Price         float64 `json:"price"`
		Airline       string  `json:"airline"`
		FlightNumber  string  `json:"flight_number"`
		DepartureAt   string  `json:"departure_at"`
		Transfers     *int    `json:"transfers"`
		Duration      *int    `json:"duration"`
		DurationTo    *int    `json:"duration_to"`
		Link          string  `json:"link"`
	} `json:"data"`
}

// GetOffers returns the priced offers for q. An empty slice means no fares are known.
func (c *Client) GetOffers(ctx context.Context, q Query) ([]destination.FlightOption, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	params := url.Values{}
	params.Set("origin", q.Origin)
	params.Set("destination", q.Destination)
	params.Set("departure_at", q.Depart.Format(dateLayout))
	params.Set("return_at", q.Return.Format(dateLayout))
	params.Set("currency", strings.ToLower(c.currency))
	params.Set("sorting", "price")
	params.Set("unique", "false")
	params.Set("limit", strconv.Itoa(offersPerQuery))
	params.Set("token", c.token)

	var raw pricesResponse
	if err := doGet(ctx, c.client, c.baseURL+"?"+params.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("aviasales prices %s-%s: %w", q.Origin, q.Destination, err)
	}
	if !raw.Success {
		return nil, fmt.Errorf("aviasales prices %s-%s: %s", q.Origin, q.Destination, raw.Error)
	}

	currency := strings.ToUpper(raw.Currency)
	if currency == "" {
		currency = c.currency
	}

	offers := make([]destination.FlightOption, 0, len(raw.Data))
	for _, d := range raw.Data {
		if d.Price <= 0 || d.Airline == "" {
			continue
		}
		origin := d.OriginAirport
		if origin == "" {
			origin = q.Origin
		}
		opt := destination.FlightOption{
			Price:         d.Price,
			Currency:      currency,
			Airline:       d.Airline,
			Stops:         d.Transfers,
			OriginAirport: origin,
		}
		if d.FlightNumber != "" {
			fn := d.FlightNumber
			opt.FlightNumber = &fn
		}
		// duration_to is the outbound leg; duration covers the round trip.
		switch {
		case d.DurationTo != nil:
			opt.DurationMinutes = d.DurationTo
		case d.Duration != nil:
			opt.DurationMinutes = d.Duration
		}
		if t, err := time.Parse(time.RFC3339, d.DepartureAt); err == nil {
			opt.DepartureAt = &t
			if opt.DurationMinutes != nil {
				arr := t.Add(time.Duration(*opt.DurationMinutes) * time.Minute)
				opt.ArrivalAt = &arr
			}
		}
		if d.Link != "" {
			link := d.Link
			opt.BookingToken = &link
		}
		offers = append(offers, opt)
	}

	return offers, nil
}

// doGet performs a GET request and decodes the JSON response into dst.
func doGet(ctx context.Context, client *http.Client, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// *url.Error repeats the URL, which carries the API token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
