package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neexbeast/mystery-trip/internal/destination"
)

// Querier abstracts the subset of pgxpool.Pool used by Repository.
// This allows injection of a mock in tests.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository provides database access for bookings, the destination catalog
// and ranked suggestions.
type Repository struct {
	q   Querier
	now func() time.Time
	id  func() string
}

// NewRepository constructs a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return NewRepositoryWithQuerier(pool)
}

// NewRepositoryWithQuerier constructs a Repository with a custom Querier (for tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	return &Repository{
		q:   q,
		now: func() time.Time { return time.Now().UTC() },
		id:  uuid.NewString,
	}
}

const bookingColumns = `id, package_type, travel_date, travelers, preferences, status, destination, revealed_at, admin_notes`

func scanBooking(row pgx.Row) (*destination.Booking, error) {
	var b destination.Booking
	var pkg, status string
	var prefsJSON []byte

	if err := row.Scan(
		&b.ID,
		&pkg,
		&b.TravelDate,
		&b.Travelers,
		&prefsJSON,
		&status,
		&b.Destination,
		&b.RevealedAt,
		&b.AdminNotes,
	); err != nil {
		return nil, err
	}

	b.PackageType = destination.PackageType(pkg)
	b.Status = destination.BookingStatus(status)

	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &b.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshaling preferences: %w", err)
		}
	}

	return &b, nil
}

// GetBooking retrieves a booking by ID. Returns destination.ErrBookingNotFound when missing.
func (r *Repository) GetBooking(ctx context.Context, bookingID string) (*destination.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.q.QueryRow(ctx, q, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, destination.ErrBookingNotFound
		}
		return nil, fmt.Errorf("querying booking %s: %w", bookingID, err)
	}

	return b, nil
}

// ListActiveDestinations returns the active catalog ordered by name. With
// requireAirport set, destinations without an airport code are left out.
func (r *Repository) ListActiveDestinations(ctx context.Context, requireAirport bool) ([]destination.Destination, error) {
	const q = `
		SELECT id, name, city, country, league, stadium, airport_code, is_active, created_at, updated_at
		FROM destinations
		WHERE is_active
		AND (NOT $1 OR airport_code IS NOT NULL)
		ORDER BY name
	`

	rows, err := r.q.Query(ctx, q, requireAirport)
	if err != nil {
		return nil, fmt.Errorf("querying active destinations: %w", err)
	}
	defer rows.Close()

	var results []destination.Destination
	for rows.Next() {
		var d destination.Destination
		if err := rows.Scan(
			&d.ID,
			&d.Name,
			&d.City,
			&d.Country,
			&d.League,
			&d.Stadium,
			&d.AirportCode,
			&d.IsActive,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning destination row: %w", err)
		}
		results = append(results, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating destination rows: %w", err)
	}

	return results, nil
}

// lockActiveBooking takes a row lock on the booking for the rest of tx, which
// serializes concurrent writers for the same booking.
func lockActiveBooking(ctx context.Context, tx pgx.Tx, bookingID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return destination.ErrBookingNotFound
		}
		return fmt.Errorf("locking booking: %w", err)
	}
	if destination.BookingStatus(status) == destination.StatusCancelled {
		return fmt.Errorf("booking is cancelled: %w", destination.ErrBookingNotFound)
	}
	return nil
}

// ReplaceSuggestions deletes every suggestion for the booking and inserts the
// given ones, all in one transaction holding the booking row lock. IDs and
// creation times are assigned here. A booking whose destination has already
// been selected is left untouched and destination.ErrAlreadySelected returned.
func (r *Repository) ReplaceSuggestions(ctx context.Context, bookingID string, suggestions []destination.Suggestion) ([]destination.Suggestion, error) {
	saved := make([]destination.Suggestion, len(suggestions))
	copy(saved, suggestions)

	err := inTx(ctx, r.q, func(tx pgx.Tx) error {
		if err := lockActiveBooking(ctx, tx, bookingID); err != nil {
			return err
		}

		var selected bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM destination_suggestions WHERE booking_id = $1 AND is_selected)`,
			bookingID,
		).Scan(&selected); err != nil {
			return fmt.Errorf("checking selection: %w", err)
		}
		if selected {
			return destination.ErrAlreadySelected
		}

		if _, err := tx.Exec(ctx, `DELETE FROM destination_suggestions WHERE booking_id = $1`, bookingID); err != nil {
			return fmt.Errorf("deleting suggestions: %w", err)
		}

		now := r.now()
		for i := range saved {
			s := &saved[i]
			s.ID = r.id()
			s.BookingID = bookingID
			s.IsSelected = false
			s.CreatedAt = now
			s.FlightOptions = append(make([]destination.FlightOption, 0, len(s.FlightOptions)), s.FlightOptions...)

			if _, err := tx.Exec(ctx, `
				INSERT INTO destination_suggestions
					(id, booking_id, destination_id, flight_price, currency, reason, admin_notes, score, rank, is_selected, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
			`, s.ID, bookingID, s.DestinationID, s.FlightPrice, s.Currency, s.Reason, s.AdminNotes, s.Score, s.Rank, now); err != nil {
				return fmt.Errorf("inserting suggestion for destination %s: %w", s.DestinationID, err)
			}

			for j := range s.FlightOptions {
				o := &s.FlightOptions[j]
				o.ID = r.id()
				if _, err := tx.Exec(ctx, `
					INSERT INTO flight_options
						(id, suggestion_id, price, currency, airline, flight_number, duration_minutes, stops,
						 departure_at, arrival_at, booking_token, origin_airport)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				`, o.ID, s.ID, o.Price, o.Currency, o.Airline, o.FlightNumber, o.DurationMinutes, o.Stops,
					o.DepartureAt, o.ArrivalAt, o.BookingToken, o.OriginAirport); err != nil {
					return fmt.Errorf("inserting flight option for destination %s: %w", s.DestinationID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replacing suggestions for booking %s: %w", bookingID, err)
	}

	return saved, nil
}

// ListSuggestions returns the persisted suggestions for a booking in rank
// order, each with its destination and flight options.
func (r *Repository) ListSuggestions(ctx context.Context, bookingID string) ([]destination.Suggestion, error) {
	const q = `
		SELECT s.id, s.booking_id, s.destination_id, s.flight_price, s.currency, s.reason, s.admin_notes,
		       s.score, s.rank, s.is_selected, s.created_at,
		       d.name, d.city, d.country, d.league, d.stadium, d.airport_code, d.is_active, d.created_at, d.updated_at
		FROM destination_suggestions s
		JOIN destinations d ON d.id = s.destination_id
		WHERE s.booking_id = $1
		ORDER BY s.rank
	`

	rows, err := r.q.Query(ctx, q, bookingID)
	if err != nil {
		return nil, fmt.Errorf("querying suggestions for booking %s: %w", bookingID, err)
	}
	defer rows.Close()

	results := []destination.Suggestion{}
	index := make(map[string]int)
	for rows.Next() {
		var s destination.Suggestion
		d := &s.Destination
		if err := rows.Scan(
			&s.ID, &s.BookingID, &s.DestinationID, &s.FlightPrice, &s.Currency, &s.Reason, &s.AdminNotes,
			&s.Score, &s.Rank, &s.IsSelected, &s.CreatedAt,
			&d.Name, &d.City, &d.Country, &d.League, &d.Stadium, &d.AirportCode, &d.IsActive, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning suggestion row: %w", err)
		}
		d.ID = s.DestinationID
		s.FlightOptions = []destination.FlightOption{}
		index[s.ID] = len(results)
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating suggestion rows: %w", err)
	}
	rows.Close()

	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, 0, len(results))
	for _, s := range results {
		ids = append(ids, s.ID)
	}

	const oq = `
		SELECT id, suggestion_id, price, currency, airline, flight_number, duration_minutes, stops,
		       departure_at, arrival_at, booking_token, origin_airport
		FROM flight_options
		WHERE suggestion_id = ANY($1)
		ORDER BY price
	`

	optRows, err := r.q.Query(ctx, oq, ids)
	if err != nil {
		return nil, fmt.Errorf("querying flight options for booking %s: %w", bookingID, err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var o destination.FlightOption
		var suggestionID string
		if err := optRows.Scan(
			&o.ID, &suggestionID, &o.Price, &o.Currency, &o.Airline, &o.FlightNumber, &o.DurationMinutes, &o.Stops,
			&o.DepartureAt, &o.ArrivalAt, &o.BookingToken, &o.OriginAirport,
		); err != nil {
			return nil, fmt.Errorf("scanning flight option row: %w", err)
		}
		if i, ok := index[suggestionID]; ok {
			results[i].FlightOptions = append(results[i].FlightOptions, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flight option rows: %w", err)
	}

	return results, nil
}

// SelectDestination marks destinationID as the booking's chosen suggestion,
// writes its display string onto the booking and stamps the reveal time once.
// Selecting the same destination again leaves the booking unchanged apart
// from a new admin note, if one is given.
func (r *Repository) SelectDestination(ctx context.Context, bookingID, destinationID string, adminNotes *string) (*destination.Booking, error) {
	var booking *destination.Booking

	err := inTx(ctx, r.q, func(tx pgx.Tx) error {
		if err := lockActiveBooking(ctx, tx, bookingID); err != nil {
			return err
		}

		var d destination.Destination
		err := tx.QueryRow(ctx,
			`SELECT name, city, country FROM destinations WHERE id = $1`, destinationID,
		).Scan(&d.Name, &d.City, &d.Country)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return destination.ErrDestinationNotFound
			}
			return fmt.Errorf("loading destination: %w", err)
		}

		var current *string
		err = tx.QueryRow(ctx,
			`SELECT destination_id FROM destination_suggestions WHERE booking_id = $1 AND is_selected`, bookingID,
		).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking selection: %w", err)
		}
		if current != nil && *current != destinationID {
			return destination.ErrAlreadySelected
		}

		tag, err := tx.Exec(ctx,
			`UPDATE destination_suggestions SET is_selected = true WHERE booking_id = $1 AND destination_id = $2`,
			bookingID, destinationID,
		)
		if err != nil {
			return fmt.Errorf("marking suggestion selected: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return destination.ErrSuggestionNotFound
		}

		q := `
			UPDATE bookings
			SET destination = $2,
			    revealed_at = COALESCE(revealed_at, $3),
			    admin_notes = COALESCE($4, admin_notes),
			    updated_at  = $3
			WHERE id = $1
			RETURNING ` + bookingColumns

		booking, err = scanBooking(tx.QueryRow(ctx, q, bookingID, d.DisplayString(), r.now(), adminNotes))
		if err != nil {
			return fmt.Errorf("updating booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("selecting destination for booking %s: %w", bookingID, err)
	}

	return booking, nil
}
