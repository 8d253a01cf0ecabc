package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neexbeast/mystery-trip/internal/destination"
	"github.com/neexbeast/mystery-trip/internal/ranking"
)

const maxBodyBytes = 1 << 20

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	svc SuggestionService
	log *slog.Logger
}

// NewHandlers constructs Handlers with all required dependencies.
func NewHandlers(svc SuggestionService, log *slog.Logger) *Handlers {
	return &Handlers{svc: svc, log: log}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to status codes. Anything unknown is a 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, destination.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, destination.ErrDestinationNotFound):
		writeError(w, http.StatusNotFound, "destination not found")
	case errors.Is(err, destination.ErrSuggestionNotFound):
		writeError(w, http.StatusUnprocessableEntity, "destination was not suggested for this booking")
	case errors.Is(err, destination.ErrAlreadySelected):
		writeError(w, http.StatusConflict, "booking already has a selected destination")
	case errors.Is(err, destination.ErrInvalidPackage), errors.Is(err, destination.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op+" failed", "booking_id", chi.URLParam(r, "bookingID"), "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type suggestRequest struct {
	PackageType string                  `json:"packageType"`
	DepartDate  string                  `json:"departDate"`
	Travelers   int                     `json:"travelers"`
	Preferences destination.Preferences `json:"preferences"`
}

type suggestionsResponse struct {
	BookingID   string                   `json:"bookingId"`
	Suggestions []destination.Suggestion `json:"suggestions"`
}

// SuggestDestinations handles POST /api/v1/bookings/{bookingID}/suggestions.
// An empty body ranks from the booking record; otherwise the body supplies
// tier, date, party size and preferences.
func (h *Handlers) SuggestDestinations(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	var suggestions []destination.Suggestion
	if len(body) == 0 {
		suggestions, err = h.svc.AutoSuggest(r.Context(), bookingID)
	} else {
		req, perr := parseSuggestRequest(bookingID, body)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		suggestions, err = h.svc.SuggestDestinations(r.Context(), req)
	}
	if err != nil {
		h.writeServiceError(w, r, "suggest destinations", err)
		return
	}

	writeJSON(w, http.StatusOK, suggestionsResponse{BookingID: bookingID, Suggestions: suggestions})
}

func parseSuggestRequest(bookingID string, body []byte) (ranking.Request, error) {
	var in suggestRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return ranking.Request{}, errors.New("invalid JSON body")
	}

	pkg, err := destination.ParsePackageType(in.PackageType)
	if err != nil {
		return ranking.Request{}, err
	}

	depart, err := time.Parse(time.DateOnly, in.DepartDate)
	if err != nil {
		return ranking.Request{}, errors.New("departDate must be YYYY-MM-DD")
	}

	return ranking.Request{
		BookingID:   bookingID,
		Package:     pkg,
		DepartDate:  depart,
		Travelers:   in.Travelers,
		Preferences: in.Preferences,
	}, nil
}

// GetSuggestions handles GET /api/v1/bookings/{bookingID}/suggestions.
func (h *Handlers) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	suggestions, err := h.svc.GetBookingSuggestions(r.Context(), bookingID)
	if err != nil {
		h.writeServiceError(w, r, "get suggestions", err)
		return
	}

	writeJSON(w, http.StatusOK, suggestionsResponse{BookingID: bookingID, Suggestions: suggestions})
}

type selectRequest struct {
	DestinationID string  `json:"destinationId"`
	AdminNotes    *string `json:"adminNotes"`
}

// SelectDestination handles POST /api/v1/bookings/{bookingID}/selection.
func (h *Handlers) SelectDestination(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	var in selectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.DestinationID == "" {
		writeError(w, http.StatusBadRequest, "destinationId is required")
		return
	}

	booking, err := h.svc.SelectDestinationForBooking(r.Context(), bookingID, in.DestinationID, in.AdminNotes)
	if err != nil {
		h.writeServiceError(w, r, "select destination", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": booking})
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

type redisPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlerFunc returns an http.HandlerFunc that checks db and redis connectivity.
// A Redis outage degrades the status but keeps 200, since ranking works without the offer cache.
func HealthHandlerFunc(db dbPinger, redis redisPinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "ok"
		dbStatus := "ok"
		redisStatus := "ok"

		if err := db.Ping(ctx); err != nil {
			log.Error("health check: db ping failed", "err", err)
			dbStatus = "error"
			overall = "down"
			status = http.StatusServiceUnavailable
		}

		if err := redis.Ping(ctx); err != nil {
			log.Warn("health check: redis ping failed", "err", err)
			redisStatus = "error"
			if status == http.StatusOK {
				overall = "degraded"
			}
		}

		writeJSON(w, status, map[string]string{
			"status": overall,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	}
}
