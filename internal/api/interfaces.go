package api

import (
	"context"

	"github.com/neexbeast/mystery-trip/internal/destination"
	"github.com/neexbeast/mystery-trip/internal/ranking"
)

// SuggestionService defines the ranking operations needed by handlers.
// *ranking.Ranker satisfies it.
type SuggestionService interface {
	SuggestDestinations(ctx context.Context, req ranking.Request) ([]destination.Suggestion, error)
	AutoSuggest(ctx context.Context, bookingID string) ([]destination.Suggestion, error)
	GetBookingSuggestions(ctx context.Context, bookingID string) ([]destination.Suggestion, error)
	SelectDestinationForBooking(ctx context.Context, bookingID, destinationID string, adminNotes *string) (*destination.Booking, error)
}
