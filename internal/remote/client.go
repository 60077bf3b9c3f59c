// Package remote is the contract with the calendar service, plus the HTTP
// implementation of it. The sync core only ever sees the Client interface,
// so tests swap in function-field fakes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
)

// ListEventsRequest carries the window and cursors for one page of events.
// SyncToken and the time window are mutually exclusive on the wire: when a
// token is present the server returns only changes since that token.
type ListEventsRequest struct {
	AccountID  string
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	SyncToken  string
	PageToken  string
}

// EventPage is one page of the events listing.
type EventPage struct {
	Items         []*model.Event `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
	NextSyncToken string         `json:"nextSyncToken,omitempty"`
}

// Client performs authenticated operations against the calendar service.
type Client interface {
	ListCalendars(ctx context.Context, accountID string) ([]*model.Calendar, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (*EventPage, error)
	CreateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error)
	UpdateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error)
	DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error
	RespondToInvitation(ctx context.Context, accountID, calendarID, eventID string, response model.ResponseStatus) error
}

// APIError is a non-2xx response from the calendar service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: server returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying: rate limiting and
// server-side failures. Auth (401/403) and client errors (400/404/410) are
// terminal here; 401 has already been through the token refresh path by the
// time it surfaces.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsSyncTokenExpired reports the server's signal that an incremental sync
// token is no longer valid and a full re-sync is required.
func IsSyncTokenExpired(err error) bool {
	return IsStatus(err, http.StatusGone)
}
