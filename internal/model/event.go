// Package model defines the durable entities shared by the store, the sync
// orchestrator and the change queue: events, calendars, pending changes,
// tombstones, sync metadata and the error log.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks event identifiers generated locally before the remote
// service has assigned a canonical one. An event carrying a temp id must have
// exactly one pending "create" change in the queue.
const TempIDPrefix = "local-"

// EventStatus is the remote service's lifecycle status for an event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// ResponseStatus is an attendee's reply to an invitation.
type ResponseStatus string

const (
	ResponseNeedsAction ResponseStatus = "needsAction"
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseDeclined    ResponseStatus = "declined"
	ResponseTentative   ResponseStatus = "tentative"
)

// EventTime is either a timezone-aware instant or a bare date for all-day
// events. For all-day events DateTime holds midnight of Date in UTC so that
// window comparisons stay uniform.
type EventTime struct {
	DateTime time.Time `json:"dateTime"`
	AllDay   bool      `json:"allDay,omitempty"`
	TimeZone string    `json:"timeZone,omitempty"`
}

// Attendee is a single invitee on an event.
type Attendee struct {
	Email          string         `json:"email"`
	DisplayName    string         `json:"displayName,omitempty"`
	ResponseStatus ResponseStatus `json:"responseStatus,omitempty"`
	Organizer      bool           `json:"organizer,omitempty"`
	Self           bool           `json:"self,omitempty"` // the account owner's own entry
}

// Event is a calendar event instance as held in the local store.
type Event struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"accountId"`
	CalendarID  string      `json:"calendarId"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	Start       EventTime   `json:"start"`
	End         EventTime   `json:"end"`
	Status      EventStatus `json:"status"`

	// Recurrence: the rule string for a recurring parent, or a pointer to the
	// parent plus the original instance start for a modified occurrence.
	RecurrenceRule   string    `json:"recurrenceRule,omitempty"`
	RecurringEventID string    `json:"recurringEventId,omitempty"`
	OriginalStart    time.Time `json:"originalStart,omitempty"`

	Attendees []Attendee `json:"attendees,omitempty"`

	// Deleted is the local soft-delete flag; Pending means the event has not
	// yet been confirmed by the remote service.
	Deleted bool `json:"deleted,omitempty"`
	Pending bool `json:"pending,omitempty"`

	LocalUpdatedAt  time.Time `json:"localUpdatedAt"`
	RemoteUpdatedAt time.Time `json:"remoteUpdatedAt"`
	LastSyncedAt    time.Time `json:"lastSyncedAt,omitempty"`
}

// NewTempID returns a fresh locally-scoped event identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id was generated locally and is still awaiting a
// canonical identifier from the remote service.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Calendar is a remote calendar owned by an account.
type Calendar struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Summary   string `json:"summary"`
	TimeZone  string `json:"timeZone,omitempty"`
	Primary   bool   `json:"primary,omitempty"`
}

// ConflictRecord pairs the diverged local and remote snapshots of one event
// pending manual resolution. LocalVersion is nil for delete/update conflicts
// (local chose deletion, remote chose modification). The store keys conflicts
// by event id, so at most one unresolved record can exist per event.
type ConflictRecord struct {
	EventID       string    `json:"eventId"`
	AccountID     string    `json:"accountId"`
	CalendarID    string    `json:"calendarId"`
	LocalVersion  *Event    `json:"localVersion,omitempty"`
	RemoteVersion *Event    `json:"remoteVersion"`
	DetectedAt    time.Time `json:"detectedAt"`
}
