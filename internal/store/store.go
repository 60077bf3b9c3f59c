// Package store persists all durable sync state: events, calendars, the
// pending-change queue, tombstones, per-calendar sync metadata and the error
// log. The SQLite implementation is the only one shipped; the interface keeps
// the sync core testable against it without caring where rows live.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store is the durable state consumed by the orchestrator, the queue
// processor and the HTTP surface. Every method is atomic at the granularity
// of a single write; ReplaceTempEvent is the one cross-entity transaction.
type Store interface {
	// Events
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	UpsertEvent(ctx context.Context, ev *model.Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListEventsByCalendar(ctx context.Context, accountID, calendarID string) ([]*model.Event, error)

	// ReplaceTempEvent atomically swaps a temporary event record for the
	// remote-confirmed one and removes the pending change that created it.
	// After it returns no point in time existed where both records, or
	// neither, were visible alongside the queue entry.
	ReplaceTempEvent(ctx context.Context, tempID string, confirmed *model.Event, changeID string) error

	// Calendars
	UpsertCalendar(ctx context.Context, cal *model.Calendar) error
	ListCalendars(ctx context.Context, accountID string) ([]*model.Calendar, error)
	DeleteCalendar(ctx context.Context, id string) error

	// Pending changes, FIFO by enqueue time.
	EnqueueChange(ctx context.Context, ch *model.PendingChange) error
	ListPendingChanges(ctx context.Context) ([]*model.PendingChange, error)
	GetPendingChange(ctx context.Context, id string) (*model.PendingChange, error)
	FindChangesByEvent(ctx context.Context, eventID string) ([]*model.PendingChange, error)
	UpdateChange(ctx context.Context, ch *model.PendingChange) error
	DeleteChange(ctx context.Context, id string) error

	// Tombstones
	PutTombstone(ctx context.Context, t *model.Tombstone) error
	GetTombstone(ctx context.Context, eventID string) (*model.Tombstone, error)
	DeleteTombstone(ctx context.Context, eventID string) error
	PruneTombstonesBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Conflicts, keyed by event id (at most one unresolved per event).
	PutConflict(ctx context.Context, c *model.ConflictRecord) error
	GetConflict(ctx context.Context, eventID string) (*model.ConflictRecord, error)
	ListConflicts(ctx context.Context) ([]*model.ConflictRecord, error)
	DeleteConflict(ctx context.Context, eventID string) error

	// Sync metadata
	GetSyncMetadata(ctx context.Context, accountID, calendarID string) (*model.SyncMetadata, error)
	PutSyncMetadata(ctx context.Context, meta *model.SyncMetadata) error
	DeleteSyncMetadata(ctx context.Context, accountID, calendarID string) error

	// Error log
	AppendErrorLog(ctx context.Context, entry *model.ErrorLogEntry) error
	ListErrorLog(ctx context.Context, since time.Time, limit int) ([]*model.ErrorLogEntry, error)

	Close() error
}
