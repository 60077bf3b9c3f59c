package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanadium23/wolfcal-sub000/internal/backoff"
	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/remote"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
)

// fakeRemote is a function-field stand-in for the calendar service. Unset
// fields fail the test when called.
type fakeRemote struct {
	t *testing.T

	listCalendars func(ctx context.Context, accountID string) ([]*model.Calendar, error)
	listEvents    func(ctx context.Context, req remote.ListEventsRequest) (*remote.EventPage, error)
	createEvent   func(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error)
	updateEvent   func(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error)
	deleteEvent   func(ctx context.Context, accountID, calendarID, eventID string) error
	respond       func(ctx context.Context, accountID, calendarID, eventID string, response model.ResponseStatus) error
}

func (f *fakeRemote) ListCalendars(ctx context.Context, accountID string) ([]*model.Calendar, error) {
	if f.listCalendars == nil {
		f.t.Fatal("unexpected ListCalendars call")
	}
	return f.listCalendars(ctx, accountID)
}

func (f *fakeRemote) ListEvents(ctx context.Context, req remote.ListEventsRequest) (*remote.EventPage, error) {
	if f.listEvents == nil {
		f.t.Fatal("unexpected ListEvents call")
	}
	return f.listEvents(ctx, req)
}

func (f *fakeRemote) CreateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error) {
	if f.createEvent == nil {
		f.t.Fatal("unexpected CreateEvent call")
	}
	return f.createEvent(ctx, accountID, calendarID, ev)
}

func (f *fakeRemote) UpdateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error) {
	if f.updateEvent == nil {
		f.t.Fatal("unexpected UpdateEvent call")
	}
	return f.updateEvent(ctx, accountID, calendarID, ev)
}

func (f *fakeRemote) DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error {
	if f.deleteEvent == nil {
		f.t.Fatal("unexpected DeleteEvent call")
	}
	return f.deleteEvent(ctx, accountID, calendarID, eventID)
}

func (f *fakeRemote) RespondToInvitation(ctx context.Context, accountID, calendarID, eventID string, response model.ResponseStatus) error {
	if f.respond == nil {
		f.t.Fatal("unexpected RespondToInvitation call")
	}
	return f.respond(ctx, accountID, calendarID, eventID, response)
}

// noSleepExecutor retries without waiting so tests stay fast.
func noSleepExecutor() *backoff.Executor {
	return backoff.NewWithClock(backoff.DefaultConfig(),
		func(ctx context.Context, d time.Duration) error { return nil }, nil)
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func remoteEvent(id string, start, updated time.Time) *model.Event {
	return &model.Event{
		ID:              id,
		Title:           "event " + id,
		Start:           model.EventTime{DateTime: start},
		End:             model.EventTime{DateTime: start.Add(time.Hour)},
		Status:          model.StatusConfirmed,
		RemoteUpdatedAt: updated,
	}
}
