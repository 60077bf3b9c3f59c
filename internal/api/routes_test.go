package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanadium23/wolfcal-sub000/internal/backoff"
	"github.com/vanadium23/wolfcal-sub000/internal/model"
	"github.com/vanadium23/wolfcal-sub000/internal/remote"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
	"github.com/vanadium23/wolfcal-sub000/internal/syncer"
)

// stubRemote answers the subset of the remote surface these handler tests
// exercise; everything else is an unexpected call.
type stubRemote struct {
	t          *testing.T
	listEvents func(ctx context.Context, req remote.ListEventsRequest) (*remote.EventPage, error)
}

func (s *stubRemote) ListCalendars(ctx context.Context, accountID string) ([]*model.Calendar, error) {
	return []*model.Calendar{{ID: "cal-1", AccountID: accountID, Summary: "Work", Primary: true}}, nil
}

func (s *stubRemote) ListEvents(ctx context.Context, req remote.ListEventsRequest) (*remote.EventPage, error) {
	if s.listEvents != nil {
		return s.listEvents(ctx, req)
	}
	return &remote.EventPage{}, nil
}

func (s *stubRemote) CreateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error) {
	out := *ev
	out.ID = "server-1"
	return &out, nil
}

func (s *stubRemote) UpdateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error) {
	out := *ev
	return &out, nil
}

func (s *stubRemote) DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error {
	return nil
}

func (s *stubRemote) RespondToInvitation(ctx context.Context, accountID, calendarID, eventID string, response model.ResponseStatus) error {
	return nil
}

func newTestServer(t *testing.T, rc remote.Client) (*httptest.Server, *store.SQLiteStore, *syncer.Processor) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	exec := backoff.NewWithClock(backoff.DefaultConfig(),
		func(ctx context.Context, d time.Duration) error { return nil }, nil)
	proc := syncer.NewProcessor(st, rc, exec, nil)
	orch := syncer.NewOrchestrator(st, rc, exec, nil)
	ed := syncer.NewEditor(st, rc, exec, proc, nil)

	srv := httptest.NewServer(NewHandler(st, orch, proc, ed, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, st, proc
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubRemote{t: t})
	var out map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &out))
	require.Equal(t, "ok", out["status"])
}

func TestTriggerSyncAndStatus(t *testing.T) {
	rc := &stubRemote{t: t}
	rc.listEvents = func(ctx context.Context, req remote.ListEventsRequest) (*remote.EventPage, error) {
		return &remote.EventPage{
			Items: []*model.Event{{
				ID:              "ev-1",
				Title:           "standup",
				Start:           model.EventTime{DateTime: time.Now().Add(time.Hour)},
				End:             model.EventTime{DateTime: time.Now().Add(2 * time.Hour)},
				Status:          model.StatusConfirmed,
				RemoteUpdatedAt: time.Now(),
			}},
			NextSyncToken: "tok-1",
		}, nil
	}
	srv, st, _ := newTestServer(t, rc)

	var res syncer.AccountSyncResult
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/v1/sync/acct-1", "", &res))
	require.Len(t, res.Calendars, 1)
	require.Equal(t, 1, res.Calendars[0].Added)

	var meta model.SyncMetadata
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/sync/acct-1/cal-1/status", &meta))
	require.Equal(t, "tok-1", meta.SyncToken)

	events, err := st.ListEventsByCalendar(context.Background(), "acct-1", "cal-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestSyncStatus_UnknownCalendar(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubRemote{t: t})
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/v1/sync/acct-1/nope/status", nil))
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	srv, st, proc := newTestServer(t, &stubRemote{t: t})
	// Keep mutations queued so the test can inspect them.
	require.NoError(t, proc.SetOnline(context.Background(), false))

	var created model.Event
	status := postJSON(t, srv.URL+"/api/v1/events", `{
		"accountId": "acct-1",
		"calendarId": "cal-1",
		"title": "dentist",
		"start": {"dateTime": "2026-03-12T10:00:00Z"},
		"end": {"dateTime": "2026-03-12T11:00:00Z"}
	}`, &created)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, model.IsTempID(created.ID))

	changes, err := st.ListPendingChanges(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, model.OpCreate, changes[0].Op)

	// Deleting the unconfirmed event unwinds it without queueing a delete.
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/events/"+created.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	changes, err = st.ListPendingChanges(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestConflictEndpoints(t *testing.T) {
	srv, st, _ := newTestServer(t, &stubRemote{t: t})
	ctx := context.Background()

	ev := &model.Event{
		ID: "ev-1", AccountID: "acct-1", CalendarID: "cal-1", Title: "local",
		Start: model.EventTime{DateTime: time.Now()},
		End:   model.EventTime{DateTime: time.Now().Add(time.Hour)},
	}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	rev := *ev
	rev.Title = "remote"
	require.NoError(t, st.PutConflict(ctx, &model.ConflictRecord{
		EventID: "ev-1", AccountID: "acct-1", CalendarID: "cal-1",
		LocalVersion: ev, RemoteVersion: &rev, DetectedAt: time.Now(),
	}))

	var conflicts []*model.ConflictRecord
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/conflicts", &conflicts))
	require.Len(t, conflicts, 1)

	require.Equal(t, http.StatusBadRequest,
		postJSON(t, srv.URL+"/api/v1/conflicts/ev-1/resolve", `{"choice":"flip-a-coin"}`, nil))

	require.Equal(t, http.StatusOK,
		postJSON(t, srv.URL+"/api/v1/conflicts/ev-1/resolve", `{"choice":"remote"}`, nil))

	got, err := st.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Equal(t, "remote", got.Title)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/conflicts", &conflicts))
	require.Empty(t, conflicts)
}

func TestQueueEndpoints(t *testing.T) {
	srv, st, proc := newTestServer(t, &stubRemote{t: t})
	ctx := context.Background()
	require.NoError(t, proc.SetOnline(ctx, false))

	ev := &model.Event{
		ID: "ev-1", AccountID: "acct-1", CalendarID: "cal-1", Title: "queued",
		Start: model.EventTime{DateTime: time.Now()},
		End:   model.EventTime{DateTime: time.Now().Add(time.Hour)},
	}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, st.EnqueueChange(ctx, &model.PendingChange{
		ID: "ch-1", Op: model.OpUpdate, EventID: "ev-1",
		AccountID: "acct-1", CalendarID: "cal-1", Payload: ev, EnqueuedAt: time.Now(),
	}))

	var queue []*model.PendingChange
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/queue", &queue))
	require.Len(t, queue, 1)

	// Offline: drain is a no-op.
	var res syncer.DrainResult
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/v1/queue/drain", "", &res))
	require.Equal(t, syncer.DrainResult{}, res)

	// Flip online over HTTP, then drain for real.
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/connectivity", strings.NewReader(`{"online":true}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/queue", &queue))
	require.Empty(t, queue)
}

func TestExportICS(t *testing.T) {
	srv, st, _ := newTestServer(t, &stubRemote{t: t})
	require.NoError(t, st.UpsertEvent(context.Background(), &model.Event{
		ID: "ev-1", AccountID: "acct-1", CalendarID: "cal-1", Title: "standup",
		Start: model.EventTime{DateTime: time.Now()},
		End:   model.EventTime{DateTime: time.Now().Add(time.Hour)},
	}))

	resp, err := http.Get(srv.URL + "/api/v1/accounts/acct-1/calendars/cal-1/export.ics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
}

func TestListErrors_BadQuery(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubRemote{t: t})
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/errors?limit=-1", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/errors?since=yesterday", nil))
}
