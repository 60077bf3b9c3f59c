package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, v any) *http.Response {
	data, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(data))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newFakeClient(tokens TokenProvider, rt roundTripFunc) *HTTPClient {
	return NewHTTPClient("http://calendar.test", tokens, &http.Client{Transport: rt}, nil)
}

func TestListEvents_WindowedQuery(t *testing.T) {
	timeMin := time.Date(2026, 1, 24, 12, 0, 0, 0, time.UTC)
	timeMax := time.Date(2026, 4, 24, 12, 0, 0, 0, time.UTC)

	c := newFakeClient(StaticTokenProvider("tok"), func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/accounts/acct-1/calendars/cal-1/events", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		require.Equal(t, "2026-01-24T12:00:00Z", q.Get("timeMin"))
		require.Equal(t, "2026-04-24T12:00:00Z", q.Get("timeMax"))
		require.Empty(t, q.Get("syncToken"))
		return jsonResponse(http.StatusOK, EventPage{
			Items:         []*model.Event{{ID: "ev-1", Title: "standup"}},
			NextPageToken: "page-2",
		}), nil
	})

	page, err := c.ListEvents(context.Background(), ListEventsRequest{
		AccountID: "acct-1", CalendarID: "cal-1", TimeMin: timeMin, TimeMax: timeMax,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "page-2", page.NextPageToken)
}

func TestListEvents_SyncTokenReplacesWindow(t *testing.T) {
	c := newFakeClient(StaticTokenProvider("tok"), func(r *http.Request) (*http.Response, error) {
		q := r.URL.Query()
		require.Equal(t, "tok-1", q.Get("syncToken"))
		require.Equal(t, "page-2", q.Get("pageToken"))
		require.Empty(t, q.Get("timeMin"))
		require.Empty(t, q.Get("timeMax"))
		return jsonResponse(http.StatusOK, EventPage{NextSyncToken: "tok-2"}), nil
	})

	page, err := c.ListEvents(context.Background(), ListEventsRequest{
		AccountID: "acct-1", CalendarID: "cal-1",
		TimeMin: time.Now(), TimeMax: time.Now(),
		SyncToken: "tok-1", PageToken: "page-2",
	})
	require.NoError(t, err)
	require.Equal(t, "tok-2", page.NextSyncToken)
}

func TestDoJSON_RefreshesOnceOn401(t *testing.T) {
	refreshes := 0
	tokens := NewCachingTokenProvider("stale", func(ctx context.Context) (string, error) {
		refreshes++
		return "fresh", nil
	})

	var seen []string
	c := newFakeClient(tokens, func(r *http.Request) (*http.Response, error) {
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "Bearer fresh" {
			return jsonResponse(http.StatusUnauthorized, map[string]string{"error": "expired"}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{"items": []*model.Calendar{{ID: "cal-1"}}}), nil
	})

	cals, err := c.ListCalendars(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, cals, 1)
	require.Equal(t, 1, refreshes)
	require.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seen)
}

func TestDoJSON_Second401IsTerminal(t *testing.T) {
	tokens := NewCachingTokenProvider("stale", func(ctx context.Context) (string, error) {
		return "still-bad", nil
	})

	calls := 0
	c := newFakeClient(tokens, func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusUnauthorized, map[string]string{"error": "nope"}), nil
	})

	_, err := c.ListCalendars(context.Background(), "acct-1")
	require.True(t, IsStatus(err, http.StatusUnauthorized))
	require.Equal(t, 2, calls)
}

func TestDeleteEvent_SurfacesAPIError(t *testing.T) {
	c := newFakeClient(StaticTokenProvider("tok"), func(r *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodDelete, r.Method)
		return jsonResponse(http.StatusNotFound, map[string]string{"error": "gone already"}), nil
	})

	err := c.DeleteEvent(context.Background(), "acct-1", "cal-1", "ev-1")
	require.True(t, IsStatus(err, http.StatusNotFound))
}

func TestAPIError_Retryable(t *testing.T) {
	retryable := []int{429, 500, 502, 503, 504}
	for _, code := range retryable {
		if !(&APIError{StatusCode: code}).Retryable() {
			t.Fatalf("status %d must be retryable", code)
		}
	}
	terminal := []int{400, 401, 403, 404, 410}
	for _, code := range terminal {
		if (&APIError{StatusCode: code}).Retryable() {
			t.Fatalf("status %d must be terminal", code)
		}
	}
}

func TestIsSyncTokenExpired(t *testing.T) {
	require.True(t, IsSyncTokenExpired(&APIError{StatusCode: http.StatusGone}))
	require.True(t, IsSyncTokenExpired(fmt.Errorf("wrapped: %w", &APIError{StatusCode: http.StatusGone})))
	require.False(t, IsSyncTokenExpired(&APIError{StatusCode: http.StatusNotFound}))
	require.False(t, IsSyncTokenExpired(fmt.Errorf("plain error")))
}

func TestCreateEvent_PostsPayload(t *testing.T) {
	c := newFakeClient(StaticTokenProvider("tok"), func(r *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in model.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Empty(t, in.ID)
		out := in
		out.ID = "server-1"
		return jsonResponse(http.StatusOK, out), nil
	})

	created, err := c.CreateEvent(context.Background(), "acct-1", "cal-1", &model.Event{Title: "new"})
	require.NoError(t, err)
	require.Equal(t, "server-1", created.ID)
	require.Equal(t, "new", created.Title)
}
