package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/model"
)

// HTTPClient talks REST/JSON to the calendar service.
type HTTPClient struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a client for the service at baseURL. httpClient may be
// nil; a 120s-timeout client is used then.
func NewHTTPClient(baseURL string, tokens TokenProvider, httpClient *http.Client, logger *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{baseURL: baseURL, tokens: tokens, http: httpClient, logger: logger}
}

// ListCalendars fetches all calendars owned by an account.
func (c *HTTPClient) ListCalendars(ctx context.Context, accountID string) ([]*model.Calendar, error) {
	var out struct {
		Items []*model.Calendar `json:"items"`
	}
	path := fmt.Sprintf("/accounts/%s/calendars", url.PathEscape(accountID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListEvents fetches one page of events for a calendar. With a sync token the
// server returns only changed and cancelled events since that token.
func (c *HTTPClient) ListEvents(ctx context.Context, req ListEventsRequest) (*EventPage, error) {
	q := url.Values{}
	if req.SyncToken != "" {
		q.Set("syncToken", req.SyncToken)
	} else {
		q.Set("timeMin", req.TimeMin.UTC().Format(time.RFC3339))
		q.Set("timeMax", req.TimeMax.UTC().Format(time.RFC3339))
	}
	if req.PageToken != "" {
		q.Set("pageToken", req.PageToken)
	}
	path := fmt.Sprintf("/accounts/%s/calendars/%s/events?%s",
		url.PathEscape(req.AccountID), url.PathEscape(req.CalendarID), q.Encode())
	var page EventPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateEvent creates an event and returns the record with the
// server-assigned canonical identifier.
func (c *HTTPClient) CreateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error) {
	path := fmt.Sprintf("/accounts/%s/calendars/%s/events",
		url.PathEscape(accountID), url.PathEscape(calendarID))
	var created model.Event
	if err := c.doJSON(ctx, http.MethodPost, path, ev, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateEvent overwrites an event server-side and returns the stored version.
func (c *HTTPClient) UpdateEvent(ctx context.Context, accountID, calendarID string, ev *model.Event) (*model.Event, error) {
	path := fmt.Sprintf("/accounts/%s/calendars/%s/events/%s",
		url.PathEscape(accountID), url.PathEscape(calendarID), url.PathEscape(ev.ID))
	var updated model.Event
	if err := c.doJSON(ctx, http.MethodPut, path, ev, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEvent removes an event server-side.
func (c *HTTPClient) DeleteEvent(ctx context.Context, accountID, calendarID, eventID string) error {
	path := fmt.Sprintf("/accounts/%s/calendars/%s/events/%s",
		url.PathEscape(accountID), url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// RespondToInvitation records the account owner's reply on an event.
func (c *HTTPClient) RespondToInvitation(ctx context.Context, accountID, calendarID, eventID string, response model.ResponseStatus) error {
	path := fmt.Sprintf("/accounts/%s/calendars/%s/events/%s/respond",
		url.PathEscape(accountID), url.PathEscape(calendarID), url.PathEscape(eventID))
	body := map[string]string{"response": string(response)}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// doJSON performs one request with the bearer credential. A 401 triggers the
// token provider's refresh path followed by a single retry; a second 401 is
// surfaced as terminal.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	err := c.doJSONOnce(ctx, method, path, in, out)
	if err == nil || !IsStatus(err, http.StatusUnauthorized) {
		return err
	}
	c.logger.Debug("unauthorized response, refreshing token", zap.String("path", path))
	if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("refresh after 401: %w", refreshErr)
	}
	return c.doJSONOnce(ctx, method, path, in, out)
}

func (c *HTTPClient) doJSONOnce(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
