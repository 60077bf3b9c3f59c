package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRefreshFunc builds a RefreshFunc that exchanges a long-lived refresh
// token at refreshURL for a fresh access token. The endpoint is expected to
// answer {"accessToken": "..."}.
func HTTPRefreshFunc(refreshURL, refreshToken string, httpClient *http.Client) RefreshFunc {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("token exchange request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return "", &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode token exchange response: %w", err)
		}
		if out.AccessToken == "" {
			return "", fmt.Errorf("token exchange returned an empty access token")
		}
		return out.AccessToken, nil
	}
}
