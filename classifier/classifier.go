// Package classifier contains the HTTP client for the StreamerShield scoring service,
// which rates a username's likelihood of belonging to a scammer.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client calls the scoring endpoint. Confidence is an integer scaled by 1000:
// 0 = certainly legitimate, 1000 = certainly a scammer. The x1000 integer is carried
// unchanged through storage and comparison; only presentation converts it.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

func New(url string) *Client {
	return &Client{URL: url, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Score returns the confidence for a username. Any transport error or non-200
// response is a classifier failure; the caller decides how the decision degrades.
func (c *Client) Score(ctx context.Context, username string) (int, error) {
	body, err := json.Marshal(map[string]string{"input_string": username})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, fmt.Errorf("classifier request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("classifier returned %s: %s", resp.Status, string(b))
	}
	var out struct {
		Result int `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("classifier response decode failed: %w", err)
	}
	return out.Result, nil
}
