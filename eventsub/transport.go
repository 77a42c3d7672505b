// Package eventsub keeps per-channel follow subscriptions consistent with channel
// membership. It contains the Helix EventSub transport, the reconciler state
// machine, and webhook signature verification.
package eventsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/caesarakalaeii/streamer-shield-bot/twitchapi"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// Subscription failures by backend class. Logged per channel, never retried
// automatically.
var (
	ErrConflict = errors.New("eventsub subscription conflict")
	ErrBackend  = errors.New("eventsub backend error")
)

// Transport creates and deletes follow subscriptions on the platform.
type Transport interface {
	CreateFollowSubscription(ctx context.Context, broadcasterID, moderatorID string) (id string, err error)
	DeleteSubscription(ctx context.Context, id string) error
	DeleteAllSubscriptions(ctx context.Context) error
}

// HelixTransport implements Transport against the Helix EventSub API using an app
// access token and webhook delivery.
type HelixTransport struct {
	ClientID   string
	Tokens     twitchapi.TokenProvider
	HTTPClient *http.Client
	BaseURL    string // override for tests
	Callback   string // public URL Twitch delivers notifications to
	Secret     string // HMAC secret shared with the webhook receiver
}

func (t *HelixTransport) http() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

func (t *HelixTransport) base() string {
	if t.BaseURL != "" {
		return t.BaseURL
	}
	return defaultBaseURL
}

func (t *HelixTransport) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	tok, err := t.Tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", t.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.http().Do(req)
}

// CreateFollowSubscription registers a channel.follow (v2) webhook subscription.
func (t *HelixTransport) CreateFollowSubscription(ctx context.Context, broadcasterID, moderatorID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"type":    "channel.follow",
		"version": "2",
		"condition": map[string]string{
			"broadcaster_user_id": broadcasterID,
			"moderator_user_id":   moderatorID,
		},
		"transport": map[string]string{
			"method":   "webhook",
			"callback": t.Callback,
			"secret":   t.Secret,
		},
	})
	if err != nil {
		return "", err
	}
	resp, err := t.do(ctx, http.MethodPost, t.base()+"/eventsub/subscriptions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	switch {
	case resp.StatusCode == http.StatusAccepted:
		// fallthrough to decode
	case resp.StatusCode == http.StatusConflict:
		return "", fmt.Errorf("%w: broadcaster %s", ErrConflict, broadcasterID)
	default:
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: %s: %s", ErrBackend, resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("%w: empty subscription response", ErrBackend)
	}
	return body.Data[0].ID, nil
}

// DeleteSubscription removes one subscription by id.
func (t *HelixTransport) DeleteSubscription(ctx context.Context, id string) error {
	resp, err := t.do(ctx, http.MethodDelete, t.base()+"/eventsub/subscriptions?id="+id, nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s: %s", ErrBackend, resp.Status, string(b))
	}
	return nil
}

// DeleteAllSubscriptions tears down every subscription owned by the application.
// Called unconditionally on startup; stale subscriptions otherwise break redelivery.
func (t *HelixTransport) DeleteAllSubscriptions(ctx context.Context) error {
	resp, err := t.do(ctx, http.MethodGet, t.base()+"/eventsub/subscriptions", nil)
	if err != nil {
		return err
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: list subscriptions: %s", ErrBackend, resp.Status)
	}
	if decodeErr != nil {
		return decodeErr
	}
	for _, sub := range body.Data {
		if err := t.DeleteSubscription(ctx, sub.ID); err != nil {
			slog.Warn("failed to delete subscription", slog.String("id", sub.ID), slog.Any("err", err))
		}
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
