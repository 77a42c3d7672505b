// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user lookup and moderation actions, plus the OAuth pieces the login flow needs.
package twitchapi

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

const defaultBaseURL = "https://api.twitch.tv/helix"

// TokenProvider yields a bearer token for Helix calls. Implemented by the app
// TokenSource (client credentials) and the UserTokenSource (login flow).
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// User is the subset of a Helix user record the bot cares about.
type User struct {
	ID          string
	Login       string
	DisplayName string
	CreatedAt   time.Time
}

// HelixClient provides the Helix methods needed for vetting and enforcement.
type HelixClient struct {
	Tokens     TokenProvider
	ClientID   string
	HTTPClient *http.Client
	BaseURL    string // override for tests; defaults to the public Helix endpoint
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultBaseURL
}

// UserByLogin resolves a login name to its user record, including creation time.
func (hc *HelixClient) UserByLogin(ctx context.Context, login string) (User, error) {
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	tok, err := hc.Tokens.Get(ctx)
	if err != nil {
		return User{}, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users", nil)
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return User{}, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return User{}, fmt.Errorf("helix users request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID          string    `json:"id"`
			Login       string    `json:"login"`
			DisplayName string    `json:"display_name"`
			CreatedAt   time.Time `json:"created_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	d := body.Data[0]
	return User{ID: d.ID, Login: d.Login, DisplayName: d.DisplayName, CreatedAt: d.CreatedAt}, nil
}

// UserForToken resolves the identity that owns an access token. Used by the login
// flow, where the freshly exchanged token may belong to a streamer inviting the bot.
func (hc *HelixClient) UserForToken(ctx context.Context, accessToken string) (User, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/users", nil)
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return User{}, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return User{}, fmt.Errorf("helix users request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID          string    `json:"id"`
			Login       string    `json:"login"`
			DisplayName string    `json:"display_name"`
			CreatedAt   time.Time `json:"created_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	d := body.Data[0]
	return User{ID: d.ID, Login: d.Login, DisplayName: d.DisplayName, CreatedAt: d.CreatedAt}, nil
}

// BanUser issues a ban against userID in the broadcaster's channel, acting as
// moderatorID. Banning an already-banned user returns a 400 from Twitch; that is
// reported as an error but is harmless to issue twice.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID, reason string) error {
	if broadcasterID == "" || moderatorID == "" || userID == "" {
		return fmt.Errorf("missing broadcaster/moderator/user id for ban")
	}
	tok, err := hc.Tokens.Get(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"data": map[string]string{"user_id": userID, "reason": reason},
	})
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, hc.base()+"/moderation/bans", bytes.NewReader(payload))
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix ban request failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
