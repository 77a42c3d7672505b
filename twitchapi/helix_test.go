package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticTokens struct{ tok string }

func (s staticTokens) Get(context.Context) (string, error) { return s.tok, nil }

func TestHelixClient_UserByLogin(t *testing.T) {
	created := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		login       string
		response    any
		statusCode  int
		wantID      string
		wantErr     bool
		errContains string
	}{
		{
			name:  "successful lookup",
			login: "testuser",
			response: map[string]any{
				"data": []map[string]any{
					{"id": "12345", "login": "testuser", "display_name": "TestUser", "created_at": created.Format(time.RFC3339)},
				},
			},
			statusCode: http.StatusOK,
			wantID:     "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			response:    map[string]any{"data": []map[string]any{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
		{
			name:        "helix error",
			login:       "testuser",
			response:    map[string]string{"error": "Unauthorized"},
			statusCode:  http.StatusUnauthorized,
			wantErr:     true,
			errContains: "helix users request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if tt.login != "" && r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			client := &HelixClient{
				Tokens:   staticTokens{"test-token"},
				ClientID: "test-client-id",
				BaseURL:  server.URL,
			}

			user, err := client.UserByLogin(context.Background(), tt.login)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("UserByLogin() = nil error, want error containing %q", tt.errContains)
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("UserByLogin() error = %v, want containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("UserByLogin() error: %v", err)
			}
			if user.ID != tt.wantID {
				t.Errorf("UserByLogin().ID = %s, want %s", user.ID, tt.wantID)
			}
			if !user.CreatedAt.Equal(created) {
				t.Errorf("UserByLogin().CreatedAt = %v, want %v", user.CreatedAt, created)
			}
		})
	}
}

func TestHelixClient_BanUser(t *testing.T) {
	var gotBody struct {
		Data struct {
			UserID string `json:"user_id"`
			Reason string `json:"reason"`
		} `json:"data"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Query().Get("broadcaster_id") != "111" || r.URL.Query().Get("moderator_id") != "222" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &HelixClient{Tokens: staticTokens{"test-token"}, ClientID: "cid", BaseURL: server.URL}
	if err := client.BanUser(context.Background(), "111", "222", "333", "be nice"); err != nil {
		t.Fatalf("BanUser() error: %v", err)
	}
	if gotBody.Data.UserID != "333" || gotBody.Data.Reason != "be nice" {
		t.Errorf("ban payload = %+v, want user 333 with reason", gotBody)
	}
}

func TestHelixClient_BanUserRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user already banned", http.StatusBadRequest)
	}))
	defer server.Close()

	client := &HelixClient{Tokens: staticTokens{"test-token"}, ClientID: "cid", BaseURL: server.URL}
	err := client.BanUser(context.Background(), "111", "222", "333", "reason")
	if err == nil || !strings.Contains(err.Error(), "helix ban request failed") {
		t.Fatalf("BanUser() error = %v, want ban request failure", err)
	}
}

func TestHelixClient_BanUserMissingIDs(t *testing.T) {
	client := &HelixClient{Tokens: staticTokens{"t"}, ClientID: "cid"}
	if err := client.BanUser(context.Background(), "", "222", "333", "r"); err == nil {
		t.Fatal("BanUser() with empty broadcaster = nil error, want error")
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	u, err := BuildAuthorizeURL("cid", "https://example.com/cb", "chat:read chat:edit", "state123")
	if err != nil {
		t.Fatalf("BuildAuthorizeURL() error: %v", err)
	}
	for _, want := range []string{"client_id=cid", "state=state123", "response_type=code"} {
		if !strings.Contains(u, want) {
			t.Errorf("authorize URL %q missing %q", u, want)
		}
	}
	if _, err := BuildAuthorizeURL("", "", "", ""); err == nil {
		t.Error("BuildAuthorizeURL() with empty args = nil error, want error")
	}
}

func TestUserTokenSource(t *testing.T) {
	var uts UserTokenSource
	if _, err := uts.Get(context.Background()); err == nil {
		t.Fatal("Get() before login = nil error, want error")
	}
	uts.Set("user-token")
	tok, err := uts.Get(context.Background())
	if err != nil || tok != "user-token" {
		t.Fatalf("Get() = %q, %v; want user-token, nil", tok, err)
	}
}
