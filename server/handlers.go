package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/caesarakalaeii/streamer-shield-bot/config"
	"github.com/caesarakalaeii/streamer-shield-bot/eventsub"
	"github.com/caesarakalaeii/streamer-shield-bot/shield"
	"github.com/caesarakalaeii/streamer-shield-bot/twitchapi"
)

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	Cfg           *config.Config
	Helix         *twitchapi.HelixClient
	UserTokens    *twitchapi.UserTokenSource
	Candidates    chan<- shield.Candidate
	Reconciler    *eventsub.Reconciler
	WebhookSecret string

	// OnFirstLogin unblocks the startup wait after the operating identity's token
	// is stored. Set before the server starts, never mutated after.
	OnFirstLogin func(user twitchapi.User)

	// coord handles later logins by streamers inviting the bot. It is published
	// by the main goroutine after the initial login while handler goroutines are
	// already serving, so access goes through the atomic pointer.
	coord atomic.Pointer[shield.Coordinator]

	mu       sync.Mutex
	states   map[string]time.Time
	loggedIn bool
}

// SetCoordinator publishes the command coordinator once startup has built it.
// Login requests arriving before this see a not-ready response.
func (h *Handlers) SetCoordinator(c *shield.Coordinator) {
	h.coord.Store(c)
}

func (h *Handlers) joinStatus(ctx context.Context, login string) string {
	coord := h.coord.Load()
	if coord == nil {
		return "Shield is still starting up, try again shortly"
	}
	return coord.JoinChannel(ctx, login)
}

// HandleLogin redirects the visitor into the Twitch authorization flow with a
// fresh CSRF state.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	h.mu.Lock()
	if h.states == nil {
		h.states = make(map[string]time.Time)
	}
	h.states[state] = time.Now().Add(10 * time.Minute)
	h.mu.Unlock()

	authURL, err := twitchapi.BuildAuthorizeURL(h.Cfg.ClientID, h.Cfg.RedirectURI, h.Cfg.Scopes, state)
	if err != nil {
		slog.Error("failed to build authorize url", slog.Any("err", err))
		http.Error(w, "login unavailable", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleLoginConfirm is the OAuth callback. It validates the CSRF state, exchanges
// the code, and either completes the initial login (unblocking startup) or joins
// the authenticating streamer's own channel.
func (h *Handlers) HandleLoginConfirm(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if !h.consumeState(state) {
		http.Error(w, "Bad state", http.StatusUnauthorized)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res, err := twitchapi.ExchangeAuthCode(ctx, h.Cfg.ClientID, h.Cfg.ClientSecret, code, h.Cfg.RedirectURI)
	if err != nil {
		slog.Error("auth code exchange failed", slog.Any("err", err))
		http.Error(w, "Failed to generate auth token", http.StatusBadRequest)
		return
	}
	user, err := h.Helix.UserForToken(ctx, res.AccessToken)
	if err != nil {
		slog.Error("failed to resolve authenticated user", slog.Any("err", err))
		http.Error(w, "Failed to resolve user", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	first := !h.loggedIn
	h.loggedIn = true
	h.mu.Unlock()

	if first {
		h.UserTokens.Set(res.AccessToken)
		if h.OnFirstLogin != nil {
			h.OnFirstLogin(user)
		}
		slog.Info("initial login successful", slog.String("user", user.Login))
		fmt.Fprint(w, "Welcome home chief!")
		return
	}

	status := h.joinStatus(ctx, user.Login)
	fmt.Fprint(w, status)
}

func (h *Handlers) consumeState(state string) bool {
	if state == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	exp, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return time.Now().Before(exp)
}

// eventSubEnvelope is the common shape of EventSub webhook deliveries.
type eventSubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Condition struct {
			BroadcasterUserID string `json:"broadcaster_user_id"`
		} `json:"condition"`
	} `json:"subscription"`
	Event struct {
		UserLogin         string `json:"user_login"`
		UserName          string `json:"user_name"`
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"event"`
}

// HandleEventSubCallback receives webhook deliveries: verification challenges,
// follow notifications, and revocations. Signature failures are rejected before
// any payload is trusted.
func (h *Handlers) HandleEventSubCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	ok := eventsub.VerifySignature(
		h.WebhookSecret,
		r.Header.Get("Twitch-Eventsub-Message-Id"),
		r.Header.Get("Twitch-Eventsub-Message-Timestamp"),
		body,
		r.Header.Get("Twitch-Eventsub-Message-Signature"),
	)
	if !ok {
		http.Error(w, "bad signature", http.StatusForbidden)
		return
	}

	var env eventSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get("Twitch-Eventsub-Message-Type") {
	case "webhook_callback_verification":
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, env.Challenge)
	case "revocation":
		h.Reconciler.HandleRevocation(env.Subscription.Condition.BroadcasterUserID)
		w.WriteHeader(http.StatusNoContent)
	case "notification":
		if env.Subscription.Type == "channel.follow" {
			slog.Info("follow received", slog.String("user", env.Event.UserLogin))
			if c, ok := shield.FromFollow(env.Event.UserLogin, env.Event.BroadcasterUserID); ok {
				shield.Offer(h.Candidates, c)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleHealthz reports liveness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
