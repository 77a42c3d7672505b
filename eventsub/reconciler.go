package eventsub

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/caesarakalaeii/streamer-shield-bot/telemetry"
	"github.com/caesarakalaeii/streamer-shield-bot/twitchapi"
)

// State is the per-channel subscription lifecycle.
type State int

const (
	Unsubscribed State = iota
	SubscriptionPending
	Subscribed
)

func (s State) String() string {
	switch s {
	case SubscriptionPending:
		return "pending"
	case Subscribed:
		return "subscribed"
	}
	return "unsubscribed"
}

// Resolver maps channel logins to platform user records.
type Resolver interface {
	UserByLogin(ctx context.Context, login string) (twitchapi.User, error)
}

type channelSub struct {
	state         State
	id            string
	broadcasterID string
}

// Reconciler tracks one subscription per channel. Transitions:
// Unsubscribed -> SubscriptionPending -> Subscribed, with Pending -> Unsubscribed on
// conflict, timeout, or backend error (logged, not retried). A revocation notice
// moves a channel back to Unsubscribed; re-subscribing requires an explicit rejoin.
type Reconciler struct {
	transport   Transport
	resolver    Resolver
	moderatorID string // the bot's own user id, required by channel.follow v2

	mu   sync.Mutex
	subs map[string]*channelSub // keyed by channel login
}

func NewReconciler(transport Transport, resolver Resolver, moderatorID string) *Reconciler {
	return &Reconciler{
		transport:   transport,
		resolver:    resolver,
		moderatorID: moderatorID,
		subs:        make(map[string]*channelSub),
	}
}

// SetModeratorID records the bot's own user id once the login flow resolved it.
// Subscriptions cannot be established before this is set.
func (r *Reconciler) SetModeratorID(id string) {
	r.mu.Lock()
	r.moderatorID = id
	r.mu.Unlock()
}

// Reset unconditionally tears down all existing subscriptions and clears local
// state. Run once at startup before re-establishing per-channel subscriptions.
func (r *Reconciler) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.subs = make(map[string]*channelSub)
	r.mu.Unlock()
	telemetry.SetActiveSubscriptions(0)
	if err := r.transport.DeleteAllSubscriptions(ctx); err != nil {
		return err
	}
	slog.Info("cleared all existing follow subscriptions")
	return nil
}

// Subscribe establishes a follow subscription for a channel. Idempotent: a channel
// already subscribed (or mid-flight) is left alone.
func (r *Reconciler) Subscribe(ctx context.Context, channel string) error {
	channel = strings.ToLower(channel)

	r.mu.Lock()
	sub, ok := r.subs[channel]
	if ok && sub.state != Unsubscribed {
		r.mu.Unlock()
		return nil
	}
	if !ok {
		sub = &channelSub{}
		r.subs[channel] = sub
	}
	sub.state = SubscriptionPending
	r.mu.Unlock()

	r.mu.Lock()
	moderatorID := r.moderatorID
	r.mu.Unlock()

	fail := func(err error) error {
		r.mu.Lock()
		sub.state = Unsubscribed
		r.mu.Unlock()
		telemetry.CountSubscriptionError()
		slog.Error("follow subscription failed", slog.String("channel", channel), slog.Any("err", err))
		return err
	}

	if moderatorID == "" {
		return fail(errors.New("moderator id not set: login has not completed"))
	}
	user, err := r.resolver.UserByLogin(ctx, channel)
	if err != nil {
		return fail(err)
	}
	id, err := r.transport.CreateFollowSubscription(ctx, user.ID, moderatorID)
	if err != nil {
		return fail(err)
	}

	r.mu.Lock()
	sub.state = Subscribed
	sub.id = id
	sub.broadcasterID = user.ID
	r.mu.Unlock()
	r.updateGauge()
	slog.Info("follow subscription established", slog.String("channel", channel), slog.String("id", id))
	return nil
}

// Cancel removes the subscription for a channel, if any.
func (r *Reconciler) Cancel(ctx context.Context, channel string) {
	channel = strings.ToLower(channel)

	r.mu.Lock()
	sub, ok := r.subs[channel]
	if !ok {
		r.mu.Unlock()
		return
	}
	id := sub.id
	sub.state = Unsubscribed
	sub.id = ""
	r.mu.Unlock()
	r.updateGauge()

	if id == "" {
		return
	}
	if err := r.transport.DeleteSubscription(ctx, id); err != nil {
		slog.Warn("failed to delete follow subscription",
			slog.String("channel", channel), slog.String("id", id), slog.Any("err", err))
	}
}

// HandleRevocation transitions the channel owning broadcasterID back to
// Unsubscribed. No automatic resubscribe: the operator re-triggers via rejoin.
func (r *Reconciler) HandleRevocation(broadcasterID string) {
	r.mu.Lock()
	var channel string
	for name, sub := range r.subs {
		if sub.broadcasterID == broadcasterID {
			sub.state = Unsubscribed
			sub.id = ""
			channel = name
			break
		}
	}
	r.mu.Unlock()
	r.updateGauge()
	slog.Error("follow subscription revoked",
		slog.String("channel", channel), slog.String("broadcaster_id", broadcasterID))
}

// StateOf reports the current lifecycle state for a channel.
func (r *Reconciler) StateOf(channel string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[strings.ToLower(channel)]; ok {
		return sub.state
	}
	return Unsubscribed
}

func (r *Reconciler) updateGauge() {
	r.mu.Lock()
	n := 0
	for _, sub := range r.subs {
		if sub.state == Subscribed {
			n++
		}
	}
	r.mu.Unlock()
	telemetry.SetActiveSubscriptions(n)
}
