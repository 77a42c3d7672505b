package eventsub

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/caesarakalaeii/streamer-shield-bot/testutil"
)

type fakeTransport struct {
	mu         sync.Mutex
	createErr  error
	created    []string // broadcaster ids
	deleted    []string // subscription ids
	deletedAll int
	nextID     int
}

func (f *fakeTransport) CreateFollowSubscription(_ context.Context, broadcasterID, moderatorID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if moderatorID == "" {
		return "", fmt.Errorf("%w: missing moderator id", ErrBackend)
	}
	f.created = append(f.created, broadcasterID)
	f.nextID++
	return fmt.Sprintf("sub-%d", f.nextID), nil
}

func (f *fakeTransport) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTransport) DeleteAllSubscriptions(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedAll++
	return nil
}

func testResolver() testutil.StaticDirectory {
	return testutil.StaticDirectory{
		"streamer_a": {ID: "100", Login: "streamer_a"},
		"streamer_b": {ID: "200", Login: "streamer_b"},
	}
}

func TestSubscribeTransitionsToSubscribed(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "bot-1")

	if got := r.StateOf("streamer_a"); got != Unsubscribed {
		t.Fatalf("initial state = %v, want unsubscribed", got)
	}
	if err := r.Subscribe(context.Background(), "Streamer_A"); err != nil {
		t.Fatal(err)
	}
	if got := r.StateOf("streamer_a"); got != Subscribed {
		t.Fatalf("state = %v, want subscribed", got)
	}
	if len(ft.created) != 1 || ft.created[0] != "100" {
		t.Errorf("created = %v", ft.created)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "bot-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.Subscribe(ctx, "streamer_a"); err != nil {
			t.Fatal(err)
		}
	}
	if len(ft.created) != 1 {
		t.Errorf("transport called %d times, want 1", len(ft.created))
	}
}

func TestSubscribeConflictReturnsToUnsubscribed(t *testing.T) {
	ft := &fakeTransport{createErr: ErrConflict}
	r := NewReconciler(ft, testResolver(), "bot-1")

	if err := r.Subscribe(context.Background(), "streamer_a"); err == nil {
		t.Fatal("conflicting subscription reported success")
	}
	if got := r.StateOf("streamer_a"); got != Unsubscribed {
		t.Fatalf("state after conflict = %v, want unsubscribed", got)
	}

	// The channel is retryable once the conflict clears.
	ft.createErr = nil
	if err := r.Subscribe(context.Background(), "streamer_a"); err != nil {
		t.Fatal(err)
	}
	if got := r.StateOf("streamer_a"); got != Subscribed {
		t.Fatalf("state after retry = %v, want subscribed", got)
	}
}

func TestSubscribeUnknownChannelFails(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "bot-1")

	if err := r.Subscribe(context.Background(), "nosuchstreamer"); err == nil {
		t.Fatal("unresolvable channel reported success")
	}
	if got := r.StateOf("nosuchstreamer"); got != Unsubscribed {
		t.Fatalf("state = %v, want unsubscribed", got)
	}
	if len(ft.created) != 0 {
		t.Error("transport was called for an unresolvable channel")
	}
}

func TestSubscribeRequiresModeratorID(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "")

	if err := r.Subscribe(context.Background(), "streamer_a"); err == nil {
		t.Fatal("subscribe before login reported success")
	}

	r.SetModeratorID("bot-1")
	if err := r.Subscribe(context.Background(), "streamer_a"); err != nil {
		t.Fatal(err)
	}
}

func TestCancelDeletesAndResets(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "bot-1")
	ctx := context.Background()

	if err := r.Subscribe(ctx, "streamer_a"); err != nil {
		t.Fatal(err)
	}
	r.Cancel(ctx, "streamer_a")

	if got := r.StateOf("streamer_a"); got != Unsubscribed {
		t.Fatalf("state = %v, want unsubscribed", got)
	}
	if len(ft.deleted) != 1 || ft.deleted[0] != "sub-1" {
		t.Errorf("deleted = %v", ft.deleted)
	}

	// Canceling an untracked channel is a no-op.
	r.Cancel(ctx, "streamer_b")
	if len(ft.deleted) != 1 {
		t.Errorf("cancel of untracked channel deleted %v", ft.deleted)
	}
}

func TestHandleRevocation(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "bot-1")
	ctx := context.Background()

	if err := r.Subscribe(ctx, "streamer_a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(ctx, "streamer_b"); err != nil {
		t.Fatal(err)
	}

	r.HandleRevocation("100")

	if got := r.StateOf("streamer_a"); got != Unsubscribed {
		t.Errorf("revoked channel state = %v, want unsubscribed", got)
	}
	if got := r.StateOf("streamer_b"); got != Subscribed {
		t.Errorf("unrelated channel state = %v, want subscribed", got)
	}
	// No automatic resubscribe.
	if len(ft.created) != 2 {
		t.Errorf("transport called %d times after revocation, want 2", len(ft.created))
	}
}

func TestResetClearsEverything(t *testing.T) {
	ft := &fakeTransport{}
	r := NewReconciler(ft, testResolver(), "bot-1")
	ctx := context.Background()

	if err := r.Subscribe(ctx, "streamer_a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Reset(ctx); err != nil {
		t.Fatal(err)
	}

	if ft.deletedAll != 1 {
		t.Errorf("DeleteAllSubscriptions called %d times, want 1", ft.deletedAll)
	}
	if got := r.StateOf("streamer_a"); got != Unsubscribed {
		t.Errorf("state after reset = %v, want unsubscribed", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Unsubscribed, "unsubscribed"},
		{SubscriptionPending, "pending"},
		{Subscribed, "subscribed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
