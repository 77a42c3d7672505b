// Package testutil provides in-memory doubles for the bot's collaborators.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/caesarakalaeii/streamer-shield-bot/twitchapi"
)

// KnownUser mirrors one row of collected telemetry.
type KnownUser struct {
	Confidence *int
	AgeYears   *int
	AgeMonths  *int
	AgeDays    *int
}

// MemoryStore is an in-memory trust store. Set Err to make every call fail,
// simulating an unreachable database.
type MemoryStore struct {
	mu       sync.Mutex
	Err      error
	allowed  map[string]bool
	denied   map[string]bool
	channels map[string]bool
	known    map[string]*KnownUser
	pats     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allowed:  make(map[string]bool),
		denied:   make(map[string]bool),
		channels: make(map[string]bool),
		known:    make(map[string]*KnownUser),
	}
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (m *MemoryStore) IsAllowed(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.allowed[norm(username)], nil
}

func (m *MemoryStore) AddAllowed(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.allowed[norm(username)] = true
	return nil
}

func (m *MemoryStore) RemoveAllowed(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.allowed, norm(username))
	return nil
}

func (m *MemoryStore) IsDenied(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.denied[norm(username)], nil
}

func (m *MemoryStore) AddDenied(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.denied[norm(username)] = true
	return nil
}

func (m *MemoryStore) RemoveDenied(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.denied, norm(username))
	return nil
}

func (m *MemoryStore) Channels(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]string, 0, len(m.channels))
	for ch := range m.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) AddChannel(_ context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.channels[norm(channel)] = true
	return nil
}

func (m *MemoryStore) RemoveChannel(_ context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.channels, norm(channel))
	return nil
}

func (m *MemoryStore) IsKnownUser(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.known[norm(username)]
	return ok, nil
}

func (m *MemoryStore) UpsertKnownUser(_ context.Context, username string, confidence, ageYears, ageMonths, ageDays *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := norm(username)
	row, ok := m.known[key]
	if !ok {
		row = &KnownUser{}
		m.known[key] = row
	}
	if confidence != nil {
		row.Confidence = confidence
	}
	if ageYears != nil {
		row.AgeYears = ageYears
	}
	if ageMonths != nil {
		row.AgeMonths = ageMonths
	}
	if ageDays != nil {
		row.AgeDays = ageDays
	}
	return nil
}

func (m *MemoryStore) IncrementPatCounter(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	m.pats++
	return m.pats, nil
}

// Allowed reports allow-list membership without going through the interface.
func (m *MemoryStore) Allowed(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed[norm(username)]
}

// Denied reports deny-list membership.
func (m *MemoryStore) Denied(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.denied[norm(username)]
}

// HasChannel reports persisted channel membership.
func (m *MemoryStore) HasChannel(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[norm(channel)]
}

// Known returns the collected telemetry row for a username, or nil.
func (m *MemoryStore) Known(username string) *KnownUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[norm(username)]
}

// ScorerFunc adapts a function to the classifier contract.
type ScorerFunc func(ctx context.Context, username string) (int, error)

func (f ScorerFunc) Score(ctx context.Context, username string) (int, error) {
	return f(ctx, username)
}

// StaticDirectory resolves logins from a fixed map, keyed lowercase.
type StaticDirectory map[string]twitchapi.User

func (d StaticDirectory) UserByLogin(_ context.Context, login string) (twitchapi.User, error) {
	u, ok := d[strings.ToLower(login)]
	if !ok {
		return twitchapi.User{}, fmt.Errorf("no such user: %s", login)
	}
	return u, nil
}

// BanCall records one dispatched ban.
type BanCall struct {
	RoomID   string
	TargetID string
	Reason   string
}

// RecordingEnforcer captures bans instead of calling the platform. Set Err to
// simulate rejected bans.
type RecordingEnforcer struct {
	mu   sync.Mutex
	Err  error
	bans []BanCall
}

func (r *RecordingEnforcer) Ban(_ context.Context, roomID, targetID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.bans = append(r.bans, BanCall{RoomID: roomID, TargetID: targetID, Reason: reason})
	return nil
}

func (r *RecordingEnforcer) Bans() []BanCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BanCall, len(r.bans))
	copy(out, r.bans)
	return out
}

// ChatRecorder captures chat-side effects for assertions.
type ChatRecorder struct {
	mu       sync.Mutex
	Joined   []string
	Departed []string
	Said     []string // "channel: text"
}

func (c *ChatRecorder) Join(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Joined = append(c.Joined, channel)
}

func (c *ChatRecorder) Depart(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Departed = append(c.Departed, channel)
}

func (c *ChatRecorder) Say(channel, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Said = append(c.Said, channel+": "+text)
}

// FakeSubs records subscription management calls. Set SubscribeErr to simulate
// a failing backend.
type FakeSubs struct {
	mu           sync.Mutex
	SubscribeErr error
	Subscribed   []string
	Canceled     []string
}

func (f *FakeSubs) Subscribe(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.Subscribed = append(f.Subscribed, channel)
	return nil
}

func (f *FakeSubs) Cancel(_ context.Context, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Canceled = append(f.Canceled, channel)
}
