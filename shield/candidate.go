// Package shield implements the trust decision engine and the command coordination
// around it: the candidate model, the safety gate, the ordered vetting policy, and
// the permission-tiered command table shared by the console and chat surfaces.
package shield

import (
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/caesarakalaeii/streamer-shield-bot/telemetry"
)

// SourceKind identifies which platform event produced a candidate.
type SourceKind int

const (
	SourceMessage SourceKind = iota
	SourceJoin
	SourceFollow
)

func (k SourceKind) String() string {
	switch k {
	case SourceMessage:
		return "message"
	case SourceJoin:
		return "join"
	case SourceFollow:
		return "follow"
	}
	return "unknown"
}

// Candidate is a normalized "identity produced an event" record awaiting a trust
// decision. It is created per inbound event and discarded after one decision pass.
type Candidate struct {
	Username string
	Room     string // login of the originating room
	RoomID   string // Helix id of the originating room, when the event carried one
	Source   SourceKind
	// Privileged is set for message-sourced candidates whose sender holds an
	// elevated badge (moderator/VIP/subscriber/turbo/broadcaster).
	Privileged bool
}

// privilegeBadges are the badge keys that mark a chat participant as presumptively
// trusted.
var privilegeBadges = []string{"moderator", "vip", "subscriber", "turbo", "broadcaster"}

// FromMessage converts a chat message into a candidate. Returns false for events
// without an actionable username.
func FromMessage(msg twitch.PrivateMessage) (Candidate, bool) {
	name := strings.ToLower(strings.TrimSpace(msg.User.Name))
	if name == "" {
		return Candidate{}, false
	}
	privileged := false
	for _, b := range privilegeBadges {
		if msg.User.Badges[b] > 0 {
			privileged = true
			break
		}
	}
	return Candidate{
		Username:   name,
		Room:       strings.ToLower(msg.Channel),
		RoomID:     msg.RoomID,
		Source:     SourceMessage,
		Privileged: privileged,
	}, true
}

// FromJoin converts a channel join event into a candidate.
func FromJoin(ev twitch.UserJoinMessage) (Candidate, bool) {
	name := strings.ToLower(strings.TrimSpace(ev.User))
	if name == "" {
		return Candidate{}, false
	}
	return Candidate{
		Username: name,
		Room:     strings.ToLower(ev.Channel),
		Source:   SourceJoin,
	}, true
}

// Offer enqueues a candidate without blocking the event source. When the decision
// queue is full the candidate is dropped and counted; ingestion latency wins over
// completeness.
func Offer(queue chan<- Candidate, c Candidate) bool {
	select {
	case queue <- c:
		return true
	default:
		telemetry.CountDroppedCandidate()
		slog.Warn("decision queue full, dropping candidate",
			slog.String("user", c.Username), slog.String("source", c.Source.String()))
		return false
	}
}

// FromFollow converts a follow notification into a candidate. Follow events carry
// the broadcaster's Helix id rather than a room login.
func FromFollow(login, broadcasterID string) (Candidate, bool) {
	name := strings.ToLower(strings.TrimSpace(login))
	if name == "" {
		return Candidate{}, false
	}
	return Candidate{
		Username: name,
		RoomID:   broadcasterID,
		Source:   SourceFollow,
	}, true
}
