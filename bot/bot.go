// Package bot owns the Twitch IRC connection: it feeds chat and join events into
// the decision queue, dispatches in-chat commands, and exposes join/leave/say to
// the command coordinator.
package bot

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/caesarakalaeii/streamer-shield-bot/config"
	"github.com/caesarakalaeii/streamer-shield-bot/shield"
)

const greeting = "This Chat is now protected with StreamerShield! protecc"

// Bot wraps the IRC client. It implements shield.ChatClient.
type Bot struct {
	client     *twitch.Client
	cfg        *config.Config
	candidates chan<- shield.Candidate
	store      shield.TrustStore
	subs       shield.Subscriptions
	coord      *shield.Coordinator
	say        func(channel, text string)

	ctx context.Context
}

// New builds the bot around a user OAuth token obtained from the login flow.
func New(cfg *config.Config, userToken string, store shield.TrustStore, subs shield.Subscriptions, candidates chan<- shield.Candidate) *Bot {
	b := &Bot{
		client:     twitch.NewClient(cfg.BotUsername, "oauth:"+userToken),
		cfg:        cfg,
		candidates: candidates,
		store:      store,
		subs:       subs,
	}
	b.say = b.client.Say
	b.client.OnConnect(b.onConnect)
	b.client.OnPrivateMessage(b.onMessage)
	b.client.OnUserJoinMessage(b.onJoin)
	b.client.OnSelfJoinMessage(b.onSelfJoin)
	return b
}

// SetCoordinator wires the command coordinator. Must be called before Run; the
// coordinator in turn holds the bot as its chat client.
func (b *Bot) SetCoordinator(coord *shield.Coordinator) { b.coord = coord }

// Run connects to chat and blocks until the context is canceled or the
// connection fails.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		b.client.Disconnect()
		close(done)
	}()
	err := b.client.Connect()
	select {
	case <-done:
		return nil // shutdown requested; Disconnect caused the Connect error
	default:
	}
	return err
}

// shield.ChatClient -----------------------------------------------------------

func (b *Bot) Join(channel string)      { b.client.Join(channel) }
func (b *Bot) Depart(channel string)    { b.client.Depart(channel) }
func (b *Bot) Say(channel, text string) { b.say(channel, text) }

// handlers --------------------------------------------------------------------

func (b *Bot) onConnect() {
	slog.Info("connected to chat", slog.String("user", b.cfg.BotUsername))
	channels, err := b.store.Channels(b.ctx)
	if err != nil {
		slog.Error("failed to load joinable channels", slog.Any("err", err))
	}
	channels = append(channels, strings.ToLower(b.cfg.BotUsername))
	for _, ch := range channels {
		b.client.Join(ch)
		if err := b.subs.Subscribe(b.ctx, ch); err != nil {
			slog.Error("follow subscription not initialized", slog.String("channel", ch), slog.Any("err", err))
			continue
		}
		slog.Info("follow subscription initialized", slog.String("channel", ch))
	}
}

// onSelfJoin fires once the server confirms the bot entered a room; the greeting
// waits for this so it lands after the join, once per joined room.
func (b *Bot) onSelfJoin(ev twitch.UserJoinMessage) {
	slog.Info("joined channel", slog.String("channel", ev.Channel))
	b.Say(ev.Channel, greeting)
}

func (b *Bot) onMessage(msg twitch.PrivateMessage) {
	if strings.EqualFold(msg.User.Name, b.cfg.BotUsername) {
		return
	}
	if name, arg, ok := parseCommand(msg.Message); ok {
		actor := shield.Actor{
			Name:   strings.ToLower(msg.User.Name),
			IsMod:  msg.User.Badges["moderator"] > 0 || msg.Tags["mod"] == "1",
			Room:   strings.ToLower(msg.Channel),
			RoomID: msg.RoomID,
		}
		room := msg.Channel
		b.coord.Execute(b.ctx, shield.SurfaceChat, name, arg, actor, func(text string) {
			b.client.Say(room, text)
		})
		return
	}
	if c, ok := shield.FromMessage(msg); ok {
		shield.Offer(b.candidates, c)
	}
}

func (b *Bot) onJoin(ev twitch.UserJoinMessage) {
	if strings.EqualFold(ev.User, b.cfg.BotUsername) {
		return
	}
	if c, ok := shield.FromJoin(ev); ok {
		shield.Offer(b.candidates, c)
	}
}

// parseCommand splits "!name arg" into its parts. Returns false for ordinary
// messages.
func parseCommand(message string) (name, arg string, ok bool) {
	if !strings.HasPrefix(message, "!") {
		return "", "", false
	}
	fields := strings.Fields(strings.TrimPrefix(message, "!"))
	if len(fields) == 0 {
		return "", "", false
	}
	name = fields[0]
	if len(fields) > 1 {
		arg = fields[1]
	}
	return name, arg, true
}
