package shield

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/caesarakalaeii/streamer-shield-bot/telemetry"
)

// Permission tiers, evaluated per invoking identity and never persisted.
const (
	TierPublic    = 0
	TierModerator = 5 // moderator of the room, or the room owner
	TierOperator  = 10
)

// Surface identifies which control surface a command arrived on. The console is
// already trusted and bypasses the tier check; chat commands are silently denied
// when the actor's tier is insufficient.
type Surface int

const (
	SurfaceConsole Surface = iota
	SurfaceChat
)

func (s Surface) String() string {
	if s == SurfaceConsole {
		return "console"
	}
	return "chat"
}

// Actor is the identity invoking a command on the chat surface.
type Actor struct {
	Name   string
	IsMod  bool
	Room   string // login of the room the command was typed in
	RoomID string
}

// ChatClient is the subset of the chat connection commands need.
type ChatClient interface {
	Join(channel string)
	Depart(channel string)
	Say(channel, text string)
}

// Subscriptions manages per-channel follow subscriptions.
type Subscriptions interface {
	Subscribe(ctx context.Context, channel string) error
	Cancel(ctx context.Context, channel string)
}

// CommandKind enumerates the fixed command set. Names are stable for compatibility.
type CommandKind int

const (
	CmdHelp CommandKind = iota
	CmdStop
	CmdArm
	CmdDisarm
	CmdLeaveMe
	CmdLeave
	CmdWhitelist
	CmdUnwhitelist
	CmdBlacklist
	CmdUnblacklist
	CmdShieldInfo
	CmdPat
	CmdScam
	CmdRestrict
)

type command struct {
	Kind CommandKind
	Name string
	Help string
	Tier int
}

// commandOrder preserves a stable listing for help output.
var commandOrder = []command{
	{CmdHelp, "help", "!help: prints all commands", TierPublic},
	{CmdStop, "stop", "!stop: stops the process (not available from chat)", TierOperator},
	{CmdArm, "arm", "!arm: enables StreamerShield to ban users", TierOperator},
	{CmdDisarm, "disarm", "!disarm: stops StreamerShield from banning users", TierModerator},
	{CmdLeaveMe, "leave_me", "!leave_me: leaves this chat", TierModerator},
	{CmdLeave, "leave", "!leave chat_name: leaves a chat", TierOperator},
	{CmdWhitelist, "whitelist", "!whitelist user_name: whitelist user", TierModerator},
	{CmdUnwhitelist, "unwhitelist", "!unwhitelist user_name: removes user from whitelist", TierModerator},
	{CmdBlacklist, "blacklist", "!blacklist user_name: blacklist user", TierModerator},
	{CmdUnblacklist, "unblacklist", "!unblacklist user_name: removes user from blacklist", TierModerator},
	{CmdShieldInfo, "shield", "!shield: prints info about the shield", TierPublic},
	{CmdShieldInfo, "shield-info", "!shield-info: prints info about the shield", TierPublic},
	{CmdShieldInfo, "streamershield", "!streamershield: prints info about the shield", TierPublic},
	{CmdPat, "pat", "!pat [user_name]: pats user", TierPublic},
	{CmdScam, "scam", "!scam [user_name]: evaluates username, if given", TierPublic},
	{CmdRestrict, "restrict", "!restrict user_name: restricts user (diagnostic)", TierOperator},
}

var commandTable = func() map[string]command {
	m := make(map[string]command, len(commandOrder))
	for _, c := range commandOrder {
		m[c.Name] = c
	}
	return m
}()

const shieldInfo = "StreamerShield is the AI ChatBot to rid twitch once and for all from scammers. More information here: https://linktr.ee/caesarlp"

// Coordinator authorizes and executes commands from all control surfaces, and owns
// the multi-step channel join/leave sequences. Mutations of the same channel key
// serialize; different keys proceed in parallel. List mutations rely on the trust
// store's per-key atomicity.
type Coordinator struct {
	Store      TrustStore
	Gate       *Gate
	Scorer     Scorer
	Chat       ChatClient
	Subs       Subscriptions
	Admin      string // operator identity, tier 10
	OwnChannel string // the bot's own channel; protected from leave
	Stop       func() // initiates process shutdown (console only)

	keys keyedMutex
}

// TierFor computes the permission tier of a chat actor.
func (co *Coordinator) TierFor(a Actor) int {
	name := strings.ToLower(a.Name)
	switch {
	case name != "" && name == co.Admin:
		return TierOperator
	case a.IsMod || (name != "" && name == strings.ToLower(a.Room)):
		return TierModerator
	default:
		return TierPublic
	}
}

// Execute runs one command. reply delivers the user-visible response for the
// invoking surface; internal failures are logged and translated to short
// operator-readable strings, never surfaced raw.
func (co *Coordinator) Execute(ctx context.Context, surface Surface, name, arg string, actor Actor, reply func(string)) {
	cmd, ok := commandTable[strings.ToLower(name)]
	if !ok {
		if surface == SurfaceConsole {
			reply(fmt.Sprintf("Command %s unknown", name))
		}
		return
	}
	if surface == SurfaceChat && co.TierFor(actor) < cmd.Tier {
		telemetry.CountCommandDenied()
		return
	}
	telemetry.CountCommand(surface.String(), cmd.Name)

	arg = strings.TrimPrefix(strings.TrimSpace(arg), "@")

	switch cmd.Kind {
	case CmdHelp:
		co.help(surface, actor, reply)
	case CmdStop:
		if surface == SurfaceChat {
			reply("StreamerShield can only be shutdown via cli")
			return
		}
		reply("Stopping!")
		if co.Stop != nil {
			co.Stop()
		}
	case CmdArm:
		co.Gate.Arm()
		slog.Warn("armed StreamerShield")
		reply("Armed StreamerShield")
	case CmdDisarm:
		co.Gate.Disarm()
		slog.Warn("disarmed StreamerShield")
		reply("Disarmed StreamerShield")
	case CmdLeaveMe:
		if surface == SurfaceConsole {
			reply("Cannot invoke leave_me from cli, please use leave instead")
			return
		}
		if strings.EqualFold(actor.Room, co.OwnChannel) {
			reply("Cannot leave my own channel")
			return
		}
		reply("Leaving... Bye!")
		co.LeaveChannel(ctx, actor.Room)
	case CmdLeave:
		if arg == "" {
			reply("leave requires a channel name")
			return
		}
		if strings.EqualFold(arg, co.OwnChannel) {
			reply("Cannot leave my own channel")
			return
		}
		if surface == SurfaceChat {
			reply("Leaving... Bye!")
		}
		co.LeaveChannel(ctx, arg)
		if surface == SurfaceConsole {
			reply(fmt.Sprintf("Left %s", arg))
		}
	case CmdWhitelist:
		co.listMutation(ctx, reply, arg, co.Store.AddAllowed, "User %s is now whitelisted")
	case CmdUnwhitelist:
		co.listMutation(ctx, reply, arg, co.Store.RemoveAllowed, "User %s is no longer whitelisted")
	case CmdBlacklist:
		co.listMutation(ctx, reply, arg, co.Store.AddDenied, "User %s is now blacklisted")
	case CmdUnblacklist:
		co.listMutation(ctx, reply, arg, co.Store.RemoveDenied, "User %s is no longer blacklisted")
	case CmdShieldInfo:
		reply(shieldInfo)
	case CmdPat:
		co.pat(ctx, surface, arg, actor, reply)
	case CmdScam:
		co.scam(ctx, arg, actor, reply)
	case CmdRestrict:
		if arg == "" {
			reply("restrict requires a user name")
			return
		}
		room := actor.Room
		if room == "" {
			room = co.OwnChannel
		}
		slog.Info("restricting user", slog.String("user", arg), slog.String("room", room))
		reply(fmt.Sprintf("Trying to restrict user %s", arg))
		co.Chat.Say(room, "/restrict "+arg)
	}
}

func (co *Coordinator) help(surface Surface, actor Actor, reply func(string)) {
	if surface == SurfaceConsole {
		for _, c := range commandOrder {
			reply(c.Help)
		}
		return
	}
	// Chat replies cap out around 500 chars; chunk well below that, and only list
	// commands the actor may actually run.
	tier := co.TierFor(actor)
	var b strings.Builder
	for _, c := range commandOrder {
		if tier < c.Tier {
			continue
		}
		entry := c.Help + "; "
		if b.Len()+len(entry) > 255 {
			reply(b.String())
			b.Reset()
		}
		b.WriteString(entry)
	}
	if b.Len() > 0 {
		reply(b.String())
	}
}

func (co *Coordinator) listMutation(ctx context.Context, reply func(string), name string, op func(context.Context, string) error, okFormat string) {
	if name == "" {
		reply("a user name is required")
		return
	}
	if err := op(ctx, name); err != nil {
		telemetry.CountStoreFailure()
		slog.Error("list mutation failed", slog.String("user", name), slog.Any("err", err))
		reply("Unable to update list, contact Admin")
		return
	}
	reply(fmt.Sprintf(okFormat, strings.ToLower(name)))
}

func (co *Coordinator) pat(ctx context.Context, surface Surface, arg string, actor Actor, reply func(string)) {
	if surface == SurfaceConsole {
		reply("You're a good boi!")
		return
	}
	pats, err := co.Store.IncrementPatCounter(ctx)
	if err != nil {
		telemetry.CountStoreFailure()
		slog.Error("pat counter increment failed", slog.Any("err", err))
		reply("The pat counter is napping, try again later")
		return
	}
	if arg == "" || strings.EqualFold(arg, actor.Name) {
		reply(fmt.Sprintf("You just gave yourself a pat on the back! well deserved LoveYourself %d pats have been given", pats))
		return
	}
	reply(fmt.Sprintf("@%s gives @%s a pat! peepoPat %d pats have been given", actor.Name, arg, pats))
}

func (co *Coordinator) scam(ctx context.Context, arg string, actor Actor, reply func(string)) {
	name := arg
	if name == "" {
		name = actor.Name
	}
	if name == "" {
		reply("scam requires a user name")
		return
	}
	conf, err := co.Scorer.Score(ctx, name)
	if err != nil {
		telemetry.CountClassifierFailure()
		slog.Error("classifier call failed", slog.String("user", name), slog.Any("err", err))
		reply("The shield is unavailable right now, try again later")
		return
	}
	// Presentation boundary: x1000 integer becomes a percentage only here.
	reply(fmt.Sprintf("@%s is to %.1f%% a scammer", name, float64(conf)/10))
}

// JoinChannel performs the multi-step join sequence: enter the room, persist the
// membership, establish the follow subscription. Steps for the same channel
// serialize against concurrent join/leave.
func (co *Coordinator) JoinChannel(ctx context.Context, channel string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return "a channel name is required"
	}
	unlock := co.keys.lock(channel)
	defer unlock()

	co.Chat.Join(channel)
	if err := co.Store.AddChannel(ctx, channel); err != nil {
		telemetry.CountStoreFailure()
		slog.Error("failed to persist channel membership", slog.String("channel", channel), slog.Any("err", err))
		return fmt.Sprintf("Joined %s, but could not persist membership", channel)
	}
	if err := co.Subs.Subscribe(ctx, channel); err != nil {
		slog.Error("failed to init follow subscription", slog.String("channel", channel), slog.Any("err", err))
		return "Unable to init EventSub, contact Admin"
	}
	slog.Info("successfully joined channel", slog.String("channel", channel))
	return fmt.Sprintf("Successfully joined %s", channel)
}

// LeaveChannel cancels the follow subscription, removes persisted membership, and
// departs the room.
func (co *Coordinator) LeaveChannel(ctx context.Context, channel string) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return
	}
	unlock := co.keys.lock(channel)
	defer unlock()

	co.Subs.Cancel(ctx, channel)
	if err := co.Store.RemoveChannel(ctx, channel); err != nil {
		telemetry.CountStoreFailure()
		slog.Error("failed to remove channel membership", slog.String("channel", channel), slog.Any("err", err))
	}
	co.Chat.Depart(channel)
	slog.Info("left channel", slog.String("channel", channel))
}

// keyedMutex serializes operations per key while letting different keys proceed
// in parallel. Entries are refcounted and removed once the last holder unlocks,
// so the map stays bounded by the number of in-flight keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
