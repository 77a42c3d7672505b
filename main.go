// Command streamer-shield-bot runs the StreamerShield moderation bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Serves the OAuth login flow and the EventSub webhook receiver.
//   - After the initial login, connects to chat, re-establishes follow
//     subscriptions, and vets every chat/join/follow username through the
//     trust decision engine.
//   - Runs the interactive operator console alongside the chat surfaces.
//
// Shutdown is graceful on SIGINT/SIGTERM or the console stop command.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/caesarakalaeii/streamer-shield-bot/bot"
	"github.com/caesarakalaeii/streamer-shield-bot/classifier"
	"github.com/caesarakalaeii/streamer-shield-bot/config"
	"github.com/caesarakalaeii/streamer-shield-bot/console"
	"github.com/caesarakalaeii/streamer-shield-bot/db"
	"github.com/caesarakalaeii/streamer-shield-bot/eventsub"
	"github.com/caesarakalaeii/streamer-shield-bot/server"
	"github.com/caesarakalaeii/streamer-shield-bot/shield"
	"github.com/caesarakalaeii/streamer-shield-bot/telemetry"
	"github.com/caesarakalaeii/streamer-shield-bot/twitchapi"
)

// modEnforcer dispatches bans acting as the bot's own identity.
type modEnforcer struct {
	helix       *twitchapi.HelixClient
	moderatorID string
}

func (m *modEnforcer) Ban(ctx context.Context, roomID, targetID, reason string) error {
	return m.helix.BanUser(ctx, roomID, m.moderatorID, targetID, reason)
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streamer-shield", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	store := db.NewStore(database)

	// Root context with graceful shutdown; the console stop command cancels it too.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("shield starting up")

	userTokens := &twitchapi.UserTokenSource{}
	appTokens := &twitchapi.TokenSource{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}
	helix := &twitchapi.HelixClient{Tokens: userTokens, ClientID: cfg.ClientID}

	webhookSecret := uuid.NewString()
	transport := &eventsub.HelixTransport{
		ClientID: cfg.ClientID,
		Tokens:   appTokens,
		Callback: strings.TrimRight(cfg.EventSubURL, "/") + "/eventsub/callback",
		Secret:   webhookSecret,
	}
	reconciler := eventsub.NewReconciler(transport, helix, "")

	gate := shield.NewGate(cfg.Armed)
	candidates := make(chan shield.Candidate, 256)
	scorer := classifier.New(cfg.ShieldURL)

	authed := make(chan twitchapi.User, 1)
	handlers := &server.Handlers{
		Cfg:           cfg,
		Helix:         helix,
		UserTokens:    userTokens,
		Candidates:    candidates,
		Reconciler:    reconciler,
		WebhookSecret: webhookSecret,
		OnFirstLogin:  func(u twitchapi.User) { authed <- u },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx, cfg.HTTPAddr, server.NewMux(handlers)) })

	// Block until the operating identity completes the OAuth login.
	self, ok := awaitLogin(ctx, authed)
	if !ok {
		stop()
		if err := g.Wait(); err != nil {
			slog.Error("shutdown error", slog.Any("err", err))
		}
		return
	}
	slog.Info("shield initial login successful", slog.String("user", self.Login))
	slog.Info("welcome home chief")

	reconciler.SetModeratorID(self.ID)
	// Tear down stale subscriptions before resubscribing, otherwise redelivery breaks.
	if err := reconciler.Reset(ctx); err != nil {
		slog.Warn("failed to clear existing subscriptions", slog.Any("err", err))
	}

	token, err := userTokens.Get(ctx)
	if err != nil {
		slog.Error("no user token after login", slog.Any("err", err))
		os.Exit(1)
	}

	engine := shield.NewEngine(shield.EngineConfig{
		Store:              store,
		Scorer:             scorer,
		Directory:          helix,
		Enforcer:           &modEnforcer{helix: helix, moderatorID: self.ID},
		Gate:               gate,
		CollectData:        cfg.CollectData,
		AgeThresholdMonths: cfg.AgeThresholdMonths,
		BanReason:          config.BanReason,
	})

	b := bot.New(cfg, token, store, reconciler, candidates)
	coord := &shield.Coordinator{
		Store:      store,
		Gate:       gate,
		Scorer:     scorer,
		Chat:       b,
		Subs:       reconciler,
		Admin:      cfg.Admin,
		OwnChannel: strings.ToLower(cfg.BotUsername),
		Stop:       stop,
	}
	b.SetCoordinator(coord)
	handlers.SetCoordinator(coord)

	g.Go(func() error {
		engine.Run(ctx, candidates)
		return nil
	})
	g.Go(func() error { return b.Run(ctx) })
	g.Go(func() error {
		c := &console.Console{Coord: coord}
		return c.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutting down with error", slog.Any("err", err))
		return
	}
	slog.Info("shutting down")
}

// awaitLogin blocks until the first OAuth login completes, logging progress the
// whole time. Returns false when shutdown was requested first.
func awaitLogin(ctx context.Context, authed <-chan twitchapi.User) (twitchapi.User, bool) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	slog.Info("shield awaiting initial login")
	for {
		select {
		case <-ctx.Done():
			return twitchapi.User{}, false
		case u := <-authed:
			return u, true
		case <-ticker.C:
			slog.Info("shield awaiting initial login")
		}
	}
}

func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
