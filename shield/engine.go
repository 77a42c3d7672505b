package shield

import (
	"context"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caesarakalaeii/streamer-shield-bot/telemetry"
	"github.com/caesarakalaeii/streamer-shield-bot/twitchapi"
)

// TrustStore is the persistence contract the engine and coordinator consult.
// All mutating operations are safe to call from multiple concurrent callers;
// duplicate list inserts are no-ops.
type TrustStore interface {
	IsAllowed(ctx context.Context, username string) (bool, error)
	AddAllowed(ctx context.Context, username string) error
	RemoveAllowed(ctx context.Context, username string) error
	IsDenied(ctx context.Context, username string) (bool, error)
	AddDenied(ctx context.Context, username string) error
	RemoveDenied(ctx context.Context, username string) error
	Channels(ctx context.Context) ([]string, error)
	AddChannel(ctx context.Context, channel string) error
	RemoveChannel(ctx context.Context, channel string) error
	IsKnownUser(ctx context.Context, username string) (bool, error)
	UpsertKnownUser(ctx context.Context, username string, confidence, ageYears, ageMonths, ageDays *int) error
	IncrementPatCounter(ctx context.Context) (int64, error)
}

// Scorer rates a username; the result is an integer confidence scaled by 1000.
type Scorer interface {
	Score(ctx context.Context, username string) (int, error)
}

// Directory resolves login names to platform user records.
type Directory interface {
	UserByLogin(ctx context.Context, login string) (twitchapi.User, error)
}

// Enforcer performs the platform-level exclusion action against a target in a room.
type Enforcer interface {
	Ban(ctx context.Context, roomID, targetID, reason string) error
}

// Action is the outcome of one decision pass.
type Action int

const (
	ActionAllow Action = iota
	ActionDeny
	ActionUnclassified
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionDeny:
		return "deny"
	case ActionUnclassified:
		return "unclassified"
	}
	return "unknown"
}

// Reason records which policy branch produced the action.
type Reason string

const (
	ReasonPrivileged       Reason = "privileged"
	ReasonAllowList        Reason = "allowlist"
	ReasonDenyList         Reason = "denylist"
	ReasonTenure           Reason = "tenure"
	ReasonClassifier       Reason = "classifier"
	ReasonClassifierDown   Reason = "classifier_unavailable"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Decision is the result of one pass over a candidate.
type Decision struct {
	Action   Action
	Reason   Reason
	Enforced bool // deny only: the ban was dispatched and accepted
	// Confidence is the classifier output x1000, or -1 when no score was obtained.
	Confidence int
}

// EngineConfig wires the engine's collaborators and policy knobs.
type EngineConfig struct {
	Store              TrustStore
	Scorer             Scorer
	Directory          Directory
	Enforcer           Enforcer
	Gate               *Gate
	CollectData        bool
	AgeThresholdMonths int
	BanReason          string
	Now                func() time.Time // nil means time.Now
}

// Engine evaluates the ordered vetting policy for each candidate. Classifier and
// store failures degrade the single decision (fail-open to unclassified, logged
// only); they are never raised to the ingestion loop.
type Engine struct {
	store     TrustStore
	scorer    Scorer
	dir       Directory
	enforcer  Enforcer
	gate      *Gate
	collect   bool
	threshold int
	banReason string
	now       func() time.Time
	tracer    trace.Tracer
}

func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		scorer:    cfg.Scorer,
		dir:       cfg.Directory,
		enforcer:  cfg.Enforcer,
		gate:      cfg.Gate,
		collect:   cfg.CollectData,
		threshold: cfg.AgeThresholdMonths,
		banReason: cfg.BanReason,
		now:       now,
		tracer:    telemetry.Tracer("shield"),
	}
}

// Run consumes candidates until the channel closes or the context is canceled.
// Decisions for different candidates are independent; a failed pass degrades and
// the loop continues.
func (e *Engine) Run(ctx context.Context, in <-chan Candidate) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			start := time.Now()
			e.Decide(ctx, c)
			telemetry.ObserveDecision(time.Since(start).Seconds())
		}
	}
}

// Decide evaluates the policy for one candidate, strictly in order, short-circuiting
// on the first matching branch:
//
//  1. privilege short-circuit (message-sourced only; allow-lists the sender)
//  2. allow-list membership
//  3. deny-list membership (enforced only while the gate is armed)
//  4. classifier score; a failed call degrades to unclassified (fail open)
//  5. known-user telemetry write (best effort, never blocks the decision)
//  6. account-age tenure override
//  7. final verdict from the score, rounding half away from zero
func (e *Engine) Decide(ctx context.Context, c Candidate) Decision {
	ctx, span := e.tracer.Start(ctx, "shield.decide")
	defer span.End()

	d := e.decide(ctx, c)

	span.SetAttributes(
		attribute.String("candidate.username", c.Username),
		attribute.String("candidate.source", c.Source.String()),
		attribute.String("decision.action", d.Action.String()),
		attribute.String("decision.reason", string(d.Reason)),
		attribute.Bool("decision.enforced", d.Enforced),
	)
	telemetry.CountDecision(d.Action.String())
	return d
}

func (e *Engine) decide(ctx context.Context, c Candidate) Decision {
	// 1. Privileged chat participants are presumptively trusted and remembered.
	if c.Source == SourceMessage && c.Privileged {
		if err := e.store.AddAllowed(ctx, c.Username); err != nil {
			telemetry.CountStoreFailure()
			slog.Error("failed to allow-list privileged user", slog.String("user", c.Username), slog.Any("err", err))
		}
		return Decision{Action: ActionAllow, Reason: ReasonPrivileged, Confidence: -1}
	}

	// 2. Allow list wins over everything, including deny-list membership.
	allowed, err := e.store.IsAllowed(ctx, c.Username)
	if err != nil {
		return e.storeDegraded(c, err)
	}
	if allowed {
		slog.Info("user found in whitelist", slog.String("user", c.Username))
		return Decision{Action: ActionAllow, Reason: ReasonAllowList, Confidence: -1}
	}

	// 3. Deny list: enforcement targets the room the event originated in. The gate
	// suppresses the external effect, not the detection.
	denied, err := e.store.IsDenied(ctx, c.Username)
	if err != nil {
		return e.storeDegraded(c, err)
	}
	if denied {
		slog.Warn("user found in blacklist", slog.String("user", c.Username))
		d := Decision{Action: ActionDeny, Reason: ReasonDenyList, Confidence: -1}
		d.Enforced = e.maybeEnforce(ctx, c)
		return d
	}

	// 4. External scoring. Fail open: without a score we neither allow-list nor ban.
	conf, err := e.scorer.Score(ctx, c.Username)
	if err != nil {
		telemetry.CountClassifierFailure()
		slog.Error("classifier call failed", slog.String("user", c.Username), slog.Any("err", err))
		return Decision{Action: ActionUnclassified, Reason: ReasonClassifierDown, Confidence: -1}
	}

	user, lookupErr := e.dir.UserByLogin(ctx, c.Username)
	if lookupErr != nil {
		slog.Warn("user lookup failed, skipping age heuristics", slog.String("user", c.Username), slog.Any("err", lookupErr))
	}

	// 5. Telemetry write, at most once per username. Never blocks the decision.
	if e.collect && lookupErr == nil {
		e.collectKnownUser(ctx, c.Username, conf, user.CreatedAt)
	}

	// 6. Tenure override: accounts older than the threshold are trusted regardless
	// of the score. Coarse calendar-field subtraction, negatives accepted.
	if lookupErr == nil {
		years, months, _ := accountAge(e.now(), user.CreatedAt)
		if years > 0 || months > e.threshold {
			slog.Info("account older than threshold, classified as trusted",
				slog.String("user", c.Username),
				slog.Int("age_years", years),
				slog.Int("age_months", months),
				slog.Int("confidence", conf))
			return Decision{Action: ActionAllow, Reason: ReasonTenure, Confidence: conf}
		}
	}

	// 7. Final verdict. Rounds half away from zero: conf >= 500 of 1000 is a deny.
	if math.Round(float64(conf)/1000) >= 1 {
		slog.Warn("user classified as scammer",
			slog.String("user", c.Username), slog.Int("confidence", conf))
		d := Decision{Action: ActionDeny, Reason: ReasonClassifier, Confidence: conf}
		d.Enforced = e.maybeEnforce(ctx, c)
		return d
	}
	slog.Info("user classified as human",
		slog.String("user", c.Username), slog.Int("confidence", conf))
	return Decision{Action: ActionAllow, Reason: ReasonClassifier, Confidence: conf}
}

func (e *Engine) storeDegraded(c Candidate, err error) Decision {
	telemetry.CountStoreFailure()
	slog.Error("trust store unavailable, decision degraded",
		slog.String("user", c.Username), slog.Any("err", err))
	return Decision{Action: ActionUnclassified, Reason: ReasonStoreUnavailable, Confidence: -1}
}

// maybeEnforce dispatches the ban when the gate is armed. Returns true only when
// the ban was accepted by the platform. Issuing the same ban twice is harmless.
func (e *Engine) maybeEnforce(ctx context.Context, c Candidate) bool {
	if !e.gate.Armed() {
		slog.Warn("enforcement suppressed: shield is disarmed", slog.String("user", c.Username))
		return false
	}
	roomID := c.RoomID
	if roomID == "" {
		room, err := e.dir.UserByLogin(ctx, c.Room)
		if err != nil {
			slog.Error("failed to resolve room for enforcement",
				slog.String("room", c.Room), slog.Any("err", err))
			return false
		}
		roomID = room.ID
	}
	target, err := e.dir.UserByLogin(ctx, c.Username)
	if err != nil {
		slog.Error("failed to resolve target for enforcement",
			slog.String("user", c.Username), slog.Any("err", err))
		return false
	}
	if err := e.enforcer.Ban(ctx, roomID, target.ID, e.banReason); err != nil {
		slog.Error("ban dispatch failed",
			slog.String("user", c.Username), slog.String("room_id", roomID), slog.Any("err", err))
		return false
	}
	telemetry.CountEnforcement()
	slog.Warn("banned user", slog.String("user", c.Username), slog.String("room_id", roomID))
	return true
}

func (e *Engine) collectKnownUser(ctx context.Context, username string, conf int, createdAt time.Time) {
	known, err := e.store.IsKnownUser(ctx, username)
	if err != nil {
		telemetry.CountStoreFailure()
		slog.Warn("known-user check failed", slog.String("user", username), slog.Any("err", err))
		return
	}
	if known {
		return
	}
	years, months, days := accountAge(e.now(), createdAt)
	confidence := int(math.Floor(float64(conf)))
	if err := e.store.UpsertKnownUser(ctx, username, &confidence, &years, &months, &days); err != nil {
		telemetry.CountStoreFailure()
		slog.Warn("known-user write failed", slog.String("user", username), slog.Any("err", err))
	}
}

// accountAge computes the account's calendar age as raw field deltas. No day-count
// normalization: months and days can go negative near boundaries. The tenure check
// only ever widens trust, so a negative component can delay the override but never
// cause enforcement.
func accountAge(now, createdAt time.Time) (years, months, days int) {
	years = now.Year() - createdAt.Year()
	months = int(now.Month()) - int(createdAt.Month())
	days = now.Day() - createdAt.Day()
	return years, months, days
}
