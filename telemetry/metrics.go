// Package telemetry provides Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Decision engine
	DecisionsTotal     *prometheus.CounterVec // labeled by action
	EnforcementsTotal  prometheus.Counter
	ClassifierFailures prometheus.Counter
	StoreFailures      prometheus.Counter
	CandidatesDropped  prometheus.Counter
	DecisionDuration   prometheus.Observer

	// Command surfaces
	CommandsTotal  *prometheus.CounterVec // labeled by surface, command
	CommandsDenied prometheus.Counter

	// EventSub
	SubscriptionsActive prometheus.Gauge
	SubscriptionErrors  prometheus.Counter

	// Safety gate: 1=armed, 0=disarmed
	ArmedGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_decisions_total", Help: "Trust decisions by resulting action",
		}, []string{"action"})
		EnforcementsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_enforcements_total", Help: "Ban actions dispatched to Twitch",
		})
		ClassifierFailures = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_classifier_failures_total", Help: "Classifier calls that failed or returned non-200",
		})
		StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_store_failures_total", Help: "Trust store reads/writes that failed during a decision",
		})
		CandidatesDropped = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_candidates_dropped_total", Help: "Candidates dropped because the decision queue was full",
		})
		DecisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "shield_decision_duration_seconds", Help: "Decision pass duration seconds", Buckets: prometheus.DefBuckets,
		})
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_commands_total", Help: "Commands executed by surface and name",
		}, []string{"surface", "command"})
		CommandsDenied = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_commands_denied_total", Help: "Commands silently denied for insufficient permission tier",
		})
		SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shield_eventsub_subscriptions_active", Help: "Follow subscriptions currently in the subscribed state",
		})
		SubscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_eventsub_errors_total", Help: "Follow subscription attempts that failed",
		})
		ArmedGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shield_armed", Help: "Safety gate state: armed=1 disarmed=0",
		})
	})
}

// SetArmed records the safety-gate state.
func SetArmed(armed bool) {
	if ArmedGauge == nil {
		return
	}
	if armed {
		ArmedGauge.Set(1)
	} else {
		ArmedGauge.Set(0)
	}
}

// The helpers below are nil-safe so components can run (and be tested) without Init.

func CountDecision(action string) {
	if DecisionsTotal != nil {
		DecisionsTotal.WithLabelValues(action).Inc()
	}
}

func CountEnforcement() {
	if EnforcementsTotal != nil {
		EnforcementsTotal.Inc()
	}
}

func CountClassifierFailure() {
	if ClassifierFailures != nil {
		ClassifierFailures.Inc()
	}
}

func CountStoreFailure() {
	if StoreFailures != nil {
		StoreFailures.Inc()
	}
}

func CountDroppedCandidate() {
	if CandidatesDropped != nil {
		CandidatesDropped.Inc()
	}
}

func CountCommand(surface, command string) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(surface, command).Inc()
	}
}

func CountCommandDenied() {
	if CommandsDenied != nil {
		CommandsDenied.Inc()
	}
}

func CountSubscriptionError() {
	if SubscriptionErrors != nil {
		SubscriptionErrors.Inc()
	}
}

func SetActiveSubscriptions(n int) {
	if SubscriptionsActive != nil {
		SubscriptionsActive.Set(float64(n))
	}
}

func ObserveDecision(seconds float64) {
	if DecisionDuration != nil {
		DecisionDuration.Observe(seconds)
	}
}
