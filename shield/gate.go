package shield

import (
	"sync/atomic"

	"github.com/caesarakalaeii/streamer-shield-bot/telemetry"
)

// Gate is the process-wide safety switch. While disarmed, deny verdicts are logged
// but never enforced. The flag is read by every decision pass and written by
// authorized commands; reads and writes are atomic, and a write is visible to
// decisions issued after it completes. The gate is never persisted: it resets to
// the configured default on restart.
type Gate struct {
	armed atomic.Bool
}

func NewGate(armed bool) *Gate {
	g := &Gate{}
	g.armed.Store(armed)
	telemetry.SetArmed(armed)
	return g
}

func (g *Gate) Arm() {
	g.armed.Store(true)
	telemetry.SetArmed(true)
}

func (g *Gate) Disarm() {
	g.armed.Store(false)
	telemetry.SetArmed(false)
}

func (g *Gate) Armed() bool { return g.armed.Load() }
