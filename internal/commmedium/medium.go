// Package commmedium is the default in-process implementation of the
// communication-medium collaborator: point-to-point (SEND) and
// BROADCAST message delivery subject to a transmission range. The core
// consumes it only through SendCommand and UpdatePosition, per the
// spec's narrow interface; range-gating and propagation delay live entirely outside
// the coordination core.
package commmedium

import (
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"eqcsim/internal/geo"
	"eqcsim/internal/model"
	"eqcsim/internal/protocol"
)

// Mode selects unicast vs. broadcast delivery.
type Mode int

const (
	SEND Mode = iota
	BROADCAST
)

// Scheduler is the subset of the engine a medium needs to deliver
// packets on the simulated clock.
type Scheduler interface {
	Now() float64
	DeliverPacket(from, to model.AgentID, env protocol.Envelope, at float64)
}

// Medium gates delivery by planar distance between registered agent
// positions. Zero latency (instantaneous-but-ordered delivery) unless
// configured otherwise, matching the spec's "real-time operation is a
// non-goal" stance.
type Medium struct {
	mu        sync.Mutex
	positions map[model.AgentID]orb.Point
	commRange float64
	latency   float64
	sched     Scheduler
	logger    *slog.Logger
}

// New creates a medium with the given transmission range and
// propagation latency (seconds, may be 0).
func New(commRange, latency float64, sched Scheduler, logger *slog.Logger) *Medium {
	if logger == nil {
		logger = slog.Default()
	}
	return &Medium{
		positions: make(map[model.AgentID]orb.Point),
		commRange: commRange,
		latency:   latency,
		sched:     sched,
		logger:    logger,
	}
}

// UpdatePosition records an agent's current position for range checks.
func (m *Medium) UpdatePosition(agent model.AgentID, pos model.Point3) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[agent] = orb.Point{pos.X, pos.Y}
}

// SendCommand delivers env from `from`. In SEND mode, dest must be
// reachable (within comm range) or the message is silently dropped, as
// the spec treats lost messages as tolerated. In BROADCAST mode every
// other registered agent within range receives a copy.
func (m *Medium) SendCommand(mode Mode, from model.AgentID, env protocol.Envelope, dest model.AgentID) {
	m.mu.Lock()
	fromPos, haveFrom := m.positions[from]
	now := m.sched.Now()
	at := now + m.latency

	if mode == SEND {
		toPos, haveTo := m.positions[dest]
		reachable := haveFrom && haveTo && geo.PlanarDistance(fromPos, toPos) <= m.commRange
		m.mu.Unlock()
		if !reachable {
			m.logger.Debug("commmedium: unicast dropped, out of range", "from", from, "to", dest)
			return
		}
		m.sched.DeliverPacket(from, dest, env, at)
		return
	}

	// BROADCAST
	recipients := make([]model.AgentID, 0, len(m.positions))
	for id, pos := range m.positions {
		if id == from {
			continue
		}
		if haveFrom && geo.PlanarDistance(fromPos, pos) <= m.commRange {
			recipients = append(recipients, id)
		}
	}
	m.mu.Unlock()
	for _, id := range recipients {
		m.sched.DeliverPacket(from, id, env, at)
	}
}
