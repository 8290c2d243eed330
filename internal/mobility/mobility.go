// Package mobility is the default in-process implementation of the
// mobility engine collaborator: given a sequence of waypoints and a
// speed, it advances position every tick and reports idleness. The
// core consumes it only through StartMission/StartCyclicMission/IsIdle/
// CurrentWaypoint/Advance/Position, per the narrow interface in the spec's external-interfaces
// section; it is not part of the coordination core itself.
package mobility

import (
	"github.com/paulmach/orb"

	"eqcsim/internal/geo"
	"eqcsim/internal/model"
)

// Engine tracks one agent's position and mission queue.
type Engine struct {
	pos      model.Point3
	speed    float64
	altitude float64
	queue    []orb.Point
	cyclic   bool
	cycleAt  []orb.Point // the cyclic patrol path, held separately from queue
}

// New creates a mobility engine parked at start, flying at altitude.
func New(start model.Point3, speed float64) *Engine {
	return &Engine{pos: start, speed: speed, altitude: start.Z}
}

// Position returns the current position.
func (e *Engine) Position() model.Point3 { return e.pos }

// SetSpeed updates the travel speed.
func (e *Engine) SetSpeed(speed float64) { e.speed = speed }

// StartCyclicMission configures a cyclic patrol: the waypoint sequence
// is looped forever and the engine never reports idle.
func (e *Engine) StartCyclicMission(waypoints []orb.Point) {
	e.cyclic = true
	e.cycleAt = append([]orb.Point(nil), waypoints...)
	e.queue = nil
}

// StartMission replaces the current mission with a finite sequence of
// waypoints to visit in order; IsIdle becomes true once the last is
// reached.
func (e *Engine) StartMission(waypoints []orb.Point) {
	e.cyclic = false
	e.cycleAt = nil
	e.queue = append([]orb.Point(nil), waypoints...)
}

// IsIdle reports whether the mission queue is empty (non-cyclic only).
func (e *Engine) IsIdle() bool {
	return !e.cyclic && len(e.queue) == 0
}

// CurrentWaypoint returns the next target, or false if idle.
func (e *Engine) CurrentWaypoint() (orb.Point, bool) {
	if e.cyclic {
		if len(e.cycleAt) == 0 {
			return orb.Point{}, false
		}
		return e.cycleAt[0], true
	}
	if len(e.queue) == 0 {
		return orb.Point{}, false
	}
	return e.queue[0], true
}

// Advance moves the agent toward its current target by dt seconds at
// its configured speed, consuming waypoints as they are reached.
// Cyclic missions use geo.PredictPosition so the patrol path is exact
// piecewise-linear interpolation rather than incremental stepping.
func (e *Engine) Advance(simNow, dt float64) {
	if e.cyclic {
		if len(e.cycleAt) == 0 {
			return
		}
		predicted := geo.PredictPosition(geo.Waypoints(e.cycleAt), e.speed, simNow)
		e.pos = model.Point3{X: predicted[0], Y: predicted[1], Z: e.altitude}
		return
	}
	remaining := e.speed * dt
	for remaining > 0 && len(e.queue) > 0 {
		target := e.queue[0]
		cur := orb.Point{e.pos.X, e.pos.Y}
		d := geo.PlanarDistance(cur, target)
		if d <= remaining || d < 1e-9 {
			e.pos.X, e.pos.Y = target[0], target[1]
			e.queue = e.queue[1:]
			remaining -= d
			continue
		}
		frac := remaining / d
		e.pos.X += (target[0] - e.pos.X) * frac
		e.pos.Y += (target[1] - e.pos.Y) * frac
		remaining = 0
	}
}

// PredictAt returns the predicted ground position of a cyclic patrol at
// simulated time t, without mutating engine state. Used by followers to
// compute the rendezvous intercept against a leader they do not own.
func PredictAt(waypoints []orb.Point, speed, t float64) orb.Point {
	return geo.PredictPosition(geo.Waypoints(waypoints), speed, t)
}
