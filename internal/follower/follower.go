// Package follower implements the V-QC follower agent: satellite
// rendezvous prediction, the mission queue merge on ASSIGN, arrival
// detection, the discovered buffer, and the DELIVER/DELIVER_ACK
// handshake.
package follower

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"eqcsim/internal/commmedium"
	"eqcsim/internal/config"
	"eqcsim/internal/geo"
	"eqcsim/internal/lock"
	"eqcsim/internal/logging"
	"eqcsim/internal/mobility"
	"eqcsim/internal/model"
	"eqcsim/internal/poiregistry"
	"eqcsim/internal/protocol"
)

const (
	StateSatellite = "satellite"
	StateVisiting  = "visiting"
)

// Scheduler is the Clock collaborator surface a follower needs.
type Scheduler interface {
	Now() float64
	ScheduleTimer(agent model.AgentID, name string, at float64)
}

// Medium is the communication-medium collaborator surface a follower
// needs.
type Medium interface {
	SendCommand(mode commmedium.Mode, from model.AgentID, env protocol.Envelope, dest model.AgentID)
	UpdatePosition(agent model.AgentID, pos model.Point3)
}

type visitEntry struct {
	Coord   orb.Point
	Urgency model.Urgency
	Label   string
}

type discoveredEntry struct {
	ID    uuid.UUID
	Label string
}

const diagSampleCap = 10

// Follower is one V-QC agent.
type Follower struct {
	id       model.AgentID
	leaderID model.AgentID
	rank     int
	cfg      *config.Config
	reg      *poiregistry.Registry
	collected *lock.CollectedSet
	medium   Medium
	sched    Scheduler
	mob      *mobility.Engine
	logger   *slog.Logger

	// predict returns the leader's predicted ground position at
	// simulated time t; injected because the follower's rendezvous math
	// is a pure function over the leader's known patrol plan (spec
	// §9: isolate geometric prediction for testing).
	predict func(t float64) orb.Point

	state      string
	next2visit []visitEntry
	discovered []discoveredEntry
	visited    map[uuid.UUID]struct{}
	arrivalTS  map[string]float64

	lastAssignLeaderPos  model.Point3
	lastAssignLeaderTime float64

	diagSamples int
}

// New creates a follower assigned to leaderID with the given formation
// rank (unique small integer among followers of the same leader).
func New(id, leaderID model.AgentID, rank int, cfg *config.Config, reg *poiregistry.Registry, collected *lock.CollectedSet, medium Medium, sched Scheduler, start model.Point3, predict func(t float64) orb.Point) *Follower {
	return &Follower{
		id:        id,
		leaderID:  leaderID,
		rank:      rank,
		cfg:       cfg,
		reg:       reg,
		collected: collected,
		medium:    medium,
		sched:     sched,
		mob:       mobility.New(start, cfg.FollowerSpeed),
		logger:    logging.Component("follower").With("follower_id", id, "leader_id", leaderID),
		predict:   predict,
		state:     StateSatellite,
		visited:   make(map[uuid.UUID]struct{}),
		arrivalTS: make(map[string]float64),
	}
}

// ID implements engine.Agent.
func (f *Follower) ID() model.AgentID { return f.id }

// Position returns the follower's current position.
func (f *Follower) Position() model.Point3 { return f.mob.Position() }

// State returns the current state ("satellite" or "visiting").
func (f *Follower) State() string { return f.state }

// Initialize implements engine.Agent: arms the HELLO and satellite
// timers.
func (f *Follower) Initialize(now float64) {
	f.sched.ScheduleTimer(f.id, "hello", now+f.cfg.HelloTick.Seconds())
	f.sched.ScheduleTimer(f.id, "satellite", now+f.cfg.SatelliteTick.Seconds())
	f.medium.UpdatePosition(f.id, f.mob.Position())
}

// HandleTelemetry implements engine.Agent: advances position, checks
// arrivals, and opportunistically scans when idle of assignments.
func (f *Follower) HandleTelemetry(now float64) {
	f.mob.Advance(now, f.cfg.TelemetryTick.Seconds())
	f.medium.UpdatePosition(f.id, f.mob.Position())
	f.checkArrivals(now)
	if len(f.next2visit) == 0 {
		f.opportunisticScan(now)
	}
}

// HandleTimer implements engine.Agent.
func (f *Follower) HandleTimer(now float64, name string) {
	switch name {
	case "hello":
		f.sendHello(now)
		f.sched.ScheduleTimer(f.id, "hello", now+f.cfg.HelloTick.Seconds())
	case "satellite":
		f.satelliteTick(now)
		f.sched.ScheduleTimer(f.id, "satellite", now+f.cfg.SatelliteTick.Seconds())
	}
}

// HandlePacket implements engine.Agent.
func (f *Follower) HandlePacket(now float64, from model.AgentID, env protocol.Envelope) {
	if from != f.leaderID {
		f.logger.Debug("follower: packet from unrecognized sender, ignored", "from", from)
		return
	}
	switch env.Type {
	case protocol.TypeHelloAck:
		ack, ok := env.Body.(protocol.HelloAck)
		if !ok {
			return
		}
		f.lastAssignLeaderPos = ack.EQCPos
		f.lastAssignLeaderTime = ack.EQCTime
		f.sendDeliver(now)
	case protocol.TypeAssign:
		body, ok := env.Body.(protocol.Assign)
		if !ok {
			return
		}
		f.onAssign(now, body)
	case protocol.TypeDeliverAck:
		body, ok := env.Body.(protocol.DeliverAck)
		if !ok {
			return
		}
		f.onDeliverAck(body)
	default:
		f.logger.Debug("follower: unrecognized message type, ignored", "type", env.Type)
	}
}

// sendHello implements spec §4.7.
func (f *Follower) sendHello(now float64) {
	free := f.cfg.BufferSize - len(f.next2visit)
	hello := protocol.Hello{VID: f.id, FreeSlots: free, Position: f.mob.Position()}
	f.medium.SendCommand(commmedium.SEND, f.id, protocol.Envelope{Type: protocol.TypeHello, Body: hello}, f.leaderID)
}

// onAssign implements the ASSIGN-merge algorithm of spec §4.7: new
// entries first, then old entries not superseded, up to capacity M.
func (f *Follower) onAssign(now float64, assign protocol.Assign) {
	old := f.next2visit
	f.next2visit = nil
	nuevos := make(map[string]bool, len(assign.POIs))

	for _, p := range assign.POIs {
		if len(f.next2visit) >= f.cfg.BufferSize {
			break
		}
		f.next2visit = append(f.next2visit, visitEntry{Coord: p.Coord, Urgency: p.Urgency, Label: p.Label})
		nuevos[p.Label] = true
	}
	for _, e := range old {
		if len(f.next2visit) >= f.cfg.BufferSize {
			break
		}
		if !nuevos[e.Label] {
			f.next2visit = append(f.next2visit, e)
		}
	}

	if len(f.next2visit) == 0 {
		f.state = StateSatellite
		return
	}
	f.state = StateVisiting
	wps := make([]orb.Point, len(f.next2visit))
	for i, e := range f.next2visit {
		wps[i] = e.Coord
	}
	f.mob.StartMission(wps)
}

// checkArrivals implements spec §4.6: XY-only detection radius test
// against next2visit, with a 3-D diagnostic for near-misses.
func (f *Follower) checkArrivals(now float64) {
	pos := f.mob.Position()
	posXY := pos.XY()

	i := 0
	for i < len(f.next2visit) {
		entry := f.next2visit[i]
		xyDist := geo.PlanarDistance(posXY, entry.Coord)
		if xyDist > float64(f.cfg.DetectionRadius) {
			i++
			continue
		}

		dist3 := geo.Distance3(pos.X, pos.Y, pos.Z, entry.Coord[0], entry.Coord[1], 0)
		if xyDist <= float64(f.cfg.DetectionRadius) && float64(f.cfg.DetectionRadius) < dist3 && f.diagSamples < diagSampleCap {
			f.diagSamples++
			f.logger.Warn("follower: XY within detection radius but 3-D distance exceeds it", "label", entry.Label, "xy", xyDist, "dist3", dist3)
		}

		f.next2visit = append(f.next2visit[:i], f.next2visit[i+1:]...)

		poi, ok := f.reg.ByLabel(entry.Label)
		if ok {
			if f.collected.Contains(entry.Label) {
				continue // drop without claiming
			}
			f.tryClaim(now, poi)
		}
	}
}

// opportunisticScan implements the casual-claim path of spec §4.6: run
// whenever next2visit is empty.
func (f *Follower) opportunisticScan(now float64) {
	pos := f.mob.Position()
	for _, poi := range f.reg.All() {
		d := geo.Distance3(pos.X, pos.Y, pos.Z, poi.Coord[0], poi.Coord[1], 0)
		if d <= float64(f.cfg.DetectionRadius) {
			if f.collected.Contains(poi.Label) {
				continue
			}
			f.tryClaim(now, poi)
		}
	}
}

func (f *Follower) inDiscovered(id uuid.UUID) bool {
	for _, d := range f.discovered {
		if d.ID == id {
			return true
		}
	}
	return false
}

// tryClaim implements the claim path common to assigned and casual
// arrivals (spec §4.6 step 3).
func (f *Follower) tryClaim(now float64, poi model.POI) {
	if _, ok := f.visited[poi.ID]; ok {
		return
	}
	if f.inDiscovered(poi.ID) {
		return
	}
	if len(f.discovered) >= f.cfg.BufferSize {
		return
	}
	if _, ok := f.arrivalTS[poi.Label]; !ok {
		f.arrivalTS[poi.Label] = now
	}
	if !f.collected.TryInsert(poi.Label) {
		return
	}
	f.discovered = append(f.discovered, discoveredEntry{ID: poi.ID, Label: poi.Label})
}

// sendDeliver implements spec §4.7.
func (f *Follower) sendDeliver(now float64) {
	if len(f.discovered) == 0 {
		return
	}
	entries := make([]protocol.DeliverEntry, 0, len(f.discovered))
	for _, d := range f.discovered {
		t, ok := f.arrivalTS[d.Label]
		if !ok {
			t = now
		}
		entries = append(entries, protocol.DeliverEntry{
			ID: d.ID, Label: d.Label, HasID: true, HasLabel: true,
			TArrive: t, HasTime: true,
		})
	}
	env := protocol.Envelope{Type: protocol.TypeDeliver, Body: protocol.Deliver{VID: f.id, PIDs: entries}}
	f.medium.SendCommand(commmedium.SEND, f.id, env, f.leaderID)
}

// onDeliverAck implements spec §4.7, idempotently.
func (f *Follower) onDeliverAck(ack protocol.DeliverAck) {
	ackSet := make(map[uuid.UUID]bool, len(ack.PIDs))
	for _, id := range ack.PIDs {
		ackSet[id] = true
	}
	remaining := f.discovered[:0]
	for _, d := range f.discovered {
		if ackSet[d.ID] {
			f.visited[d.ID] = struct{}{}
			delete(f.arrivalTS, d.Label)
		} else {
			remaining = append(remaining, d)
		}
	}
	f.discovered = remaining
}

// satelliteTick implements spec §4.5's periodic rendezvous refresh.
func (f *Follower) satelliteTick(now float64) {
	if !f.mob.IsIdle() {
		return
	}
	switch f.state {
	case StateSatellite:
		f.recomputeIntercept(now)
	case StateVisiting:
		f.state = StateSatellite
	}
}

// recomputeIntercept implements spec §4.5's fixed-point intercept and
// V-formation offset.
func (f *Follower) recomputeIntercept(now float64) {
	pos := f.mob.Position().XY()
	dt := geo.Intercept(pos, now, f.cfg.FollowerSpeed, f.predict)
	predicted := f.predict(now + dt)
	theta := geo.Heading(f.predict(now), f.predict(now+0.1))
	dx, dy := geo.FormationOffset(f.rank, theta)
	target := orb.Point{predicted[0] + dx, predicted[1] + dy}
	f.mob.StartMission([]orb.Point{target})
}

// Discovered returns a snapshot of the discovered buffer, for tests.
func (f *Follower) Discovered() []string {
	out := make([]string, 0, len(f.discovered))
	for _, d := range f.discovered {
		out = append(out, d.Label)
	}
	return out
}

// NextToVisit returns the number of queued mission entries, for tests.
func (f *Follower) NextToVisit() int { return len(f.next2visit) }
