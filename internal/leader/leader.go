// Package leader implements the E-QC leader agent: the assignment
// scheduler with its trigger/cooldown policy, the three pluggable
// assignment policies, ASSIGN issuance, DELIVER reconciliation, and
// latency accounting. This is the largest component of the
// coordination core.
package leader

import (
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"eqcsim/internal/camera"
	"eqcsim/internal/commmedium"
	"eqcsim/internal/config"
	"eqcsim/internal/geo"
	"eqcsim/internal/lock"
	"eqcsim/internal/logging"
	"eqcsim/internal/metrics"
	"eqcsim/internal/mobility"
	"eqcsim/internal/model"
	"eqcsim/internal/poiregistry"
	"eqcsim/internal/protocol"
)

// Scheduler is the Clock collaborator surface a leader needs: current
// simulated time and the ability to self-schedule a named timer.
type Scheduler interface {
	Now() float64
	ScheduleTimer(agent model.AgentID, name string, at float64)
}

// Medium is the communication-medium collaborator surface a leader
// needs: unicast/broadcast send, plus position tracking for range
// gating.
type Medium interface {
	SendCommand(mode commmedium.Mode, from model.AgentID, env protocol.Envelope, dest model.AgentID)
	UpdatePosition(agent model.AgentID, pos model.Point3)
}

// vqcState is the most recent HELLO snapshot for one known follower.
type vqcState struct {
	FreeSlots int
	Position  model.Point3
}

// Leader is one E-QC agent.
type Leader struct {
	id     model.AgentID
	cfg    *config.Config
	reg    *poiregistry.Registry
	lock   *lock.CollectedSet
	global *metrics.Global
	medium Medium
	sched  Scheduler
	cam    *camera.Sensor
	mob    *mobility.Engine
	logger *slog.Logger

	pending    []string
	pendingSet map[string]bool

	detectTS    map[string]float64
	vqc         map[model.AgentID]vqcState
	assignTimes map[string]float64
	encounter   map[model.AgentID]int
	lastHello   map[model.AgentID]float64
	followers   []model.AgentID // stable-per-run order of first-seen followers

	assignTriggered    bool
	nextAssignEarliest float64
	rrCursor           int

	Counters metrics.LeaderCounters
	Lat      metrics.Latencies
}

// New creates a leader agent patrolling the given cyclic waypoints.
func New(id model.AgentID, cfg *config.Config, reg *poiregistry.Registry, collected *lock.CollectedSet, global *metrics.Global, medium Medium, sched Scheduler, cam *camera.Sensor, start model.Point3, patrol []orb.Point) *Leader {
	l := &Leader{
		id:          id,
		cfg:         cfg,
		reg:         reg,
		lock:        collected,
		global:      global,
		medium:      medium,
		sched:       sched,
		cam:         cam,
		mob:         mobility.New(start, cfg.LeaderSpeed),
		logger:      logging.Component("leader").With("leader_id", id),
		pendingSet:  make(map[string]bool),
		detectTS:    make(map[string]float64),
		vqc:         make(map[model.AgentID]vqcState),
		assignTimes: make(map[string]float64),
		encounter:   make(map[model.AgentID]int),
		lastHello:   make(map[model.AgentID]float64),
		rrCursor:    -1,
	}
	if len(patrol) > 0 {
		l.mob.StartCyclicMission(patrol)
	}
	return l
}

// ID implements engine.Agent.
func (l *Leader) ID() model.AgentID { return l.id }

// Position returns the leader's current patrol position.
func (l *Leader) Position() model.Point3 { return l.mob.Position() }

// Initialize implements engine.Agent: starts the cyclic patrol and
// schedules the first assign timer.
func (l *Leader) Initialize(now float64) {
	// The cyclic patrol is started by New (and may be replaced via
	// SetPatrol); Initialize only arms the scheduler.
	l.sched.ScheduleTimer(l.id, "assign", now+l.cfg.AssignTick.Seconds())
	l.medium.UpdatePosition(l.id, l.mob.Position())
}

// SetPatrol configures the cyclic patrol path. Must be called before
// the engine starts ticking telemetry.
func (l *Leader) SetPatrol(waypoints []orb.Point) {
	l.mob.StartCyclicMission(waypoints)
}

// HandleTelemetry implements engine.Agent: advances the patrol and
// republishes position to the medium.
func (l *Leader) HandleTelemetry(now float64) {
	l.mob.Advance(now, l.cfg.TelemetryTick.Seconds())
	l.medium.UpdatePosition(l.id, l.mob.Position())
}

// HandleTimer implements engine.Agent.
func (l *Leader) HandleTimer(now float64, name string) {
	if name == "assign" {
		l.onAssignTick(now)
	}
}

// HandlePacket implements engine.Agent.
func (l *Leader) HandlePacket(now float64, from model.AgentID, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeHello:
		hello, ok := env.Body.(protocol.Hello)
		if !ok {
			l.logger.Debug("leader: malformed HELLO body", "from", from)
			return
		}
		l.onHello(now, from, hello)
	case protocol.TypeDeliver:
		d, ok := env.Body.(protocol.Deliver)
		if !ok {
			l.logger.Debug("leader: malformed DELIVER body", "from", from)
			return
		}
		l.onDeliver(now, from, d)
	default:
		l.logger.Debug("leader: unrecognized message type, ignored", "type", env.Type, "from", from)
	}
}

func (l *Leader) rememberFollower(vid model.AgentID) {
	for _, f := range l.followers {
		if f == vid {
			return
		}
	}
	l.followers = append(l.followers, vid)
}

func (l *Leader) removeFromPending(label string) {
	if !l.pendingSet[label] {
		return
	}
	delete(l.pendingSet, label)
	for i, v := range l.pending {
		if v == label {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
}

// purgeCollected drops from pending every label already globally
// collected (step 1 of the assign tick).
func (l *Leader) purgeCollected() {
	for _, label := range append([]string(nil), l.pending...) {
		if l.lock.Contains(label) {
			l.removeFromPending(label)
		}
	}
}

// onAssignTick runs the 1s detection/assignment tick, in spec order:
// purge, camera sweep, reschedule, maybe-assign.
func (l *Leader) onAssignTick(now float64) {
	l.purgeCollected()

	pos := l.mob.Position()
	detections := l.cam.TakePicture(pos)
	l.Counters.CamRaw += len(detections)

	matched := camera.Match(l.reg.All(), detections, l.cfg.CoordMatchEps)
	for _, poi := range matched {
		if _, seen := l.detectTS[poi.Label]; seen {
			continue
		}
		if l.lock.Contains(poi.Label) {
			continue
		}
		l.detectTS[poi.Label] = now
		l.Lat.Detect.Add(now - l.spawnTime())
		if !l.pendingSet[poi.Label] {
			l.pending = append(l.pending, poi.Label)
			l.pendingSet[poi.Label] = true
		}
		l.Counters.CamMatches++
	}

	l.sched.ScheduleTimer(l.id, "assign", now+l.cfg.AssignTick.Seconds())

	if !l.assignTriggered {
		l.logger.Debug("leader: assign skipped, no trigger")
		return
	}
	if len(l.pending) == 0 {
		l.logger.Debug("leader: assign skipped, pending empty")
		return
	}
	if !l.anyFreeSlots() {
		l.logger.Debug("leader: assign skipped, no followers with free slots")
		return
	}
	if now < l.nextAssignEarliest {
		l.logger.Debug("leader: assign skipped, cooldown", "earliest", l.nextAssignEarliest)
		return
	}

	l.assignTriggered = false
	l.nextAssignEarliest = now + l.cfg.AssignCooldown.Seconds()
	l.runPolicy(now)
}

func (l *Leader) anyFreeSlots() bool {
	for _, st := range l.vqc {
		if st.FreeSlots > 0 {
			return true
		}
	}
	return false
}

// spawnTime returns t_spawn. PoIs are created once at startup (t=0)
// and never mutated, so every PoI shares the same spawn time.
func (l *Leader) spawnTime() float64 { return 0 }

func (l *Leader) candidates() []string {
	out := make([]string, 0, len(l.pending))
	for _, label := range l.pending {
		if !l.lock.Contains(label) {
			out = append(out, label)
		}
	}
	return out
}

func (l *Leader) runPolicy(now float64) {
	switch l.cfg.Policy {
	case config.PolicyGreedy:
		l.assignGreedy(now)
	case config.PolicyRoundRobin:
		l.assignRoundRobin(now)
	case config.PolicyLoadBalancing:
		l.assignLoadBalancing(now)
	default:
		l.logger.Error("leader: unknown assignment policy, no assignment performed", "policy", l.cfg.Policy)
	}
}

// finalizeAssignment performs the common bookkeeping every policy does
// for one (vid, label) pairing, after the race-guard re-check. Returns
// false if the label lost the race to the global lock meanwhile.
func (l *Leader) finalizeAssignment(now float64, vid model.AgentID, label string) (protocol.AssignedPOI, bool) {
	if l.lock.Contains(label) {
		return protocol.AssignedPOI{}, false
	}
	poi, ok := l.reg.ByLabel(label)
	if !ok {
		return protocol.AssignedPOI{}, false
	}
	l.assignTimes[label] = now
	l.removeFromPending(label)

	st := l.vqc[vid]
	st.FreeSlots--
	l.vqc[vid] = st
	l.encounter[vid]++
	l.Counters.AssignsIssued++

	return protocol.AssignedPOI{
		Label:   poi.Label,
		Coord:   poi.Coord,
		Urgency: poi.Urgency,
		TS:      l.detectTS[label],
	}, true
}

func (l *Leader) sendAssignments(toSend map[model.AgentID][]protocol.AssignedPOI) {
	for vid, pois := range toSend {
		if len(pois) == 0 {
			continue
		}
		env := protocol.Envelope{Type: protocol.TypeAssign, Body: protocol.Assign{VID: vid, POIs: pois}}
		l.medium.SendCommand(commmedium.SEND, l.id, env, vid)
	}
}

// assignGreedy implements the greedy scoring policy (spec §4.2).
func (l *Leader) assignGreedy(now float64) {
	remaining := l.candidates()
	toSend := make(map[model.AgentID][]protocol.AssignedPOI)

	for _, vid := range l.followers {
		st, ok := l.vqc[vid]
		if !ok || st.FreeSlots <= 0 {
			continue
		}
		if l.encounter[vid] >= l.cfg.MaxAssignPerEncounter {
			continue
		}

		type scored struct {
			label string
			score float64
		}
		scoredList := make([]scored, 0, len(remaining))
		for _, label := range remaining {
			poi, ok := l.reg.ByLabel(label)
			if !ok {
				continue
			}
			d := geo.PlanarDistance(st.Position.XY(), poi.Coord)
			score := model.UrgencyWeight(poi.Urgency) / math.Max(l.cfg.CoordMatchEps, d)
			scoredList = append(scoredList, scored{label, score})
		}
		sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

		quota := st.FreeSlots
		if rem := l.cfg.MaxAssignPerEncounter - l.encounter[vid]; rem < quota {
			quota = rem
		}

		assigned := 0
		for _, sc := range scoredList {
			if assigned >= quota {
				break
			}
			ap, ok := l.finalizeAssignment(now, vid, sc.label)
			if !ok {
				continue
			}
			toSend[vid] = append(toSend[vid], ap)
			remaining = removeString(remaining, sc.label)
			assigned++
		}
	}

	l.sendAssignments(toSend)
}

// assignRoundRobin implements the round-robin policy (spec §4.2): a
// persistent cursor across invocations, at most one PoI assigned per
// call.
func (l *Leader) assignRoundRobin(now float64) {
	n := len(l.followers)
	if n == 0 {
		return
	}
	toSend := make(map[model.AgentID][]protocol.AssignedPOI)
	for i := 0; i < n; i++ {
		remaining := l.candidates()
		if len(remaining) == 0 {
			return
		}
		head := remaining[0]
		l.rrCursor = (l.rrCursor + 1) % n
		vid := l.followers[l.rrCursor]
		st, ok := l.vqc[vid]
		if !ok || st.FreeSlots <= 0 {
			continue
		}
		ap, ok := l.finalizeAssignment(now, vid, head)
		if !ok {
			// Lost the race to the global lock; this PoI is no longer
			// a valid candidate for anyone this call, but the rest of
			// the rotation still gets a chance this round.
			l.removeFromPending(head)
			continue
		}
		toSend[vid] = append(toSend[vid], ap)
		l.sendAssignments(toSend)
		return
	}
}

// assignLoadBalancing implements the load-balancing policy (spec
// §4.2): round-based, free-slots-descending follower order, each
// follower in a round claims its single best-scoring candidate.
func (l *Leader) assignLoadBalancing(now float64) {
	remaining := l.candidates()
	toSend := make(map[model.AgentID][]protocol.AssignedPOI)

	for {
		if len(remaining) == 0 {
			break
		}
		type elig struct {
			vid model.AgentID
			st  vqcState
		}
		var eligible []elig
		for _, vid := range l.followers {
			st, ok := l.vqc[vid]
			if !ok || st.FreeSlots <= 0 {
				continue
			}
			if l.encounter[vid] >= l.cfg.MaxAssignPerEncounter {
				continue
			}
			eligible = append(eligible, elig{vid, st})
		}
		if len(eligible) == 0 {
			break
		}
		sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].st.FreeSlots > eligible[j].st.FreeSlots })

		assignedThisRound := false
		for _, e := range eligible {
			if len(remaining) == 0 {
				break
			}
			bestIdx := -1
			bestScore := -1.0
			for i, label := range remaining {
				poi, ok := l.reg.ByLabel(label)
				if !ok {
					continue
				}
				d := geo.PlanarDistance(e.st.Position.XY(), poi.Coord)
				score := model.UrgencyWeight(poi.Urgency) / math.Max(l.cfg.CoordMatchEps, d)
				if score > bestScore {
					bestScore = score
					bestIdx = i
				}
			}
			if bestIdx < 0 {
				continue
			}
			label := remaining[bestIdx]
			ap, ok := l.finalizeAssignment(now, e.vid, label)
			if !ok {
				remaining = removeString(remaining, label)
				continue
			}
			toSend[e.vid] = append(toSend[e.vid], ap)
			remaining = removeString(remaining, label)
			assignedThisRound = true
		}
		if !assignedThisRound {
			break
		}
	}

	l.sendAssignments(toSend)
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// onHello implements spec §4.4.
func (l *Leader) onHello(now float64, from model.AgentID, hello protocol.Hello) {
	last, seen := l.lastHello[from]
	if !seen || now-last > l.cfg.EncounterGap.Seconds() {
		l.encounter[from] = 0
	}
	l.lastHello[from] = now
	l.vqc[from] = vqcState{FreeSlots: hello.FreeSlots, Position: hello.Position}
	l.rememberFollower(from)

	ack := protocol.HelloAck{VID: from, EQCID: l.id, EQCPos: l.mob.Position(), EQCTime: now}
	l.medium.SendCommand(commmedium.SEND, l.id, protocol.Envelope{Type: protocol.TypeHelloAck, Body: ack}, from)

	if len(l.pending) > 0 && hello.FreeSlots > 0 {
		l.assignTriggered = true
	}
}

// onDeliver implements spec §4.3.
func (l *Leader) onDeliver(now float64, from model.AgentID, deliver protocol.Deliver) {
	var deliveredLabels []string
	var ackIDs []uuid.UUID

	for _, entry := range deliver.PIDs {
		if !entry.HasID || !entry.HasLabel {
			l.logger.Warn("leader: malformed DELIVER entry, dropped", "from", from)
			continue
		}
		label := entry.Label

		if entry.HasTime {
			if tDetect, ok := l.detectTS[label]; ok {
				l.Lat.Service.Add(entry.TArrive - tDetect)
				l.Lat.Contact.Add(now - entry.TArrive)
			}
		}
		l.Lat.E2E.Add(now - l.spawnTime())

		poi, haveData := l.reg.ByLabel(label)

		if tAssign, ok := l.assignTimes[label]; ok {
			delete(l.assignTimes, label)
			l.Lat.AssignAck.Add(now - tAssign)
			l.Counters.AssignSuccess++
			if haveData {
				l.global.AddUnique(label, model.UrgencyWeight(poi.Urgency))
				l.Counters.AddWeighted(poi.Urgency)
			}
			if l.cfg.BumpFreeOnAssignedDeliver {
				st := l.vqc[from]
				if st.FreeSlots < l.cfg.BufferSize {
					st.FreeSlots++
					l.vqc[from] = st
				}
			}
		} else if l.global.HasUnique(label) {
			l.Counters.RedundantDelivers++
			l.global.RecordRedundant()
		} else if haveData {
			l.global.AddUnique(label, model.UrgencyWeight(poi.Urgency))
			l.Counters.AddWeighted(poi.Urgency)
		}

		l.global.RecordCoverage(now - l.spawnTime())
		deliveredLabels = append(deliveredLabels, label)
		ackIDs = append(ackIDs, entry.ID)
	}

	for _, label := range deliveredLabels {
		l.removeFromPending(label)
	}

	ack := protocol.DeliverAck{VID: from, PIDs: ackIDs}
	l.medium.SendCommand(commmedium.SEND, l.id, protocol.Envelope{Type: protocol.TypeDeliverAck, Body: ack}, from)

	l.assignTriggered = true
}

// Pending returns a snapshot of the pending queue, for tests and
// diagnostics.
func (l *Leader) Pending() []string {
	return append([]string(nil), l.pending...)
}
