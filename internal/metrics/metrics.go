// Package metrics implements the latency/coverage accounting shared by
// every leader: service, contact, end-to-end, and detection latency
// buckets, plus the process-wide unique-ids set, weighted score, and
// coverage timeline. Aggregates are single-writer under the
// cooperative engine but guarded by mutexes so a parallel
// re-implementation stays linearizable, per §5.
package metrics

import (
	"sort"
	"sync"

	"eqcsim/internal/model"
)

// Sample is one (t_since_spawn, coverage_count) point on the coverage
// timeline.
type Sample struct {
	T        float64
	Coverage int
}

// Global is the process-wide aggregate: the unique-ids set, the
// weighted score, and the coverage timeline. All leaders share one
// instance.
type Global struct {
	mu         sync.Mutex
	uniqueIDs  map[string]struct{}
	score      float64
	timeline   []Sample
	redundant  int
}

// NewGlobal creates an empty global aggregate.
func NewGlobal() *Global {
	return &Global{uniqueIDs: make(map[string]struct{})}
}

// HasUnique reports whether label is already in the global unique set.
func (g *Global) HasUnique(label string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.uniqueIDs[label]
	return ok
}

// AddUnique adds label to the global unique-ids set (no-op if present)
// and adds weight to the global score only on first insertion. Returns
// true if this call performed the insertion.
func (g *Global) AddUnique(label string, weight float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.uniqueIDs[label]; ok {
		return false
	}
	g.uniqueIDs[label] = struct{}{}
	g.score += weight
	return true
}

// RecordRedundant increments the redundant-delivery counter.
func (g *Global) RecordRedundant() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.redundant++
}

// RecordCoverage appends a (t_since_spawn, |unique_ids|) sample.
func (g *Global) RecordCoverage(t float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeline = append(g.timeline, Sample{T: t, Coverage: len(g.uniqueIDs)})
}

// Snapshot returns (unique count, score, redundant count).
func (g *Global) Snapshot() (int, float64, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.uniqueIDs), g.score, g.redundant
}

// Bucket is an append-only latency sample list for one metric kind.
type Bucket struct {
	mu      sync.Mutex
	samples []float64
}

// Add appends a latency sample (seconds).
func (b *Bucket) Add(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, v)
}

// Mean returns the arithmetic mean, or 0 if empty.
func (b *Bucket) Mean() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.samples {
		sum += v
	}
	return sum / float64(len(b.samples))
}

// P95 returns the 95th percentile latency, or 0 if empty.
func (b *Bucket) P95() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), b.samples...)
	sort.Float64s(sorted)
	idx := int(0.95 * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Len reports the number of recorded samples.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Samples returns a copy of every recorded value, for merging buckets
// across leaders when reporting an aggregate summary.
func (b *Bucket) Samples() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.samples...)
}

// LeaderCounters mirrors the per-leader counters from the spec's data
// model: assigns issued/delivered, redundant, weighted score, camera
// stats. Plain int/float64 fields: the engine is single-threaded, so
// no atomics are needed here (contrast with Global, which every leader
// shares and which this package keeps mutex-protected regardless).
type LeaderCounters struct {
	AssignsIssued    int
	AssignSuccess    int
	RedundantDelivers int
	WeightedScore    float64
	CamRaw           int
	CamMatches       int
}

// AddWeighted adds a PoI's urgency weight to this leader's local
// weighted-score mirror (distinct from the shared Global.score).
func (c *LeaderCounters) AddWeighted(u model.Urgency) {
	c.WeightedScore += model.UrgencyWeight(u)
}

// Latencies holds the four latency buckets a leader accumulates per
// spec §3, plus the optional assign-to-ack bucket.
type Latencies struct {
	Service  Bucket // t_arrive - t_detect
	Contact  Bucket // t_deliver_ack - t_arrive
	E2E      Bucket // t_deliver_ack - t_spawn
	Detect   Bucket // t_detect - t_spawn
	AssignAck Bucket // optional assign-to-ack bucket
}
