// Package geo collects the pure geometric helpers the coordination core
// needs: planar distance, waypoint interpolation, and the satellite
// formation offset. Kept dependency-free of simulation state so each
// function can be unit tested against literal inputs, per the
// isolation note in the design notes.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PlanarDistance returns the Euclidean distance between two XY points.
func PlanarDistance(a, b orb.Point) float64 {
	return planar.Distance(a, b)
}

// Distance3 returns the Euclidean distance between two 3-D points.
func Distance3(ax, ay, az, bx, by, bz float64) float64 {
	dx, dy, dz := ax-bx, ay-by, az-bz
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Waypoints is a cyclic sequence of ground points a patrol agent visits
// in order, looping back to the first after the last.
type Waypoints []orb.Point

// PredictPosition returns the agent's position at time t, assuming it
// departed waypoint 0 at simulated time 0 and travels the cyclic path
// at speed (units/sec), looping indefinitely. For t<=0 it returns the
// first waypoint.
func PredictPosition(wp Waypoints, speed float64, t float64) orb.Point {
	if len(wp) == 0 {
		return orb.Point{}
	}
	if len(wp) == 1 || speed <= 0 {
		return wp[0]
	}
	if t <= 0 {
		return wp[0]
	}

	segLen := make([]float64, len(wp))
	total := 0.0
	for i := range wp {
		j := (i + 1) % len(wp)
		segLen[i] = PlanarDistance(wp[i], wp[j])
		total += segLen[i]
	}
	if total <= 0 {
		return wp[0]
	}

	totalDuration := 0.0
	segDur := make([]float64, len(wp))
	for i, l := range segLen {
		segDur[i] = l / math.Max(speed, 1e-9)
		totalDuration += segDur[i]
	}

	// Cyclic path: wrap t into [0, totalDuration).
	tt := math.Mod(t, totalDuration)

	for i := range wp {
		if tt <= segDur[i] {
			frac := 0.0
			if segDur[i] > 1e-9 {
				frac = tt / segDur[i]
			}
			j := (i + 1) % len(wp)
			return lerp(wp[i], wp[j], frac)
		}
		tt -= segDur[i]
	}
	return wp[len(wp)-1]
}

func lerp(a, b orb.Point, frac float64) orb.Point {
	return orb.Point{
		a[0] + (b[0]-a[0])*frac,
		a[1] + (b[1]-a[1])*frac,
	}
}

// Intercept computes the fixed-point rendezvous time offset from now at
// which a follower starting at selfPos and flying at followerSpeed
// should aim, to meet a leader predicted by predict(t). Runs the fixed
// 5-iteration refinement the spec calls for.
func Intercept(selfPos orb.Point, now, followerSpeed float64, predict func(t float64) orb.Point) float64 {
	dt := PlanarDistance(selfPos, predict(now)) / math.Max(followerSpeed, 1e-9)
	for i := 0; i < 5; i++ {
		predicted := predict(now + dt)
		dt = PlanarDistance(selfPos, predicted) / math.Max(followerSpeed, 1e-9)
	}
	return dt
}

// FormationOffset computes the V-formation slot offset for formation
// rank r, given the leader's heading theta (radians) at the intercept
// point. Side alternates left/right by parity of r; depth increases
// every two ranks.
func FormationOffset(r int, theta float64) (dx, dy float64) {
	const (
		openingAngle = 150.0 * math.Pi / 180.0
		spacing      = 1.0 // meters
	)
	side := 1.0
	if r%2 == 0 {
		side = -1.0
	}
	depth := float64(r/2) + 1
	angle := theta + side*openingAngle
	return spacing * depth * math.Cos(angle), spacing * depth * math.Sin(angle)
}

// Heading returns the bearing (radians) of travel from a to b.
func Heading(a, b orb.Point) float64 {
	return math.Atan2(b[1]-a[1], b[0]-a[0])
}
