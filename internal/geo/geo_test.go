package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanarDistance(t *testing.T) {
	d := PlanarDistance(orb.Point{0, 0}, orb.Point{3, 4})
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestDistance3(t *testing.T) {
	d := Distance3(0, 0, 0, 3, 4, 0)
	assert.InDelta(t, 5.0, d, 1e-9)

	d = Distance3(0, 0, 10, 0, 0, 0)
	assert.InDelta(t, 10.0, d, 1e-9)
}

func TestPredictPosition_Endpoints(t *testing.T) {
	wp := Waypoints{{0, 0}, {100, 0}, {100, 100}}
	require.Equal(t, orb.Point{0, 0}, PredictPosition(wp, 10, -1))
	require.Equal(t, orb.Point{0, 0}, PredictPosition(wp, 10, 0))
}

func TestPredictPosition_MidSegment(t *testing.T) {
	wp := Waypoints{{0, 0}, {100, 0}}
	speed := 10.0
	// First segment is 0->100, length 100, duration 10s out, then back 10s.
	p := PredictPosition(wp, speed, 5)
	assert.InDelta(t, 50, p[0], 1e-6)
	assert.InDelta(t, 0, p[1], 1e-6)
}

func TestPredictPosition_Cyclic(t *testing.T) {
	wp := Waypoints{{0, 0}, {100, 0}}
	speed := 10.0
	total := 20.0 // there and back
	p1 := PredictPosition(wp, speed, 2)
	p2 := PredictPosition(wp, speed, 2+total)
	assert.InDelta(t, p1[0], p2[0], 1e-6)
	assert.InDelta(t, p1[1], p2[1], 1e-6)
}

func TestPredictPosition_SinglePointOrZeroSpeed(t *testing.T) {
	wp := Waypoints{{5, 5}}
	assert.Equal(t, orb.Point{5, 5}, PredictPosition(wp, 10, 3))

	wp2 := Waypoints{{0, 0}, {10, 0}}
	assert.Equal(t, orb.Point{0, 0}, PredictPosition(wp2, 0, 3))
}

func TestIntercept_StationaryFollowerAtTarget(t *testing.T) {
	// The leader sits still at (10,0); a follower starting there should
	// need 0 time to "intercept" it.
	predict := func(t float64) orb.Point { return orb.Point{10, 0} }
	dt := Intercept(orb.Point{10, 0}, 0, 5, predict)
	assert.InDelta(t, 0, dt, 1e-6)
}

func TestIntercept_ConvergesOnLinearPath(t *testing.T) {
	// Leader moves along x at 10 units/sec from origin.
	predict := func(t float64) orb.Point { return orb.Point{10 * t, 0} }
	dt := Intercept(orb.Point{0, 100}, 0, 20, predict)
	assert.Greater(t, dt, 0.0)
	// At the resolved intercept time, the follower's distance to the
	// leader's predicted position should match dt times its speed (to
	// within the fixed-point iteration's residual).
	intercept := predict(dt)
	followerDist := PlanarDistance(orb.Point{0, 100}, intercept)
	assert.InDelta(t, followerDist, dt*20, 1.0)
}

func TestFormationOffset_AlternatesSides(t *testing.T) {
	dx0, dy0 := FormationOffset(0, 0)
	dx1, dy1 := FormationOffset(1, 0)
	// Rank 0 is even -> side -1; rank 1 is odd -> side +1. They should
	// not coincide.
	assert.False(t, dx0 == dx1 && dy0 == dy1)
}

func TestFormationOffset_DepthIncreasesEveryTwoRanks(t *testing.T) {
	dx0, dy0 := FormationOffset(0, 0)
	dx2, dy2 := FormationOffset(2, 0)
	d0 := math.Hypot(dx0, dy0)
	d2 := math.Hypot(dx2, dy2)
	assert.Greater(t, d2, d0)
}

func TestHeading(t *testing.T) {
	h := Heading(orb.Point{0, 0}, orb.Point{1, 0})
	assert.InDelta(t, 0, h, 1e-9)
	h = Heading(orb.Point{0, 0}, orb.Point{0, 1})
	assert.InDelta(t, math.Pi/2, h, 1e-9)
}
