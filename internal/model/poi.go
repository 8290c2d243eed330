// Package model holds the immutable data types shared across the
// coordination core: points of interest, urgency weights, and agent
// identifiers.
package model

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Urgency is the fixed three-level importance of a POI.
type Urgency int

const (
	UrgencyLow      Urgency = 1
	UrgencyMedium   Urgency = 2
	UrgencyCritical Urgency = 3
)

// UrgencyWeight returns the fixed scoring weight for an urgency level.
// Unrecognized values weight as zero.
func UrgencyWeight(u Urgency) float64 {
	switch u {
	case UrgencyLow:
		return 0.2
	case UrgencyMedium:
		return 0.5
	case UrgencyCritical:
		return 1.0
	default:
		return 0
	}
}

// POI is a point of interest on the ground (z=0). Immutable after creation.
type POI struct {
	ID      uuid.UUID
	Label   string
	Coord   orb.Point // (x, y)
	Urgency Urgency
}

// Point3 is a position with an altitude, used for followers and leaders
// which fly above z=0.
type Point3 struct {
	X, Y, Z float64
}

// XY projects a Point3 onto the ground plane.
func (p Point3) XY() orb.Point {
	return orb.Point{p.X, p.Y}
}

// AgentID identifies a leader or follower agent.
type AgentID string
