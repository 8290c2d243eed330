// Package protocol defines the wire envelope for the three-way
// HELLO/HELLO_ACK/ASSIGN/DELIVER/DELIVER_ACK message protocol exchanged
// between leaders and followers over the communication medium.
package protocol

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"eqcsim/internal/model"
)

// Type discriminates the message kinds carried over the medium.
type Type string

const (
	TypeHello       Type = "HELLO"
	TypeHelloAck    Type = "HELLO_ACK"
	TypeAssign      Type = "ASSIGN"
	TypeDeliver     Type = "DELIVER"
	TypeDeliverAck  Type = "DELIVER_ACK"
)

// Envelope is the self-describing record carried by the medium. Every
// message carries a Type discriminator; unrecognized types are ignored
// by recipients with a debug log.
type Envelope struct {
	Type Type
	Body any
}

// Hello is sent by a follower to its leader every HELLO tick.
type Hello struct {
	VID       model.AgentID
	FreeSlots int
	Position  model.Point3
}

// HelloAck is the leader's reply to a HELLO.
type HelloAck struct {
	VID     model.AgentID
	EQCID   model.AgentID
	EQCPos  model.Point3
	EQCTime float64
}

// AssignedPOI is one POI entry carried inside an ASSIGN message.
type AssignedPOI struct {
	Label   string
	Coord   orb.Point
	Urgency model.Urgency
	TS      float64 // original t_detect
}

// Assign is sent by a leader to a follower to hand off one or more POIs.
type Assign struct {
	VID  model.AgentID
	POIs []AssignedPOI
}

// DeliverEntry is one claimed POI reported back to the leader.
type DeliverEntry struct {
	ID       uuid.UUID
	Label    string
	HasID    bool // false marks a malformed entry missing id/label
	HasLabel bool
	TArrive  float64
	HasTime  bool
}

// Deliver is sent by a follower to its leader reporting claimed POIs.
type Deliver struct {
	VID  model.AgentID
	PIDs []DeliverEntry
}

// DeliverAck is the leader's acknowledgement of a DELIVER.
type DeliverAck struct {
	VID  model.AgentID
	PIDs []uuid.UUID
}
