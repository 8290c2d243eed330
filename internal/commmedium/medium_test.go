package commmedium

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eqcsim/internal/model"
	"eqcsim/internal/protocol"
)

type fakeSched struct {
	now        float64
	delivered  []deliveredPacket
}

type deliveredPacket struct {
	from, to model.AgentID
	env      protocol.Envelope
	at       float64
}

func (f *fakeSched) Now() float64 { return f.now }
func (f *fakeSched) DeliverPacket(from, to model.AgentID, env protocol.Envelope, at float64) {
	f.delivered = append(f.delivered, deliveredPacket{from, to, env, at})
}

func TestMedium_SEND_WithinRange(t *testing.T) {
	sched := &fakeSched{now: 1}
	m := New(100, 0, sched, nil)
	m.UpdatePosition("a", model.Point3{X: 0, Y: 0})
	m.UpdatePosition("b", model.Point3{X: 50, Y: 0})

	env := protocol.Envelope{Type: protocol.TypeHello}
	m.SendCommand(SEND, "a", env, "b")

	require.Len(t, sched.delivered, 1)
	assert.Equal(t, model.AgentID("b"), sched.delivered[0].to)
}

func TestMedium_SEND_OutOfRange_Dropped(t *testing.T) {
	sched := &fakeSched{now: 1}
	m := New(10, 0, sched, nil)
	m.UpdatePosition("a", model.Point3{X: 0, Y: 0})
	m.UpdatePosition("b", model.Point3{X: 50, Y: 0})

	m.SendCommand(SEND, "a", protocol.Envelope{Type: protocol.TypeHello}, "b")
	assert.Empty(t, sched.delivered)
}

func TestMedium_BROADCAST_OnlyInRangeExcludingSender(t *testing.T) {
	sched := &fakeSched{now: 1}
	m := New(60, 0, sched, nil)
	m.UpdatePosition("a", model.Point3{X: 0, Y: 0})
	m.UpdatePosition("b", model.Point3{X: 50, Y: 0})
	m.UpdatePosition("c", model.Point3{X: 500, Y: 0})

	m.SendCommand(BROADCAST, "a", protocol.Envelope{Type: protocol.TypeHello}, "")

	require.Len(t, sched.delivered, 1)
	assert.Equal(t, model.AgentID("b"), sched.delivered[0].to)
}

func TestMedium_Latency_OffsetsDeliveryTime(t *testing.T) {
	sched := &fakeSched{now: 10}
	m := New(100, 0.25, sched, nil)
	m.UpdatePosition("a", model.Point3{})
	m.UpdatePosition("b", model.Point3{})

	m.SendCommand(SEND, "a", protocol.Envelope{Type: protocol.TypeHello}, "b")
	require.Len(t, sched.delivered, 1)
	assert.InDelta(t, 10.25, sched.delivered[0].at, 1e-9)
}
