package station

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

func lengthAttr(e *sim.Entity) float64 {
	v, err := strconv.ParseFloat(e.Attributes["length"], 64)
	if err != nil {
		return 0
	}
	return v
}

func sized(s *sim.Simulator, name string, length float64) *sim.Entity {
	e := s.NewEntity(name)
	e.Attributes["length"] = strconv.FormatFloat(length, 'f', -1, 64)
	return e
}

// newConveyor builds a 10 m conveyor crossed in 10 s.
func newConveyor(s *sim.Simulator, accumulating bool) (*EntityConveyor, *queue.Queue, *recorder) {
	q := queue.NewQueue("ConveyorQueue", s)
	c := NewEntityConveyor("Conveyor", s, q, 10, sim.Constant(10))
	c.EntityLength = lengthAttr
	c.Accumulating = accumulating
	out := &recorder{s: s}
	c.Next = out
	return c, q, out
}

func TestConveyor_EntitiesEnterWithoutOverlap(t *testing.T) {
	s := newTestSim()
	c, q, out := newConveyor(s, false)
	arriveAt(s, 0, q, sized(s, "e1", 2), sized(s, "e2", 2), sized(s, "e3", 2))

	var early []float64
	at(s, 1, func() { early = c.Positions() })
	run(t, s)

	// e2 waits until e1 has fully entered, e3 until e2 has.
	require.Len(t, early, 2)
	assert.InDelta(t, 0.1, early[0], 1e-9)
	assert.InDelta(t, -0.1, early[1], 1e-9)
	assert.Equal(t, []string{"e1", "e2", "e3"}, out.names())
	assert.Equal(t, []float64{10, 12, 14}, out.times)
	assert.Equal(t, 0, c.Len())
}

func TestConveyor_MidStepArrivalEntersAsSoonAsThereIsRoom(t *testing.T) {
	// e1 and e2 (5 m each) start together, so e2 clears the entrance at 5 s
	// while the step in flight runs to e1's exit at 10 s.
	tests := []struct {
		name     string
		arriveAt int64
	}{
		{"entrance already clear", 6},
		{"entrance still occupied", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSim()
			_, q, out := newConveyor(s, false)
			arriveAt(s, 0, q, sized(s, "e1", 5), sized(s, "e2", 5))
			arriveAt(s, tc.arriveAt, q, sized(s, "e3", 1))
			run(t, s)

			// e3 enters at max(arrival, 5) and crosses in 10 s from a rear
			// position of 0 or -0.1.
			assert.Equal(t, []string{"e1", "e2", "e3"}, out.names())
			assert.Equal(t, []float64{10, 15, 16}, out.times)
		})
	}
}

// gatedConveyor sends e1 at 0 and e2 at 5 onto a conveyor whose exit opens
// at 20.
func gatedConveyor(t *testing.T, accumulating bool) (*EntityConveyor, *recorder, []float64) {
	s := newTestSim()
	c, q, out := newConveyor(s, accumulating)
	gate := device.NewSignalThreshold("Gate", false)
	c.Device().ReleaseThresholds = append(c.Device().ReleaseThresholds, gate)
	gate.AddUser(c)

	arriveAt(s, 0, q, sized(s, "e1", 2))
	arriveAt(s, 5, q, sized(s, "e2", 2))
	var blocked []float64
	at(s, 15, func() { blocked = c.Positions() })
	at(s, 20, func() { gate.SetOpen(true) })
	run(t, s)
	return c, out, blocked
}

func TestConveyor_AccumulatingBunchesAtBlockedExit(t *testing.T) {
	c, out, blocked := gatedConveyor(t, true)

	require.Len(t, blocked, 2)
	assert.InDelta(t, 1.0, blocked[0], 1e-9)
	assert.InDelta(t, 0.8, blocked[1], 1e-9, "e2 moved up behind e1")
	assert.Equal(t, []float64{20, 22}, out.times)
	assert.Equal(t, device.Idle, c.Device().State())
}

func TestConveyor_NonAccumulatingStopsAtBlockedExit(t *testing.T) {
	_, out, blocked := gatedConveyor(t, false)

	require.Len(t, blocked, 2)
	assert.InDelta(t, 1.0, blocked[0], 1e-9)
	assert.InDelta(t, 0.5, blocked[1], 1e-9, "the whole belt stopped")
	assert.Equal(t, []float64{20, 25}, out.times)
}

func TestConveyor_HeldStateIsStopped(t *testing.T) {
	s := newTestSim()
	c, q, _ := newConveyor(s, false)
	gate := device.NewSignalThreshold("Gate", false)
	c.Device().ReleaseThresholds = append(c.Device().ReleaseThresholds, gate)
	arriveAt(s, 0, q, sized(s, "e1", 1))
	run(t, s)

	assert.Equal(t, device.Stopped, c.Device().State())
	assert.Equal(t, 1, c.Len())
}

func TestConveyor_TravelTimeChangeMidFlight(t *testing.T) {
	s := newTestSim()
	c, q, out := newConveyor(s, false)
	arriveAt(s, 0, q, sized(s, "e1", 1))
	at(s, 5, func() { c.SetTravelTime(sim.Constant(4)) })
	run(t, s)

	// Half the belt at the old speed, the other half in 2 s.
	assert.Equal(t, []float64{7}, out.times)
}

func TestConveyor_NeverOverlaps(t *testing.T) {
	s := sim.NewSimulator(sim.NewRunConfig(400*100, 100, 0, 9))
	rng := rand.New(rand.NewSource(3))
	q := queue.NewQueue("ConveyorQueue", s)
	c := NewEntityConveyor("Conveyor", s, q, 10, sim.SampleFunc(func(now float64) float64 {
		if int(now/50)%2 == 0 {
			return 10
		}
		return 6
	}))
	c.EntityLength = lengthAttr
	c.Accumulating = true
	c.Next = NewSink("Sink", s)
	gate := device.NewSignalThreshold("Gate", true)
	gate.Cycle(s, sim.Constant(7), sim.Constant(4))
	c.Device().ReleaseThresholds = append(c.Device().ReleaseThresholds, gate)
	gate.AddUser(c)

	gen := NewGenerator("Gen", s, sim.SampleFunc(func(float64) float64 { return rng.Float64() * 3 }))
	gen.Init = func(e *sim.Entity) { e.Attributes["length"] = strconv.FormatFloat(0.5+rng.Float64()*2, 'f', 3, 64) }
	gen.Next = q
	gen.Start()

	checks := 0
	var probe func()
	probe = func() {
		pos := c.Positions()
		entities := c.Entities()
		for i := 1; i < len(pos); i++ {
			frac := lengthAttr(entities[i]) / c.Length
			require.LessOrEqual(t, pos[i], pos[i-1]-frac+1e-9, "entries %d and %d overlap at %v", i-1, i, s.Seconds())
		}
		for _, p := range pos {
			require.LessOrEqual(t, p, 1.0+1e-9)
		}
		checks++
		s.Schedule(20, sim.PriorityUpdate, true, "Probe", probe)
	}
	s.Schedule(0, sim.PriorityUpdate, true, "Probe", probe)

	require.NoError(t, s.Run(context.Background()))
	assert.Greater(t, checks, 1000)
	assert.Positive(t, c.Counters().Processed)
}
