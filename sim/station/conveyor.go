package station

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

// conveyorEntry is an entity on the belt. position is the entity's rear edge
// as a fraction of the conveyor length: it enters with its rear at or before
// 0 and leaves when its rear reaches 1.
type conveyorEntry struct {
	entity   *sim.Entity
	frac     float64 // occupied length / conveyor length
	position float64
}

// EntityConveyor carries entities over a fixed length in TravelTime. Entries
// never overlap: each is clamped behind the rear of the entry ahead of it.
// When the exit is blocked by a release threshold, an accumulating conveyor
// keeps moving until its entities are bunched against the exit; a
// non-accumulating conveyor stops as soon as the leading entity arrives.
type EntityConveyor struct {
	deviceStation

	WaitQueue *queue.Queue
	// Length is the conveyor length, in the same unit as EntityLength.
	Length float64
	// TravelTime is the time to cross the full length, sampled every step.
	TravelTime sim.SampleProvider
	// EntityLength is the length an entity occupies (nil = 0).
	EntityLength func(e *sim.Entity) float64
	Accumulating bool

	entries    []*conveyorEntry // front = nearest to the exit
	travelTime float64
	updatedAt  float64
	// watchingEntrance is set when the step in flight ends no later than
	// the last entry clearing the entrance.
	watchingEntrance bool
}

// NewEntityConveyor creates a conveyor fed by waitQueue.
func NewEntityConveyor(name string, s *sim.Simulator, waitQueue *queue.Queue, length float64, travelTime sim.SampleProvider) *EntityConveyor {
	if length <= 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		sim.Abort(name, "conveyor length must be positive, got %v", length)
	}
	c := &EntityConveyor{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueue:     waitQueue,
		Length:        length,
		TravelTime:    travelTime,
	}
	c.dev = device.New(name, s, c)
	subscribe(name, c, waitQueue)
	s.RegisterStats(c)
	return c
}

// SetTravelTime changes the travel time. A step in flight is cut short so
// the next completion is computed at the new speed; positions are kept.
func (c *EntityConveyor) SetTravelTime(p sim.SampleProvider) {
	c.TravelTime = p
	c.dev.ResetProcess()
}

// Len returns the number of entities on the belt.
func (c *EntityConveyor) Len() int {
	return len(c.entries)
}

// Entities returns the entities on the belt, nearest to the exit first.
func (c *EntityConveyor) Entities() []*sim.Entity {
	out := make([]*sim.Entity, len(c.entries))
	for i, en := range c.entries {
		out[i] = en.entity
	}
	return out
}

// Positions returns the entry positions at the current time, nearest to the
// exit first, including the movement since the last step boundary.
func (c *EntityConveyor) Positions() []float64 {
	out := make([]float64, len(c.entries))
	for i, en := range c.entries {
		out[i] = en.position
	}
	if c.dev.IsProcessing() && c.travelTime > 0 {
		c.advance(out, (c.sim.Seconds()-c.updatedAt)/c.travelTime)
	}
	return out
}

// advance moves positions by d, clamping the leading entry at the exit and
// every other entry behind the rear of the one ahead.
func (c *EntityConveyor) advance(pos []float64, d float64) {
	if d <= 0 {
		return
	}
	if !c.Accumulating && c.isBlocked() && len(pos) > 0 && pos[0] >= 1-c.tolerance() {
		return
	}
	for i := range pos {
		limit := 1.0
		if i > 0 {
			limit = pos[i-1] - c.entries[i].frac
		}
		pos[i] = math.Min(pos[i]+d, limit)
	}
}

// tolerance is half a tick expressed as a fraction of the conveyor length.
func (c *EntityConveyor) tolerance() float64 {
	if c.travelTime <= 0 {
		return 0
	}
	return 0.5 / (c.sim.TicksPerSecond * c.travelTime)
}

func (c *EntityConveyor) isBlocked() bool {
	return !c.dev.IsReleaseOpen()
}

func (c *EntityConveyor) frontAtExit() bool {
	return len(c.entries) > 0 && c.entries[0].position >= 1-c.tolerance()
}

// isReadyForNext reports whether the last entity has fully entered the belt.
func (c *EntityConveyor) isReadyForNext() bool {
	return len(c.entries) == 0 || c.entries[len(c.entries)-1].position >= -c.tolerance()
}

// isReadyNow is isReadyForNext evaluated at the current time rather than at
// the last step boundary.
func (c *EntityConveyor) isReadyNow() bool {
	pos := c.Positions()
	return len(pos) == 0 || pos[len(pos)-1] >= -c.tolerance()
}

// bunchTargets returns where each entry stops when the exit is blocked.
func (c *EntityConveyor) bunchTargets() []float64 {
	targets := make([]float64, len(c.entries))
	for i, en := range c.entries {
		if i == 0 {
			targets[i] = 1
			continue
		}
		targets[i] = targets[i-1] - en.frac
	}
	return targets
}

func (c *EntityConveyor) isBunched() bool {
	tol := c.tolerance()
	for i, target := range c.bunchTargets() {
		if c.entries[i].position < target-tol {
			return false
		}
	}
	return true
}

// QueueChanged wakes the conveyor, even mid-step, when an entity can enter
// now, or when the step in flight does not end at the entrance clearing.
func (c *EntityConveyor) QueueChanged() {
	if !c.dev.IsProcessing() || !c.watchingEntrance || c.isReadyNow() {
		c.dev.PerformUnscheduledUpdate()
	}
}

func (c *EntityConveyor) IsNewStepRequired(bool) bool { return true }

func (c *EntityConveyor) StartProcessing(simTime float64) bool {
	c.travelTime = c.sample(c.TravelTime, "travel time")
	if c.travelTime <= 0 {
		sim.Abort(c.name, "travel time must be positive, got %v", c.travelTime)
	}
	c.updatedAt = simTime
	for c.isReadyForNext() {
		e := c.WaitQueue.RemoveFirst("")
		if e == nil {
			break
		}
		c.counters.AddReceived(1)
		c.insert(e)
	}
	return len(c.entries) > 0 && !math.IsInf(c.nextStep(), 1)
}

// insert places e behind the last entry, never overlapping it.
func (c *EntityConveyor) insert(e *sim.Entity) {
	length := 0.0
	if c.EntityLength != nil {
		length = c.EntityLength(e)
	}
	if length < 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		sim.Abort(c.name, "invalid length %v for %s", length, e)
	}
	en := &conveyorEntry{entity: e, frac: length / c.Length}
	if n := len(c.entries); n > 0 {
		en.position = math.Min(0, c.entries[n-1].position-en.frac)
	}
	c.entries = append(c.entries, en)
	logrus.Debugf("[tick %07d] %s: %s entered at %.4f", c.sim.Now(), c.name, e, en.position)
}

// nextStep returns the time, in seconds, to the earliest of: the leading
// entity reaching the exit, the last entity clearing the entrance while
// others wait, and (accumulating and blocked) the belt becoming fully
// bunched. +Inf when nothing can move.
func (c *EntityConveyor) nextStep() float64 {
	dur := math.Inf(1)
	c.watchingEntrance = false
	if len(c.entries) == 0 {
		return dur
	}
	front := c.entries[0]
	last := c.entries[len(c.entries)-1]
	blocked := c.isBlocked()
	atExit := c.frontAtExit()

	if blocked && atExit {
		if !c.Accumulating {
			return dur
		}
		targets := c.bunchTargets()
		bunch := 0.0
		for i, en := range c.entries {
			bunch = math.Max(bunch, targets[i]-en.position)
		}
		if bunch > c.tolerance() {
			dur = bunch * c.travelTime
		}
		lastTarget := targets[len(targets)-1]
		if last.position < 0 && lastTarget >= 0 && !c.WaitQueue.IsEmpty("") {
			dur = math.Min(dur, -last.position*c.travelTime)
			c.watchingEntrance = true
		}
		return dur
	}

	dur = math.Max(0, 1-front.position) * c.travelTime
	if last.position < 0 && !c.WaitQueue.IsEmpty("") {
		dur = math.Min(dur, -last.position*c.travelTime)
		c.watchingEntrance = true
	}
	return dur
}

func (c *EntityConveyor) StepDuration(_ float64) float64 {
	return c.nextStep()
}

func (c *EntityConveyor) UpdateProgress(dt float64) {
	pos := make([]float64, len(c.entries))
	for i, en := range c.entries {
		pos[i] = en.position
	}
	c.advance(pos, dt/c.travelTime)
	for i, en := range c.entries {
		en.position = pos[i]
	}
	c.updatedAt += dt
}

// ProcessStep sends the entities that reached the exit. While the exit is
// blocked the leading entity waits there.
func (c *EntityConveyor) ProcessStep(_ float64) {
	for c.frontAtExit() {
		if c.isBlocked() {
			c.entries[0].position = 1
			return
		}
		en := c.entries[0]
		c.entries[0] = nil
		c.entries = c.entries[1:]
		c.send(en.entity)
	}
}

// IsHoldingFinished implements device.ReleaseHolder: the conveyor is held
// when an entity waits at a blocked exit and nothing else can move.
func (c *EntityConveyor) IsHoldingFinished() bool {
	if !c.frontAtExit() || !c.isBlocked() {
		return false
	}
	if c.Accumulating && !c.isBunched() {
		return false
	}
	return !c.isReadyForNext() || c.WaitQueue.IsEmpty("")
}
