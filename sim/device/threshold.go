package device

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
)

// Updatable is notified when a condition it polls has changed.
type Updatable interface {
	PerformUnscheduledUpdate()
}

// SignalThreshold is a Threshold switched explicitly by the model, or on a
// repeating open/closed cycle.
type SignalThreshold struct {
	name  string
	open  bool
	users []Updatable

	changes int64
}

// NewSignalThreshold creates a threshold in the given initial state.
func NewSignalThreshold(name string, open bool) *SignalThreshold {
	return &SignalThreshold{name: name, open: open}
}

// Name returns the threshold's name.
func (t *SignalThreshold) Name() string {
	return t.name
}

// IsOpen implements Threshold.
func (t *SignalThreshold) IsOpen() bool {
	return t.open
}

// AddUser registers a device (or station) to be updated on every change.
func (t *SignalThreshold) AddUser(u Updatable) {
	t.users = append(t.users, u)
}

// Changes returns how many times the threshold switched.
func (t *SignalThreshold) Changes() int64 {
	return t.changes
}

// SetOpen switches the threshold and notifies its users when the state
// actually changes.
func (t *SignalThreshold) SetOpen(open bool) {
	if t.open == open {
		return
	}
	t.open = open
	t.changes++
	for _, u := range t.users {
		u.PerformUnscheduledUpdate()
	}
}

// Cycle alternates the threshold: it stays in its current state for one
// sample of the matching provider, then switches, indefinitely.
func (t *SignalThreshold) Cycle(s *sim.Simulator, openTime, closedTime sim.SampleProvider) {
	var next func()
	next = func() {
		provider := closedTime
		if t.open {
			provider = openTime
		}
		secs := sim.Draw(provider, s.Seconds(), t.name, "threshold cycle time")
		if secs < 0 {
			sim.Abort(t.name, "negative threshold cycle time %v", secs)
		}
		s.Schedule(s.SecondsToTicks(secs), sim.PriorityArrival, true, t.name+".Toggle", func() {
			t.SetOpen(!t.open)
			logrus.Debugf("[tick %07d] %s: open=%v", s.Now(), t.name, t.open)
			next()
		})
	}
	next()
}
