package sim

import "fmt"

// Dispatch priorities for events sharing a tick. Lower values are dispatched
// first, so a genuine step completion always runs ahead of a reactive re-check
// scheduled for the same tick.
const (
	PriorityStatsReset  = 0
	PriorityArrival     = 3
	PriorityStepEnd     = 5
	PriorityRenege      = 7
	PriorityQueueNotify = 8
	PriorityUpdate      = 10
	PriorityWaitUntil   = 11
)

// Event is a callback scheduled in the simulation timeline. A scheduled
// *Event doubles as the handle used to cancel it.
type Event struct {
	time     int64 // Absolute simulation time (in ticks)
	priority int   // Dispatch priority among events at the same tick
	seq      int64 // Arrival order; negated for LIFO events
	name     string
	fn       func()
	index    int // Position in the EventQueue, -1 when not scheduled
}

// Timestamp returns the tick at which the event is dispatched.
func (e *Event) Timestamp() int64 {
	return e.time
}

// Priority returns the event's dispatch priority.
func (e *Event) Priority() int {
	return e.priority
}

// Name returns the label given when the event was scheduled.
func (e *Event) Name() string {
	return e.name
}

// IsScheduled reports whether the event is still waiting in the queue.
// A nil event is never scheduled.
func (e *Event) IsScheduled() bool {
	return e != nil && e.index >= 0
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%d/p%d", e.name, e.time, e.priority)
}

// Wait is a conditional wait registered with ScheduleUntil.
type Wait struct {
	name   string
	cond   func() bool
	fn     func()
	active bool
}

// IsActive reports whether the wait has neither fired nor been cancelled.
func (w *Wait) IsActive() bool {
	return w != nil && w.active
}
