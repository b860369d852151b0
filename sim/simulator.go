// sim/simulator.go
package sim

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// EventQueue implements heap.Interface and orders events by
// timestamp → dispatch priority → sequence.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-PriorityQueue
type EventQueue []*Event

func (eq EventQueue) Len() int { return len(eq) }

func (eq EventQueue) Less(i, j int) bool {
	if eq[i].time != eq[j].time {
		return eq[i].time < eq[j].time
	}
	if eq[i].priority != eq[j].priority {
		return eq[i].priority < eq[j].priority
	}
	return eq[i].seq < eq[j].seq
}

func (eq EventQueue) Swap(i, j int) {
	eq[i], eq[j] = eq[j], eq[i]
	eq[i].index = i
	eq[j].index = j
}

func (eq *EventQueue) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*eq)
	*eq = append(*eq, ev)
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*eq = old[0 : n-1]
	return item
}

// StatsClearer is implemented by every component holding statistics that are
// reset at the end of the initialization period.
type StatsClearer interface {
	ClearStatistics(now float64)
}

// Simulator is the core object that holds simulation time and the event loop.
// It is the only scheduler the stations know about.
//
// Thread-safety: NOT thread-safe. Every mutation of simulation state happens
// inside an event callback dispatched by Run.
type Simulator struct {
	Clock   int64
	Horizon int64
	// EventQueue has all pending events, ordered for deterministic dispatch
	EventQueue EventQueue
	// TicksPerSecond converts between simulated seconds and integer ticks
	TicksPerSecond      float64
	InitializationTicks int64
	RNG                 *PartitionedRNG
	Metrics             *Metrics

	seq      int64
	waits    []*Wait
	clearers []StatsClearer
	started  bool
}

// NewSimulator creates a simulator from a RunConfig.
// Panics if TicksPerSecond is not positive.
func NewSimulator(cfg RunConfig) *Simulator {
	if cfg.TicksPerSecond <= 0 || math.IsNaN(cfg.TicksPerSecond) || math.IsInf(cfg.TicksPerSecond, 0) {
		panic(fmt.Sprintf("NewSimulator: TicksPerSecond must be positive and finite, got %v", cfg.TicksPerSecond))
	}
	horizon := cfg.HorizonTicks
	if horizon <= 0 {
		horizon = math.MaxInt64
	}
	s := &Simulator{
		Clock:          0,
		Horizon:        horizon,
		EventQueue:     make(EventQueue, 0),
		TicksPerSecond: cfg.TicksPerSecond,
		RNG:            NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
		Metrics:        NewMetrics(),
	}
	if cfg.InitializationSeconds > 0 {
		s.InitializationTicks = s.SecondsToTicks(cfg.InitializationSeconds)
	}
	return s
}

// Now returns the current simulation time in ticks.
func (sim *Simulator) Now() int64 {
	return sim.Clock
}

// Seconds returns the current simulation time in seconds.
func (sim *Simulator) Seconds() float64 {
	return sim.TicksToSeconds(sim.Clock)
}

// SecondsToTicks converts a duration in seconds to the nearest tick count.
func (sim *Simulator) SecondsToTicks(secs float64) int64 {
	return int64(math.Round(secs * sim.TicksPerSecond))
}

// TicksToSeconds converts a tick count to seconds.
func (sim *Simulator) TicksToSeconds(ticks int64) float64 {
	return float64(ticks) / sim.TicksPerSecond
}

// Schedule pushes a callback into the EventQueue to be dispatched delay ticks
// from now. Events at the same tick and priority are dispatched in arrival
// order when fifo is true and in reverse arrival order otherwise.
// The returned event is the handle used for Cancel.
func (sim *Simulator) Schedule(delay int64, priority int, fifo bool, name string, fn func()) *Event {
	if delay < 0 {
		panic(fmt.Sprintf("Schedule %s: negative delay %d", name, delay))
	}
	if fn == nil {
		panic(fmt.Sprintf("Schedule %s: fn must not be nil", name))
	}
	sim.seq++
	seq := sim.seq
	if !fifo {
		seq = -seq
	}
	ev := &Event{
		time:     sim.Clock + delay,
		priority: priority,
		seq:      seq,
		name:     name,
		fn:       fn,
		index:    -1,
	}
	heap.Push(&sim.EventQueue, ev)
	return ev
}

// Cancel removes a scheduled event. Returns false when the event has
// already been dispatched or cancelled.
func (sim *Simulator) Cancel(ev *Event) bool {
	if !ev.IsScheduled() {
		return false
	}
	heap.Remove(&sim.EventQueue, ev.index)
	ev.index = -1
	return true
}

// ScheduleUntil registers a conditional wait. After every dispatched event the
// condition is re-evaluated; once it returns true fn is scheduled for the
// current tick and the wait is discarded.
func (sim *Simulator) ScheduleUntil(name string, cond func() bool, fn func()) *Wait {
	if cond == nil || fn == nil {
		panic(fmt.Sprintf("ScheduleUntil %s: cond and fn must not be nil", name))
	}
	w := &Wait{name: name, cond: cond, fn: fn, active: true}
	sim.waits = append(sim.waits, w)
	return w
}

// CancelWait discards a conditional wait. Returns false if it was not active.
func (sim *Simulator) CancelWait(w *Wait) bool {
	if !w.IsActive() {
		return false
	}
	w.active = false
	for i, other := range sim.waits {
		if other == w {
			sim.waits = append(sim.waits[:i], sim.waits[i+1:]...)
			break
		}
	}
	return true
}

// RegisterStats adds a component whose statistics are cleared when the
// initialization period ends.
func (sim *Simulator) RegisterStats(c StatsClearer) {
	sim.clearers = append(sim.clearers, c)
}

// Pending returns the number of scheduled events.
func (sim *Simulator) Pending() int {
	return len(sim.EventQueue)
}

func (sim *Simulator) start() {
	if sim.started {
		return
	}
	sim.started = true
	if sim.InitializationTicks > 0 {
		sim.Schedule(sim.InitializationTicks-sim.Clock, PriorityStatsReset, true, "ClearStatistics", func() {
			now := sim.Seconds()
			logrus.Infof("[tick %07d] Initialization period ended, clearing statistics", sim.Clock)
			for _, c := range sim.clearers {
				c.ClearStatistics(now)
			}
		})
	}
}

// Step dispatches the next event. Returns false when there is nothing left
// to dispatch before the horizon.
func (sim *Simulator) Step() bool {
	sim.start()
	if len(sim.EventQueue) == 0 {
		return false
	}
	if sim.EventQueue[0].time > sim.Horizon {
		return false
	}
	ev := heap.Pop(&sim.EventQueue).(*Event)
	sim.Clock = ev.time
	logrus.Debugf("[tick %07d] Executing %s", sim.Clock, ev.name)
	sim.Metrics.EventsDispatched++
	ev.fn()
	sim.evaluateWaits()
	return true
}

// evaluateWaits schedules every conditional wait whose condition now holds.
func (sim *Simulator) evaluateWaits() {
	if len(sim.waits) == 0 {
		return
	}
	remaining := sim.waits[:0]
	var ready []*Wait
	for _, w := range sim.waits {
		if w.cond() {
			w.active = false
			ready = append(ready, w)
			continue
		}
		remaining = append(remaining, w)
	}
	for i := len(remaining); i < len(sim.waits); i++ {
		sim.waits[i] = nil
	}
	sim.waits = remaining
	for _, w := range ready {
		sim.Schedule(0, PriorityWaitUntil, true, w.name, w.fn)
	}
}

// RunUntil dispatches every event whose timestamp is at most tick and leaves
// the clock at tick.
func (sim *Simulator) RunUntil(tick int64) {
	for len(sim.EventQueue) > 0 && sim.EventQueue[0].time <= tick {
		if !sim.Step() {
			break
		}
	}
	if tick > sim.Clock && tick <= sim.Horizon {
		sim.Clock = tick
	}
}

// Run dispatches events until the queue is empty, the horizon is reached or
// ctx is cancelled. A model error raised by a station aborts the run and is
// returned.
func (sim *Simulator) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			me, ok := r.(*ModelError)
			if !ok {
				panic(r)
			}
			me.Tick = sim.Clock
			err = me
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !sim.Step() {
			break
		}
	}
	sim.Metrics.SimEndedTime = min(sim.Clock, sim.Horizon)
	logrus.Infof("[tick %07d] Simulation ended", sim.Clock)
	return nil
}
