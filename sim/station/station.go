// Package station implements the process-flow stations that move entities
// through a model: generators and sinks at the edges, and the Device-backed
// servers, processors, conveyors and synchronizers in between.
package station

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

// Station is anything placed in a model that counts the entities it handles.
type Station interface {
	Name() string
	Counters() sim.ThroughputCounters
}

// Stateful is a Station driven by a Device.
type Stateful interface {
	Station
	Device() *device.Device
}

// linkedService holds what every station shares: a name, a downstream
// destination and throughput counters.
type linkedService struct {
	name string
	sim  *sim.Simulator
	// Next receives the entities the station finishes with.
	Next sim.Linkable

	counters sim.ThroughputCounters
}

func newLinkedService(name string, s *sim.Simulator) linkedService {
	return linkedService{name: name, sim: s}
}

// Name returns the station's name.
func (l *linkedService) Name() string {
	return l.name
}

// Counters returns the received/processed counts.
func (l *linkedService) Counters() sim.ThroughputCounters {
	return l.counters
}

// ClearStatistics implements sim.StatsClearer.
func (l *linkedService) ClearStatistics(now float64) {
	l.counters.ClearStatistics(now)
}

// send counts an entity as processed and passes it downstream.
func (l *linkedService) send(e *sim.Entity) {
	l.counters.AddProcessed(1)
	l.forward(e)
}

// forward passes an entity downstream without counting it.
func (l *linkedService) forward(e *sim.Entity) {
	if l.Next == nil {
		sim.Abort(l.name, "no next station for %s", e)
	}
	logrus.Debugf("[tick %07d] %s: %s -> %s", l.sim.Now(), l.name, e, l.Next.Name())
	l.Next.AddEntity(e)
}

// dispose counts an entity as processed and destroys it.
func (l *linkedService) dispose(e *sim.Entity) {
	l.counters.AddProcessed(1)
	l.sim.Dispose(e)
}

// sample draws a non-negative, finite value from p at the current time.
func (l *linkedService) sample(p sim.SampleProvider, what string) float64 {
	if p == nil {
		sim.Abort(l.name, "%s is not set", what)
	}
	v := p.NextSample(l.sim.Seconds())
	if math.IsNaN(v) || v < 0 || v > maxSeconds {
		sim.Abort(l.name, "invalid %s %v", what, v)
	}
	return v
}

// maxSeconds bounds sampled durations so they still fit in int64 ticks.
const maxSeconds = 1e12

// deviceStation is embedded by stations whose work takes simulated time.
type deviceStation struct {
	linkedService
	dev *device.Device
}

// Device returns the state machine driving the station.
func (d *deviceStation) Device() *device.Device {
	return d.dev
}

// PerformUnscheduledUpdate implements device.Updatable so that thresholds,
// downtimes and pools can wake the station.
func (d *deviceStation) PerformUnscheduledUpdate() {
	d.dev.PerformUnscheduledUpdate()
}

// IsProcessing implements device.DowntimeUser.
func (d *deviceStation) IsProcessing() bool {
	return d.dev.IsProcessing()
}

// QueueChanged implements queue.Consumer: an idle station re-checks its
// queues. A working station picks up new entities at its next step.
func (d *deviceStation) QueueChanged() {
	if !d.dev.IsProcessing() {
		d.dev.PerformUnscheduledUpdate()
	}
}

// UpdateProgress implements device.Hooks for stations without continuous state.
func (d *deviceStation) UpdateProgress(float64) {}

// subscribe registers c with every queue, rejecting missing queues.
func subscribe(station string, c queue.Consumer, queues ...*queue.Queue) {
	for _, q := range queues {
		if q == nil {
			sim.Abort(station, "wait queue is not set")
		}
		q.AddConsumer(c)
	}
}
