package station

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
	"github.com/inference-sim/flowsim/sim/resource"
)

// Seize takes the head of its wait queue once every requested pool can
// supply its units at the same time, then passes the entity on. It waits on
// each pool as a resource.User, so pools rank it against their other users.
type Seize struct {
	deviceStation

	WaitQueue *queue.Queue
	Requests  []resource.Request
	Match     string

	seized []*sim.Entity // seized, waiting for the next zero-length step
}

// NewSeize creates a seize station fed by waitQueue and registers it with
// every requested pool.
func NewSeize(name string, s *sim.Simulator, waitQueue *queue.Queue, reqs []resource.Request) *Seize {
	if len(reqs) == 0 {
		sim.Abort(name, "no resource pool requested")
	}
	sz := &Seize{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueue:     waitQueue,
		Requests:      reqs,
	}
	sz.dev = device.New(name, s, sz)
	subscribe(name, sz, waitQueue)
	for _, r := range reqs {
		if r.Pool == nil {
			sim.Abort(name, "nil resource pool")
		}
		r.Pool.AddUser(sz)
	}
	s.RegisterStats(sz)
	return sz
}

// HasWaitingEntity implements resource.User.
func (sz *Seize) HasWaitingEntity() bool {
	return !sz.WaitQueue.IsEmpty(sz.Match)
}

// HeadPriority implements resource.User.
func (sz *Seize) HeadPriority() int {
	p, _ := sz.WaitQueue.HeadPriority(sz.Match)
	return p
}

// HeadWaitTime implements resource.User.
func (sz *Seize) HeadWaitTime() float64 {
	return sz.WaitQueue.HeadWaitTime(sz.Match)
}

// IsReadyToSeize implements resource.User. A station held back by a
// threshold or downtime does not seize.
func (sz *Seize) IsReadyToSeize() bool {
	if !sz.dev.IsAbleToRestart() || !sz.dev.IsOpen() {
		return false
	}
	head := sz.WaitQueue.First(sz.Match)
	return head != nil && resource.CanSeizeAll(sz, sz.Requests, head.Entity)
}

// SeizeNext implements resource.User: the head entity seizes its units now
// and leaves at the station's next step.
func (sz *Seize) SeizeNext() bool {
	if !sz.IsReadyToSeize() {
		return false
	}
	head := sz.WaitQueue.First(sz.Match)
	resource.SeizeAll(sz, sz.Requests, head.Entity)
	sz.WaitQueue.Remove(head.Entity)
	sz.counters.AddReceived(1)
	sz.seized = append(sz.seized, head.Entity)
	logrus.Debugf("[tick %07d] %s: %s seized its units", sz.sim.Now(), sz.name, head.Entity)
	if !sz.dev.IsProcessing() {
		sz.dev.PerformUnscheduledUpdate()
	}
	return true
}

func (sz *Seize) IsNewStepRequired(completed bool) bool { return completed }

func (sz *Seize) StartProcessing(_ float64) bool {
	if len(sz.seized) == 0 && !sz.SeizeNext() {
		return false
	}
	return true
}

func (sz *Seize) StepDuration(_ float64) float64 { return 0 }

func (sz *Seize) ProcessStep(_ float64) {
	e := sz.seized[0]
	sz.seized[0] = nil
	sz.seized = sz.seized[1:]
	sz.send(e)
}

// Release gives back the listed units for every entity it receives and
// passes the entity on. Pools wake their waiting users immediately.
type Release struct {
	linkedService

	Requests []resource.Request
}

// NewRelease creates a release station.
func NewRelease(name string, s *sim.Simulator, reqs []resource.Request) *Release {
	r := &Release{linkedService: newLinkedService(name, s), Requests: reqs}
	s.RegisterStats(r)
	return r
}

// AddEntity implements sim.Linkable.
func (r *Release) AddEntity(e *sim.Entity) {
	r.counters.AddReceived(1)
	resource.ReleaseAll(r.Requests, e)
	r.send(e)
}

// Branch routes each entity to one of several destinations chosen by a
// sampled 1-based index.
type Branch struct {
	linkedService

	Choice       sim.SampleProvider
	Destinations []sim.Linkable
}

// NewBranch creates a branch over destinations.
func NewBranch(name string, s *sim.Simulator, choice sim.SampleProvider, destinations []sim.Linkable) *Branch {
	b := &Branch{linkedService: newLinkedService(name, s), Choice: choice, Destinations: destinations}
	s.RegisterStats(b)
	return b
}

// AddEntity implements sim.Linkable. An index outside the destination list
// is a model error.
func (b *Branch) AddEntity(e *sim.Entity) {
	b.counters.AddReceived(1)
	i := sim.DrawInt(b.Choice, b.sim.Seconds(), b.name, "choice")
	if i < 1 || i > len(b.Destinations) {
		sim.Abort(b.name, "choice %d for %s out of range [1, %d]", i, e, len(b.Destinations))
	}
	b.counters.AddProcessed(1)
	b.Destinations[i-1].AddEntity(e)
}
