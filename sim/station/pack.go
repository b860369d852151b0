package station

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

// Pack loads entities from its wait queue into containers taken from its
// container queue, one entity per step. A full container is sent to Next.
type Pack struct {
	deviceStation

	WaitQueue      *queue.Queue
	ContainerQueue *queue.Queue
	// NumberOfEntities is sampled for every container.
	NumberOfEntities sim.SampleProvider
	// PackTime is sampled for every packed entity.
	PackTime sim.SampleProvider
	// MatchRequired fills a container only with the classifier that was the
	// most populous in the wait queue when the container was taken.
	// Unclassified entities are never packed in this mode.
	MatchRequired bool

	container *sim.Entity
	target    int
	match     string
	current   *sim.Entity
}

// NewPack creates a packer fed by waitQueue and containerQueue.
func NewPack(name string, s *sim.Simulator, waitQueue, containerQueue *queue.Queue, number, packTime sim.SampleProvider) *Pack {
	p := &Pack{
		deviceStation:    deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueue:        waitQueue,
		ContainerQueue:   containerQueue,
		NumberOfEntities: number,
		PackTime:         packTime,
	}
	p.dev = device.New(name, s, p)
	subscribe(name, p, waitQueue, containerQueue)
	s.RegisterStats(p)
	return p
}

// Container returns the container being filled, nil when none.
func (p *Pack) Container() *sim.Entity {
	return p.container
}

func (p *Pack) IsNewStepRequired(completed bool) bool { return completed }

func (p *Pack) StartProcessing(_ float64) bool {
	if p.container == nil {
		if p.ContainerQueue.IsEmpty("") || p.WaitQueue.IsEmpty("") {
			return false
		}
		match := ""
		if p.MatchRequired {
			var ok bool
			if match, ok = p.WaitQueue.ClassifierWithMaxCount(); !ok {
				return false
			}
		}
		p.container = p.ContainerQueue.RemoveFirst("")
		p.target = int(p.sample(p.NumberOfEntities, "number of entities"))
		if p.target < 1 {
			sim.Abort(p.name, "a container needs at least one entity, got %d", p.target)
		}
		p.match = match
		logrus.Debugf("[tick %07d] %s: packing %d into %s (match %q)", p.sim.Now(), p.name, p.target, p.container, p.match)
	}
	p.current = p.WaitQueue.RemoveFirst(p.match)
	if p.current == nil {
		return false
	}
	p.counters.AddReceived(1)
	return true
}

func (p *Pack) StepDuration(_ float64) float64 {
	return p.sample(p.PackTime, "pack time")
}

func (p *Pack) ProcessStep(_ float64) {
	p.container.Contents = append(p.container.Contents, p.current)
	p.counters.AddProcessed(1)
	p.current = nil
	if len(p.container.Contents) < p.target {
		return
	}
	c := p.container
	p.container = nil
	p.forward(c)
}

// Unpack removes the entities carried by containers from its wait queue, one
// per step, and sends them to Next. An emptied container goes to
// ContainerNext, or is disposed when that is nil.
type Unpack struct {
	deviceStation

	WaitQueue *queue.Queue
	// UnpackTime is sampled for every unpacked entity.
	UnpackTime    sim.SampleProvider
	ContainerNext sim.Linkable

	container *sim.Entity
}

// NewUnpack creates an unpacker fed by waitQueue.
func NewUnpack(name string, s *sim.Simulator, waitQueue *queue.Queue, unpackTime sim.SampleProvider) *Unpack {
	u := &Unpack{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueue:     waitQueue,
		UnpackTime:    unpackTime,
	}
	u.dev = device.New(name, s, u)
	subscribe(name, u, waitQueue)
	s.RegisterStats(u)
	return u
}

func (u *Unpack) IsNewStepRequired(completed bool) bool { return completed }

func (u *Unpack) StartProcessing(_ float64) bool {
	for {
		if u.container != nil && len(u.container.Contents) > 0 {
			return true
		}
		if u.container != nil {
			u.releaseContainer()
		}
		u.container = u.WaitQueue.RemoveFirst("")
		if u.container == nil {
			return false
		}
	}
}

func (u *Unpack) releaseContainer() {
	c := u.container
	u.container = nil
	if u.ContainerNext == nil {
		u.sim.Dispose(c)
		return
	}
	u.ContainerNext.AddEntity(c)
}

func (u *Unpack) StepDuration(_ float64) float64 {
	return u.sample(u.UnpackTime, "unpack time")
}

func (u *Unpack) ProcessStep(_ float64) {
	e := u.container.Contents[0]
	u.container.Contents[0] = nil
	u.container.Contents = u.container.Contents[1:]
	u.counters.AddReceived(1)
	u.send(e)
	if len(u.container.Contents) == 0 {
		u.releaseContainer()
	}
}
