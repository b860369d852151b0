package station

import (
	"math"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

type inService struct {
	entity    *sim.Entity
	remaining float64 // seconds of service left
}

// EntityProcessor serves up to Capacity entities concurrently, each with its
// own service time. Every step lasts until the earliest completion; arrivals
// while below capacity interrupt the step so they can start immediately.
type EntityProcessor struct {
	deviceStation

	WaitQueue   *queue.Queue
	ServiceTime sim.SampleProvider
	// Capacity is sampled whenever a new entity could start. Like a pool
	// capacity it must be a function of time, not a random draw.
	Capacity sim.SampleProvider
	Match    string

	inService []*inService
}

// NewEntityProcessor creates a processor fed by waitQueue.
func NewEntityProcessor(name string, s *sim.Simulator, waitQueue *queue.Queue, capacity, serviceTime sim.SampleProvider) *EntityProcessor {
	p := &EntityProcessor{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueue:     waitQueue,
		ServiceTime:   serviceTime,
		Capacity:      capacity,
	}
	p.dev = device.New(name, s, p)
	subscribe(name, p, waitQueue)
	s.RegisterStats(p)
	return p
}

// InService returns the number of entities being served.
func (p *EntityProcessor) InService() int {
	return len(p.inService)
}

func (p *EntityProcessor) capacity() int {
	c := p.sample(p.Capacity, "capacity")
	return int(c)
}

// QueueChanged wakes the processor, even mid-step, when it has spare capacity.
func (p *EntityProcessor) QueueChanged() {
	if len(p.inService) < p.capacity() {
		p.dev.PerformUnscheduledUpdate()
	}
}

func (p *EntityProcessor) IsNewStepRequired(bool) bool { return true }

func (p *EntityProcessor) StartProcessing(_ float64) bool {
	for len(p.inService) < p.capacity() {
		e := p.WaitQueue.RemoveFirst(p.Match)
		if e == nil {
			break
		}
		p.counters.AddReceived(1)
		p.inService = append(p.inService, &inService{
			entity:    e,
			remaining: p.sample(p.ServiceTime, "service time"),
		})
	}
	return len(p.inService) > 0
}

func (p *EntityProcessor) StepDuration(_ float64) float64 {
	dur := math.Inf(1)
	for _, s := range p.inService {
		dur = math.Min(dur, s.remaining)
	}
	return dur
}

func (p *EntityProcessor) UpdateProgress(dt float64) {
	for _, s := range p.inService {
		s.remaining -= dt
	}
}

// ProcessStep sends every entity whose service is done, within half a tick
// of rounding, in the order they started.
func (p *EntityProcessor) ProcessStep(_ float64) {
	tol := 0.5 / p.sim.TicksPerSecond
	kept := p.inService[:0]
	var done []*sim.Entity
	for _, s := range p.inService {
		if s.remaining <= tol {
			done = append(done, s.entity)
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(p.inService); i++ {
		p.inService[i] = nil
	}
	p.inService = kept
	for _, e := range done {
		p.send(e)
	}
}
