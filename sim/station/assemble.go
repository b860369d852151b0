package station

import (
	"fmt"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
)

// multiQueue is shared by the stations that synchronize several wait queues.
type multiQueue struct {
	deviceStation

	WaitQueues []*queue.Queue
	// ServiceTime is sampled for every combined or assembled group.
	ServiceTime sim.SampleProvider
	// MatchRequired takes every part of a group from the same classifier.
	MatchRequired bool
}

// matchingClassifier returns a classifier for which every queue i holds at
// least counts[i] entities. With MatchRequired the candidates are the
// classified entities of the first queue, tried in service order; otherwise
// "" (any) is checked.
func (m *multiQueue) matchingClassifier(counts []int) (string, bool) {
	enough := func(classifier string) bool {
		for i, q := range m.WaitQueues {
			if q.Size(classifier) < counts[i] {
				return false
			}
		}
		return true
	}
	if !m.MatchRequired {
		return "", enough("")
	}
	seen := make(map[string]bool)
	for _, entry := range m.WaitQueues[0].Entries("") {
		if entry.Classifier == "" || seen[entry.Classifier] {
			continue
		}
		seen[entry.Classifier] = true
		if enough(entry.Classifier) {
			return entry.Classifier, true
		}
	}
	return "", false
}

// removeGroup takes counts[i] entities from each queue i.
func (m *multiQueue) removeGroup(classifier string, counts []int) [][]*sim.Entity {
	group := make([][]*sim.Entity, len(m.WaitQueues))
	for i, q := range m.WaitQueues {
		for range counts[i] {
			e := q.RemoveFirst(classifier)
			if e == nil {
				sim.Abort(m.name, "queue %s has no entity with match value %q", q.Name(), classifier)
			}
			m.counters.AddReceived(1)
			group[i] = append(group[i], e)
		}
	}
	return group
}

func (m *multiQueue) IsNewStepRequired(completed bool) bool { return completed }

func (m *multiQueue) StepDuration(_ float64) float64 {
	return m.sample(m.ServiceTime, "service time")
}

// Combine takes one entity from each wait queue. The entity from the first
// queue continues; the others are disposed.
type Combine struct {
	multiQueue

	group []*sim.Entity
}

// NewCombine creates a combine fed by waitQueues.
func NewCombine(name string, s *sim.Simulator, waitQueues []*queue.Queue, serviceTime sim.SampleProvider) *Combine {
	if len(waitQueues) == 0 {
		sim.Abort(name, "at least one wait queue is required")
	}
	c := &Combine{multiQueue: multiQueue{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		WaitQueues:    waitQueues,
		ServiceTime:   serviceTime,
	}}
	c.dev = device.New(name, s, c)
	subscribe(name, c, waitQueues...)
	s.RegisterStats(c)
	return c
}

func (c *Combine) StartProcessing(_ float64) bool {
	counts := make([]int, len(c.WaitQueues))
	for i := range counts {
		counts[i] = 1
	}
	classifier, ok := c.matchingClassifier(counts)
	if !ok {
		return false
	}
	c.group = c.group[:0]
	for _, parts := range c.removeGroup(classifier, counts) {
		c.group = append(c.group, parts...)
	}
	return true
}

func (c *Combine) ProcessStep(_ float64) {
	for _, e := range c.group[1:] {
		c.dispose(e)
	}
	c.send(c.group[0])
	c.group = c.group[:0]
}

// Assemble takes Counts[i] entities from wait queue i and creates a new
// entity from them. The parts are disposed, or carried inside the new
// entity when KeepParts is set.
type Assemble struct {
	multiQueue

	// Counts is the number of parts taken from each wait queue.
	Counts []int
	// Prototype names the assembled entities.
	Prototype string
	KeepParts bool

	parts     []*sim.Entity
	assembled int64
}

// NewAssemble creates an assembler fed by waitQueues.
func NewAssemble(name string, s *sim.Simulator, waitQueues []*queue.Queue, counts []int, serviceTime sim.SampleProvider) *Assemble {
	if len(waitQueues) == 0 || len(counts) != len(waitQueues) {
		sim.Abort(name, "need one part count per wait queue, got %d counts for %d queues", len(counts), len(waitQueues))
	}
	total := 0
	for i, n := range counts {
		if n < 0 {
			sim.Abort(name, "negative part count %d for queue %s", n, waitQueues[i].Name())
		}
		total += n
	}
	if total == 0 {
		sim.Abort(name, "an assembly needs at least one part")
	}
	a := &Assemble{
		multiQueue: multiQueue{
			deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
			WaitQueues:    waitQueues,
			ServiceTime:   serviceTime,
		},
		Counts:    counts,
		Prototype: name,
	}
	a.dev = device.New(name, s, a)
	subscribe(name, a, waitQueues...)
	s.RegisterStats(a)
	return a
}

func (a *Assemble) StartProcessing(_ float64) bool {
	classifier, ok := a.matchingClassifier(a.Counts)
	if !ok {
		return false
	}
	a.parts = a.parts[:0]
	for _, parts := range a.removeGroup(classifier, a.Counts) {
		a.parts = append(a.parts, parts...)
	}
	return true
}

func (a *Assemble) ProcessStep(_ float64) {
	a.assembled++
	out := a.sim.NewEntity(fmt.Sprintf("%s%d", a.Prototype, a.assembled))
	if a.KeepParts {
		out.Contents = append(out.Contents, a.parts...)
		a.counters.AddProcessed(int64(len(a.parts)))
	} else {
		for _, e := range a.parts {
			a.dispose(e)
		}
	}
	a.parts = a.parts[:0]
	a.forward(out)
}
