package station

import (
	"fmt"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
)

// Generator creates entities at sampled interarrival times and sends them to
// Next. Its Device is a loop of one step per arrival, so thresholds and
// downtimes can suspend it.
type Generator struct {
	deviceStation

	// FirstArrival is the delay before the first entity (nil = 0).
	FirstArrival sim.SampleProvider
	// Interarrival is the time between consecutive entities.
	Interarrival sim.SampleProvider
	// EntitiesPerArrival is the batch size of each arrival (nil = 1).
	EntitiesPerArrival sim.SampleProvider
	// MaxNumber stops the generator after that many entities (0 = unlimited).
	MaxNumber int64
	// Prototype names the created entities.
	Prototype string
	// Init is applied to every created entity before it is sent.
	Init func(e *sim.Entity)

	created  int64
	arrivals int64
}

// NewGenerator creates a generator; call Start to schedule the first arrival.
func NewGenerator(name string, s *sim.Simulator, interarrival sim.SampleProvider) *Generator {
	g := &Generator{
		deviceStation: deviceStation{linkedService: newLinkedService(name, s)},
		Interarrival:  interarrival,
		Prototype:     name,
	}
	g.dev = device.New(name, s, g)
	s.RegisterStats(g)
	return g
}

// Start begins the arrival loop.
func (g *Generator) Start() {
	g.dev.Restart()
}

// Created returns the number of entities generated so far.
func (g *Generator) Created() int64 {
	return g.created
}

func (g *Generator) IsNewStepRequired(completed bool) bool { return completed }

func (g *Generator) StartProcessing(_ float64) bool {
	return g.MaxNumber == 0 || g.created < g.MaxNumber
}

func (g *Generator) StepDuration(_ float64) float64 {
	if g.arrivals == 0 {
		if g.FirstArrival == nil {
			return 0
		}
		return g.sample(g.FirstArrival, "first arrival time")
	}
	return g.sample(g.Interarrival, "interarrival time")
}

func (g *Generator) ProcessStep(_ float64) {
	g.arrivals++
	n := int64(1)
	if g.EntitiesPerArrival != nil {
		n = int64(g.sample(g.EntitiesPerArrival, "entities per arrival"))
	}
	if g.MaxNumber > 0 {
		n = min(n, g.MaxNumber-g.created)
	}
	for range n {
		g.created++
		e := g.sim.NewEntity(fmt.Sprintf("%s%d", g.Prototype, g.created))
		if g.Init != nil {
			g.Init(e)
		}
		g.counters.AddReceived(1)
		g.send(e)
	}
}

// Sink disposes every entity it receives and records the time each spent in
// the system.
type Sink struct {
	linkedService

	timeInSystem sim.SampleStat
}

// NewSink creates a sink.
func NewSink(name string, s *sim.Simulator) *Sink {
	k := &Sink{linkedService: newLinkedService(name, s)}
	s.RegisterStats(k)
	return k
}

// AddEntity implements sim.Linkable.
func (k *Sink) AddEntity(e *sim.Entity) {
	k.counters.AddReceived(1)
	k.timeInSystem.Add(k.sim.Seconds() - e.CreatedAt)
	k.dispose(e)
}

// TimeInSystem returns the creation-to-disposal times of received entities.
func (k *Sink) TimeInSystem() *sim.SampleStat {
	return &k.timeInSystem
}

// ClearStatistics implements sim.StatsClearer.
func (k *Sink) ClearStatistics(now float64) {
	k.linkedService.ClearStatistics(now)
	k.timeInSystem.Reset()
}
