package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/observe"
	"github.com/inference-sim/flowsim/sim/queue"
	"github.com/inference-sim/flowsim/sim/resource"
	"github.com/inference-sim/flowsim/sim/station"
)

// Model is a network assembled from a Scenario, ready to run.
type Model struct {
	Sim *sim.Simulator

	Queues     []*queue.Queue
	Pools      []*resource.Pool
	Stations   []station.Station
	Thresholds map[string]*device.SignalThreshold
	Downtimes  []*device.ScheduledDowntime

	generators []*station.Generator
	queues     map[string]*queue.Queue
	pools      map[string]*resource.Pool
	linkables  map[string]sim.Linkable
	stateful   map[string]updatableStation
}

// updatableStation is a Device-backed station that thresholds can wake.
type updatableStation interface {
	station.Stateful
	device.Updatable
}

// Build assembles the network described by sc on a fresh simulator.
// Unknown references and invalid parameters are returned as errors.
func Build(sc *Scenario) (m *Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			me, ok := r.(*sim.ModelError)
			if !ok {
				panic(r)
			}
			m, err = nil, fmt.Errorf("build model: %w", me)
		}
	}()

	m = &Model{
		Sim:        sim.NewSimulator(sc.RunConfig()),
		Thresholds: make(map[string]*device.SignalThreshold),
		queues:     make(map[string]*queue.Queue),
		pools:      make(map[string]*resource.Pool),
		linkables:  make(map[string]sim.Linkable),
		stateful:   make(map[string]updatableStation),
	}
	if err := m.buildPools(sc.Pools); err != nil {
		return nil, err
	}
	if err := m.buildThresholds(sc.Thresholds); err != nil {
		return nil, err
	}
	if err := m.buildQueues(sc.Queues); err != nil {
		return nil, err
	}
	next := make(map[string]func(sim.Linkable))
	for _, spec := range sc.Stations {
		if err := m.buildStation(spec, next); err != nil {
			return nil, fmt.Errorf("station %q: %w", spec.Name, err)
		}
	}
	if err := m.link(sc, next); err != nil {
		return nil, err
	}
	if err := m.buildDowntimes(sc.Downtimes); err != nil {
		return nil, err
	}
	for _, spec := range sc.Stations {
		if err := m.attachThresholds(spec); err != nil {
			return nil, fmt.Errorf("station %q: %w", spec.Name, err)
		}
	}
	logrus.Infof("Built model: %d queues, %d pools, %d stations", len(m.Queues), len(m.Pools), len(m.Stations))
	return m, nil
}

// sampler builds a provider drawing from an RNG stream private to owner/what.
func (m *Model) sampler(owner, what string, cfg *sim.SamplerConfig) (sim.SampleProvider, error) {
	if cfg == nil {
		return nil, nil
	}
	p, err := sim.NewSampler(*cfg, m.Sim.RNG.ForSubsystem(owner+"/"+what))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", owner, what, err)
	}
	return p, nil
}

func (m *Model) required(owner, what string, cfg *sim.SamplerConfig) (sim.SampleProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%s: %s is required", owner, what)
	}
	return m.sampler(owner, what, cfg)
}

// capacity builds a pool or processor capacity. Capacities are re-read on
// every check, so only constants are accepted from a scenario.
func (m *Model) capacity(owner string, cfg *sim.SamplerConfig) (sim.SampleProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%s: capacity is required", owner)
	}
	if cfg.Dist != "" && cfg.Dist != "constant" {
		return nil, fmt.Errorf("%s capacity: must be constant, got distribution %q", owner, cfg.Dist)
	}
	return m.sampler(owner, "capacity", cfg)
}

func (m *Model) buildPools(specs []PoolSpec) error {
	for _, spec := range specs {
		if _, dup := m.pools[spec.Name]; dup {
			return fmt.Errorf("duplicate pool %q", spec.Name)
		}
		capacity, err := m.capacity(spec.Name, &spec.Capacity)
		if err != nil {
			return err
		}
		p := resource.NewPool(spec.Name, m.Sim, capacity, spec.Strict)
		m.pools[spec.Name] = p
		m.Pools = append(m.Pools, p)
	}
	return nil
}

func (m *Model) buildThresholds(specs []ThresholdSpec) error {
	for _, spec := range specs {
		if _, dup := m.Thresholds[spec.Name]; dup {
			return fmt.Errorf("duplicate threshold %q", spec.Name)
		}
		t := device.NewSignalThreshold(spec.Name, spec.Open)
		m.Thresholds[spec.Name] = t
		if spec.Cycle == nil {
			continue
		}
		open, err := m.sampler(spec.Name, "open", &spec.Cycle.Open)
		if err != nil {
			return err
		}
		closed, err := m.sampler(spec.Name, "closed", &spec.Cycle.Closed)
		if err != nil {
			return err
		}
		t.Cycle(m.Sim, open, closed)
	}
	return nil
}

func (m *Model) buildQueues(specs []QueueSpec) error {
	for _, spec := range specs {
		q := queue.NewQueue(spec.Name, m.Sim)
		if err := m.addLinkable(spec.Name, q); err != nil {
			return err
		}
		q.LIFO = spec.LIFO
		if attr := spec.Classifier; attr != "" {
			q.Classifier = func(e *sim.Entity) string { return e.Attributes[attr] }
		}
		var err error
		if q.Priority, err = m.sampler(spec.Name, "priority", spec.Priority); err != nil {
			return err
		}
		if q.RenegeTime, err = m.sampler(spec.Name, "renege_time", spec.RenegeTime); err != nil {
			return err
		}
		m.queues[spec.Name] = q
		m.Queues = append(m.Queues, q)
	}
	return nil
}

func (m *Model) addLinkable(name string, l sim.Linkable) error {
	if name == "" {
		return errors.New("missing name")
	}
	if _, dup := m.linkables[name]; dup {
		return fmt.Errorf("duplicate name %q", name)
	}
	m.linkables[name] = l
	return nil
}

func (m *Model) queue(name string) (*queue.Queue, error) {
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", name)
	}
	return q, nil
}

func (m *Model) queueList(names []string) ([]*queue.Queue, error) {
	if len(names) == 0 {
		return nil, errors.New("queues are required")
	}
	out := make([]*queue.Queue, 0, len(names))
	for _, name := range names {
		q, err := m.queue(name)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *Model) requests(specs []ResourceSpec) ([]resource.Request, error) {
	if len(specs) == 0 {
		return nil, errors.New("resources are required")
	}
	reqs := make([]resource.Request, 0, len(specs))
	for _, r := range specs {
		p, ok := m.pools[r.Pool]
		if !ok {
			return nil, fmt.Errorf("unknown pool %q", r.Pool)
		}
		units := r.Units
		if units == 0 {
			units = 1
		}
		reqs = append(reqs, resource.Request{Pool: p, Units: units})
	}
	return reqs, nil
}

// buildStation creates one station. Downstream links are resolved later
// through the setter stored in next, since they may name later stations.
func (m *Model) buildStation(spec StationSpec, next map[string]func(sim.Linkable)) error {
	name := spec.Name
	if name == "" {
		return errors.New("missing name")
	}
	for _, other := range m.Stations {
		if other.Name() == name {
			return fmt.Errorf("duplicate station %q", name)
		}
	}
	s := m.Sim
	var st station.Station

	switch spec.Type {
	case "generator":
		interarrival, err := m.required(name, "interarrival", spec.Interarrival)
		if err != nil {
			return err
		}
		g := station.NewGenerator(name, s, interarrival)
		if g.FirstArrival, err = m.sampler(name, "first_arrival", spec.FirstArrival); err != nil {
			return err
		}
		if g.EntitiesPerArrival, err = m.sampler(name, "entities_per_arrival", spec.EntitiesPerArrival); err != nil {
			return err
		}
		g.MaxNumber = spec.MaxNumber
		if spec.Prototype != "" {
			g.Prototype = spec.Prototype
		}
		if attrs := spec.Attributes; len(attrs) > 0 {
			g.Init = func(e *sim.Entity) {
				for k, v := range attrs {
					e.Attributes[k] = v
				}
			}
		}
		next[name] = func(l sim.Linkable) { g.Next = l }
		m.generators = append(m.generators, g)
		st = g

	case "sink":
		k := station.NewSink(name, s)
		if err := m.addLinkable(name, k); err != nil {
			return err
		}
		st = k

	case "server":
		q, err := m.queue(spec.Queue)
		if err != nil {
			return err
		}
		service, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		srv := station.NewServer(name, s, q, service)
		srv.Match = spec.Match
		if srv.SetupTime, err = m.sampler(name, "setup_time", spec.SetupTime); err != nil {
			return err
		}
		next[name] = func(l sim.Linkable) { srv.Next = l }
		st = srv

	case "processor":
		q, err := m.queue(spec.Queue)
		if err != nil {
			return err
		}
		capacity, err := m.capacity(name, spec.Capacity)
		if err != nil {
			return err
		}
		service, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		p := station.NewEntityProcessor(name, s, q, capacity, service)
		p.Match = spec.Match
		next[name] = func(l sim.Linkable) { p.Next = l }
		st = p

	case "conveyor":
		q, err := m.queue(spec.Queue)
		if err != nil {
			return err
		}
		travel, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		c := station.NewEntityConveyor(name, s, q, spec.Length, travel)
		c.Accumulating = spec.Accumulating
		if l := spec.EntityLength; l > 0 {
			c.EntityLength = func(*sim.Entity) float64 { return l }
		}
		next[name] = func(l sim.Linkable) { c.Next = l }
		st = c

	case "combine":
		qs, err := m.queueList(spec.Queues)
		if err != nil {
			return err
		}
		service, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		c := station.NewCombine(name, s, qs, service)
		c.MatchRequired = spec.MatchRequired
		next[name] = func(l sim.Linkable) { c.Next = l }
		st = c

	case "assemble":
		qs, err := m.queueList(spec.Queues)
		if err != nil {
			return err
		}
		service, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		a := station.NewAssemble(name, s, qs, spec.Counts, service)
		a.MatchRequired = spec.MatchRequired
		a.KeepParts = spec.KeepParts
		if spec.Prototype != "" {
			a.Prototype = spec.Prototype
		}
		next[name] = func(l sim.Linkable) { a.Next = l }
		st = a

	case "pack":
		q, err := m.queue(spec.Queue)
		if err != nil {
			return err
		}
		containers, err := m.queue(spec.ContainerQueue)
		if err != nil {
			return err
		}
		number, err := m.required(name, "number", spec.Number)
		if err != nil {
			return err
		}
		packTime, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		p := station.NewPack(name, s, q, containers, number, packTime)
		p.MatchRequired = spec.MatchRequired
		next[name] = func(l sim.Linkable) { p.Next = l }
		st = p

	case "unpack":
		q, err := m.queue(spec.Queue)
		if err != nil {
			return err
		}
		unpackTime, err := m.required(name, "time", spec.Time)
		if err != nil {
			return err
		}
		u := station.NewUnpack(name, s, q, unpackTime)
		next[name] = func(l sim.Linkable) { u.Next = l }
		next[name+"#container"] = func(l sim.Linkable) { u.ContainerNext = l }
		st = u

	case "seize":
		q, err := m.queue(spec.Queue)
		if err != nil {
			return err
		}
		reqs, err := m.requests(spec.Resources)
		if err != nil {
			return err
		}
		sz := station.NewSeize(name, s, q, reqs)
		sz.Match = spec.Match
		next[name] = func(l sim.Linkable) { sz.Next = l }
		st = sz

	case "release":
		reqs, err := m.requests(spec.Resources)
		if err != nil {
			return err
		}
		r := station.NewRelease(name, s, reqs)
		if err := m.addLinkable(name, r); err != nil {
			return err
		}
		next[name] = func(l sim.Linkable) { r.Next = l }
		st = r

	case "branch":
		choice, err := m.required(name, "choice", spec.Choice)
		if err != nil {
			return err
		}
		b := station.NewBranch(name, s, choice, nil)
		if err := m.addLinkable(name, b); err != nil {
			return err
		}
		st = b

	default:
		return fmt.Errorf("unknown station type %q", spec.Type)
	}

	if u, ok := st.(updatableStation); ok {
		m.stateful[name] = u
	}
	m.Stations = append(m.Stations, st)
	return nil
}

func (m *Model) linkable(name string) (sim.Linkable, error) {
	l, ok := m.linkables[name]
	if !ok {
		return nil, fmt.Errorf("unknown destination %q", name)
	}
	return l, nil
}

// link resolves every name-based reference between components.
func (m *Model) link(sc *Scenario, next map[string]func(sim.Linkable)) error {
	for _, spec := range sc.Queues {
		if spec.RenegeTo == "" {
			continue
		}
		l, err := m.linkable(spec.RenegeTo)
		if err != nil {
			return fmt.Errorf("queue %q: %w", spec.Name, err)
		}
		m.queues[spec.Name].RenegeDestination = l
	}
	for i, spec := range sc.Stations {
		if set, ok := next[spec.Name]; ok {
			if spec.Next == "" {
				return fmt.Errorf("station %q: next is required", spec.Name)
			}
			l, err := m.linkable(spec.Next)
			if err != nil {
				return fmt.Errorf("station %q: %w", spec.Name, err)
			}
			set(l)
		}
		if set, ok := next[spec.Name+"#container"]; ok && spec.ContainerNext != "" {
			l, err := m.linkable(spec.ContainerNext)
			if err != nil {
				return fmt.Errorf("station %q: %w", spec.Name, err)
			}
			set(l)
		}
		if b, ok := m.Stations[i].(*station.Branch); ok {
			if len(spec.Destinations) == 0 {
				return fmt.Errorf("station %q: destinations are required", spec.Name)
			}
			for _, dest := range spec.Destinations {
				l, err := m.linkable(dest)
				if err != nil {
					return fmt.Errorf("station %q: %w", spec.Name, err)
				}
				b.Destinations = append(b.Destinations, l)
			}
		}
	}
	return nil
}

func (m *Model) buildDowntimes(specs []DowntimeSpec) error {
	for _, spec := range specs {
		var kind device.DowntimeKind
		switch spec.Kind {
		case "", "maintenance":
			kind = device.KindMaintenance
		case "breakdown":
			kind = device.KindBreakdown
		default:
			return fmt.Errorf("downtime %q: unknown kind %q", spec.Name, spec.Kind)
		}
		first, err := m.sampler(spec.Name, "first", &spec.First)
		if err != nil {
			return err
		}
		interval, err := m.sampler(spec.Name, "interval", &spec.Interval)
		if err != nil {
			return err
		}
		duration, err := m.sampler(spec.Name, "duration", &spec.Duration)
		if err != nil {
			return err
		}
		dt := device.NewScheduledDowntime(spec.Name, m.Sim, kind, spec.Immediate, first, interval, duration)
		if len(spec.Stations) == 0 {
			return fmt.Errorf("downtime %q: no stations", spec.Name)
		}
		for _, name := range spec.Stations {
			st, ok := m.stateful[name]
			if !ok {
				return fmt.Errorf("downtime %q: unknown station %q", spec.Name, name)
			}
			dt.Attach(st.Device())
		}
		m.Downtimes = append(m.Downtimes, dt)
	}
	return nil
}

func (m *Model) attachThresholds(spec StationSpec) error {
	if len(spec.OperatingThresholds)+len(spec.ImmediateThresholds)+len(spec.ReleaseThresholds) == 0 {
		return nil
	}
	st, ok := m.stateful[spec.Name]
	if !ok {
		return errors.New("thresholds need a device-backed station")
	}
	dev := st.Device()
	var err error
	if dev.OperatingThresholds, err = m.thresholds(st, dev.OperatingThresholds, spec.OperatingThresholds); err != nil {
		return err
	}
	if dev.ImmediateThresholds, err = m.thresholds(st, dev.ImmediateThresholds, spec.ImmediateThresholds); err != nil {
		return err
	}
	dev.ReleaseThresholds, err = m.thresholds(st, dev.ReleaseThresholds, spec.ReleaseThresholds)
	return err
}

// thresholds appends the named thresholds to list and subscribes st to them.
func (m *Model) thresholds(st updatableStation, list []device.Threshold, names []string) ([]device.Threshold, error) {
	for _, name := range names {
		t, ok := m.Thresholds[name]
		if !ok {
			return list, fmt.Errorf("unknown threshold %q", name)
		}
		list = append(list, t)
		t.AddUser(st)
	}
	return list, nil
}

// Start schedules the generators and downtimes.
func (m *Model) Start() {
	for _, g := range m.generators {
		g.Start()
	}
	for _, dt := range m.Downtimes {
		dt.Start()
	}
}

// Record copies the final statistics into the collector.
func (m *Model) Record(c *observe.Collector) {
	now := m.Sim.Seconds()
	c.RecordRun(m.Sim)
	for _, q := range m.Queues {
		c.RecordQueue(q, now)
	}
	for _, p := range m.Pools {
		c.RecordPool(p, now)
	}
	for _, st := range m.Stations {
		c.RecordStation(st)
	}
}

// Report prints the per-component summary after a run.
func (m *Model) Report(w io.Writer) {
	now := m.Sim.Seconds()
	fmt.Fprintln(w, "=== Stations ===")
	for _, st := range m.Stations {
		c := st.Counters()
		fmt.Fprintf(w, "%-20s received=%-8d processed=%-8d", st.Name(), c.Received, c.Processed)
		if sf, ok := st.(station.Stateful); ok {
			fmt.Fprintf(w, " state=%s", sf.Device().State())
		}
		if k, ok := st.(*station.Sink); ok && k.TimeInSystem().Count() > 0 {
			fmt.Fprintf(w, " mean_time_in_system=%.4f", k.TimeInSystem().Mean())
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "=== Queues ===")
	for _, q := range m.Queues {
		fmt.Fprintf(w, "%-20s length=%-6d mean_length=%.4f max_length=%.0f mean_wait=%.4f reneged=%d\n",
			q.Name(), q.Size(""), q.LengthStats().Mean(now), q.LengthStats().Max(), q.QueueTimes().Mean(), q.NumberReneged())
	}
	if len(m.Pools) > 0 {
		fmt.Fprintln(w, "=== Pools ===")
		for _, p := range m.Pools {
			fmt.Fprintf(w, "%-20s in_use=%-4d mean_in_use=%.4f max_in_use=%.0f seized=%d released=%d\n",
				p.Name(), p.UnitsInUse(), p.UnitsInUseStats().Mean(now), p.UnitsInUseStats().Max(), p.UnitsSeized(), p.UnitsReleased())
		}
	}
}
