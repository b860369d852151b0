package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/station"
)

const lineScenario = `
run:
  ticks_per_second: 1
  seed: 7
queues:
  - name: Q
stations:
  - name: Gen
    type: generator
    interarrival: {value: 2}
    max_number: 5
    next: Q
  - name: Server
    type: server
    queue: Q
    time: {value: 3}
    next: Sink
  - name: Sink
    type: sink
`

func parse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return sc
}

func TestParseScenario_UnknownFieldIsRejected(t *testing.T) {
	// GIVEN a scenario with a misspelled station field
	doc := lineScenario + "    servcie_time: {value: 1}\n"

	// WHEN it is parsed
	_, err := ParseScenario([]byte(doc))

	// THEN strict parsing reports the field
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servcie_time")
}

func TestParseScenario_Defaults(t *testing.T) {
	sc := parse(t, `
stations:
  - name: Sink
    type: sink
`)
	assert.Equal(t, sim.DefaultTicksPerSecond, sc.Run.TicksPerSecond)
	assert.Equal(t, int64(0), sc.RunConfig().HorizonTicks, "no horizon means unbounded")
}

func TestParseScenario_RejectsEmptyAndNegative(t *testing.T) {
	_, err := ParseScenario([]byte("run: {seed: 1}\n"))
	assert.Error(t, err)
	_, err = ParseScenario([]byte("run: {horizon_seconds: -1}\nstations: [{name: S, type: sink}]\n"))
	assert.Error(t, err)
}

func TestRunConfig_HorizonInTicks(t *testing.T) {
	sc := parse(t, lineScenario)
	sc.Run.HorizonSeconds = 10
	sc.Run.TicksPerSecond = 1000
	assert.Equal(t, int64(10000), sc.RunConfig().HorizonTicks)
}

func TestBuild_LineScenarioRuns(t *testing.T) {
	m, err := Build(parse(t, lineScenario))
	require.NoError(t, err)
	m.Start()
	require.NoError(t, m.Sim.Run(context.Background()))

	// arrivals 0,2,4,6,8; service 3 back to back
	assert.Equal(t, int64(15), m.Sim.Clock)
	require.Len(t, m.Stations, 3)
	sink := m.Stations[2].(*station.Sink)
	assert.Equal(t, int64(5), sink.Counters().Processed)
	assert.InDelta(t, 5.0, sink.TimeInSystem().Mean(), 1e-9) // (3+4+5+6+7)/5
}

func TestBuild_ReferenceErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown queue", `
stations:
  - {name: S, type: server, queue: Nope, time: {value: 1}, next: S}
`, `unknown queue "Nope"`},
		{"unknown destination", `
queues: [{name: Q}]
stations:
  - {name: S, type: server, queue: Q, time: {value: 1}, next: Nowhere}
`, `unknown destination "Nowhere"`},
		{"unknown type", `
stations:
  - {name: S, type: teleporter}
`, `unknown station type "teleporter"`},
		{"unknown distribution", `
stations:
  - {name: G, type: generator, interarrival: {dist: zipf}, next: K}
  - {name: K, type: sink}
`, `unknown sampler distribution "zipf"`},
		{"missing next", `
queues: [{name: Q}]
stations:
  - {name: S, type: server, queue: Q, time: {value: 1}}
`, "next is required"},
		{"unknown pool", `
queues: [{name: Q}]
stations:
  - {name: S, type: seize, queue: Q, resources: [{pool: Crew}], next: Q}
`, `unknown pool "Crew"`},
		{"unknown threshold", `
queues: [{name: Q}]
stations:
  - {name: S, type: server, queue: Q, time: {value: 1}, next: K, operating_thresholds: [Night]}
  - {name: K, type: sink}
`, `unknown threshold "Night"`},
		{"threshold on a sink", `
thresholds: [{name: Gate, open: true}]
stations:
  - {name: K, type: sink, release_thresholds: [Gate]}
`, "device-backed"},
		{"duplicate name", `
queues: [{name: K}]
stations:
  - {name: K, type: sink}
`, `duplicate name "K"`},
		{"downtime on unknown station", `
downtimes: [{name: D, stations: [Ghost], first: {value: 1}, interval: {value: 1}, duration: {value: 1}}]
stations:
  - {name: K, type: sink}
`, `unknown station "Ghost"`},
		{"assembly counts", `
queues: [{name: A}, {name: B}]
stations:
  - {name: Asm, type: assemble, queues: [A, B], counts: [1], time: {value: 1}, next: K}
  - {name: K, type: sink}
`, "one part count per wait queue"},
		{"random pool capacity", `
pools: [{name: Crew, capacity: {dist: uniform, min: 0, max: 10}}]
stations:
  - {name: K, type: sink}
`, "Crew capacity: must be constant, got distribution \"uniform\""},
		{"random processor capacity", `
queues: [{name: Q}]
stations:
  - {name: P, type: processor, queue: Q, capacity: {dist: exponential, mean: 3}, time: {value: 1}, next: K}
  - {name: K, type: sink}
`, "P capacity: must be constant, got distribution \"exponential\""},
		{"missing processor capacity", `
queues: [{name: Q}]
stations:
  - {name: P, type: processor, queue: Q, time: {value: 1}, next: K}
  - {name: K, type: sink}
`, "P: capacity is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(parse(t, tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuild_ModelErrorIsWrapped(t *testing.T) {
	_, err := Build(parse(t, `
queues: [{name: A}]
stations:
  - {name: Asm, type: assemble, queues: [A], counts: [0], time: {value: 1}, next: K}
  - {name: K, type: sink}
`))
	var me *sim.ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Asm", me.Station)
}

func TestBuild_ThresholdsAndDowntimesAreAttached(t *testing.T) {
	m, err := Build(parse(t, `
thresholds:
  - {name: Gate, open: false}
downtimes:
  - {name: Jam, kind: breakdown, immediate: true, first: {value: 100}, interval: {value: 100}, duration: {value: 5}, stations: [S]}
queues: [{name: Q}]
stations:
  - {name: S, type: server, queue: Q, time: {value: 1}, next: K, operating_thresholds: [Gate], release_thresholds: [Gate]}
  - {name: K, type: sink}
`))
	require.NoError(t, err)
	srv := m.Stations[0].(*station.Server)
	assert.Len(t, srv.Device().OperatingThresholds, 1)
	assert.Len(t, srv.Device().ReleaseThresholds, 1)
	assert.Len(t, srv.Device().Downtimes, 1)
	require.Len(t, m.Downtimes, 1)
	assert.Equal(t, "Jam", m.Downtimes[0].Name())
}

func TestBuild_GeneratorAttributesFeedQueueClassifier(t *testing.T) {
	m, err := Build(parse(t, `
run: {ticks_per_second: 1}
queues:
  - {name: Q, classifier: color}
stations:
  - {name: Red, type: generator, interarrival: {value: 1}, max_number: 2, attributes: {color: red}, next: Q}
  - {name: Blue, type: generator, interarrival: {value: 1}, max_number: 3, attributes: {color: blue}, next: Q}
`))
	require.NoError(t, err)
	m.Start()
	require.NoError(t, m.Sim.Run(context.Background()))

	q := m.Queues[0]
	assert.Equal(t, 2, q.Size("red"))
	assert.Equal(t, 3, q.Size("blue"))
	c, ok := q.ClassifierWithMaxCount()
	require.True(t, ok)
	assert.Equal(t, "blue", c)
}

func TestBuild_SameSeedSameReport(t *testing.T) {
	report := func() string {
		sc, err := LoadScenario("../testdata/scenarios/workshop.yaml")
		require.NoError(t, err)
		sc.Run.HorizonSeconds = 7200
		m, err := Build(sc)
		require.NoError(t, err)
		m.Start()
		require.NoError(t, m.Sim.Run(context.Background()))
		var buf bytes.Buffer
		m.Report(&buf)
		return buf.String()
	}
	first := report()
	assert.Contains(t, first, "Shipped")
	assert.Equal(t, first, report())
}

func TestBuild_EachSampledParameterHasItsOwnStream(t *testing.T) {
	// GIVEN two generators with identical interarrival declarations
	m, err := Build(parse(t, `
run: {seed: 11}
stations:
  - {name: A, type: generator, interarrival: {dist: exponential, mean: 5}, next: K}
  - {name: B, type: generator, interarrival: {dist: exponential, mean: 5}, next: K}
  - {name: K, type: sink}
`))
	require.NoError(t, err)
	a := m.Stations[0].(*station.Generator)
	b := m.Stations[1].(*station.Generator)

	// THEN each draws from its own station/parameter stream
	ref := sim.NewPartitionedRNG(sim.NewSimulationKey(11))
	cfg := sim.SamplerConfig{Dist: "exponential", Mean: 5}
	wantA, err := sim.NewSampler(cfg, ref.ForSubsystem("A/interarrival"))
	require.NoError(t, err)
	wantB, err := sim.NewSampler(cfg, ref.ForSubsystem("B/interarrival"))
	require.NoError(t, err)

	firstA := a.Interarrival.NextSample(0)
	assert.Equal(t, wantA.NextSample(0), firstA)
	for range 3 {
		a.Interarrival.NextSample(0)
	}
	firstB := b.Interarrival.NextSample(0)
	assert.Equal(t, wantB.NextSample(0), firstB, "draws on A do not shift B")
	assert.NotEqual(t, firstA, firstB)
}
