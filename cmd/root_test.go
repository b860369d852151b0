package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/flowsim/sim"
)

func TestExecute_ReportAndMetricsToWriter(t *testing.T) {
	// GIVEN the line scenario and --metrics -
	var out bytes.Buffer

	// WHEN it is executed
	err := execute(context.Background(), parse(t, lineScenario), &out, "-")

	// THEN the report and the Prometheus exposition share the writer
	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "=== Stations ===")
	assert.Contains(t, text, "Server")
	assert.Contains(t, text, `flowsim_station_processed_total{station="Sink"} 5`)
	assert.Contains(t, text, "flowsim_simulated_seconds 15")
}

func TestExecute_MetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")
	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), parse(t, lineScenario), &out, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `flowsim_queue_length_max{queue="Q"}`)
	assert.NotContains(t, out.String(), "flowsim_", "metrics go to the file only")
}

func TestExecute_ModelErrorCarriesTick(t *testing.T) {
	// A branch whose choice is always out of range fails at the first arrival.
	sc := parse(t, `
run: {ticks_per_second: 1}
stations:
  - {name: Gen, type: generator, first_arrival: {value: 4}, interarrival: {value: 1}, next: Fork}
  - {name: Fork, type: branch, choice: {value: 3}, destinations: [K]}
  - {name: K, type: sink}
`)
	err := execute(context.Background(), sc, &bytes.Buffer{}, "")

	var me *sim.ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Fork", me.Station)
	assert.Equal(t, int64(4), me.Tick)
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := execute(ctx, parse(t, lineScenario), &bytes.Buffer{}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateScenarios(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte(lineScenario), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("stations: [{name: S, type: server, queue: Missing, time: {value: 1}}]\n"), 0o644))

	var out bytes.Buffer
	failed := validateScenarios(&out, []string{good, bad, "../testdata/scenarios/workshop.yaml"})

	assert.Equal(t, 1, failed)
	assert.Contains(t, out.String(), "good.yaml: ok (3 stations, 1 queues, 0 pools)")
	assert.Contains(t, out.String(), `unknown queue "Missing"`)
	assert.Contains(t, out.String(), "workshop.yaml: ok")
}
