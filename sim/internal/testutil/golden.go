// Package testutil provides shared test infrastructure for the flowsim
// packages: the golden flow dataset and assertion helpers.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gopkg.in/yaml.v3"
)

// GoldenDataset represents the structure of testdata/golden_flows.yaml.
type GoldenDataset struct {
	Flows []GoldenFlow `yaml:"flows"`
}

// GoldenFlow is a generator -> queue -> processor -> sink line with
// constant times.
type GoldenFlow struct {
	Name         string        `yaml:"name"`
	Interarrival float64       `yaml:"interarrival"`
	Service      float64       `yaml:"service"`
	Capacity     int           `yaml:"capacity"`
	Entities     int64         `yaml:"entities"`
	Metrics      GoldenMetrics `yaml:"metrics"`
}

// GoldenMetrics represents the expected results of a golden flow.
type GoldenMetrics struct {
	// Exact match
	Processed int64 `yaml:"processed"`

	// Derived from the simulation clock
	LastDepartureS    float64 `yaml:"last_departure_s"`
	MeanQueueWaitS    float64 `yaml:"mean_queue_wait_s"`
	MeanTimeInSystemS float64 `yaml:"mean_time_in_system_s"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "golden_flows.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
