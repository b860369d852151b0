package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/flowsim/sim"
)

// Scenario is the full structure of a scenario file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Scenario struct {
	Run        RunSpec         `yaml:"run"`
	Pools      []PoolSpec      `yaml:"pools"`
	Thresholds []ThresholdSpec `yaml:"thresholds"`
	Downtimes  []DowntimeSpec  `yaml:"downtimes"`
	Queues     []QueueSpec     `yaml:"queues"`
	Stations   []StationSpec   `yaml:"stations"`
}

// RunSpec holds the kernel parameters; --seed and --horizon override them.
type RunSpec struct {
	TicksPerSecond        float64 `yaml:"ticks_per_second"`
	HorizonSeconds        float64 `yaml:"horizon_seconds"`
	InitializationSeconds float64 `yaml:"initialization_seconds"`
	Seed                  int64   `yaml:"seed"`
}

type PoolSpec struct {
	Name     string            `yaml:"name"`
	Capacity sim.SamplerConfig `yaml:"capacity"`
	Strict   bool              `yaml:"strict"`
}

// ThresholdSpec declares a SignalThreshold. With Cycle set it alternates
// between open and closed for sampled durations.
type ThresholdSpec struct {
	Name  string     `yaml:"name"`
	Open  bool       `yaml:"open"`
	Cycle *CycleSpec `yaml:"cycle"`
}

type CycleSpec struct {
	Open   sim.SamplerConfig `yaml:"open"`
	Closed sim.SamplerConfig `yaml:"closed"`
}

type DowntimeSpec struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"` // "maintenance" (default) or "breakdown"
	Immediate bool              `yaml:"immediate"`
	First     sim.SamplerConfig `yaml:"first"`
	Interval  sim.SamplerConfig `yaml:"interval"`
	Duration  sim.SamplerConfig `yaml:"duration"`
	Stations  []string          `yaml:"stations"`
}

type QueueSpec struct {
	Name string `yaml:"name"`
	LIFO bool   `yaml:"lifo"`
	// Classifier is the entity attribute used as match value ("" = unclassified).
	Classifier string             `yaml:"classifier"`
	Priority   *sim.SamplerConfig `yaml:"priority"`
	RenegeTime *sim.SamplerConfig `yaml:"renege_time"`
	RenegeTo   string             `yaml:"renege_to"`
}

// StationSpec declares one station. Which fields apply depends on Type.
type StationSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Next string `yaml:"next"`

	// generator
	FirstArrival       *sim.SamplerConfig `yaml:"first_arrival"`
	Interarrival       *sim.SamplerConfig `yaml:"interarrival"`
	EntitiesPerArrival *sim.SamplerConfig `yaml:"entities_per_arrival"`
	MaxNumber          int64              `yaml:"max_number"`
	Prototype          string             `yaml:"prototype"`
	Attributes         map[string]string  `yaml:"attributes"`

	// queue-fed stations
	Queue     string             `yaml:"queue"`
	Queues    []string           `yaml:"queues"`
	Time      *sim.SamplerConfig `yaml:"time"`
	SetupTime *sim.SamplerConfig `yaml:"setup_time"`
	Match     string             `yaml:"match"`
	Capacity  *sim.SamplerConfig `yaml:"capacity"`

	// conveyor
	Length       float64 `yaml:"length"`
	EntityLength float64 `yaml:"entity_length"`
	Accumulating bool    `yaml:"accumulating"`

	// combine, assemble, pack
	MatchRequired  bool               `yaml:"match_required"`
	Counts         []int              `yaml:"counts"`
	KeepParts      bool               `yaml:"keep_parts"`
	ContainerQueue string             `yaml:"container_queue"`
	Number         *sim.SamplerConfig `yaml:"number"`
	ContainerNext  string             `yaml:"container_next"`

	// seize, release
	Resources []ResourceSpec `yaml:"resources"`

	// branch
	Choice       *sim.SamplerConfig `yaml:"choice"`
	Destinations []string           `yaml:"destinations"`

	// device thresholds, by name
	OperatingThresholds []string `yaml:"operating_thresholds"`
	ImmediateThresholds []string `yaml:"immediate_thresholds"`
	ReleaseThresholds   []string `yaml:"release_thresholds"`
}

type ResourceSpec struct {
	Pool  string `yaml:"pool"`
	Units int    `yaml:"units"`
}

// LoadScenario parses a scenario file with strict field checking.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a scenario; unknown fields are errors.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Run.TicksPerSecond == 0 {
		sc.Run.TicksPerSecond = sim.DefaultTicksPerSecond
	}
	if sc.Run.TicksPerSecond < 0 {
		return nil, fmt.Errorf("parse scenario: ticks_per_second must be positive, got %v", sc.Run.TicksPerSecond)
	}
	if sc.Run.HorizonSeconds < 0 || sc.Run.InitializationSeconds < 0 {
		return nil, fmt.Errorf("parse scenario: horizon and initialization must not be negative")
	}
	if len(sc.Stations) == 0 {
		return nil, fmt.Errorf("parse scenario: no stations declared")
	}
	return &sc, nil
}

// RunConfig converts the run section into the kernel's RunConfig.
func (sc *Scenario) RunConfig() sim.RunConfig {
	var horizon int64
	if sc.Run.HorizonSeconds > 0 {
		horizon = int64(sc.Run.HorizonSeconds * sc.Run.TicksPerSecond)
	}
	return sim.NewRunConfig(horizon, sc.Run.TicksPerSecond, sc.Run.InitializationSeconds, sc.Run.Seed)
}
