package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// SampleProvider returns a numeric sample for a given simulation time (in
// seconds). It is the only way stations obtain service times, travel times,
// capacities and priorities; a station never knows whether the value is a
// constant, a distribution draw or a computed expression.
type SampleProvider interface {
	NextSample(simTime float64) float64
}

// maxIndex bounds samples converted to int so the conversion is exact.
const maxIndex = 1 << 53

// Draw samples p at simTime. A NaN or infinite value is a model error
// reported against owner.
func Draw(p SampleProvider, simTime float64, owner, what string) float64 {
	v := p.NextSample(simTime)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		Abort(owner, "invalid %s %v", what, v)
	}
	return v
}

// DrawInt samples p and rounds the value down, so a uniform draw over
// [1, n+1) picks 1..n evenly. Values that are not finite or do not fit an
// exact integer are a model error.
func DrawInt(p SampleProvider, simTime float64, owner, what string) int {
	v := math.Floor(Draw(p, simTime, owner, what))
	if math.Abs(v) > maxIndex {
		Abort(owner, "invalid %s %v", what, v)
	}
	return int(v)
}

// Constant is a SampleProvider that always returns the same value.
type Constant float64

func (c Constant) NextSample(_ float64) float64 {
	return float64(c)
}

// SampleFunc adapts a function to SampleProvider.
type SampleFunc func(simTime float64) float64

func (f SampleFunc) NextSample(simTime float64) float64 {
	return f(simTime)
}

// ExponentialSampler draws exponentially-distributed values.
type ExponentialSampler struct {
	mean float64
	rng  *rand.Rand
}

func (s *ExponentialSampler) NextSample(_ float64) float64 {
	return s.rng.ExpFloat64() * s.mean
}

// UniformSampler draws values uniformly from [min, max).
type UniformSampler struct {
	min, max float64
	rng      *rand.Rand
}

func (s *UniformSampler) NextSample(_ float64) float64 {
	return s.min + s.rng.Float64()*(s.max-s.min)
}

// TriangularSampler draws from a triangular distribution by inverse CDF.
type TriangularSampler struct {
	min, mode, max float64
	rng            *rand.Rand
}

func (s *TriangularSampler) NextSample(_ float64) float64 {
	u := s.rng.Float64()
	span := s.max - s.min
	if span == 0 {
		return s.min
	}
	fc := (s.mode - s.min) / span
	if u < fc {
		return s.min + math.Sqrt(u*span*(s.mode-s.min))
	}
	return s.max - math.Sqrt((1-u)*span*(s.max-s.mode))
}

// NormalSampler produces Gaussian values clamped to [min, max].
type NormalSampler struct {
	mean, stdDev float64
	min, max     float64
	rng          *rand.Rand
}

func (s *NormalSampler) NextSample(_ float64) float64 {
	val := s.rng.NormFloat64()*s.stdDev + s.mean
	return math.Min(s.max, math.Max(s.min, val))
}

// ErlangSampler draws the sum of k exponentials with a combined mean.
type ErlangSampler struct {
	mean float64
	k    int
	rng  *rand.Rand
}

func (s *ErlangSampler) NextSample(_ float64) float64 {
	var total float64
	for i := 0; i < s.k; i++ {
		total += s.rng.ExpFloat64()
	}
	return total * s.mean / float64(s.k)
}

// SamplerConfig declares a sampled parameter in a scenario file.
type SamplerConfig struct {
	Dist   string  `yaml:"dist"` // "constant" (default), "exponential", "uniform", "triangular", "normal", "erlang"
	Value  float64 `yaml:"value,omitempty"`
	Mean   float64 `yaml:"mean,omitempty"`
	StdDev float64 `yaml:"stddev,omitempty"`
	Min    float64 `yaml:"min,omitempty"`
	Max    float64 `yaml:"max,omitempty"`
	Mode   float64 `yaml:"mode,omitempty"`
	K      int     `yaml:"k,omitempty"`
}

// NewSampler creates a SampleProvider from its declaration.
// Returns an error for unknown distributions or inconsistent parameters.
func NewSampler(cfg SamplerConfig, rng *rand.Rand) (SampleProvider, error) {
	switch cfg.Dist {
	case "", "constant":
		return Constant(cfg.Value), nil
	case "exponential":
		if cfg.Mean <= 0 {
			return nil, fmt.Errorf("exponential sampler: mean must be positive, got %v", cfg.Mean)
		}
		return &ExponentialSampler{mean: cfg.Mean, rng: rng}, nil
	case "uniform":
		if cfg.Max < cfg.Min {
			return nil, fmt.Errorf("uniform sampler: max %v < min %v", cfg.Max, cfg.Min)
		}
		return &UniformSampler{min: cfg.Min, max: cfg.Max, rng: rng}, nil
	case "triangular":
		if cfg.Mode < cfg.Min || cfg.Mode > cfg.Max {
			return nil, fmt.Errorf("triangular sampler: mode %v outside [%v, %v]", cfg.Mode, cfg.Min, cfg.Max)
		}
		return &TriangularSampler{min: cfg.Min, mode: cfg.Mode, max: cfg.Max, rng: rng}, nil
	case "normal":
		lo, hi := cfg.Min, cfg.Max
		if hi == 0 && lo == 0 {
			lo, hi = 0, math.MaxFloat64
		}
		if hi < lo {
			return nil, fmt.Errorf("normal sampler: max %v < min %v", hi, lo)
		}
		return &NormalSampler{mean: cfg.Mean, stdDev: cfg.StdDev, min: lo, max: hi, rng: rng}, nil
	case "erlang":
		if cfg.K < 1 || cfg.Mean <= 0 {
			return nil, fmt.Errorf("erlang sampler: need k >= 1 and mean > 0, got k=%d mean=%v", cfg.K, cfg.Mean)
		}
		return &ErlangSampler{mean: cfg.Mean, k: cfg.K, rng: rng}, nil
	default:
		return nil, fmt.Errorf("unknown sampler distribution %q", cfg.Dist)
	}
}
