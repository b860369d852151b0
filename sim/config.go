package sim

// RunConfig groups the parameters of one simulation run.
type RunConfig struct {
	HorizonTicks          int64   // last tick dispatched (0 = unbounded)
	TicksPerSecond        float64 // tick resolution (must be > 0)
	InitializationSeconds float64 // statistics are cleared at this time (0 = never)
	Seed                  int64   // master seed for PartitionedRNG
}

// NewRunConfig creates a RunConfig. Zero values are kept as-is; no defaults
// are injected.
func NewRunConfig(horizonTicks int64, ticksPerSecond, initSeconds float64, seed int64) RunConfig {
	return RunConfig{
		HorizonTicks:          horizonTicks,
		TicksPerSecond:        ticksPerSecond,
		InitializationSeconds: initSeconds,
		Seed:                  seed,
	}
}

// DefaultTicksPerSecond is one tick per microsecond.
const DefaultTicksPerSecond = 1e6
