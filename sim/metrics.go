// Tracks simulation-wide counters reported at the end of a run.

package sim

import "fmt"

// Metrics aggregates kernel-level statistics about the simulation
// for final reporting.
type Metrics struct {
	EventsDispatched int64 // Number of events executed by the event loop
	EntitiesCreated  int64 // Tokens created through NewEntity
	EntitiesDisposed int64 // Tokens disposed by sinks and synchronizers
	SimEndedTime     int64 // Clock when the run stopped (in ticks)
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(ticksPerSecond float64) {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Simulated Time      : %.3f s\n", float64(m.SimEndedTime)/ticksPerSecond)
	fmt.Printf("Events Dispatched   : %d\n", m.EventsDispatched)
	fmt.Printf("Entities Created    : %d\n", m.EntitiesCreated)
	fmt.Printf("Entities Disposed   : %d\n", m.EntitiesDisposed)
}
