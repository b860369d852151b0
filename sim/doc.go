// Package sim provides the discrete-event kernel of flowsim.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - event.go: Event handles, conditional waits and the dispatch priorities
//     that order events sharing a tick
//   - simulator.go: the event heap, Schedule/Cancel/ScheduleUntil, the run loop,
//     the initialization-period reset and model-error recovery
//   - entity.go: the tokens moved between stations
//
// # Architecture
//
// The kernel knows nothing about stations; everything above it is built from
// events and SampleProviders:
//   - sim/store/: ordered multiset and the classifier-indexed EntityStore
//   - sim/queue/: wait queues with priorities, LIFO and reneging
//   - sim/device/: the Device step loop shared by every working station,
//     thresholds and scheduled downtimes
//   - sim/resource/: resource pools and all-or-nothing seizing
//   - sim/station/: generators, sinks, servers, processors, conveyors,
//     synchronizers and resource stations
//   - sim/observe/: Prometheus export of a finished run
//
// # Determinism
//
// Events at the same tick run by priority, then by scheduling order. Each
// sampled parameter draws from its own PartitionedRNG stream, so two runs with
// the same seed and scenario are identical.
package sim
