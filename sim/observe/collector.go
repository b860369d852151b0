// Package observe exports the statistics of a finished run as Prometheus
// metrics.
package observe

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/device"
	"github.com/inference-sim/flowsim/sim/queue"
	"github.com/inference-sim/flowsim/sim/resource"
	"github.com/inference-sim/flowsim/sim/station"
)

// Collector holds the run's gauges and counters.
type Collector struct {
	gatherer prometheus.Gatherer

	QueueLengthMean *prometheus.GaugeVec
	QueueLengthMax  *prometheus.GaugeVec
	QueueWaitMean   *prometheus.GaugeVec
	QueueReneged    *prometheus.CounterVec

	StationReceived  *prometheus.CounterVec
	StationProcessed *prometheus.CounterVec
	StationState     *prometheus.GaugeVec

	PoolUnitsMean *prometheus.GaugeVec
	PoolUnitsMax  *prometheus.GaugeVec
	PoolCapacity  *prometheus.GaugeVec

	EventsDispatched prometheus.Counter
	EntitiesCreated  prometheus.Counter
	SimulatedSeconds prometheus.Gauge
}

// NewCollector registers the run metrics against the provided registerer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		QueueLengthMean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_queue_length_mean",
			Help: "Time-weighted mean number of entities in the queue.",
		}, []string{"queue"}),
		QueueLengthMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_queue_length_max",
			Help: "Largest number of entities in the queue.",
		}, []string{"queue"}),
		QueueWaitMean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_queue_wait_seconds_mean",
			Help: "Mean simulated time entities spent in the queue.",
		}, []string{"queue"}),
		QueueReneged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowsim_queue_reneged_total",
			Help: "Entities that left the queue after their patience expired.",
		}, []string{"queue"}),
		StationReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowsim_station_received_total",
			Help: "Entities received by the station after initialization.",
		}, []string{"station"}),
		StationProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowsim_station_processed_total",
			Help: "Entities finished by the station after initialization.",
		}, []string{"station"}),
		StationState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_station_state_seconds",
			Help: "Simulated time the station spent in each state.",
		}, []string{"station", "state"}),
		PoolUnitsMean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_pool_units_in_use_mean",
			Help: "Time-weighted mean units seized from the pool.",
		}, []string{"pool"}),
		PoolUnitsMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_pool_units_in_use_max",
			Help: "Largest number of units seized from the pool at once.",
		}, []string{"pool"}),
		PoolCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowsim_pool_capacity",
			Help: "Pool capacity at the end of the run.",
		}, []string{"pool"}),
		EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsim_events_dispatched_total",
			Help: "Events dispatched by the simulator.",
		}),
		EntitiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowsim_entities_created_total",
			Help: "Entities created during the run.",
		}),
		SimulatedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowsim_simulated_seconds",
			Help: "Simulated time at the end of the run.",
		}),
	}

	for name, col := range map[string]prometheus.Collector{
		"flowsim_queue_length_mean":       c.QueueLengthMean,
		"flowsim_queue_length_max":        c.QueueLengthMax,
		"flowsim_queue_wait_seconds_mean": c.QueueWaitMean,
		"flowsim_queue_reneged_total":     c.QueueReneged,
		"flowsim_station_received_total":  c.StationReceived,
		"flowsim_station_processed_total": c.StationProcessed,
		"flowsim_station_state_seconds":   c.StationState,
		"flowsim_pool_units_in_use_mean":  c.PoolUnitsMean,
		"flowsim_pool_units_in_use_max":   c.PoolUnitsMax,
		"flowsim_pool_capacity":           c.PoolCapacity,
		"flowsim_events_dispatched_total": c.EventsDispatched,
		"flowsim_entities_created_total":  c.EntitiesCreated,
		"flowsim_simulated_seconds":       c.SimulatedSeconds,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordQueue copies a queue's statistics as of now (in seconds).
func (c *Collector) RecordQueue(q *queue.Queue, now float64) {
	if c == nil {
		return
	}
	name := q.Name()
	c.QueueLengthMean.WithLabelValues(name).Set(q.LengthStats().Mean(now))
	c.QueueLengthMax.WithLabelValues(name).Set(q.LengthStats().Max())
	c.QueueWaitMean.WithLabelValues(name).Set(q.QueueTimes().Mean())
	c.QueueReneged.WithLabelValues(name).Add(float64(q.NumberReneged()))
}

// RecordStation copies a station's counters and, for Device-backed
// stations, its time in each state.
func (c *Collector) RecordStation(st station.Station) {
	if c == nil {
		return
	}
	name := st.Name()
	counters := st.Counters()
	c.StationReceived.WithLabelValues(name).Add(float64(counters.Received))
	c.StationProcessed.WithLabelValues(name).Add(float64(counters.Processed))
	stateful, ok := st.(station.Stateful)
	if !ok {
		return
	}
	times := stateful.Device().TimeInState()
	for _, state := range device.AllStates() {
		c.StationState.WithLabelValues(name, state.String()).Set(times[state])
	}
}

// RecordPool copies a pool's statistics as of now (in seconds).
func (c *Collector) RecordPool(p *resource.Pool, now float64) {
	if c == nil {
		return
	}
	name := p.Name()
	c.PoolUnitsMean.WithLabelValues(name).Set(p.UnitsInUseStats().Mean(now))
	c.PoolUnitsMax.WithLabelValues(name).Set(p.UnitsInUseStats().Max())
	c.PoolCapacity.WithLabelValues(name).Set(float64(p.CapacityNow()))
}

// RecordRun copies the simulator-wide counters.
func (c *Collector) RecordRun(s *sim.Simulator) {
	if c == nil {
		return
	}
	c.EventsDispatched.Add(float64(s.Metrics.EventsDispatched))
	c.EntitiesCreated.Add(float64(s.Metrics.EntitiesCreated))
	c.SimulatedSeconds.Set(s.TicksToSeconds(s.Metrics.SimEndedTime))
}

// WriteText writes every gathered metric family in the Prometheus text
// exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
