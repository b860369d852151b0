package device

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
)

// DowntimeUser is a device affected by a ScheduledDowntime.
type DowntimeUser interface {
	Updatable
	IsProcessing() bool
}

// ScheduledDowntime becomes pending at sampled intervals, waits until all of
// its devices have stopped (immediately for an immediate downtime, at the end
// of their current step otherwise), stays down for a sampled duration, then
// schedules the next occurrence.
type ScheduledDowntime struct {
	name      string
	sim       *sim.Simulator
	kind      DowntimeKind
	immediate bool

	// FirstDowntime is the time until the first occurrence becomes pending.
	FirstDowntime sim.SampleProvider
	// Interval separates the end of one occurrence from the next.
	Interval sim.SampleProvider
	// Duration is how long each occurrence keeps the devices down.
	Duration sim.SampleProvider

	users   []DowntimeUser
	pending bool
	down    bool
	wait    *sim.Wait

	occurrences int64
	downSince   float64
	totalDown   float64
}

// NewScheduledDowntime creates a downtime; call Start to schedule it.
func NewScheduledDowntime(name string, s *sim.Simulator, kind DowntimeKind, immediate bool, first, interval, duration sim.SampleProvider) *ScheduledDowntime {
	dt := &ScheduledDowntime{
		name:          name,
		sim:           s,
		kind:          kind,
		immediate:     immediate,
		FirstDowntime: first,
		Interval:      interval,
		Duration:      duration,
	}
	s.RegisterStats(dt)
	return dt
}

// Name returns the downtime's name.
func (dt *ScheduledDowntime) Name() string { return dt.name }

func (dt *ScheduledDowntime) IsDown() bool            { return dt.down }
func (dt *ScheduledDowntime) IsDowntimePending() bool { return dt.pending }
func (dt *ScheduledDowntime) IsImmediate() bool       { return dt.immediate }
func (dt *ScheduledDowntime) Kind() DowntimeKind      { return dt.kind }

// Attach makes the downtime affect a device.
func (dt *ScheduledDowntime) Attach(d *Device) {
	d.Downtimes = append(d.Downtimes, dt)
	dt.users = append(dt.users, d)
}

// Occurrences returns how many times the downtime began.
func (dt *ScheduledDowntime) Occurrences() int64 {
	return dt.occurrences
}

// TotalDownTime returns the accumulated down time up to now, in seconds.
func (dt *ScheduledDowntime) TotalDownTime() float64 {
	total := dt.totalDown
	if dt.down {
		total += dt.sim.Seconds() - dt.downSince
	}
	return total
}

// Start schedules the first occurrence.
func (dt *ScheduledDowntime) Start() {
	dt.scheduleNext(dt.FirstDowntime)
}

func (dt *ScheduledDowntime) sample(p sim.SampleProvider, what string) int64 {
	secs := sim.Draw(p, dt.sim.Seconds(), dt.name, what)
	if secs < 0 {
		sim.Abort(dt.name, "negative %s %v", what, secs)
	}
	return dt.sim.SecondsToTicks(secs)
}

func (dt *ScheduledDowntime) scheduleNext(p sim.SampleProvider) {
	if p == nil {
		return
	}
	dt.sim.Schedule(dt.sample(p, "downtime interval"), sim.PriorityArrival, true, dt.name+".Pending", dt.beginPending)
}

func (dt *ScheduledDowntime) allStopped() bool {
	for _, u := range dt.users {
		if u.IsProcessing() {
			return false
		}
	}
	return true
}

func (dt *ScheduledDowntime) notifyUsers() {
	for _, u := range dt.users {
		u.PerformUnscheduledUpdate()
	}
}

func (dt *ScheduledDowntime) beginPending() {
	dt.pending = true
	logrus.Debugf("[tick %07d] %s: %s pending", dt.sim.Now(), dt.name, dt.kind)
	dt.notifyUsers()
	dt.wait = dt.sim.ScheduleUntil(dt.name+".Begin", dt.allStopped, dt.begin)
}

func (dt *ScheduledDowntime) begin() {
	dt.wait = nil
	dt.pending = false
	dt.down = true
	dt.occurrences++
	dt.downSince = dt.sim.Seconds()
	logrus.Debugf("[tick %07d] %s: %s begins", dt.sim.Now(), dt.name, dt.kind)
	for _, u := range dt.users {
		if d, ok := u.(*Device); ok {
			d.RefreshState()
		}
	}
	dt.sim.Schedule(dt.sample(dt.Duration, "downtime duration"), sim.PriorityArrival, true, dt.name+".End", dt.end)
}

func (dt *ScheduledDowntime) end() {
	dt.down = false
	dt.totalDown += dt.sim.Seconds() - dt.downSince
	logrus.Debugf("[tick %07d] %s: %s ends", dt.sim.Now(), dt.name, dt.kind)
	dt.notifyUsers()
	dt.scheduleNext(dt.Interval)
}

// ClearStatistics implements sim.StatsClearer.
func (dt *ScheduledDowntime) ClearStatistics(now float64) {
	dt.occurrences = 0
	dt.totalDown = 0
	if dt.down {
		dt.downSince = now
	}
}
