// Package device implements the time-stepped state machine shared by every
// station that takes simulated time to do its work.
package device

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/flowsim/sim"
)

// Device drives a repeating start-step / end-step loop against the
// simulator and funnels every external interruption (threshold change,
// downtime, new work) through PerformUnscheduledUpdate.
//
// Only the processing flag is persisted; the visible State is derived.
type Device struct {
	name  string
	sim   *sim.Simulator
	hooks Hooks

	// OperatingThresholds stop the device at the end of the current step when closed.
	OperatingThresholds []Threshold
	// ImmediateThresholds interrupt the current step when closed.
	ImmediateThresholds []Threshold
	// ReleaseThresholds hold a finished entity in the device while closed.
	ReleaseThresholds []Threshold
	// ImmediateReleaseThresholds end the current step early when closed.
	ImmediateReleaseThresholds []Threshold
	Downtimes                  []Downtime

	active        bool
	processing    bool
	stepCompleted bool
	duration      float64 // remaining work in the current step (in seconds)
	lastUpdate    float64
	startTick     int64
	endTick       int64
	stepEvent     *sim.Event
	updateEvent   *sim.Event

	presentState State
	stateStart   float64
	stateTimes   map[State]float64
	steps        int64
}

// New creates an idle, active device and registers its statistics.
func New(name string, s *sim.Simulator, hooks Hooks) *Device {
	if hooks == nil {
		panic("device.New: hooks must not be nil")
	}
	d := &Device{
		name:          name,
		sim:           s,
		hooks:         hooks,
		active:        true,
		stepCompleted: true,
		presentState:  Idle,
		stateStart:    s.Seconds(),
		stateTimes:    make(map[State]float64),
	}
	s.RegisterStats(d)
	return d
}

// Name returns the device's name.
func (d *Device) Name() string {
	return d.name
}

// SetActive enables or disables the device. An inactive device never
// restarts; disabling does not interrupt a step in progress.
func (d *Device) SetActive(active bool) {
	d.active = active
	d.setPresentState()
}

// IsProcessing reports whether the step loop is running.
func (d *Device) IsProcessing() bool {
	return d.processing
}

// IsStepCompleted reports whether the last step ran to its end.
func (d *Device) IsStepCompleted() bool {
	return d.stepCompleted
}

// RemainingDuration returns the unfinished work of the current step, in
// seconds, as of the last progress update.
func (d *Device) RemainingDuration() float64 {
	return d.duration
}

// EndTick returns the tick at which the current step is due to complete.
func (d *Device) EndTick() int64 {
	return d.endTick
}

// StepScheduled reports whether a step completion is pending.
func (d *Device) StepScheduled() bool {
	return d.stepEvent.IsScheduled()
}

// Steps returns the number of completed steps.
func (d *Device) Steps() int64 {
	return d.steps
}

// Restart starts the step loop if the device is able to work. It is a no-op
// while the loop is already running.
func (d *Device) Restart() {
	if d.processing {
		return
	}
	if !d.IsAbleToRestart() {
		if sr, ok := d.hooks.(SetupReporter); ok {
			sr.ClearSetup()
		}
		d.setPresentState()
		return
	}
	d.processing = true
	d.startTick = d.sim.Now()
	d.lastUpdate = d.sim.Seconds()
	logrus.Debugf("[tick %07d] %s: restart", d.sim.Now(), d.name)
	d.startStep()
}

// IsAbleToRestart reports whether the device is active, available and has
// no downtime waiting to begin.
func (d *Device) IsAbleToRestart() bool {
	return d.active && d.IsAvailable() && !d.isDowntimePending()
}

// IsAvailable reports whether no downtime is in progress.
func (d *Device) IsAvailable() bool {
	for _, dt := range d.Downtimes {
		if dt.IsDown() {
			return false
		}
	}
	return true
}

func (d *Device) isDowntimePending() bool {
	for _, dt := range d.Downtimes {
		if dt.IsDowntimePending() {
			return true
		}
	}
	return false
}

func (d *Device) isImmediateDowntimePending() bool {
	for _, dt := range d.Downtimes {
		if dt.IsImmediate() && dt.IsDowntimePending() {
			return true
		}
	}
	return false
}

func (d *Device) isDown(kind DowntimeKind) bool {
	for _, dt := range d.Downtimes {
		if dt.Kind() == kind && dt.IsDown() {
			return true
		}
	}
	return false
}

func anyClosed(thresholds []Threshold) bool {
	for _, t := range thresholds {
		if !t.IsOpen() {
			return true
		}
	}
	return false
}

// IsOpen reports whether every operating and immediate threshold is open.
func (d *Device) IsOpen() bool {
	return !anyClosed(d.OperatingThresholds) && !anyClosed(d.ImmediateThresholds)
}

// IsReleaseOpen reports whether a finished entity may leave the device.
func (d *Device) IsReleaseOpen() bool {
	return !anyClosed(d.ReleaseThresholds) && !anyClosed(d.ImmediateReleaseThresholds)
}

func (d *Device) isReleaseBlocked() bool {
	if d.IsReleaseOpen() {
		return false
	}
	holder, ok := d.hooks.(ReleaseHolder)
	return ok && holder.IsHoldingFinished()
}

// isStopRequired evaluates the conditions that halt the step loop. Immediate
// conditions interrupt a step in progress; the others wait for it to end.
func (d *Device) isStopRequired() bool {
	if !d.active || !d.IsAvailable() || d.isImmediateDowntimePending() || anyClosed(d.ImmediateThresholds) {
		return true
	}
	if d.stepCompleted {
		return anyClosed(d.OperatingThresholds) || d.isDowntimePending() || d.isReleaseBlocked()
	}
	return false
}

func (d *Device) startStep() {
	if d.stepEvent.IsScheduled() {
		sim.Abort(d.name, "step started while a completion is already scheduled for tick %d", d.endTick)
	}
	simTime := d.sim.Seconds()
	if d.isStopRequired() {
		d.stopProcessing()
		return
	}
	if d.hooks.IsNewStepRequired(d.stepCompleted) {
		if !d.hooks.StartProcessing(simTime) {
			d.stopProcessing()
			return
		}
		dur := d.hooks.StepDuration(simTime)
		if math.IsNaN(dur) || math.IsInf(dur, 0) || dur < 0 {
			sim.Abort(d.name, "invalid step duration %v", dur)
		}
		d.duration = dur
		d.stepCompleted = false
	}
	d.lastUpdate = simTime
	ticks := d.sim.SecondsToTicks(d.duration)
	d.endTick = d.sim.Now() + ticks
	d.scheduleStepEnd(ticks, sim.PriorityStepEnd)
	d.setPresentState()
}

// scheduleStepEnd is the only place the completion event is scheduled; it
// always cancels the previous handle first.
func (d *Device) scheduleStepEnd(ticks int64, priority int) {
	if d.stepEvent.IsScheduled() {
		d.sim.Cancel(d.stepEvent)
	}
	d.stepEvent = d.sim.Schedule(ticks, priority, true, d.name+".EndStep", d.endStep)
}

func (d *Device) endStep() {
	d.stepEvent = nil
	simTime := d.sim.Seconds()
	d.updateProgress(simTime)
	if d.sim.Now() == d.endTick || anyClosed(d.ImmediateReleaseThresholds) {
		d.stepCompleted = true
		d.duration = 0
		d.steps++
		d.hooks.ProcessStep(simTime)
	}
	d.startStep()
}

func (d *Device) updateProgress(simTime float64) {
	dt := simTime - d.lastUpdate
	d.lastUpdate = simTime
	if dt <= 0 {
		return
	}
	d.duration = math.Max(0, d.duration-dt)
	d.hooks.UpdateProgress(dt)
}

func (d *Device) stopProcessing() {
	d.processing = false
	logrus.Debugf("[tick %07d] %s: stop processing", d.sim.Now(), d.name)
	d.setPresentState()
}

// PerformUnscheduledUpdate reconciles the device with a changed external
// condition. A scheduled completion is moved to the current tick at update
// priority, so genuine completions at this tick still run first; an idle
// device is restarted from a zero-delay event. Repeated calls within a tick
// schedule at most one re-check.
func (d *Device) PerformUnscheduledUpdate() {
	if d.stepEvent.IsScheduled() {
		if d.stepEvent.Timestamp() == d.sim.Now() && d.stepEvent.Priority() == sim.PriorityUpdate {
			return
		}
		d.scheduleStepEnd(0, sim.PriorityUpdate)
		return
	}
	if d.updateEvent.IsScheduled() {
		return
	}
	d.updateEvent = d.sim.Schedule(0, sim.PriorityUpdate, true, d.name+".Update", func() {
		d.updateEvent = nil
		if d.stepEvent.IsScheduled() {
			return
		}
		d.Restart()
	})
}

// ResetProcess treats the current step as completed and re-fires its
// completion at the current tick. Used when a parameter change invalidates
// the scheduled duration.
func (d *Device) ResetProcess() {
	if !d.stepEvent.IsScheduled() {
		return
	}
	d.endTick = d.sim.Now()
	d.scheduleStepEnd(0, sim.PriorityStepEnd)
}

// IsWorking reports whether the step loop is running outside setup/setdown.
func (d *Device) IsWorking() bool {
	return d.processing && !d.isSetup() && !d.isSetdown()
}

// IsStopped reports whether the idle device is held back by a threshold,
// a pending downtime or a blocked release.
func (d *Device) IsStopped() bool {
	if d.processing {
		return false
	}
	return anyClosed(d.ImmediateThresholds) ||
		(anyClosed(d.OperatingThresholds) && d.stepCompleted) ||
		d.isReleaseBlocked() ||
		d.isDowntimePending()
}

func (d *Device) isSetup() bool {
	sr, ok := d.hooks.(SetupReporter)
	return ok && sr.IsSetup()
}

func (d *Device) isSetdown() bool {
	sr, ok := d.hooks.(SetupReporter)
	return ok && sr.IsSetdown()
}

// State derives the visible state. When several conditions hold the first
// one in this order wins: inactive, working, maintenance, breakdown,
// stopped, setup, setdown, idle.
func (d *Device) State() State {
	switch {
	case !d.active:
		return Inactive
	case d.IsWorking():
		return Working
	case d.isDown(KindMaintenance):
		return Maintenance
	case d.isDown(KindBreakdown):
		return Breakdown
	case d.IsStopped():
		return Stopped
	case d.isSetup():
		return Setup
	case d.isSetdown():
		return Setdown
	default:
		return Idle
	}
}

// PresentState returns the state recorded at the last transition.
func (d *Device) PresentState() State {
	return d.presentState
}

// setPresentState records a state transition for the time-in-state report.
func (d *Device) setPresentState() {
	st := d.State()
	if st == d.presentState {
		return
	}
	now := d.sim.Seconds()
	d.stateTimes[d.presentState] += now - d.stateStart
	logrus.Debugf("[tick %07d] %s: %s -> %s", d.sim.Now(), d.name, d.presentState, st)
	d.presentState = st
	d.stateStart = now
}

// RefreshState re-derives the visible state after an external change that
// did not go through the step loop.
func (d *Device) RefreshState() {
	d.setPresentState()
}

// TimeInState returns the time spent in each state up to now.
func (d *Device) TimeInState() map[State]float64 {
	out := make(map[State]float64, len(d.stateTimes)+1)
	for st, t := range d.stateTimes {
		out[st] = t
	}
	out[d.presentState] += d.sim.Seconds() - d.stateStart
	return out
}

// ClearStatistics implements sim.StatsClearer.
func (d *Device) ClearStatistics(now float64) {
	d.stateTimes = make(map[State]float64)
	d.stateStart = now
	d.steps = 0
}
