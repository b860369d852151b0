package device

// State is the externally visible condition of a Device. It is never stored;
// Device.State derives it from the processing flag and the device's
// thresholds and downtimes.
type State int

const (
	Idle State = iota
	Working
	Setup
	Setdown
	Maintenance
	Breakdown
	Stopped
	Inactive
)

var stateNames = map[State]string{
	Idle:        "Idle",
	Working:     "Working",
	Setup:       "Setup",
	Setdown:     "Setdown",
	Maintenance: "Maintenance",
	Breakdown:   "Breakdown",
	Stopped:     "Stopped",
	Inactive:    "Inactive",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// AllStates lists every state in reporting order.
func AllStates() []State {
	return []State{Idle, Working, Setup, Setdown, Maintenance, Breakdown, Stopped, Inactive}
}

// Threshold is a polled open/closed condition. Whoever changes it must call
// PerformUnscheduledUpdate on the devices it controls.
type Threshold interface {
	IsOpen() bool
}

// DowntimeKind distinguishes planned maintenance from breakdowns.
type DowntimeKind int

const (
	KindMaintenance DowntimeKind = iota
	KindBreakdown
)

func (k DowntimeKind) String() string {
	if k == KindBreakdown {
		return "Breakdown"
	}
	return "Maintenance"
}

// Downtime is a polled view of a downtime event affecting a device.
type Downtime interface {
	// IsDown reports whether the downtime is in progress.
	IsDown() bool
	// IsDowntimePending reports whether the downtime is waiting for its
	// devices to stop before it can begin.
	IsDowntimePending() bool
	// IsImmediate reports whether a pending downtime interrupts the step in
	// progress instead of waiting for it to complete.
	IsImmediate() bool
	Kind() DowntimeKind
}

// Hooks supplies the station-specific behavior driven by a Device's step loop.
type Hooks interface {
	// IsNewStepRequired reports whether the next step must be started from
	// scratch; completed tells whether the previous step ran to its end.
	IsNewStepRequired(completed bool) bool
	// StartProcessing begins a new step. Returning false stops the device
	// (e.g. nothing to work on).
	StartProcessing(simTime float64) bool
	// StepDuration returns the duration of the step just started, in seconds.
	StepDuration(simTime float64) float64
	// ProcessStep applies the effects of a completed step.
	ProcessStep(simTime float64)
	// UpdateProgress advances continuous state by dt seconds of work.
	UpdateProgress(dt float64)
}

// SetupReporter is implemented by stations with setup or setdown phases.
type SetupReporter interface {
	IsSetup() bool
	IsSetdown() bool
	// ClearSetup abandons a partially completed setup.
	ClearSetup()
}

// ReleaseHolder is implemented by stations that keep a finished entity while
// a release threshold is closed.
type ReleaseHolder interface {
	IsHoldingFinished() bool
}
