package sim

import "fmt"

// ModelError reports a fatal model-configuration or numeric invariant
// violation. Stations raise it through Abort; Simulator.Run recovers it and
// returns it so the caller can report the offending station.
type ModelError struct {
	Station string
	Msg     string
	Tick    int64
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %s (tick %d)", e.Station, e.Msg, e.Tick)
}

// Abort raises a ModelError for the named station. It never returns.
func Abort(station, format string, args ...any) {
	panic(&ModelError{Station: station, Msg: fmt.Sprintf(format, args...)})
}
