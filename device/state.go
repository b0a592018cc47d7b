package device

// State is the operating state reported under the "state" key.
type State int

const (
	StateReady State = iota
	StateActive
	StateHold
	StateStop
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	case StateHold:
		return "HOLD"
	case StateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// ParseState maps a wire code to a State. Only 0..3 are valid.
// The range is checked on the int64 so codes wider than int never wrap.
func ParseState(code int64) (State, bool) {
	if code < int64(StateReady) || code > int64(StateStop) {
		return 0, false
	}
	return State(code), true
}
