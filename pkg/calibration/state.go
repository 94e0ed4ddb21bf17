package calibration

import "fmt"

// State is one step of the guided five point calibration.
// The order of the constants is the order the user is walked through.
type State int

const (
	// Initial means calibration has not started or has been reset.
	Initial State = iota
	Center
	Right
	Down
	Left
	Up
	// Done means all points were visited and Position can be used.
	Done
)

var stateNames = map[State]string{
	Initial: "initial",
	Center:  "center",
	Right:   "right",
	Down:    "down",
	Left:    "left",
	Up:      "up",
	Done:    "done",
}

// Next returns the state that follows s. Done is terminal.
func (s State) Next() State {
	switch s {
	case Initial:
		return Center
	case Center:
		return Right
	case Right:
		return Down
	case Down:
		return Left
	case Left:
		return Up
	default:
		return Done
	}
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler so states read well in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown calibration state %q", string(text))
}
