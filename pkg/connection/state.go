package connection

import "fmt"

// State is the connection state of a Manager.
type State int32

const (
	// Disconnected means no link exists.
	Disconnected State = iota
	// Connecting means the manager is scanning or a connect request is pending.
	Connecting
	// Connected means the link is fully configured: the peripheral is
	// connected and a service and characteristic are resolved.
	Connected
	// DeviceNotFound means no discovered peripheral carried the requested name.
	DeviceNotFound
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case DeviceNotFound:
		return "deviceNotFound"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := Disconnected; st <= DeviceNotFound; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", string(text))
}
