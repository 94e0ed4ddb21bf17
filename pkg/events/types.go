package events

import "encoding/json"

// Event names published by the daemon.
const (
	CalibrationState = "calibration.state"
	CalibrationValue = "calibration.value"
	FaceDetected     = "calibration.face"
	ConnectionState  = "connection.state"
	GazePosition     = "gaze.position"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationStateEvent is the payload of calibration.state.
type CalibrationStateEvent struct {
	State string `json:"state"`
	Ts    int64  `json:"ts"`
}

// FaceDetectedEvent is the payload of calibration.face.
type FaceDetectedEvent struct {
	Detected bool  `json:"detected"`
	Ts       int64 `json:"ts"`
}

// ConnectionStateEvent is the payload of connection.state.
type ConnectionStateEvent struct {
	State  string `json:"state"`
	Device string `json:"device,omitempty"`
	Ts     int64  `json:"ts"`
}

// GazePositionEvent is the payload of gaze.position.
type GazePositionEvent struct {
	X  int   `json:"x"`
	Y  int   `json:"y"`
	Ts int64 `json:"ts"`
}

// DecodeAs decodes the event payload into T. An empty payload yields the
// zero value.
//
// Example:
//
//	payload, err := events.DecodeAs[events.ConnectionStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.State)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
