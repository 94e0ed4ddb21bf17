// Package comms provides the wire protocol spoken with the LightVISION
// controller: commands and the codecs that frame them.
package comms

import (
	"errors"
	"fmt"

	"github.com/neoxapps/eyefighter/pkg/calibration"
)

// Kind tags a command on the wire.
type Kind string

const (
	KindActivate  Kind = "a"
	KindControlXY Kind = "xy"
)

// LedState is the payload of an Activate command.
type LedState string

const (
	LedOn  LedState = "on"
	LedOff LedState = "off"
)

// Terminator ends every frame.
const Terminator byte = '\n'

var (
	// ErrUnsupportedCommand is returned when a codec cannot represent a command.
	ErrUnsupportedCommand = errors.New("command not supported by wire format")
	// ErrMalformedFrame is returned when a frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Command is a message for the controller.
type Command interface {
	Kind() Kind
}

// Activate switches the fixture's lamp on or off.
type Activate struct {
	State LedState
}

func (Activate) Kind() Kind { return KindActivate }

func (a Activate) String() string { return fmt.Sprintf("activate(%s)", a.State) }

// ControlXY points the fixture at a position in output space.
type ControlXY struct {
	X int
	Y int
}

func (ControlXY) Kind() Kind { return KindControlXY }

func (c ControlXY) String() string { return fmt.Sprintf("xy(%d,%d)", c.X, c.Y) }

// Direction builds the ControlXY command for an eye position.
func Direction(pos calibration.EyePosition) ControlXY {
	return ControlXY{X: pos.X, Y: pos.Y}
}
