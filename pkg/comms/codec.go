package comms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Format names a wire format. One deployment uses exactly one format; the
// two are not compatible with each other.
type Format string

const (
	// FormatCompact encodes positions as x<X>y<Y>. It cannot carry Activate.
	FormatCompact Format = "compact"
	// FormatJSON encodes every command as a key-tagged JSON object.
	FormatJSON Format = "json"
)

// Codec turns commands into newline terminated frames and back.
type Codec interface {
	Format() Format
	Encode(cmd Command) ([]byte, error)
	Decode(frame []byte) (Command, error)
}

// NewCodec returns the codec for a format.
func NewCodec(f Format) (Codec, error) {
	switch f {
	case FormatCompact:
		return CompactCodec{}, nil
	case FormatJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", f)
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, err := NewCodec(f); err != nil {
		return "", err
	}
	return f, nil
}

// JSONCodec frames commands as {"c":"a","s":"on"} and {"c":"xy","x":1,"y":2}.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// jsonFrame is the on-wire shape. Field order is the encoding order.
type jsonFrame struct {
	C Kind     `json:"c"`
	S LedState `json:"s,omitempty"`
	X *int     `json:"x,omitempty"`
	Y *int     `json:"y,omitempty"`
}

func (JSONCodec) Format() Format { return FormatJSON }

func (JSONCodec) Encode(cmd Command) ([]byte, error) {
	var f jsonFrame
	switch c := cmd.(type) {
	case Activate:
		if c.State != LedOn && c.State != LedOff {
			return nil, fmt.Errorf("%w: led state %q", ErrUnsupportedCommand, c.State)
		}
		f = jsonFrame{C: KindActivate, S: c.State}
	case ControlXY:
		x, y := c.X, c.Y
		f = jsonFrame{C: KindControlXY, X: &x, Y: &y}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}

	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(b, Terminator), nil
}

func (JSONCodec) Decode(frame []byte) (Command, error) {
	frame = bytes.TrimSuffix(frame, []byte{Terminator})
	var f jsonFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.C {
	case KindActivate:
		if f.S != LedOn && f.S != LedOff {
			return nil, fmt.Errorf("%w: led state %q", ErrMalformedFrame, f.S)
		}
		return Activate{State: f.S}, nil
	case KindControlXY:
		if f.X == nil || f.Y == nil {
			return nil, fmt.Errorf("%w: xy frame without coordinates", ErrMalformedFrame)
		}
		return ControlXY{X: *f.X, Y: *f.Y}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrMalformedFrame, f.C)
	}
}

// CompactCodec frames positions as x<X>y<Y>, which fits the 20 byte write
// limit of BLE 4.0 links.
type CompactCodec struct{}

var _ Codec = CompactCodec{}

func (CompactCodec) Format() Format { return FormatCompact }

func (CompactCodec) Encode(cmd Command) ([]byte, error) {
	c, ok := cmd.(ControlXY)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCommand, cmd)
	}
	b := fmt.Appendf(nil, "x%dy%d", c.X, c.Y)
	return append(b, Terminator), nil
}

func (CompactCodec) Decode(frame []byte) (Command, error) {
	s := string(bytes.TrimSuffix(frame, []byte{Terminator}))
	var c ControlXY
	if _, err := fmt.Sscanf(s, "x%dy%d", &c.X, &c.Y); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedFrame, s)
	}
	// Sscanf ignores trailing input, so round-trip to reject it.
	if fmt.Sprintf("x%dy%d", c.X, c.Y) != s {
		return nil, fmt.Errorf("%w: %q", ErrMalformedFrame, s)
	}
	return c, nil
}
