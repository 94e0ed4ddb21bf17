package calibration

import "fmt"

// EyePosition is a point in the fixture's output space. Both axes are
// within [0, MaxOutput].
type EyePosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p EyePosition) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Values holds the recorded calibration scalars. A nil field has not been
// recorded yet.
type Values struct {
	CenterX *float32 `json:"centerX,omitempty"`
	CenterY *float32 `json:"centerY,omitempty"`
	MaxX    *float32 `json:"maxX,omitempty"`
	MinX    *float32 `json:"minX,omitempty"`
	MaxY    *float32 `json:"maxY,omitempty"`
	MinY    *float32 `json:"minY,omitempty"`
}

// Complete reports whether all six scalars are recorded.
func (v Values) Complete() bool {
	return v.CenterX != nil && v.CenterY != nil &&
		v.MaxX != nil && v.MinX != nil &&
		v.MaxY != nil && v.MinY != nil
}

// clone returns a copy that shares no pointers with v.
func (v Values) clone() Values {
	return Values{
		CenterX: copyScalar(v.CenterX),
		CenterY: copyScalar(v.CenterY),
		MaxX:    copyScalar(v.MaxX),
		MinX:    copyScalar(v.MinX),
		MaxY:    copyScalar(v.MaxY),
		MinY:    copyScalar(v.MinY),
	}
}

func copyScalar(f *float32) *float32 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
