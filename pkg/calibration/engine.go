// Package calibration maps raw gaze coordinates onto the fixture's output
// space.
//
// An Engine walks through the five fixation points (center, right, down,
// left, up), records one raw scalar per point (two for center), and from
// then on converts raw samples with a per-axis scale that differs on each
// side of the recorded center.
package calibration

import (
	"math"
	"sync"
)

// factorOffset damps the scale so the recorded extremes land inside the
// output range instead of on its edge.
const factorOffset float32 = 0.8

// Engine is the calibration state machine. It is safe for concurrent use;
// a single mutex guards the state and the six scalars together.
type Engine struct {
	mu           sync.Mutex
	state        State
	values       Values
	faceDetected bool

	// transitionMu orders state changes together with their notifications.
	transitionMu sync.Mutex

	observersMu sync.RWMutex
	observers   map[int]Observer
	nextID      int
}

// NewEngine returns an engine in the Initial state.
func NewEngine() *Engine {
	return &Engine{
		state:     Initial,
		observers: make(map[int]Observer),
	}
}

// AddObserver registers o and returns a function that removes it again.
func (e *Engine) AddObserver(o Observer) (remove func()) {
	e.observersMu.Lock()
	id := e.nextID
	e.nextID++
	e.observers[id] = o
	e.observersMu.Unlock()

	return func() {
		e.observersMu.Lock()
		delete(e.observers, id)
		e.observersMu.Unlock()
	}
}

func (e *Engine) snapshotObservers() []Observer {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	out := make([]Observer, 0, len(e.observers))
	for _, o := range e.observers {
		out = append(out, o)
	}
	return out
}

// State returns the current calibration state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Values returns a copy of the recorded scalars.
func (e *Engine) Values() Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values.clone()
}

// Calibrated reports whether all scalars are recorded.
func (e *Engine) Calibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.values.Complete()
}

// Calibrate records the scalar(s) belonging to the current state. It is a
// no-op in Initial and Done, in which case ok is false and no notification
// is sent.
func (e *Engine) Calibrate(x, y float32) (update Update, ok bool) {
	e.mu.Lock()
	update.State = e.state
	switch e.state {
	case Center:
		e.values.CenterX, e.values.CenterY = &x, &y
		update.Values.CenterX, update.Values.CenterY = copyScalar(&x), copyScalar(&y)
	case Right:
		e.values.MaxX = &x
		update.Values.MaxX = copyScalar(&x)
	case Down:
		e.values.MinY = &y
		update.Values.MinY = copyScalar(&y)
	case Left:
		e.values.MinX = &x
		update.Values.MinX = copyScalar(&x)
	case Up:
		e.values.MaxY = &y
		update.Values.MaxY = copyScalar(&y)
	default:
		e.mu.Unlock()
		return update, false
	}
	e.mu.Unlock()

	for _, o := range e.snapshotObservers() {
		o.ValueChanged(update)
	}
	return update, true
}

// Advance moves to the next state and returns it.
func (e *Engine) Advance() State {
	e.transitionMu.Lock()
	defer e.transitionMu.Unlock()

	e.mu.Lock()
	e.state = e.state.Next()
	state := e.state
	e.mu.Unlock()

	e.notifyState(state)
	return state
}

// Reset returns to Initial and forgets every recorded scalar.
func (e *Engine) Reset() {
	e.transitionMu.Lock()
	defer e.transitionMu.Unlock()

	e.mu.Lock()
	e.state = Initial
	e.values = Values{}
	e.mu.Unlock()

	e.notifyState(Initial)
}

func (e *Engine) notifyState(state State) {
	for _, o := range e.snapshotObservers() {
		o.StateChanged(state)
	}
}

// FaceDetected reports the last value passed to SetFaceDetected.
func (e *Engine) FaceDetected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faceDetected
}

// SetFaceDetected records whether the tracker currently sees a face.
// Observers are notified only when the value changes.
func (e *Engine) SetFaceDetected(detected bool) {
	e.mu.Lock()
	changed := e.faceDetected != detected
	e.faceDetected = detected
	e.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range e.snapshotObservers() {
		o.FaceDetectedChanged(detected)
	}
}

// Position converts a raw gaze sample into an EyePosition. ok is false
// until all six scalars have been recorded.
func (e *Engine) Position(x, y float32) (pos EyePosition, ok bool) {
	e.mu.Lock()
	v := e.values
	if !v.Complete() {
		e.mu.Unlock()
		return EyePosition{}, false
	}
	centerX, centerY := *v.CenterX, *v.CenterY
	xBorder := *v.MaxX
	if x < centerX {
		xBorder = *v.MinX
	}
	yBorder := *v.MaxY
	if y < centerY {
		yBorder = *v.MinY
	}
	e.mu.Unlock()

	cx, cy := Border(Center)
	rx, _ := Border(Right)
	_, uy := Border(Up)

	xFactor := (float32(rx-cx) / abs32(xBorder)) * factorOffset
	yFactor := (float32(uy-cy) / abs32(yBorder)) * factorOffset

	return EyePosition{
		X: project(xFactor, x, cx),
		Y: project(yFactor, y, cy),
	}, true
}

// project applies factor*raw+center, clamps to the output range and
// truncates. The undefined Inf*0 case falls back to the center.
func project(factor, raw float32, center int) int {
	v := float64(factor*raw + float32(center))
	if math.IsNaN(v) {
		return center
	}
	v = math.Max(math.Min(v, MaxOutput), 0)
	return int(v)
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
