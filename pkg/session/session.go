// Package session ties the calibration engine to the fixture link.
//
// It forwards mapped gaze samples to the controller, points the fixture at
// the reference spot of each calibration step and implements the operator
// actions (step, reset, lamp).
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/gaze"
)

// DefaultMaxSampleAge bounds how old the last sample may be when Step
// records a calibration point.
const DefaultMaxSampleAge = time.Second

var (
	// ErrCalibrationDone is returned by Step once every point is recorded.
	ErrCalibrationDone = errors.New("calibration already done")
	// ErrNoSample is returned by Step when no recent gaze sample exists.
	ErrNoSample = errors.New("no recent gaze sample")
	// ErrNoFace is returned by Step when the latest sample has no face.
	ErrNoFace = errors.New("no face detected")
)

// Sender delivers commands to the fixture. *connection.Manager implements it.
type Sender interface {
	Send(cmd comms.Command) error
}

var _ Sender = (*connection.Manager)(nil)

// Options configures a Session.
type Options struct {
	// GuideMarkers points the fixture at the border of every calibration
	// step as the state changes.
	GuideMarkers bool
	// MaxSampleAge defaults to DefaultMaxSampleAge.
	MaxSampleAge time.Duration
	// OnPosition, when set, receives every mapped position. It runs on the
	// sample path and must not block.
	OnPosition func(calibration.EyePosition)
	Logger     logrus.FieldLogger
}

// Session is safe for concurrent use.
type Session struct {
	engine *calibration.Engine
	sender Sender
	opts   Options
	log    logrus.FieldLogger
	now    func() time.Time

	// stepMu serialises operator actions so a step reads and writes the
	// same calibration state.
	stepMu sync.Mutex

	mu        sync.Mutex
	latest    gaze.Sample
	hasSample bool

	removeObserver func()
}

// New attaches a session to engine. Close detaches it again.
func New(engine *calibration.Engine, sender Sender, opts Options) *Session {
	if opts.MaxSampleAge <= 0 {
		opts.MaxSampleAge = DefaultMaxSampleAge
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "session")
	}
	s := &Session{
		engine: engine,
		sender: sender,
		opts:   opts,
		log:    opts.Logger,
		now:    time.Now,
	}
	s.removeObserver = engine.AddObserver(calibration.ObserverFuncs{
		OnState: s.stateChanged,
		OnValue: func(u calibration.Update) {
			s.log.WithFields(logrus.Fields{"state": u.State, "values": u.Values}).Info("saved calibration point")
		},
	})
	return s
}

// Close stops observing the engine.
func (s *Session) Close() {
	s.removeObserver()
}

// Engine returns the underlying calibration engine.
func (s *Session) Engine() *calibration.Engine {
	return s.engine
}

// Latest returns the most recent gaze sample.
func (s *Session) Latest() (gaze.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasSample
}

// HandleSample records a gaze sample and, once calibrated, points the
// fixture at the mapped position. It never blocks on the link.
func (s *Session) HandleSample(sample gaze.Sample) (calibration.EyePosition, bool) {
	if sample.At.IsZero() {
		sample.At = s.now()
	}
	s.mu.Lock()
	s.latest = sample
	s.hasSample = true
	s.mu.Unlock()

	s.engine.SetFaceDetected(sample.FaceDetected)
	if !sample.FaceDetected {
		return calibration.EyePosition{}, false
	}

	pos, ok := s.engine.Position(sample.X, sample.Y)
	if !ok {
		return pos, false
	}
	s.send(comms.Direction(pos))
	if s.opts.OnPosition != nil {
		s.opts.OnPosition(pos)
	}
	return pos, true
}

// Run feeds samples into HandleSample until ctx is done or samples is closed.
func (s *Session) Run(ctx context.Context, samples <-chan gaze.Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			s.HandleSample(sample)
		}
	}
}

// Step performs the operator tap. From Initial it starts the calibration;
// in the fixation states it records the latest sample and moves on.
func (s *Session) Step() (calibration.State, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	state := s.engine.State()
	switch state {
	case calibration.Initial:
		return s.engine.Advance(), nil
	case calibration.Done:
		return state, ErrCalibrationDone
	}

	sample, ok := s.Latest()
	if !ok || s.now().Sub(sample.At) > s.opts.MaxSampleAge {
		return state, ErrNoSample
	}
	if !sample.FaceDetected {
		return state, ErrNoFace
	}

	s.engine.Calibrate(sample.X, sample.Y)
	return s.engine.Advance(), nil
}

// Reset performs the operator long press and starts over.
func (s *Session) Reset() {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.engine.Reset()
}

// SetLamp switches the fixture's lamp.
func (s *Session) SetLamp(on bool) error {
	state := comms.LedOff
	if on {
		state = comms.LedOn
	}
	return s.sender.Send(comms.Activate{State: state})
}

// ConnectionStateChanged re-sends the guide marker when the link comes up
// during calibration. Register it with Manager.OnStateChange.
func (s *Session) ConnectionStateChanged(state connection.State) {
	if state != connection.Connected {
		return
	}
	if cs := s.engine.State(); cs != calibration.Done {
		s.marker(cs)
	}
}

func (s *Session) stateChanged(state calibration.State) {
	s.log.WithField("state", state).Info("calibration state changed")
	s.marker(state)
}

func (s *Session) marker(state calibration.State) {
	if !s.opts.GuideMarkers {
		return
	}
	x, y := calibration.Border(state)
	s.send(comms.ControlXY{X: x, Y: y})
}

func (s *Session) send(cmd comms.Command) {
	err := s.sender.Send(cmd)
	switch {
	case err == nil:
	case errors.Is(err, connection.ErrNotConnected):
		s.log.WithField("command", cmd).Debug("not connected, dropping command")
	default:
		s.log.WithError(err).WithField("command", cmd).Debug("failed to send command")
	}
}
