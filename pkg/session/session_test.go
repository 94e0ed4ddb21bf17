package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/gaze"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []comms.Command
	err  error
}

func (f *fakeSender) Send(cmd comms.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) commands() []comms.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]comms.Command(nil), f.sent...)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func newTestSession(t *testing.T, markers bool) (*Session, *fakeSender, *time.Time) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)

	sender := &fakeSender{}
	s := New(calibration.NewEngine(), sender, Options{GuideMarkers: markers, Logger: l})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	t.Cleanup(s.Close)
	return s, sender, &now
}

// calibrate walks the session through all five points with a symmetric
// calibration of +-50 around the origin.
func calibrate(t *testing.T, s *Session) {
	t.Helper()
	points := []gaze.Sample{
		{X: 0, Y: 0},   // center
		{X: 50, Y: 0},  // right
		{X: 0, Y: -50}, // down
		{X: -50, Y: 0}, // left
		{X: 0, Y: 50},  // up
	}
	if _, err := s.Step(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, p := range points {
		p.FaceDetected = true
		s.HandleSample(p)
		if _, err := s.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := s.Engine().State(); got != calibration.Done {
		t.Fatalf("state = %v, want done", got)
	}
}

func TestStepWalksCalibration(t *testing.T) {
	s, _, _ := newTestSession(t, false)
	calibrate(t, s)

	if _, err := s.Step(); !errors.Is(err, ErrCalibrationDone) {
		t.Fatalf("Step after done = %v, want ErrCalibrationDone", err)
	}
	pos, ok := s.Engine().Position(25, 0)
	if !ok || pos != (calibration.EyePosition{X: 147, Y: 105}) {
		t.Fatalf("Position(25,0) = %v, %v", pos, ok)
	}
}

func TestStepNeedsRecentFace(t *testing.T) {
	s, _, now := newTestSession(t, false)

	if state, err := s.Step(); err != nil || state != calibration.Center {
		t.Fatalf("Step from initial = %v, %v", state, err)
	}

	if _, err := s.Step(); !errors.Is(err, ErrNoSample) {
		t.Fatalf("Step without sample = %v, want ErrNoSample", err)
	}

	s.HandleSample(gaze.Sample{X: 1, Y: 1, FaceDetected: false})
	if _, err := s.Step(); !errors.Is(err, ErrNoFace) {
		t.Fatalf("Step without face = %v, want ErrNoFace", err)
	}

	s.HandleSample(gaze.Sample{X: 1, Y: 1, FaceDetected: true})
	*now = now.Add(2 * DefaultMaxSampleAge)
	if _, err := s.Step(); !errors.Is(err, ErrNoSample) {
		t.Fatalf("Step with stale sample = %v, want ErrNoSample", err)
	}
	if got := s.Engine().State(); got != calibration.Center {
		t.Fatalf("failed steps moved state to %v", got)
	}

	s.HandleSample(gaze.Sample{X: 1, Y: 2, FaceDetected: true})
	if state, err := s.Step(); err != nil || state != calibration.Right {
		t.Fatalf("Step = %v, %v", state, err)
	}
	v := s.Engine().Values()
	if *v.CenterX != 1 || *v.CenterY != 2 {
		t.Fatalf("center = (%v,%v)", *v.CenterX, *v.CenterY)
	}
}

func TestHandleSampleSendsPosition(t *testing.T) {
	s, sender, _ := newTestSession(t, false)

	if _, ok := s.HandleSample(gaze.Sample{X: 25, Y: 0, FaceDetected: true}); ok {
		t.Fatal("position produced before calibration")
	}
	if n := len(sender.commands()); n != 0 {
		t.Fatalf("sent %d commands before calibration", n)
	}

	calibrate(t, s)
	sender.reset()

	pos, ok := s.HandleSample(gaze.Sample{X: 25, Y: 0, FaceDetected: true})
	if !ok || pos != (calibration.EyePosition{X: 147, Y: 105}) {
		t.Fatalf("HandleSample = %v, %v", pos, ok)
	}
	got := sender.commands()
	if len(got) != 1 || got[0] != (comms.ControlXY{X: 147, Y: 105}) {
		t.Fatalf("sent %v", got)
	}

	// No face: nothing is sent and the engine learns about it.
	if _, ok := s.HandleSample(gaze.Sample{X: 25, Y: 0}); ok {
		t.Fatal("position produced without face")
	}
	if s.Engine().FaceDetected() {
		t.Fatal("face still detected")
	}
	if n := len(sender.commands()); n != 1 {
		t.Fatalf("sent %d commands", n)
	}
}

func TestHandleSampleIgnoresSendErrors(t *testing.T) {
	s, sender, _ := newTestSession(t, false)
	calibrate(t, s)
	sender.err = connection.ErrNotConnected

	if _, ok := s.HandleSample(gaze.Sample{X: 1, Y: 1, FaceDetected: true}); !ok {
		t.Fatal("expected a position while disconnected")
	}
}

func TestGuideMarkers(t *testing.T) {
	s, sender, _ := newTestSession(t, true)
	calibrate(t, s)

	want := []comms.Command{
		comms.ControlXY{X: 127, Y: 105}, // center
		comms.ControlXY{X: 179, Y: 105}, // right
		comms.ControlXY{X: 127, Y: 35},  // down
		comms.ControlXY{X: 75, Y: 105},  // left
		comms.ControlXY{X: 127, Y: 205}, // up
		comms.ControlXY{X: 127, Y: 105}, // done
	}
	got := sender.commands()
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d = %v, want %v", i, got[i], want[i])
		}
	}

	sender.reset()
	s.Reset()
	if got := sender.commands(); len(got) != 1 || got[0] != (comms.ControlXY{X: 127, Y: 105}) {
		t.Fatalf("reset sent %v", got)
	}
}

func TestGuideMarkersDisabled(t *testing.T) {
	s, sender, _ := newTestSession(t, false)
	_, _ = s.Step()
	s.ConnectionStateChanged(connection.Connected)
	if n := len(sender.commands()); n != 0 {
		t.Fatalf("sent %d commands", n)
	}
}

func TestMarkerResentOnConnect(t *testing.T) {
	s, sender, _ := newTestSession(t, true)
	_, _ = s.Step()
	s.HandleSample(gaze.Sample{FaceDetected: true})
	_, _ = s.Step() // right
	sender.reset()

	s.ConnectionStateChanged(connection.Connecting)
	s.ConnectionStateChanged(connection.Connected)
	got := sender.commands()
	if len(got) != 1 || got[0] != (comms.ControlXY{X: 179, Y: 105}) {
		t.Fatalf("sent %v", got)
	}

	s.Reset()
	calibrate(t, s)
	sender.reset()
	s.ConnectionStateChanged(connection.Connected)
	if n := len(sender.commands()); n != 0 {
		t.Fatalf("marker sent after calibration: %v", sender.commands())
	}
}

func TestSetLamp(t *testing.T) {
	s, sender, _ := newTestSession(t, false)
	if err := s.SetLamp(true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLamp(false); err != nil {
		t.Fatal(err)
	}
	got := sender.commands()
	if len(got) != 2 || got[0] != (comms.Activate{State: comms.LedOn}) || got[1] != (comms.Activate{State: comms.LedOff}) {
		t.Fatalf("sent %v", got)
	}
}

func TestRun(t *testing.T) {
	s, _, _ := newTestSession(t, false)
	samples := make(chan gaze.Sample, 1)
	samples <- gaze.Sample{X: 3, Y: 4, FaceDetected: true}
	close(samples)

	if err := s.Run(context.Background(), samples); err != nil {
		t.Fatalf("Run: %v", err)
	}
	latest, ok := s.Latest()
	if !ok || latest.X != 3 || latest.Y != 4 {
		t.Fatalf("latest = %+v, %v", latest, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, make(chan gaze.Sample)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestOnPosition(t *testing.T) {
	s, _, _ := newTestSession(t, false)
	var got []calibration.EyePosition
	s.opts.OnPosition = func(p calibration.EyePosition) { got = append(got, p) }

	s.HandleSample(gaze.Sample{X: 25, Y: 0, FaceDetected: true})
	if len(got) != 0 {
		t.Fatalf("OnPosition before calibration: %v", got)
	}

	calibrate(t, s)
	s.HandleSample(gaze.Sample{X: -25, Y: 0, FaceDetected: true})
	// -25 against minX -50: 0.8*52/50*-25 + 127 = 106.2
	if len(got) != 1 || got[0] != (calibration.EyePosition{X: 106, Y: 105}) {
		t.Fatalf("OnPosition = %v", got)
	}
}
