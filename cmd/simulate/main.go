// simulate runs the whole gaze to fixture pipeline against the mock radio:
// it connects, walks the calibration with scripted gaze points and then
// sweeps the fixture with synthetic gaze until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/gaze"
	"github.com/neoxapps/eyefighter/pkg/radios/mock"
	"github.com/neoxapps/eyefighter/pkg/session"
)

const device = "MOCK-LightVISION"

// fixations are where the simulated user looks during each calibration step.
var fixations = map[calibration.State]gaze.Sample{
	calibration.Center: {X: 0, Y: 0, FaceDetected: true},
	calibration.Right:  {X: 0.4, Y: 0, FaceDetected: true},
	calibration.Down:   {X: 0, Y: -0.3, FaceDetected: true},
	calibration.Left:   {X: -0.4, Y: 0, FaceDetected: true},
	calibration.Up:     {X: 0, Y: 0.3, FaceDetected: true},
}

func main() {
	var (
		format string
		pause  time.Duration
	)

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Drive a simulated LightVISION fixture with synthetic gaze",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			f, err := comms.ParseFormat(format)
			if err != nil {
				return err
			}
			return run(f, pause)
		},
	}
	cmd.Flags().StringVar(&format, "wire-format", string(comms.FormatCompact), "wire format (compact, json)")
	cmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "time spent on each calibration point")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(format comms.Format, pause time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	codec, err := comms.NewCodec(format)
	if err != nil {
		return err
	}

	maxWrite := connection.DefaultMaxWriteLength
	if format == comms.FormatJSON {
		maxWrite = 64
	}
	radio := mock.NewWithOptions(device, mock.Options{
		MaxWriteLength: maxWrite,
		Neighbors:      []connection.Peripheral{{ID: "AA:BB:CC:DD:EE:01", Name: "Headphones", RSSI: -70}},
		OnFrame: func(f mock.FixtureState) {
			logrus.WithFields(logrus.Fields{"x": f.X, "y": f.Y, "lamp": f.Lamp}).Debug("fixture moved")
		},
	})

	manager := connection.NewManager(radio, connection.Options{Codec: codec})
	defer manager.Close()

	engine := calibration.NewEngine()
	sess := session.New(engine, manager, session.Options{GuideMarkers: true})
	defer sess.Close()
	defer manager.OnStateChange(sess.ConnectionStateChanged)()

	connected := make(chan struct{})
	cancelWait := manager.OnStateChange(func(s connection.State) {
		logrus.WithField("state", s).Info("link state changed")
		if s == connection.Connected {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	})
	defer cancelWait()

	if err := manager.ScanAndConnect(device, 500*time.Millisecond); err != nil {
		return err
	}
	select {
	case <-connected:
	case <-ctx.Done():
		return nil
	}

	if format == comms.FormatJSON {
		if err := sess.SetLamp(true); err != nil {
			logrus.WithError(err).Warn("failed to switch lamp on")
		}
	}

	if !calibrate(ctx, sess, pause) {
		return nil
	}
	logrus.WithField("values", engine.Values()).Info("calibration done, sweeping")

	samples := make(chan gaze.Sample, 4)
	sweep := &gaze.Synthetic{AmplitudeX: 0.5, AmplitudeY: 0.4}
	go func() {
		_ = sweep.Run(ctx, samples)
	}()

	report := time.NewTicker(time.Second)
	defer report.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-report.C:
				f := radio.Fixture()
				logrus.WithFields(logrus.Fields{"x": f.X, "y": f.Y, "frames": f.Frames, "rejected": f.Rejected}).Info("fixture")
			}
		}
	}()

	_ = sess.Run(ctx, samples)
	logrus.Info("simulation stopped")
	return nil
}

// calibrate steps through every point, holding the scripted fixation for
// pause before recording it. It returns false when interrupted.
func calibrate(ctx context.Context, sess *session.Session, pause time.Duration) bool {
	state, err := sess.Step()
	for err == nil && state != calibration.Done {
		logrus.WithField("state", state).Info("look at the marker")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pause):
		}
		sess.HandleSample(fixations[state])
		state, err = sess.Step()
	}
	if err != nil {
		logrus.WithError(err).Error("calibration failed")
		return false
	}
	return true
}
