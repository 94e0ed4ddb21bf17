// Package daemon runs the gaze-to-light bridge and serves its control API
// on a unix socket.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter"
	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/config"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/events"
	"github.com/neoxapps/eyefighter/pkg/gaze"
	"github.com/neoxapps/eyefighter/pkg/session"
)

// DefaultSocketPath is where the daemon listens unless told otherwise.
const DefaultSocketPath = "/var/run/eyefighter.sock"

// sampleBuffer bounds the queue between gaze sources and the session.
const sampleBuffer = 4

// Daemon owns the engine, the link and the session for one fixture.
type Daemon struct {
	conf    config.Config
	engine  *calibration.Engine
	manager *connection.Manager
	session *session.Session
	hub     *events.EventHub

	cancels []func()
}

// New wires a daemon around radio. Nothing touches the radio until Start.
func New(conf config.Config, radio connection.Radio) (*Daemon, error) {
	codec, err := comms.NewCodec(conf.WireFormat())
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		conf:   conf,
		engine: calibration.NewEngine(),
		hub:    events.NewEventHub(),
	}
	d.manager = connection.NewManager(radio, connection.Options{Codec: codec})
	d.session = session.New(d.engine, d.manager, session.Options{
		GuideMarkers: conf.GuideMarkers(),
		OnPosition: func(pos calibration.EyePosition) {
			d.hub.Publish(events.GazePosition, events.GazePositionEvent{X: pos.X, Y: pos.Y, Ts: time.Now().Unix()})
		},
	})

	d.cancels = append(d.cancels,
		d.engine.AddObserver(calibration.ObserverFuncs{
			OnState: func(s calibration.State) {
				d.hub.Publish(events.CalibrationState, events.CalibrationStateEvent{State: s.String(), Ts: time.Now().Unix()})
			},
			OnValue: func(u calibration.Update) {
				d.hub.Publish(events.CalibrationValue, u)
			},
			OnFace: func(detected bool) {
				d.hub.Publish(events.FaceDetected, events.FaceDetectedEvent{Detected: detected, Ts: time.Now().Unix()})
			},
		}),
		d.manager.OnStateChange(d.session.ConnectionStateChanged),
		d.manager.OnStateChange(func(s connection.State) {
			d.hub.Publish(events.ConnectionState, events.ConnectionStateEvent{
				State:  s.String(),
				Device: conf.DeviceName(),
				Ts:     time.Now().Unix(),
			})
		}),
	)

	return d, nil
}

// Start begins looking for the fixture.
func (d *Daemon) Start() error {
	return d.manager.ScanAndConnect(d.conf.DeviceName(), d.conf.ScanDelay())
}

// Close disconnects and stops the daemon's components.
func (d *Daemon) Close() {
	_ = d.manager.Disconnect(d.conf.DeviceName())
	for _, cancel := range d.cancels {
		cancel()
	}
	d.session.Close()
	d.manager.Close()
}

// Sources returns the gaze sources enabled in the config.
func (d *Daemon) Sources() []gaze.Source {
	var sources []gaze.Source
	if addr := d.conf.GazeListenAddr(); addr != "" {
		sources = append(sources, gaze.NewWebSocketSource(addr))
	}
	if broker := d.conf.MQTTBroker(); broker != "" {
		sources = append(sources, gaze.NewMQTTSource(broker, d.conf.MQTTTopic(), d.conf.MQTTClientID()))
	}
	if d.conf.MockGaze() {
		sources = append(sources, &gaze.Synthetic{AmplitudeX: 0.3, AmplitudeY: 0.2})
	}
	return sources
}

// RunGaze feeds all sources into the session until ctx is done.
func (d *Daemon) RunGaze(ctx context.Context, sources []gaze.Source) {
	samples := make(chan gaze.Sample, sampleBuffer)

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src gaze.Source) {
			defer wg.Done()
			if err := src.Run(ctx, samples); err != nil {
				logrus.WithError(err).Errorf("gaze source %T stopped", src)
			}
		}(src)
	}

	if err := d.session.Run(ctx, samples); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("session stopped")
	}
	wg.Wait()
}

// Router returns the control API handler.
func (d *Daemon) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", d.getStatus)
	router.GET("/calibration", d.getCalibration)
	router.PUT("/calibration/step", d.stepCalibration)
	router.PUT("/calibration/reset", d.resetCalibration)
	router.GET("/position", d.getPosition)
	router.GET("/connection", d.getConnection)
	router.PUT("/connection/scan", d.scan)
	router.PUT("/connection/connect", d.connect)
	router.PUT("/connection/disconnect", d.disconnect)
	router.PUT("/led", d.setLed)
	router.GET("/events", d.streamEvents)

	return router
}

// Run serves the control API on unixSocketPath until SIGINT or SIGTERM.
func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	gin.SetMode(gin.ReleaseMode)

	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config. Only the scan delay and the device
	// name used by the connect endpoints follow a reload; everything else
	// applies on the next start.
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	radio, err := eyefighter.NewRadioForDevice(conf.DeviceName())
	if err != nil {
		return err
	}

	d, err := New(conf, radio)
	if err != nil {
		return err
	}
	defer d.Close()

	srv := &http.Server{
		Handler:           d.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// A stale socket from a crashed run blocks Listen.
	_ = os.Remove(unixSocketPath)
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return err
	}

	if allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return err
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	gazeDone := make(chan struct{})
	go func() {
		defer close(gazeDone)
		d.RunGaze(ctx, d.Sources())
	}()

	if err := d.Start(); err != nil {
		logrus.WithError(err).Error("failed to start connecting")
	}

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	cancel()
	<-gazeDone

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("exiting")
	return nil
}
