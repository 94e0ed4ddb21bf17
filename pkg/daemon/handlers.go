package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/session"
)

// ErrNotCalibrated is returned by the position endpoint before every
// calibration point is recorded.
var ErrNotCalibrated = errors.New("calibration incomplete")

// Status is the daemon snapshot served on /status.
type Status struct {
	Calibration CalibrationStatus `json:"calibration"`
	Connection  connection.Status `json:"connection"`
	// Subscribers is the number of open event streams.
	Subscribers int `json:"subscribers"`
}

// CalibrationStatus is served on /calibration.
type CalibrationStatus struct {
	State        calibration.State  `json:"state"`
	Values       calibration.Values `json:"values"`
	Calibrated   bool               `json:"calibrated"`
	FaceDetected bool               `json:"faceDetected"`
}

func (d *Daemon) calibrationStatus() CalibrationStatus {
	return CalibrationStatus{
		State:        d.engine.State(),
		Values:       d.engine.Values(),
		Calibrated:   d.engine.Calibrated(),
		FaceDetected: d.engine.FaceDetected(),
	}
}

// statusCode maps domain errors to HTTP codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrCalibrationDone),
		errors.Is(err, session.ErrNoSample),
		errors.Is(err, session.ErrNoFace),
		errors.Is(err, ErrNotCalibrated),
		errors.Is(err, comms.ErrUnsupportedCommand),
		errors.Is(err, connection.ErrFrameTooLarge):
		return http.StatusConflict
	case errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, Status{
		Calibration: d.calibrationStatus(),
		Connection:  d.manager.Status(),
		Subscribers: d.hub.Subscribers(),
	})
}

func (d *Daemon) getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.calibrationStatus())
}

func (d *Daemon) stepCalibration(c *gin.Context) {
	state, err := d.session.Step()
	if err != nil {
		abort(c, statusCode(err), err)
		return
	}

	logrus.Infof("calibration stepped to %s", state)

	c.IndentedJSON(http.StatusCreated, state)
}

func (d *Daemon) resetCalibration(c *gin.Context) {
	d.session.Reset()

	logrus.Info("calibration reset")

	c.IndentedJSON(http.StatusCreated, d.engine.State())
}

func parseCoordinate(c *gin.Context, name string) (float32, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return float32(v), nil
}

// getPosition maps a raw gaze point without moving the fixture.
func (d *Daemon) getPosition(c *gin.Context) {
	x, err := parseCoordinate(c, "x")
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	y, err := parseCoordinate(c, "y")
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	pos, ok := d.engine.Position(x, y)
	if !ok {
		abort(c, statusCode(ErrNotCalibrated), ErrNotCalibrated)
		return
	}

	c.IndentedJSON(http.StatusOK, pos)
}

func (d *Daemon) getConnection(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.manager.Status())
}

func (d *Daemon) scan(c *gin.Context) {
	if err := d.manager.Scan(); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "ok")
}

// deviceName reads an optional JSON string body, falling back to the
// configured device.
func (d *Daemon) deviceName(c *gin.Context) (string, error) {
	var name string
	if err := c.ShouldBindJSON(&name); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if name == "" {
		name = d.conf.DeviceName()
	}
	return name, nil
}

func (d *Daemon) connect(c *gin.Context) {
	name, err := d.deviceName(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.reconnect(name); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	logrus.Infof("connecting to %s", name)

	c.IndentedJSON(http.StatusCreated, "ok")
}

// reconnect connects straight to a peripheral already seen. A fresh scan
// would drop a live link back to Connecting, so it is only started when
// name is unknown or the link is down.
func (d *Daemon) reconnect(name string) error {
	switch d.manager.State() {
	case connection.Disconnected, connection.DeviceNotFound:
		return d.manager.ScanAndConnect(name, d.conf.ScanDelay())
	}
	for _, p := range d.manager.Peripherals() {
		if p.Name == name {
			return d.manager.Connect(name)
		}
	}
	return d.manager.ScanAndConnect(name, d.conf.ScanDelay())
}

func (d *Daemon) disconnect(c *gin.Context) {
	name, err := d.deviceName(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.manager.Disconnect(name); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	logrus.Infof("disconnecting from %s", name)

	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) setLed(c *gin.Context) {
	var on bool
	if err := c.ShouldBindJSON(&on); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := d.session.SetLamp(on); err != nil {
		abort(c, statusCode(err), err)
		return
	}

	logrus.Infof("set lamp to %t", on)

	c.IndentedJSON(http.StatusCreated, "ok")
}

// streamEvents relays published events as server-sent events until the
// client goes away.
func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}
