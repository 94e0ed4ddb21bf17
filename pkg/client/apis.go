package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/daemon"
	"github.com/neoxapps/eyefighter/pkg/events"
)

func getJSON[T any](c *Client, path, what string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

func (c *Client) GetStatus() (daemon.Status, error) {
	return getJSON[daemon.Status](c, "/status", "status")
}

func (c *Client) GetCalibration() (daemon.CalibrationStatus, error) {
	return getJSON[daemon.CalibrationStatus](c, "/calibration", "calibration")
}

func (c *Client) GetConnection() (connection.Status, error) {
	return getJSON[connection.Status](c, "/connection", "connection status")
}

// GetPosition maps a raw gaze point with the daemon's calibration.
func (c *Client) GetPosition(x, y float32) (calibration.EyePosition, error) {
	q := url.Values{}
	q.Set("x", strconv.FormatFloat(float64(x), 'f', -1, 32))
	q.Set("y", strconv.FormatFloat(float64(y), 'f', -1, 32))
	return getJSON[calibration.EyePosition](c, "/position?"+q.Encode(), "position")
}

func (c *Client) putState(path, what string) (calibration.State, error) {
	var s calibration.State
	ret, err := c.Put(path, "")
	if err != nil {
		return s, pkgerrors.Wrapf(err, "failed to %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &s); err != nil {
		return s, pkgerrors.Wrapf(err, "failed to unmarshal calibration state")
	}
	return s, nil
}

// Step records the current calibration point and returns the next state.
func (c *Client) Step() (calibration.State, error) {
	return c.putState("/calibration/step", "step calibration")
}

func (c *Client) Reset() (calibration.State, error) {
	return c.putState("/calibration/reset", "reset calibration")
}

func (c *Client) Scan() (string, error) {
	return c.Put("/connection/scan", "")
}

// Connect scans and connects to name, or to the configured device when
// name is empty.
func (c *Client) Connect(name string) (string, error) {
	return c.Put("/connection/connect", deviceBody(name))
}

func (c *Client) Disconnect(name string) (string, error) {
	return c.Put("/connection/disconnect", deviceBody(name))
}

func deviceBody(name string) string {
	if name == "" {
		return ""
	}
	b, _ := json.Marshal(name)
	return string(b)
}

func (c *Client) SetLed(on bool) (string, error) {
	return c.Put("/led", strconv.FormatBool(on))
}

// SubscribeEvents streams daemon events until ctx is canceled or the
// daemon closes the stream. The returned channel is closed then.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	resp, err := c.request(ctx, http.MethodGet, "/events", "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Message: resp.Status}
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logrus.Debugf("failed to close event stream: %v", err)
			}
		}()

		if err := readEvents(ctx, bufio.NewScanner(resp.Body), out); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Warn("event stream ended")
		}
	}()
	return out, nil
}

// readEvents parses the text/event-stream framing: "event:" and "data:"
// lines terminated by a blank line. Other fields are ignored.
func readEvents(ctx context.Context, sc *bufio.Scanner, out chan<- events.Event) error {
	var ev events.Event
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name == "" && len(data) == 0 {
				continue
			}
			ev.Data = json.RawMessage(strings.Join(data, "\n"))
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
			ev, data = events.Event{}, nil
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
