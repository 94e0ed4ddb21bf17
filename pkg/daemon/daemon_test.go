package daemon

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/config"
	"github.com/neoxapps/eyefighter/pkg/connection"
	"github.com/neoxapps/eyefighter/pkg/events"
	"github.com/neoxapps/eyefighter/pkg/gaze"
	"github.com/neoxapps/eyefighter/pkg/radios/mock"
)

const device = "MOCK-LightVISION"

func init() {
	gin.SetMode(gin.TestMode)
	logrus.SetOutput(io.Discard)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fixture struct {
	d      *Daemon
	radio  *mock.Radio
	router http.Handler
}

func newFixture(t *testing.T, format comms.Format, maxWrite int) *fixture {
	t.Helper()
	conf, err := config.NewFile(filepath.Join(t.TempDir(), "eyefighter.json"))
	if err != nil {
		t.Fatal(err)
	}
	conf.SetDeviceName(device)
	conf.SetScanDelay(10 * time.Millisecond)
	conf.SetGazeListenAddr("")
	if err := conf.SetWireFormat(format); err != nil {
		t.Fatal(err)
	}

	radio := mock.NewWithOptions(device, mock.Options{Latency: time.Millisecond, MaxWriteLength: maxWrite})
	d, err := New(conf, radio)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return &fixture{d: d, radio: radio, router: d.Router()}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	if err := f.d.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool { return f.d.manager.State() == connection.Connected })
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, target, r))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// calibrate walks the daemon through all five points with samples one
// unit away from the origin.
func (f *fixture) calibrate(t *testing.T) {
	t.Helper()
	points := [][2]float32{{0, 0}, {1, 0}, {0, -1}, {-1, 0}, {0, 1}}
	if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	for _, p := range points {
		f.d.session.HandleSample(gaze.Sample{X: p[0], Y: p[1], FaceDetected: true})
		if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusCreated {
			t.Fatalf("step at %v: %d %s", p, w.Code, w.Body)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, comms.FormatCompact, 0)

	w := f.do(t, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	st := decode[Status](t, w)
	if st.Calibration.State != calibration.Initial || st.Calibration.Calibrated {
		t.Errorf("calibration = %+v", st.Calibration)
	}
	if st.Connection.State != connection.Disconnected {
		t.Errorf("connection = %v", st.Connection.State)
	}

	f.connect(t)
	st = decode[Status](t, f.do(t, http.MethodGet, "/status", ""))
	if st.Connection.State != connection.Connected || st.Connection.Device == nil || st.Connection.Device.ID != mock.PeripheralID {
		t.Errorf("connection = %+v", st.Connection)
	}
}

func TestCalibrationFlow(t *testing.T) {
	f := newFixture(t, comms.FormatCompact, 0)
	f.connect(t)

	if w := f.do(t, http.MethodGet, "/position?x=0&y=0", ""); w.Code != http.StatusConflict {
		t.Fatalf("position before calibration: %d", w.Code)
	}

	if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusCreated || decode[calibration.State](t, w) != calibration.Center {
		t.Fatalf("first step: %d %s", w.Code, w.Body)
	}
	// The guide marker for the center point reaches the fixture.
	waitFor(t, "center marker", func() bool {
		fx := f.radio.Fixture()
		return fx.X == 127 && fx.Y == 105
	})

	// No sample yet.
	if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusConflict {
		t.Fatalf("step without sample: %d", w.Code)
	}
	f.d.session.HandleSample(gaze.Sample{FaceDetected: false})
	if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusConflict {
		t.Fatalf("step without face: %d", w.Code)
	}

	if w := f.do(t, http.MethodPut, "/calibration/reset", ""); w.Code != http.StatusCreated {
		t.Fatalf("reset: %d", w.Code)
	}
	f.calibrate(t)

	cs := decode[CalibrationStatus](t, f.do(t, http.MethodGet, "/calibration", ""))
	if cs.State != calibration.Done || !cs.Calibrated || !cs.FaceDetected {
		t.Fatalf("calibration = %+v", cs)
	}
	if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusConflict {
		t.Fatalf("step when done: %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/position?x=0&y=0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("position: %d %s", w.Code, w.Body)
	}
	if pos := decode[calibration.EyePosition](t, w); pos != (calibration.EyePosition{X: 127, Y: 105}) {
		t.Errorf("position = %v", pos)
	}

	// A live sample moves the fixture.
	f.d.session.HandleSample(gaze.Sample{X: 0.5, Y: 0, FaceDetected: true})
	waitFor(t, "live position", func() bool {
		return f.radio.Fixture().LastFrame == "x147y105\n"
	})
}

func TestPositionBadInput(t *testing.T) {
	f := newFixture(t, comms.FormatCompact, 0)
	for _, target := range []string{"/position", "/position?x=1", "/position?x=a&y=1"} {
		if w := f.do(t, http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", target, w.Code)
		}
	}
}

func TestLed(t *testing.T) {
	tests := []struct {
		name      string
		format    comms.Format
		maxWrite  int
		connected bool
		body      string
		want      int
		lamp      comms.LedState
	}{
		{name: "bad body", format: comms.FormatJSON, maxWrite: 64, connected: true, body: `"yes"`, want: http.StatusBadRequest},
		{name: "not connected", format: comms.FormatJSON, maxWrite: 64, body: `true`, want: http.StatusServiceUnavailable},
		{name: "compact cannot switch", format: comms.FormatCompact, connected: true, body: `true`, want: http.StatusConflict},
		{name: "on", format: comms.FormatJSON, maxWrite: 64, connected: true, body: `true`, want: http.StatusCreated, lamp: comms.LedOn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.format, tt.maxWrite)
			if tt.connected {
				f.connect(t)
			}
			w := f.do(t, http.MethodPut, "/led", tt.body)
			if w.Code != tt.want {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
			if tt.lamp != "" {
				waitFor(t, "lamp", func() bool { return f.radio.Fixture().Lamp == tt.lamp })
			}
		})
	}
}

func TestConnectionEndpoints(t *testing.T) {
	f := newFixture(t, comms.FormatCompact, 0)

	if w := f.do(t, http.MethodPut, "/connection/connect", ""); w.Code != http.StatusCreated {
		t.Fatalf("connect: %d %s", w.Code, w.Body)
	}
	waitFor(t, "connected", func() bool { return f.d.manager.State() == connection.Connected })

	st := decode[connection.Status](t, f.do(t, http.MethodGet, "/connection", ""))
	if st.MaxWriteLength != connection.DefaultMaxWriteLength || st.WireFormat != comms.FormatCompact {
		t.Errorf("status = %+v", st)
	}

	if w := f.do(t, http.MethodPut, "/connection/disconnect", `"`+device+`"`); w.Code != http.StatusCreated {
		t.Fatalf("disconnect: %d %s", w.Code, w.Body)
	}
	waitFor(t, "disconnected", func() bool { return f.d.manager.State() == connection.Disconnected })

	if w := f.do(t, http.MethodPut, "/connection/connect", `{"name":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("connect with bad body: %d", w.Code)
	}

	if w := f.do(t, http.MethodPut, "/connection/scan", ""); w.Code != http.StatusCreated {
		t.Fatalf("scan: %d", w.Code)
	}
	waitFor(t, "scan", f.radio.Scanning)
}

func TestReconnectWhileConnected(t *testing.T) {
	f := newFixture(t, comms.FormatCompact, 0)
	f.connect(t)

	var states []connection.State
	var mu sync.Mutex
	cancel := f.d.manager.OnStateChange(func(s connection.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer cancel()

	if w := f.do(t, http.MethodPut, "/connection/connect", ""); w.Code != http.StatusCreated {
		t.Fatalf("connect: %d %s", w.Code, w.Body)
	}
	// Outlive the scan delay so a deferred connect would have run.
	time.Sleep(5 * f.d.conf.ScanDelay())

	st := decode[connection.Status](t, f.do(t, http.MethodGet, "/connection", ""))
	if st.State != connection.Connected || st.Device == nil {
		t.Fatalf("status = %+v", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 0 {
		t.Errorf("transitions = %v", states)
	}
	if f.radio.Scanning() {
		t.Error("scan started on a live link")
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, comms.FormatCompact, 0)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	waitFor(t, "subscriber", func() bool { return f.d.hub.Subscribers() == 1 })

	if w := f.do(t, http.MethodPut, "/calibration/step", ""); w.Code != http.StatusCreated {
		t.Fatalf("step: %d", w.Code)
	}

	got := make(chan events.Event, 1)
	go func() {
		r := bufio.NewReader(resp.Body)
		var ev events.Event
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.Name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				ev.Data = json.RawMessage(strings.TrimPrefix(line, "data:"))
			case line == "" && ev.Name != "":
				got <- ev
				return
			}
		}
	}()

	select {
	case ev := <-got:
		if ev.Name != events.CalibrationState {
			t.Fatalf("event = %q", ev.Name)
		}
		payload, err := events.DecodeAs[events.CalibrationStateEvent](ev)
		if err != nil {
			t.Fatal(err)
		}
		if payload.State != "center" {
			t.Errorf("state = %q", payload.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSources(t *testing.T) {
	conf, err := config.NewFile(filepath.Join(t.TempDir(), "eyefighter.json"))
	if err != nil {
		t.Fatal(err)
	}
	conf.SetMQTTBroker("tcp://localhost:1883")
	conf.SetMockGaze(true)
	d, err := New(conf, mock.New(device))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	sources := d.Sources()
	if len(sources) != 3 {
		t.Fatalf("sources = %d", len(sources))
	}
	if _, ok := sources[0].(*gaze.WebSocketSource); !ok {
		t.Errorf("sources[0] = %T", sources[0])
	}
	if _, ok := sources[1].(*gaze.MQTTSource); !ok {
		t.Errorf("sources[1] = %T", sources[1])
	}
	if _, ok := sources[2].(*gaze.Synthetic); !ok {
		t.Errorf("sources[2] = %T", sources[2])
	}
}
