// Package mock simulates a LightVISION controller behind a radio.
// It is intended for development and testing when no fixture is at hand.
package mock

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter"
	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/connection"
)

const (
	// PeripheralID is the ID the simulated controller advertises with.
	PeripheralID = "00:00:00:00:4D:4B"
	// ServiceUUID and CharacteristicUUID mirror the HM-10 style UART module
	// on the real controller.
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"

	defaultLatency = 5 * time.Millisecond
)

// ErrNotConnected is returned for requests that need a link.
var ErrNotConnected = errors.New("mock: not connected")

func init() {
	// Register with a distinct name, "MOCK", so it can be requested specifically.
	eyefighter.Register("MOCK", New)
}

var _ connection.Radio = (*Radio)(nil)

// FixtureState is what the simulated controller has been told so far.
type FixtureState struct {
	Connected bool           `json:"connected"`
	Lamp      comms.LedState `json:"lamp"`
	X         int            `json:"x"`
	Y         int            `json:"y"`
	Frames    int            `json:"frames"`
	Rejected  int            `json:"rejected"`
	LastFrame string         `json:"lastFrame"`
}

type Options struct {
	// Latency before every simulated callback. Defaults to 5ms.
	Latency time.Duration
	// MaxWriteLength the controller accepts. Defaults to 20 (BLE 4.0).
	MaxWriteLength int
	// Neighbors are unrelated peripherals reported alongside the controller.
	Neighbors []connection.Peripheral
	// FailConnect makes every connection attempt fail.
	FailConnect bool
	// OnFrame, when set, is called with the fixture state after every
	// accepted frame.
	OnFrame func(FixtureState)
}

// Radio is a simulated radio with one controller in range.
type Radio struct {
	name string
	opts Options
	log  logrus.FieldLogger

	mu       sync.Mutex
	handler  func(connection.Event)
	scanning bool
	fixture  FixtureState
}

// New creates a simulated radio whose controller advertises as name.
func New(name string) connection.Radio {
	return NewWithOptions(name, Options{})
}

func NewWithOptions(name string, opts Options) *Radio {
	if opts.Latency <= 0 {
		opts.Latency = defaultLatency
	}
	if opts.MaxWriteLength <= 0 {
		opts.MaxWriteLength = connection.DefaultMaxWriteLength
	}
	return &Radio{
		name:    name,
		opts:    opts,
		log:     logrus.WithFields(logrus.Fields{"component": "mock", "device": name}),
		fixture: FixtureState{Lamp: comms.LedOff},
	}
}

// Peripheral is the simulated controller as it appears in a scan.
func (r *Radio) Peripheral() connection.Peripheral {
	return connection.Peripheral{ID: PeripheralID, Name: r.name, RSSI: -42}
}

// Fixture returns the current state of the simulated controller.
func (r *Radio) Fixture() FixtureState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fixture
}

// Drop simulates the controller going out of range.
func (r *Radio) Drop() {
	r.mu.Lock()
	was := r.fixture.Connected
	r.fixture.Connected = false
	r.mu.Unlock()
	if was {
		r.log.Info("MOCK: link dropped")
		r.later(connection.Event{Kind: connection.EventDisconnected, Peripheral: r.Peripheral()})
	}
}

func (r *Radio) SetEventHandler(handler func(connection.Event)) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// later delivers events in order after the configured latency.
func (r *Radio) later(events ...connection.Event) {
	time.AfterFunc(r.opts.Latency, func() {
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h == nil {
			return
		}
		for _, ev := range events {
			h(ev)
		}
	})
}

func (r *Radio) StartScan() error {
	r.mu.Lock()
	r.scanning = true
	r.mu.Unlock()

	var events []connection.Event
	for _, p := range r.opts.Neighbors {
		events = append(events, connection.Event{Kind: connection.EventDiscoveredPeripheral, Peripheral: p})
	}
	events = append(events, connection.Event{Kind: connection.EventDiscoveredPeripheral, Peripheral: r.Peripheral()})
	r.log.Debug("MOCK: scanning")
	r.later(events...)
	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	r.scanning = false
	r.mu.Unlock()
	return nil
}

// Scanning reports whether discovery is running.
func (r *Radio) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

func (r *Radio) Connect(p connection.Peripheral) error {
	if p.ID != PeripheralID || r.opts.FailConnect {
		r.later(connection.Event{Kind: connection.EventFailedToConnect, Peripheral: p, Err: fmt.Errorf("mock: cannot connect to %s", p.ID)})
		return nil
	}
	r.mu.Lock()
	r.fixture.Connected = true
	r.mu.Unlock()
	r.log.Info("MOCK: connected")
	r.later(connection.Event{Kind: connection.EventConnected, Peripheral: p})
	return nil
}

func (r *Radio) CancelConnection(p connection.Peripheral) error {
	if p.ID != PeripheralID {
		return fmt.Errorf("mock: unknown peripheral %s", p.ID)
	}
	r.Drop()
	return nil
}

func (r *Radio) connected(p connection.Peripheral) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID != PeripheralID || !r.fixture.Connected {
		return ErrNotConnected
	}
	return nil
}

func (r *Radio) DiscoverServices(p connection.Peripheral) error {
	if err := r.connected(p); err != nil {
		return err
	}
	r.later(connection.Event{
		Kind:       connection.EventDiscoveredServices,
		Peripheral: p,
		Services:   []connection.Service{{UUID: ServiceUUID}},
	})
	return nil
}

func (r *Radio) DiscoverCharacteristics(p connection.Peripheral, s connection.Service) error {
	if err := r.connected(p); err != nil {
		return err
	}
	if s.UUID != ServiceUUID {
		return fmt.Errorf("mock: unknown service %s", s.UUID)
	}
	r.later(connection.Event{
		Kind:            connection.EventDiscoveredCharacteristics,
		Peripheral:      p,
		Characteristics: []connection.Characteristic{{UUID: CharacteristicUUID, Service: ServiceUUID}},
	})
	return nil
}

func (r *Radio) EnableNotifications(p connection.Peripheral, c connection.Characteristic) error {
	if err := r.connected(p); err != nil {
		return err
	}
	// The controller greets a new subscriber.
	r.later(connection.Event{Kind: connection.EventUpdatedValue, Peripheral: p, Value: []byte("ready\n")})
	return nil
}

func (r *Radio) MaximumWriteLength(p connection.Peripheral, c connection.Characteristic) (int, error) {
	if err := r.connected(p); err != nil {
		return 0, err
	}
	return r.opts.MaxWriteLength, nil
}

func (r *Radio) WriteWithoutResponse(p connection.Peripheral, c connection.Characteristic, data []byte) error {
	if err := r.connected(p); err != nil {
		return err
	}
	if len(data) > r.opts.MaxWriteLength {
		r.reject(data)
		return fmt.Errorf("mock: %d byte write exceeds %d", len(data), r.opts.MaxWriteLength)
	}

	cmd, err := decode(data)
	if err != nil {
		r.reject(data)
		return err
	}

	r.mu.Lock()
	switch c := cmd.(type) {
	case comms.Activate:
		r.fixture.Lamp = c.State
	case comms.ControlXY:
		r.fixture.X, r.fixture.Y = c.X, c.Y
	}
	r.fixture.Frames++
	r.fixture.LastFrame = string(data)
	state := r.fixture
	r.mu.Unlock()

	r.log.WithField("command", cmd).Debug("MOCK: frame received")
	if r.opts.OnFrame != nil {
		r.opts.OnFrame(state)
	}
	return nil
}

func (r *Radio) reject(data []byte) {
	r.mu.Lock()
	r.fixture.Rejected++
	r.mu.Unlock()
	r.log.WithField("frame", string(data)).Warn("MOCK: frame rejected")
}

// decode accepts either wire format.
func decode(frame []byte) (comms.Command, error) {
	if bytes.HasPrefix(frame, []byte("{")) {
		return comms.JSONCodec{}.Decode(frame)
	}
	return comms.CompactCodec{}.Decode(frame)
}
