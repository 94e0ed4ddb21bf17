// Package connection drives the BLE link to the fixture controller.
//
// A Manager owns the list of discovered peripherals and the active link.
// Radio callbacks and public calls are both turned into work items that a
// single goroutine processes one at a time, so the link state is never
// mutated concurrently. Writes go through a one slot mailbox: a newer frame
// replaces one that has not been written yet.
package connection

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/comms"
)

// DefaultMaxWriteLength is assumed when the radio cannot report the
// negotiated value. It is the payload size of a BLE 4.0 write.
const DefaultMaxWriteLength = 20

var (
	// ErrNotConnected is returned by Send while the link is not fully configured.
	ErrNotConnected = errors.New("not connected")
	// ErrFrameTooLarge is returned by Send when the encoded command does not
	// fit into a single write.
	ErrFrameTooLarge = errors.New("frame exceeds maximum write length")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection manager closed")
)

// Options configures a Manager.
type Options struct {
	// Codec frames outgoing commands. Defaults to the compact codec.
	Codec comms.Codec
	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// Status is a snapshot of the manager.
type Status struct {
	State          State           `json:"state"`
	Device         *Peripheral     `json:"device,omitempty"`
	Service        *Service        `json:"service,omitempty"`
	Characteristic *Characteristic `json:"characteristic,omitempty"`
	MaxWriteLength int             `json:"maxWriteLength,omitempty"`
	Peripherals    []Peripheral    `json:"peripherals"`
	WireFormat     comms.Format    `json:"wireFormat"`
}

// link is the fully configured connection used by the send path.
type link struct {
	peripheral     Peripheral
	characteristic Characteristic
	maxWrite       int
}

type frame struct {
	link *link
	data []byte
}

// Manager is the connection state machine.
type Manager struct {
	radio Radio
	codec comms.Codec
	log   logrus.FieldLogger

	events    chan Event
	ops       chan func()
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	state  atomic.Int32
	active atomic.Pointer[link]

	listenersMu  sync.RWMutex
	listeners    map[int]func(State)
	nextListener int

	// Owned by the loop goroutine.
	peripherals    []Peripheral
	index          map[string]int
	current        *Peripheral
	service        *Service
	characteristic *Characteristic
	maxWrite       int
	pending        *time.Timer
	pendingGen     uint64
}

// NewManager starts a manager on top of radio. Call Close to stop it.
func NewManager(radio Radio, opts Options) *Manager {
	if opts.Codec == nil {
		opts.Codec = comms.CompactCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "connection")
	}

	m := &Manager{
		radio:     radio,
		codec:     opts.Codec,
		log:       opts.Logger,
		events:    make(chan Event, 32),
		ops:       make(chan func()),
		frames:    make(chan frame, 1),
		done:      make(chan struct{}),
		listeners: make(map[int]func(State)),
		index:     make(map[string]int),
	}
	m.state.Store(int32(Disconnected))

	radio.SetEventHandler(m.post)

	m.wg.Add(2)
	go m.loop()
	go m.writer()

	return m
}

// Close stops the manager. It does not disconnect; call Disconnect first
// for an orderly shutdown.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		_ = m.do(m.cancelPending)
		close(m.done)
		m.wg.Wait()
	})
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// OnStateChange registers fn for state transitions. fn runs on the manager
// goroutine: it must not block and must not call Scan, Connect, Disconnect,
// ScanAndConnect, Status or Peripherals. Send is fine.
func (m *Manager) OnStateChange(fn func(State)) (cancel func()) {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// Scan starts discovery and sets the state to Connecting.
func (m *Manager) Scan() error {
	return m.do(m.scan)
}

// ScanAndConnect starts discovery and tries Connect(name) once delay has
// passed, giving the radio time to collect advertisements.
func (m *Manager) ScanAndConnect(name string, delay time.Duration) error {
	return m.do(func() {
		m.scan()
		m.schedule(name, delay)
	})
}

// Connect connects to the first discovered peripheral advertising name.
// Without a match the state becomes DeviceNotFound.
func (m *Manager) Connect(name string) error {
	return m.do(func() {
		m.cancelPending()
		m.connect(name)
	})
}

// Disconnect tears down the active link if its peripheral is called name.
func (m *Manager) Disconnect(name string) error {
	return m.do(func() {
		m.cancelPending()
		m.disconnect(name)
	})
}

// Peripherals returns the peripherals discovered so far.
func (m *Manager) Peripherals() []Peripheral {
	var out []Peripheral
	_ = m.do(func() {
		out = append([]Peripheral(nil), m.peripherals...)
	})
	return out
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	st := Status{State: m.State(), WireFormat: m.codec.Format()}
	_ = m.do(func() {
		st.State = m.State()
		st.Peripherals = append([]Peripheral(nil), m.peripherals...)
		if m.current != nil {
			p := *m.current
			st.Device = &p
		}
		if m.service != nil {
			s := *m.service
			st.Service = &s
		}
		if m.characteristic != nil {
			c := *m.characteristic
			st.Characteristic = &c
		}
		st.MaxWriteLength = m.maxWrite
	})
	return st
}

// Send encodes cmd and queues it for a write without response. It never
// blocks. A frame still waiting to be written is replaced, since only the
// latest command matters for positional data.
func (m *Manager) Send(cmd comms.Command) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	data, err := m.codec.Encode(cmd)
	if err != nil {
		m.log.WithError(err).WithField("command", cmd).Debug("dropping command that cannot be encoded")
		return err
	}

	l := m.active.Load()
	if l == nil {
		return ErrNotConnected
	}
	if len(data) > l.maxWrite {
		m.log.WithFields(logrus.Fields{
			"size":    len(data),
			"maximum": l.maxWrite,
			"command": cmd,
		}).Warn("connected peripheral does not support package size, dropping command")
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(data), l.maxWrite)
	}

	f := frame{link: l, data: data}
	for {
		select {
		case m.frames <- f:
			return nil
		default:
		}
		select {
		case <-m.frames:
		default:
		}
	}
}

// do runs op on the loop goroutine and waits for it to finish.
func (m *Manager) do(op func()) error {
	finished := make(chan struct{})
	select {
	case m.ops <- func() { op(); close(finished) }:
	case <-m.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// post is the radio event handler.
func (m *Manager) post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case op := <-m.ops:
			op()
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) writer() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case f := <-m.frames:
			if m.active.Load() != f.link {
				// The link went away or was replaced while the frame waited.
				continue
			}
			err := m.radio.WriteWithoutResponse(f.link.peripheral, f.link.characteristic, f.data)
			if err != nil {
				m.log.WithError(err).WithField("device", f.link.peripheral.Name).Warn("write failed")
			}
		}
	}
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old == s {
		return
	}
	m.log.WithFields(logrus.Fields{"from": old, "to": s}).Info("connection state changed")

	m.listenersMu.RLock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) scan() {
	m.setState(Connecting)
	if err := m.radio.StartScan(); err != nil {
		m.log.WithError(err).Error("failed to start scan")
	}
}

func (m *Manager) schedule(name string, delay time.Duration) {
	m.cancelPending()
	gen := m.pendingGen
	m.pending = time.AfterFunc(delay, func() {
		_ = m.do(func() {
			if m.pending == nil || gen != m.pendingGen {
				return
			}
			m.pending = nil
			m.connect(name)
		})
	})
}

func (m *Manager) cancelPending() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.pendingGen++
}

func (m *Manager) find(name string) (Peripheral, bool) {
	for _, p := range m.peripherals {
		if p.Name == name {
			return p, true
		}
	}
	return Peripheral{}, false
}

func (m *Manager) connect(name string) {
	p, ok := m.find(name)
	if !ok {
		m.log.WithField("device", name).Warn("no device found with given name")
		m.setState(DeviceNotFound)
		return
	}
	if m.current != nil && m.current.ID == p.ID {
		m.log.WithField("device", name).Debug("device already connected")
		return
	}

	m.current = &p
	m.setState(Connecting)
	if err := m.radio.Connect(p); err != nil {
		m.log.WithError(err).WithField("device", name).Error("failed to request connection")
		m.clearLink()
		m.setState(Disconnected)
	}
}

func (m *Manager) disconnect(name string) {
	if m.current == nil || m.current.Name != name {
		m.log.WithField("device", name).Info("no device connected with given name")
		return
	}
	if err := m.radio.CancelConnection(*m.current); err != nil {
		m.log.WithError(err).WithField("device", name).Error("failed to cancel connection")
	}
}

func (m *Manager) remember(p Peripheral) {
	if i, ok := m.index[p.ID]; ok {
		if p.Name != "" {
			m.peripherals[i].Name = p.Name
		}
		m.peripherals[i].RSSI = p.RSSI
		return
	}
	m.index[p.ID] = len(m.peripherals)
	m.peripherals = append(m.peripherals, p)
	m.log.WithFields(logrus.Fields{"id": p.ID, "name": p.Name, "rssi": p.RSSI}).Debug("discovered peripheral")
}

func (m *Manager) isCurrent(p Peripheral) bool {
	return m.current != nil && m.current.ID == p.ID
}

func (m *Manager) clearLink() {
	m.current = nil
	m.service = nil
	m.characteristic = nil
	m.maxWrite = 0
	m.active.Store(nil)
}

func (m *Manager) handle(ev Event) {
	log := m.log.WithFields(logrus.Fields{"event": ev.Kind, "id": ev.Peripheral.ID})

	switch ev.Kind {
	case EventDiscoveredPeripheral:
		m.remember(ev.Peripheral)

	case EventConnected:
		if !m.isCurrent(ev.Peripheral) {
			log.Warn("connected to a peripheral that was not requested")
			return
		}
		log.WithField("device", m.current.Name).Info("did connect")
		if err := m.radio.StopScan(); err != nil {
			log.WithError(err).Debug("failed to stop scan")
		}
		if err := m.radio.DiscoverServices(*m.current); err != nil {
			log.WithError(err).Error("failed to discover services")
		}

	case EventFailedToConnect:
		if !m.isCurrent(ev.Peripheral) {
			return
		}
		log.WithError(ev.Err).Warn("did fail to connect")
		m.clearLink()
		m.setState(Disconnected)

	case EventDisconnected:
		if !m.isCurrent(ev.Peripheral) {
			log.Debug("disconnect from a peripheral that is not the active link")
			return
		}
		log.WithError(ev.Err).Info("did disconnect")
		m.clearLink()
		m.setState(Disconnected)

	case EventDiscoveredServices:
		if !m.isCurrent(ev.Peripheral) {
			return
		}
		if ev.Err != nil {
			log.WithError(ev.Err).Error("service discovery failed")
			return
		}
		if len(ev.Services) == 0 {
			log.Warn("peripheral advertises no services")
			return
		}
		s := ev.Services[0]
		m.service = &s
		log.WithField("service", s.UUID).Info("did discover service")
		if err := m.radio.DiscoverCharacteristics(*m.current, s); err != nil {
			log.WithError(err).Error("failed to discover characteristics")
		}

	case EventDiscoveredCharacteristics:
		if !m.isCurrent(ev.Peripheral) {
			return
		}
		if ev.Err != nil {
			log.WithError(ev.Err).Error("characteristic discovery failed")
			return
		}
		if len(ev.Characteristics) == 0 {
			log.Warn("service has no characteristics")
			return
		}
		c := ev.Characteristics[0]
		m.characteristic = &c
		log.WithField("characteristic", c.UUID).Info("did discover characteristic")
		if err := m.radio.EnableNotifications(*m.current, c); err != nil {
			log.WithError(err).Warn("failed to enable notifications")
		}
		m.configure()

	case EventWroteValue:
		if ev.Err != nil {
			log.WithError(ev.Err).Warn("write failed")
			return
		}
		log.Debug("write succeeded")

	case EventUpdatedValue:
		log.WithField("value", string(ev.Value)).Debug("characteristic did update")
	}
}

// configure marks the link usable once both service and characteristic
// are known.
func (m *Manager) configure() {
	if m.current == nil || m.service == nil || m.characteristic == nil {
		return
	}

	maxWrite, err := m.radio.MaximumWriteLength(*m.current, *m.characteristic)
	if err != nil || maxWrite <= 0 {
		m.log.WithError(err).WithField("assumed", DefaultMaxWriteLength).Debug("radio did not report a maximum write length")
		maxWrite = DefaultMaxWriteLength
	}
	m.maxWrite = maxWrite
	m.active.Store(&link{
		peripheral:     *m.current,
		characteristic: *m.characteristic,
		maxWrite:       maxWrite,
	})
	m.setState(Connected)
}
