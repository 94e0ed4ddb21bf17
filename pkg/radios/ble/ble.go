// Package ble is the Bluetooth Low Energy radio driver for the LightVISION
// controller, built on tinygo.org/x/bluetooth.
//
// The bluetooth package exposes blocking calls; every request here starts
// the call on its own goroutine and reports the outcome as a
// connection.Event.
package ble

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/neoxapps/eyefighter"
	"github.com/neoxapps/eyefighter/pkg/connection"
)

// attHeader is subtracted from the ATT MTU to get the write payload size.
const attHeader = 3

func init() {
	eyefighter.Register("LightVISION", New)
}

var _ connection.Radio = (*Radio)(nil)

type Radio struct {
	name    string
	adapter *bluetooth.Adapter
	log     logrus.FieldLogger

	mu       sync.Mutex
	handler  func(connection.Event)
	scanning bool
	// Keyed by peripheral ID (the address string).
	seen     map[string]string
	addrs    map[string]bluetooth.Address
	devices  map[string]bluetooth.Device
	services map[string]bluetooth.DeviceService
	chars    map[string]bluetooth.DeviceCharacteristic
}

// New returns a radio for the device called name on the shared adapter.
func New(name string) connection.Radio {
	r := &Radio{
		name:     name,
		adapter:  eyefighter.BTAdapter,
		log:      logrus.WithFields(logrus.Fields{"component": "ble", "device": name}),
		seen:     make(map[string]string),
		addrs:    make(map[string]bluetooth.Address),
		devices:  make(map[string]bluetooth.Device),
		services: make(map[string]bluetooth.DeviceService),
		chars:    make(map[string]bluetooth.DeviceCharacteristic),
	}
	r.adapter.SetConnectHandler(r.connectHandler)
	return r
}

func key(parts ...string) string {
	return strings.Join(parts, "/")
}

func (r *Radio) SetEventHandler(handler func(connection.Event)) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

func (r *Radio) emit(ev connection.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// connectHandler catches links dropped by the peripheral or the stack.
func (r *Radio) connectHandler(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := device.Address.String()
	r.mu.Lock()
	_, known := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()
	if known {
		r.emit(connection.Event{Kind: connection.EventDisconnected, Peripheral: connection.Peripheral{ID: id}})
	}
}

func (r *Radio) StartScan() error {
	if err := eyefighter.TryEnableAdapter(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	r.mu.Lock()
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	r.scanning = true
	r.mu.Unlock()

	go func() {
		r.log.Info("scanning")
		// Scan blocks until StopScan.
		err := r.adapter.Scan(r.scanResult)
		r.mu.Lock()
		r.scanning = false
		r.mu.Unlock()
		if err != nil {
			r.log.WithError(err).Error("scan failed")
		}
	}()
	return nil
}

func (r *Radio) scanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	name := result.LocalName()
	id := result.Address.String()

	// Advertisements repeat; report an address once, and again only when it
	// starts announcing a name.
	r.mu.Lock()
	prev, ok := r.seen[id]
	if ok && (name == "" || name == prev) {
		r.mu.Unlock()
		return
	}
	r.seen[id] = name
	r.addrs[id] = result.Address
	r.mu.Unlock()

	r.emit(connection.Event{
		Kind:       connection.EventDiscoveredPeripheral,
		Peripheral: connection.Peripheral{ID: id, Name: name, RSSI: int(result.RSSI)},
	})
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	scanning := r.scanning
	r.mu.Unlock()
	if !scanning {
		return nil
	}
	return r.adapter.StopScan()
}

func (r *Radio) Connect(p connection.Peripheral) error {
	r.mu.Lock()
	addr, ok := r.addrs[p.ID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("peripheral %s was not discovered", p.ID)
	}

	go func() {
		device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			r.emit(connection.Event{Kind: connection.EventFailedToConnect, Peripheral: p, Err: err})
			return
		}
		r.mu.Lock()
		r.devices[p.ID] = device
		r.mu.Unlock()
		r.emit(connection.Event{Kind: connection.EventConnected, Peripheral: p})
	}()
	return nil
}

func (r *Radio) device(p connection.Peripheral) (bluetooth.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[p.ID]
	if !ok {
		return bluetooth.Device{}, fmt.Errorf("peripheral %s is not connected", p.ID)
	}
	return d, nil
}

func (r *Radio) CancelConnection(p connection.Peripheral) error {
	d, err := r.device(p)
	if err != nil {
		return err
	}
	go func() {
		if err := d.Disconnect(); err != nil {
			r.log.WithError(err).Warn("disconnect failed")
		}
		// The connect handler may already have reported this.
		r.mu.Lock()
		_, known := r.devices[p.ID]
		delete(r.devices, p.ID)
		r.mu.Unlock()
		if known {
			r.emit(connection.Event{Kind: connection.EventDisconnected, Peripheral: p})
		}
	}()
	return nil
}

func (r *Radio) DiscoverServices(p connection.Peripheral) error {
	d, err := r.device(p)
	if err != nil {
		return err
	}
	go func() {
		svcs, err := d.DiscoverServices(nil)
		ev := connection.Event{Kind: connection.EventDiscoveredServices, Peripheral: p, Err: err}
		r.mu.Lock()
		for _, s := range svcs {
			uuid := s.UUID().String()
			r.services[key(p.ID, uuid)] = s
			ev.Services = append(ev.Services, connection.Service{UUID: uuid})
		}
		r.mu.Unlock()
		r.emit(ev)
	}()
	return nil
}

func (r *Radio) DiscoverCharacteristics(p connection.Peripheral, s connection.Service) error {
	r.mu.Lock()
	svc, ok := r.services[key(p.ID, s.UUID)]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("service %s of %s was not discovered", s.UUID, p.ID)
	}
	go func() {
		chars, err := svc.DiscoverCharacteristics(nil)
		ev := connection.Event{Kind: connection.EventDiscoveredCharacteristics, Peripheral: p, Err: err}
		r.mu.Lock()
		for _, c := range chars {
			uuid := c.UUID().String()
			r.chars[key(p.ID, s.UUID, uuid)] = c
			ev.Characteristics = append(ev.Characteristics, connection.Characteristic{UUID: uuid, Service: s.UUID})
		}
		r.mu.Unlock()
		r.emit(ev)
	}()
	return nil
}

func (r *Radio) characteristic(p connection.Peripheral, c connection.Characteristic) (bluetooth.DeviceCharacteristic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	char, ok := r.chars[key(p.ID, c.Service, c.UUID)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s of %s was not discovered", c.UUID, p.ID)
	}
	return char, nil
}

func (r *Radio) EnableNotifications(p connection.Peripheral, c connection.Characteristic) error {
	char, err := r.characteristic(p, c)
	if err != nil {
		return err
	}
	go func() {
		err := char.EnableNotifications(func(buf []byte) {
			r.emit(connection.Event{
				Kind:       connection.EventUpdatedValue,
				Peripheral: p,
				Value:      append([]byte(nil), buf...),
			})
		})
		if err != nil {
			r.log.WithError(err).WithField("characteristic", c.UUID).Warn("failed to enable notifications")
		}
	}()
	return nil
}

func (r *Radio) MaximumWriteLength(p connection.Peripheral, c connection.Characteristic) (int, error) {
	char, err := r.characteristic(p, c)
	if err != nil {
		return 0, err
	}
	mtu, err := char.GetMTU()
	if err != nil {
		return 0, err
	}
	if int(mtu) <= attHeader {
		return 0, fmt.Errorf("implausible MTU %d", mtu)
	}
	return int(mtu) - attHeader, nil
}

func (r *Radio) WriteWithoutResponse(p connection.Peripheral, c connection.Characteristic, data []byte) error {
	char, err := r.characteristic(p, c)
	if err != nil {
		return err
	}
	_, err = char.WriteWithoutResponse(data)
	return err
}
