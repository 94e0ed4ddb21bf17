package connection

import "fmt"

// Peripheral is a device seen during a scan. ID is the platform identity
// (a MAC address or a platform UUID) and is what discovery deduplicates on.
type Peripheral struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

// Service is a GATT service of a connected peripheral.
type Service struct {
	UUID string `json:"uuid"`
}

// Characteristic is a GATT characteristic of a service.
type Characteristic struct {
	UUID    string `json:"uuid"`
	Service string `json:"service"`
}

// EventKind identifies an asynchronous radio event.
type EventKind int

const (
	EventDiscoveredPeripheral EventKind = iota
	EventConnected
	EventFailedToConnect
	EventDisconnected
	EventDiscoveredServices
	EventDiscoveredCharacteristics
	EventWroteValue
	EventUpdatedValue
)

var eventKindNames = [...]string{
	"discoveredPeripheral",
	"connected",
	"failedToConnect",
	"disconnected",
	"discoveredServices",
	"discoveredCharacteristics",
	"wroteValue",
	"updatedValue",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one callback from the radio. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind            EventKind
	Peripheral      Peripheral
	Services        []Service
	Characteristics []Characteristic
	Value           []byte
	Err             error
}

// Radio is the platform BLE central. Request methods must not block: their
// outcome is reported later through the handler installed with
// SetEventHandler. WriteWithoutResponse is the exception and may block
// briefly; the Manager only calls it from its writer goroutine.
type Radio interface {
	// SetEventHandler installs the callback for all radio events. It is
	// called once, before any other method.
	SetEventHandler(handler func(Event))

	// StartScan begins duplicate-filtered discovery. Each newly seen
	// peripheral produces an EventDiscoveredPeripheral.
	StartScan() error
	StopScan() error

	// Connect requests a connection, answered by EventConnected or
	// EventFailedToConnect.
	Connect(p Peripheral) error
	// CancelConnection tears the link down, answered by EventDisconnected.
	CancelConnection(p Peripheral) error

	DiscoverServices(p Peripheral) error
	DiscoverCharacteristics(p Peripheral, s Service) error
	// EnableNotifications subscribes to c; values arrive as EventUpdatedValue.
	EnableNotifications(p Peripheral, c Characteristic) error

	// MaximumWriteLength reports the largest payload a single
	// write-without-response to c may carry.
	MaximumWriteLength(p Peripheral, c Characteristic) (int, error)
	WriteWithoutResponse(p Peripheral, c Characteristic, data []byte) error
}
