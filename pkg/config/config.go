// Package config holds the daemon's deployment settings.
package config

import (
	"time"

	"github.com/neoxapps/eyefighter/pkg/comms"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/eyefighter.json"

type Config interface {
	// DeviceName is the advertised name of the fixture controller. Its
	// prefix also selects the radio driver.
	DeviceName() string
	// ScanDelay is how long to collect advertisements before connecting.
	ScanDelay() time.Duration
	WireFormat() comms.Format
	// GuideMarkers points the fixture at each calibration border.
	GuideMarkers() bool
	// GazeListenAddr is the websocket gaze source address. Empty disables it.
	GazeListenAddr() string
	// MQTTBroker is the MQTT gaze source broker URL. Empty disables it.
	MQTTBroker() string
	MQTTTopic() string
	MQTTClientID() string
	// MockGaze enables the synthetic gaze source.
	MockGaze() bool

	SetDeviceName(string)
	SetScanDelay(time.Duration)
	SetWireFormat(comms.Format) error
	SetGuideMarkers(bool)
	SetGazeListenAddr(string)
	SetMQTTBroker(string)
	SetMockGaze(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
