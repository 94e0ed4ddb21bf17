// Package all registers every radio driver. Importing it lets
// eyefighter.NewRadioForDevice find a driver for any supported device.
package all

// Import each driver package for its side-effects (the init() function).
import (
	_ "github.com/neoxapps/eyefighter/pkg/radios/ble"
	_ "github.com/neoxapps/eyefighter/pkg/radios/mock"
)
