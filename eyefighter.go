// Package eyefighter aims a LightVISION fixture with the user's gaze.
//
// The root package holds the radio driver registry and the BLE scanner.
// Drivers register a device name prefix from their init function; the
// daemon picks the driver whose prefix matches the configured device name.
package eyefighter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/connection"
)

// Factory creates a radio able to reach the device called name.
type Factory func(name string) connection.Radio

var (
	registry = make(map[string]Factory)
	regLock  = sync.RWMutex{}
)

// Register makes a radio driver available for devices whose name starts
// with namePrefix. Call it from the driver package's init function.
func Register(namePrefix string, factory Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	if _, found := registry[namePrefix]; found {
		logrus.WithField("prefix", namePrefix).Warn("radio driver is being overwritten")
	}
	registry[namePrefix] = factory
}

// NewRadioForDevice creates a radio from the driver registered for name.
// When several prefixes match, the longest wins.
func NewRadioForDevice(name string) (connection.Radio, error) {
	regLock.RLock()
	defer regLock.RUnlock()

	best := ""
	var factory Factory
	for prefix, f := range registry {
		if strings.HasPrefix(name, prefix) && (factory == nil || len(prefix) > len(best)) {
			best, factory = prefix, f
		}
	}
	if factory == nil {
		return nil, fmt.Errorf("no radio driver found for device '%s'", name)
	}
	return factory(name), nil
}

// Prefixes returns the registered name prefixes, sorted.
func Prefixes() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
