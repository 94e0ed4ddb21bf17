package eyefighter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// FoundDevice is a named device seen during a scan.
type FoundDevice struct {
	Name    string            `json:"name"`
	ID      string            `json:"id"`
	RSSI    int               `json:"rssi"`
	Address bluetooth.Address `json:"-"`
}

// BTAdapter is the adapter shared by the scanner and the BLE radio driver.
var BTAdapter = bluetooth.DefaultAdapter

var (
	enableOnce sync.Once
	enableErr  error
)

// TryEnableAdapter enables BTAdapter. Only the first call touches the
// adapter; later calls return its result.
func TryEnableAdapter() error {
	enableOnce.Do(func() {
		logrus.Debug("enabling bluetooth adapter")
		enableErr = BTAdapter.Enable()
	})
	return enableErr
}

// matchPrefix reports whether name starts with any of prefixes.
func matchPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ScanStream streams matching devices as they are discovered until ctx is
// canceled. Each address is reported once.
func ScanStream(ctx context.Context, customPrefixes ...string) (<-chan FoundDevice, error) {
	if err := TryEnableAdapter(); err != nil {
		return nil, err
	}
	prefixes := getPrefixes(customPrefixes...)
	if len(prefixes) == 0 {
		return nil, errors.New("no radio drivers registered and no custom prefixes provided")
	}

	deviceChan := make(chan FoundDevice)
	go func() {
		defer close(deviceChan)

		seen := make(map[string]struct{})
		logrus.WithField("prefixes", prefixes).Info("starting BLE scan")

		handler := func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" || !matchPrefix(name, prefixes) {
				return
			}
			id := result.Address.String()
			if _, ok := seen[id]; ok {
				return
			}
			seen[id] = struct{}{}
			select {
			case deviceChan <- FoundDevice{Name: name, ID: id, RSSI: int(result.RSSI), Address: result.Address}:
			case <-ctx.Done():
			}
		}

		if err := runScan(ctx, BTAdapter, handler); err != nil {
			logrus.WithError(err).Error("scan failed")
		}
	}()

	return deviceChan, nil
}

// stopRetry is how often a pending stop is retried while the adapter has
// not started scanning yet.
const stopRetry = 50 * time.Millisecond

type scanAdapter interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// runScan blocks in adapter.Scan until ctx is done. StopScan fails while
// no scan is running, so it is retried until Scan returns.
func runScan(ctx context.Context, adapter scanAdapter, handler func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	if ctx.Err() != nil {
		return nil
	}

	scanned := make(chan struct{})
	go func() {
		select {
		case <-scanned:
			return
		case <-ctx.Done():
		}
		tick := time.NewTicker(stopRetry)
		defer tick.Stop()
		for {
			err := adapter.StopScan()
			if err == nil {
				return
			}
			logrus.WithError(err).Debug("failed to stop scan, retrying")
			select {
			case <-scanned:
				return
			case <-tick.C:
			}
		}
	}()

	defer close(scanned)
	return adapter.Scan(handler)
}

// Scan blocks for duration and returns the unique matching devices found.
func Scan(duration time.Duration, customPrefixes ...string) ([]FoundDevice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	stream, err := ScanStream(ctx, customPrefixes...)
	if err != nil {
		return nil, err
	}

	found := make(map[string]FoundDevice)
	for device := range stream {
		logrus.WithFields(logrus.Fields{"name": device.Name, "id": device.ID, "rssi": device.RSSI}).Info("found a match")
		found[device.ID] = device
	}

	results := make([]FoundDevice, 0, len(found))
	for _, device := range found {
		results = append(results, device)
	}
	logrus.WithField("count", len(results)).Info("scan finished")
	return results, nil
}

// getPrefixes returns customPrefixes, or the registered driver prefixes
// when none are given.
func getPrefixes(customPrefixes ...string) []string {
	if len(customPrefixes) > 0 {
		return customPrefixes
	}
	return Prefixes()
}
