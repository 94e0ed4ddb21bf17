package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neoxapps/eyefighter/pkg/comms"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "eyefighter.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	for name, path := range map[string]string{
		"missing file": filepath.Join(t.TempDir(), "absent.json"),
		"empty file":   writeConfig(t, "  \n"),
		"empty object": writeConfig(t, "{}"),
	} {
		t.Run(name, func(t *testing.T) {
			f, err := NewFile(path)
			if err != nil {
				t.Fatalf("NewFile: %v", err)
			}
			if got := f.DeviceName(); got != "LightVISION" {
				t.Errorf("DeviceName = %q", got)
			}
			if got := f.ScanDelay(); got != time.Second {
				t.Errorf("ScanDelay = %v", got)
			}
			if got := f.WireFormat(); got != comms.FormatCompact {
				t.Errorf("WireFormat = %q", got)
			}
			if !f.GuideMarkers() {
				t.Error("GuideMarkers = false")
			}
			if got := f.GazeListenAddr(); got != ":8765" {
				t.Errorf("GazeListenAddr = %q", got)
			}
			if got := f.MQTTBroker(); got != "" {
				t.Errorf("MQTTBroker = %q", got)
			}
			if got := f.MQTTTopic(); got != "eyefighter/gaze" {
				t.Errorf("MQTTTopic = %q", got)
			}
			if got := f.MQTTClientID(); got != "eyefighter" {
				t.Errorf("MQTTClientID = %q", got)
			}
			if f.MockGaze() {
				t.Error("MockGaze = true")
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	f, err := NewFile(writeConfig(t, `{
		"deviceName": "MOCK-1",
		"scanDelay": "250ms",
		"wireFormat": "json",
		"guideMarkers": false,
		"gazeListenAddr": "",
		"mqttBroker": "tcp://localhost:1883"
	}`))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if got := f.DeviceName(); got != "MOCK-1" {
		t.Errorf("DeviceName = %q", got)
	}
	if got := f.ScanDelay(); got != 250*time.Millisecond {
		t.Errorf("ScanDelay = %v", got)
	}
	if got := f.WireFormat(); got != comms.FormatJSON {
		t.Errorf("WireFormat = %q", got)
	}
	if f.GuideMarkers() {
		t.Error("GuideMarkers = true")
	}
	// An explicit empty string disables the source rather than falling back.
	if got := f.GazeListenAddr(); got != "" {
		t.Errorf("GazeListenAddr = %q", got)
	}
	if got := f.MQTTBroker(); got != "tcp://localhost:1883" {
		t.Errorf("MQTTBroker = %q", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad json":       `{"deviceName":`,
		"bad format":     `{"wireFormat":"xml"}`,
		"bad delay":      `{"scanDelay":"soon"}`,
		"negative delay": `{"scanDelay":"-1s"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewFile(writeConfig(t, content)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyefighter.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f.SetDeviceName("LightVISION-2")
	f.SetScanDelay(3 * time.Second)
	f.SetGuideMarkers(false)
	f.SetMockGaze(true)
	if err := f.SetWireFormat("json"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetWireFormat("xml"); err == nil {
		t.Fatal("expected error for unknown wire format")
	}
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if g.DeviceName() != "LightVISION-2" || g.ScanDelay() != 3*time.Second ||
		g.GuideMarkers() || !g.MockGaze() || g.WireFormat() != comms.FormatJSON {
		t.Fatalf("reloaded config = %v", g.LogrusFields())
	}
}
