package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/neoxapps/eyefighter/pkg/comms"
	"github.com/neoxapps/eyefighter/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		DeviceName:     ptr.To("LightVISION"),
		ScanDelay:      ptr.To("1s"),
		WireFormat:     ptr.To(comms.FormatCompact),
		GuideMarkers:   ptr.To(true),
		GazeListenAddr: ptr.To(":8765"),
		MQTTBroker:     ptr.To(""),
		MQTTTopic:      ptr.To("eyefighter/gaze"),
		MQTTClientID:   ptr.To("eyefighter"),
		MockGaze:       ptr.To(false),
	}
)

var _ Config = &File{}

// File is a Config backed by a JSON file. Unset keys fall back to the
// built-in defaults.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

type RawFileConfig struct {
	DeviceName     *string       `json:"deviceName,omitempty"`
	ScanDelay      *string       `json:"scanDelay,omitempty"`
	WireFormat     *comms.Format `json:"wireFormat,omitempty"`
	GuideMarkers   *bool         `json:"guideMarkers,omitempty"`
	GazeListenAddr *string       `json:"gazeListenAddr,omitempty"`
	MQTTBroker     *string       `json:"mqttBroker,omitempty"`
	MQTTTopic      *string       `json:"mqttTopic,omitempty"`
	MQTTClientID   *string       `json:"mqttClientID,omitempty"`
	MockGaze       *bool         `json:"mockGaze,omitempty"`
}

// validate rejects values the accessors could not interpret.
func (c *RawFileConfig) validate() error {
	if c.WireFormat != nil {
		if _, err := comms.ParseFormat(string(*c.WireFormat)); err != nil {
			return err
		}
	}
	if c.ScanDelay != nil {
		d, err := time.ParseDuration(*c.ScanDelay)
		if err != nil {
			return pkgerrors.Wrap(err, "invalid scanDelay")
		}
		if d < 0 {
			return pkgerrors.Errorf("scanDelay must not be negative, got %s", d)
		}
	}
	return nil
}

// value reads a field under the read lock and falls back to the default.
func value[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func (f *File) set(apply func(*RawFileConfig)) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f.c)
}

func (f *File) DeviceName() string {
	return value(f, func(c *RawFileConfig) *string { return c.DeviceName })
}

func (f *File) ScanDelay() time.Duration {
	s := value(f, func(c *RawFileConfig) *string { return c.ScanDelay })
	d, err := time.ParseDuration(s)
	if err != nil {
		// Load and SetScanDelay validate, so only a hand-built RawFileConfig
		// gets here.
		d, _ = time.ParseDuration(*defaultFileConfig.ScanDelay)
	}
	return d
}

func (f *File) WireFormat() comms.Format {
	format := value(f, func(c *RawFileConfig) *comms.Format { return c.WireFormat })
	parsed, err := comms.ParseFormat(string(format))
	if err != nil {
		return *defaultFileConfig.WireFormat
	}
	return parsed
}

func (f *File) GuideMarkers() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.GuideMarkers })
}

func (f *File) GazeListenAddr() string {
	return value(f, func(c *RawFileConfig) *string { return c.GazeListenAddr })
}

func (f *File) MQTTBroker() string {
	return value(f, func(c *RawFileConfig) *string { return c.MQTTBroker })
}

func (f *File) MQTTTopic() string {
	return value(f, func(c *RawFileConfig) *string { return c.MQTTTopic })
}

func (f *File) MQTTClientID() string {
	return value(f, func(c *RawFileConfig) *string { return c.MQTTClientID })
}

func (f *File) MockGaze() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.MockGaze })
}

func (f *File) SetDeviceName(name string) {
	f.set(func(c *RawFileConfig) { c.DeviceName = &name })
}

func (f *File) SetScanDelay(d time.Duration) {
	if d < 0 {
		panic("scan delay must not be negative")
	}
	f.set(func(c *RawFileConfig) { c.ScanDelay = ptr.To(d.String()) })
}

func (f *File) SetWireFormat(format comms.Format) error {
	parsed, err := comms.ParseFormat(string(format))
	if err != nil {
		return err
	}
	f.set(func(c *RawFileConfig) { c.WireFormat = &parsed })
	return nil
}

func (f *File) SetGuideMarkers(b bool) {
	f.set(func(c *RawFileConfig) { c.GuideMarkers = &b })
}

func (f *File) SetGazeListenAddr(addr string) {
	f.set(func(c *RawFileConfig) { c.GazeListenAddr = &addr })
}

func (f *File) SetMQTTBroker(broker string) {
	f.set(func(c *RawFileConfig) { c.MQTTBroker = &broker })
}

func (f *File) SetMockGaze(b bool) {
	f.set(func(c *RawFileConfig) { c.MockGaze = &b })
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file means defaults. Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"deviceName":     f.DeviceName(),
		"scanDelay":      f.ScanDelay(),
		"wireFormat":     f.WireFormat(),
		"guideMarkers":   f.GuideMarkers(),
		"gazeListenAddr": f.GazeListenAddr(),
		"mqttBroker":     f.MQTTBroker(),
		"mqttTopic":      f.MQTTTopic(),
		"mqttClientID":   f.MQTTClientID(),
		"mockGaze":       f.MockGaze(),
	}
}
