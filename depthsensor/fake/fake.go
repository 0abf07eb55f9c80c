// Package fake implements a synthetic depth sensor driver for tests and demos.
package fake

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

// DriverName is the name the fake driver registers under.
const DriverName = "fake"

// Frame patterns.
const (
	PatternGradient = "gradient"
	PatternZeros    = "zeros"
	PatternConstant = "constant"
)

func init() {
	depthsensor.RegisterDriver(DriverName, depthsensor.Registration{
		Constructor: func(ctx context.Context, attrs utils.AttributeMap, logger logging.Logger) (depthsensor.Driver, error) {
			conf, err := ConfigFromAttributes(attrs)
			if err != nil {
				return nil, err
			}
			return NewDriver(conf, clock.New(), logger), nil
		},
	})
}

// Config describes the frames the fake driver produces and the failures it injects.
type Config struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Pattern string `json:"pattern"`
	Value   int    `json:"value"`
	// FrameBytes overrides the length of produced frame buffers when positive.
	FrameBytes int     `json:"frame_bytes"`
	FailOpen   bool    `json:"fail_open"`
	FailStream bool    `json:"fail_stream"`
	FPS        float64 `json:"fps"`
}

// ConfigFromAttributes decodes and validates driver attributes, filling in defaults.
func ConfigFromAttributes(attrs utils.AttributeMap) (Config, error) {
	conf := Config{Width: 640, Height: 480, Pattern: PatternGradient}
	if err := attrs.Decode(&conf); err != nil {
		return Config{}, err
	}
	if err := conf.Validate("attributes"); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Width <= 0 || conf.Height <= 0 {
		return errors.Errorf("%s: width and height must be positive, got %dx%d", path, conf.Width, conf.Height)
	}
	switch conf.Pattern {
	case PatternGradient, PatternZeros, PatternConstant:
	default:
		return errors.Errorf("%s: unknown pattern %q", path, conf.Pattern)
	}
	if conf.Value < 0 || conf.Value > 0xffff {
		return errors.Errorf("%s: value %d does not fit in 16 bits", path, conf.Value)
	}
	if conf.FrameBytes < 0 {
		return errors.Errorf("%s: frame_bytes cannot be negative", path)
	}
	if conf.FPS < 0 {
		return errors.Errorf("%s: fps cannot be negative", path)
	}
	return nil
}

// Driver opens fake devices.
type Driver struct {
	conf   Config
	clock  clock.Clock
	logger logging.Logger

	mu      sync.Mutex
	devices []*Device
}

// NewDriver returns a fake driver producing frames per conf.
func NewDriver(conf Config, clk clock.Clock, logger logging.Logger) *Driver {
	return &Driver{conf: conf, clock: clk, logger: logger}
}

// OpenAny opens a new fake device unless fail_open is set.
func (d *Driver) OpenAny(ctx context.Context) (depthsensor.Device, error) {
	if d.conf.FailOpen {
		return nil, errors.Wrap(depthsensor.ErrNoDevice, "fake device configured to fail")
	}
	return d.open(depthsensor.DeviceInfo{URI: "fake://0", Name: "fake depth sensor", Vendor: "depthcam"}), nil
}

// OpenFile opens a fake device standing in for a recording. The file must exist.
func (d *Driver) OpenFile(ctx context.Context, path string) (depthsensor.Device, error) {
	if d.conf.FailOpen {
		return nil, errors.Wrap(depthsensor.ErrNoDevice, "fake device configured to fail")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(depthsensor.ErrNoDevice, "cannot open recording: %v", err)
	}
	return d.open(depthsensor.DeviceInfo{URI: path, Name: "fake recording", Vendor: "depthcam"}), nil
}

// Enumerate lists the single fake device, or nothing when fail_open is set.
func (d *Driver) Enumerate(ctx context.Context) ([]depthsensor.DeviceInfo, error) {
	if d.conf.FailOpen {
		return nil, nil
	}
	return []depthsensor.DeviceInfo{{URI: "fake://0", Name: "fake depth sensor", Vendor: "depthcam"}}, nil
}

// Devices returns every device this driver opened, in order.
func (d *Driver) Devices() []*Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Device(nil), d.devices...)
}

func (d *Driver) open(info depthsensor.DeviceInfo) *Device {
	dev := &Device{info: info, conf: d.conf, clock: d.clock, logger: d.logger, started: d.clock.Now()}
	d.mu.Lock()
	d.devices = append(d.devices, dev)
	d.mu.Unlock()
	d.logger.Debugw("opened fake depth device", "uri", info.URI)
	return dev
}

// Device is a fake depth device. It counts what is done to it so tests can assert on driver usage.
type Device struct {
	info    depthsensor.DeviceInfo
	conf    Config
	clock   clock.Clock
	logger  logging.Logger
	started time.Time

	mu            sync.Mutex
	frameIndex    int
	lastFrame     time.Time
	reads         int
	starts        int
	stops         int
	streams       int
	closedStreams int
	closed        bool
}

// Info describes the device.
func (dev *Device) Info() depthsensor.DeviceInfo {
	return dev.info
}

// CreateDepthStream returns a new stopped stream.
func (dev *Device) CreateDepthStream(ctx context.Context) (depthsensor.Stream, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, errors.Wrap(depthsensor.ErrNoDevice, "device closed")
	}
	if dev.conf.FailStream {
		return nil, errors.New("fake depth stream configured to fail")
	}
	dev.streams++
	return &stream{dev: dev}, nil
}

// Close closes the device. Streams created from it stop producing frames.
func (dev *Device) Close(ctx context.Context) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.closed = true
	return nil
}

// Reads returns how many frames have been read from all streams.
func (dev *Device) Reads() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.reads
}

// Starts returns how many times a stream was started.
func (dev *Device) Starts() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.starts
}

// Stops returns how many times a stream was stopped.
func (dev *Device) Stops() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.stops
}

// Streams returns how many streams were created and how many of those were closed.
func (dev *Device) Streams() (int, int) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.streams, dev.closedStreams
}

// Closed returns whether Close was called.
func (dev *Device) Closed() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closed
}

// Sample returns the depth the device produces at (x, y) in frame index.
func (conf *Config) Sample(x, y, index int) uint16 {
	switch conf.Pattern {
	case PatternZeros:
		return 0
	case PatternConstant:
		return uint16(conf.Value)
	default:
		return uint16(x + y*conf.Width + index)
	}
}

func (dev *Device) nextFrame() *depthsensor.Frame {
	size := dev.conf.Width * dev.conf.Height * 2
	if dev.conf.FrameBytes > 0 {
		size = dev.conf.FrameBytes
	}
	data := make([]byte, size)
	for i := 0; i+1 < size; i += 2 {
		pixel := i / 2
		binary.NativeEndian.PutUint16(data[i:], dev.conf.Sample(pixel%dev.conf.Width, pixel/dev.conf.Width, dev.frameIndex))
	}

	now := dev.clock.Now()
	frame := &depthsensor.Frame{
		Data:      data,
		Width:     dev.conf.Width,
		Height:    dev.conf.Height,
		Index:     dev.frameIndex,
		Timestamp: now.Sub(dev.started),
	}
	dev.frameIndex++
	dev.reads++
	dev.lastFrame = now
	return frame
}

type stream struct {
	dev *Device

	mu      sync.Mutex
	running bool
	closed  bool
}

func (s *stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.running = true
	s.dev.mu.Lock()
	s.dev.starts++
	s.dev.mu.Unlock()
	return nil
}

func (s *stream) ReadFrame(ctx context.Context) (*depthsensor.Frame, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil, depthsensor.ErrStreamNotStarted
	}
	if err := s.waitForFrame(ctx); err != nil {
		return nil, err
	}

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.closed {
		return nil, errors.Wrap(depthsensor.ErrNoDevice, "device closed")
	}
	return s.dev.nextFrame(), nil
}

// waitForFrame paces reads to the configured frame rate.
func (s *stream) waitForFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dev.conf.FPS <= 0 {
		return nil
	}
	period := time.Duration(float64(time.Second) / s.dev.conf.FPS)

	s.dev.mu.Lock()
	last := s.dev.lastFrame
	s.dev.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	wait := period - s.dev.clock.Since(last)
	if wait <= 0 {
		return nil
	}

	timer := s.dev.clock.Timer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		s.dev.mu.Lock()
		s.dev.stops++
		s.dev.mu.Unlock()
	}
	return nil
}

func (s *stream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.running = false
	s.dev.mu.Lock()
	s.dev.closedStreams++
	s.dev.mu.Unlock()
	return nil
}
