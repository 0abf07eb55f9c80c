// Package depthsensor defines the surface a depth sensor SDK exposes to depthcam: a driver that
// opens devices, devices that create depth streams, and streams that hand back raw frames.
// Drivers register themselves by name; each driver's process-wide runtime is initialized on first
// use and shut down when its last user releases it.
package depthsensor

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrDriverUnavailable means the driver is not built into this binary or its native runtime
	// could not be loaded.
	ErrDriverUnavailable = errors.New("depth sensor driver unavailable")

	// ErrNoDevice means no device could be opened, or the handle holds none.
	ErrNoDevice = errors.New("no depth sensor device")

	// ErrStreamNotStarted is returned by ReadFrame on a stream that is not running.
	ErrStreamNotStarted = errors.New("depth stream not started")

	// ErrUnsupported is returned for operations a driver cannot perform.
	ErrUnsupported = errors.New("operation not supported by depth sensor driver")
)

// Frame is one depth frame as the driver produced it. Data holds Width*Height 16-bit samples in
// native byte order and is owned by the caller.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Index     int
	Timestamp time.Duration
}

// DeviceInfo describes an opened or discoverable device.
type DeviceInfo struct {
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
}

// A Stream delivers depth frames from a device.
type Stream interface {
	Start(ctx context.Context) error
	// ReadFrame blocks until a frame is available or ctx is done.
	ReadFrame(ctx context.Context) (*Frame, error)
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}

// A Device is an opened depth sensor, live or recorded.
type Device interface {
	Info() DeviceInfo
	CreateDepthStream(ctx context.Context) (Stream, error)
	Close(ctx context.Context) error
}

// A Driver opens devices.
type Driver interface {
	// OpenAny opens the first available live device.
	OpenAny(ctx context.Context) (Device, error)
	// OpenFile opens a recorded session.
	OpenFile(ctx context.Context, path string) (Device, error)
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
}
