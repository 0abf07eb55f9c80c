//go:build openni2

package openni2

/*
#cgo pkg-config: libopenni2
#include <stdlib.h>
#include <OniCAPI.h>

static OniStatus depthcam_oni_initialize(void) {
	return oniInitialize(ONI_API_VERSION);
}
*/
import "C"

import (
	"context"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

// pollInterval bounds how long a blocked read goes without checking its context.
const pollInterval = 100 * time.Millisecond

func init() {
	depthsensor.RegisterDriver(DriverName, depthsensor.Registration{
		Constructor: func(ctx context.Context, attrs utils.AttributeMap, logger logging.Logger) (depthsensor.Driver, error) {
			return &Driver{logger: logger}, nil
		},
		Initialize: initialize,
		Shutdown: func(ctx context.Context) error {
			C.oniShutdown()
			return nil
		},
	})
}

func initialize(ctx context.Context, logger logging.Logger) error {
	if status := C.depthcam_oni_initialize(); status != C.ONI_STATUS_OK {
		return errors.Wrapf(depthsensor.ErrDriverUnavailable,
			"oniInitialize failed: %s (OPENNI2_REDIST=%q; libOpenNI2 and its OpenNI2/Drivers directory must be on the library path)",
			extendedError(), os.Getenv(utils.OpenNI2RedistEnvVar))
	}
	logger.CDebugw(ctx, "initialized OpenNI2")
	return nil
}

func extendedError() string {
	return C.GoString(C.oniGetExtendedError())
}

func check(status C.OniStatus, op string) error {
	if status == C.ONI_STATUS_OK {
		return nil
	}
	return errors.Errorf("%s failed (status %d): %s", op, int(status), extendedError())
}

// Driver opens OpenNI2 devices.
type Driver struct {
	logger logging.Logger
}

func (d *Driver) open(uri *C.char, display string) (depthsensor.Device, error) {
	var handle C.OniDeviceHandle
	if err := check(C.oniDeviceOpen(uri, &handle), "oniDeviceOpen"); err != nil {
		return nil, errors.Wrapf(depthsensor.ErrNoDevice, "cannot open %s: %v", display, err)
	}
	d.logger.Debugw("opened OpenNI2 device", "uri", display)
	return &device{handle: handle, info: depthsensor.DeviceInfo{URI: display, Vendor: "OpenNI2"}}, nil
}

// OpenAny opens the first available device.
func (d *Driver) OpenAny(ctx context.Context) (depthsensor.Device, error) {
	return d.open(nil, "any device")
}

// OpenFile opens a .oni recording.
func (d *Driver) OpenFile(ctx context.Context, path string) (depthsensor.Device, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	return d.open(cPath, path)
}

// Enumerate lists connected devices.
func (d *Driver) Enumerate(ctx context.Context) ([]depthsensor.DeviceInfo, error) {
	var list *C.OniDeviceInfo
	var count C.int
	if err := check(C.oniGetDeviceList(&list, &count), "oniGetDeviceList"); err != nil {
		return nil, err
	}
	defer C.oniReleaseDeviceList(list)

	infos := make([]depthsensor.DeviceInfo, 0, int(count))
	for _, ci := range unsafe.Slice(list, int(count)) {
		infos = append(infos, depthsensor.DeviceInfo{
			URI:    C.GoString(&ci.uri[0]),
			Name:   C.GoString(&ci.name[0]),
			Vendor: C.GoString(&ci.vendor[0]),
		})
	}
	return infos, nil
}

type device struct {
	info depthsensor.DeviceInfo

	mu     sync.Mutex
	handle C.OniDeviceHandle
}

func (dev *device) Info() depthsensor.DeviceInfo {
	return dev.info
}

func (dev *device) CreateDepthStream(ctx context.Context) (depthsensor.Stream, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.handle == nil {
		return nil, errors.Wrap(depthsensor.ErrNoDevice, "device closed")
	}
	var handle C.OniStreamHandle
	if err := check(C.oniDeviceCreateStream(dev.handle, C.ONI_SENSOR_DEPTH, &handle), "oniDeviceCreateStream"); err != nil {
		return nil, err
	}
	return &stream{handle: handle}, nil
}

func (dev *device) Close(ctx context.Context) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.handle == nil {
		return nil
	}
	err := check(C.oniDeviceClose(dev.handle), "oniDeviceClose")
	dev.handle = nil
	return err
}

type stream struct {
	mu      sync.Mutex
	handle  C.OniStreamHandle
	running bool
}

func (s *stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return errors.New("stream destroyed")
	}
	if err := check(C.oniStreamStart(s.handle), "oniStreamStart"); err != nil {
		return err
	}
	s.running = true
	return nil
}

// ReadFrame waits for the next frame in short slices so that ctx is honored, then copies the frame
// out of driver memory and releases it.
func (s *stream) ReadFrame(ctx context.Context) (*depthsensor.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, depthsensor.ErrStreamNotStarted
	}

	streams := [1]C.OniStreamHandle{s.handle}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ready C.int
		status := C.oniWaitForAnyStream(&streams[0], 1, &ready, C.int(pollInterval/time.Millisecond))
		if status == C.ONI_STATUS_TIME_OUT {
			continue
		}
		if err := check(status, "oniWaitForAnyStream"); err != nil {
			return nil, err
		}
		break
	}

	var oniFrame *C.OniFrame
	if err := check(C.oniStreamReadFrame(s.handle, &oniFrame), "oniStreamReadFrame"); err != nil {
		return nil, err
	}
	defer C.oniFrameRelease(oniFrame)

	var data []byte
	if oniFrame.data != nil && oniFrame.dataSize > 0 {
		data = C.GoBytes(oniFrame.data, oniFrame.dataSize)
	}
	return &depthsensor.Frame{
		Data:      data,
		Width:     int(oniFrame.width),
		Height:    int(oniFrame.height),
		Index:     int(oniFrame.frameIndex),
		Timestamp: time.Duration(oniFrame.timestamp) * time.Microsecond,
	}, nil
}

func (s *stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		C.oniStreamStop(s.handle)
		s.running = false
	}
	return nil
}

func (s *stream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	if s.running {
		C.oniStreamStop(s.handle)
		s.running = false
	}
	C.oniStreamDestroy(s.handle)
	s.handle = nil
	return nil
}
