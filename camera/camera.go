// Package camera opens a depth sensor through a registered driver and reads single depth frames
// from it.
package camera

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

var (
	// ErrClosed is returned by calls on a closed camera.
	ErrClosed = errors.New("camera is closed")
	// ErrNoFrame is returned when the driver hands back a frame without data.
	ErrNoFrame = errors.New("driver returned an empty depth frame")
)

// uncachedErrorMsg prefixes read failures logged by a tolerant camera.
const uncachedErrorMsg = "UNCACHED ERROR:"

// A Viewer displays a plot. Show may block until the viewer is dismissed or ctx is done.
type Viewer interface {
	Show(ctx context.Context, p *plot.Plot) error
}

// Camera is an opened depth sensor.
type Camera struct {
	driverName string
	height     int
	width      int
	discard    int
	tolerant   bool
	logger     logging.Logger

	mu      sync.Mutex
	device  depthsensor.Device
	openErr error
	release depthsensor.ReleaseFunc
	closed  bool
}

// New opens a depth camera as described by conf. A nil conf uses every default.
//
// Without TolerateOpenFailure any failure is returned and nothing stays acquired. With it, an open
// failure is logged and a camera without a device is returned; that camera must still be closed.
func New(ctx context.Context, conf *Config, logger logging.Logger) (*Camera, error) {
	if conf == nil {
		conf = &Config{}
	}
	if err := conf.Validate("camera"); err != nil {
		return nil, err
	}
	height, width := conf.Shape()
	cam := &Camera{
		driverName: conf.DriverName(),
		height:     height,
		width:      width,
		discard:    conf.Discard(),
		tolerant:   conf.TolerateOpenFailure,
		logger:     logger,
	}

	device, release, err := open(ctx, cam.driverName, conf, logger)
	if err != nil {
		if !cam.tolerant {
			return nil, err
		}
		cam.logOpenFailure(ctx, err)
		cam.openErr = err
		cam.release = release
		return cam, nil
	}
	cam.device = device
	cam.release = release
	logger.CInfow(ctx, "opened depth camera",
		"driver", cam.driverName, "device", device.Info().URI, "height", height, "width", width)
	return cam, nil
}

// open acquires the driver runtime and opens a device. On failure the runtime is released unless
// the failure came after the runtime was up, in which case the release func is handed back too so
// a tolerant caller can hold it.
func open(
	ctx context.Context,
	driverName string,
	conf *Config,
	logger logging.Logger,
) (depthsensor.Device, depthsensor.ReleaseFunc, error) {
	release, err := depthsensor.Acquire(ctx, driverName)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (depthsensor.Device, depthsensor.ReleaseFunc, error) {
		if conf.TolerateOpenFailure {
			return nil, release, err
		}
		return nil, nil, multierr.Combine(err, release(ctx))
	}

	drv, err := depthsensor.NewDriver(ctx, driverName, conf.Attributes, logger.Sublogger(driverName))
	if err != nil {
		return fail(err)
	}
	var device depthsensor.Device
	if conf.FileName == "" {
		device, err = drv.OpenAny(ctx)
	} else {
		device, err = drv.OpenFile(ctx, conf.FileName)
	}
	if err != nil {
		return fail(err)
	}
	return device, release, nil
}

func (c *Camera) logOpenFailure(ctx context.Context, err error) {
	c.logger.CErrorw(ctx, "cannot open depth camera", "driver", c.driverName, "error", err)
	if errors.Is(err, depthsensor.ErrDriverUnavailable) {
		c.logger.CErrorw(ctx, "depth sensor runtime library not found; make sure LD_LIBRARY_PATH or the "+
			"current directory contains the runtime files",
			"driver", c.driverName, utils.LibraryPathEnvVar, os.Getenv(utils.LibraryPathEnvVar))
	}
}

// Shape returns the (height, width) frames are viewed as.
func (c *Camera) Shape() (int, int) {
	return c.height, c.width
}

// Device returns the opened device, or nil if a tolerant open failed.
func (c *Camera) Device() depthsensor.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// GetDepthFrame starts a depth stream, drops the configured number of frames, keeps the next one,
// and stops the stream again. The returned map views the frame's buffer directly.
func (c *Camera) GetDepthFrame(ctx context.Context) (*rimage.DepthMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dm, err := c.getDepthFrame(ctx)
	if err != nil {
		if c.tolerant {
			c.logger.CErrorw(ctx, uncachedErrorMsg+" "+err.Error())
		}
		return nil, err
	}
	return dm, nil
}

func (c *Camera) getDepthFrame(ctx context.Context) (dm *rimage.DepthMap, err error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.device == nil {
		if c.openErr != nil {
			return nil, errors.Wrapf(depthsensor.ErrNoDevice, "camera was not opened: %v", c.openErr)
		}
		return nil, depthsensor.ErrNoDevice
	}

	stream, err := c.device.CreateDepthStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create depth stream")
	}
	defer func() {
		err = multierr.Combine(err, stream.Close(ctx))
		if err != nil {
			dm = nil
		}
	}()
	if err := stream.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "cannot start depth stream")
	}
	defer func() {
		if stopErr := stream.Stop(ctx); stopErr != nil {
			err = multierr.Combine(err, errors.Wrap(stopErr, "cannot stop depth stream"))
		}
	}()

	var frame *depthsensor.Frame
	for i := 0; i <= c.discard; i++ {
		frame, err = stream.ReadFrame(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read depth frame %d of %d", i+1, c.discard+1)
		}
	}
	if frame == nil || len(frame.Data) == 0 {
		return nil, ErrNoFrame
	}
	c.logger.CDebugw(ctx, "read depth frame", "index", frame.Index, "timestamp", frame.Timestamp, "discarded", c.discard)
	return rimage.NewDepthMapFromBytes(c.width, c.height, frame.Data)
}

// ViewDepthFrame reads a frame, plots it as a heat map and hands the plot to v.
func (c *Camera) ViewDepthFrame(ctx context.Context, v Viewer) error {
	dm, err := c.GetDepthFrame(ctx)
	if err != nil {
		return err
	}
	p, err := rimage.PlotDepthMap(dm, PlotTitle(dm.Width(), dm.Height()))
	if err != nil {
		return err
	}
	return v.Show(ctx, p)
}

// PlotTitle is the title of a depth frame plot.
func PlotTitle(width, height int) string {
	return fmt.Sprintf("Depth Image (%dx%d)", width, height)
}

// Close closes the device and releases the driver runtime. Closing twice is a no-op.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.device != nil {
		err = multierr.Combine(err, c.device.Close(ctx))
		c.device = nil
	}
	if c.release != nil {
		err = multierr.Combine(err, c.release(ctx))
		c.release = nil
	}
	return err
}

// WithCamera opens a camera, runs fn with it and closes it whatever fn returns.
func WithCamera(ctx context.Context, conf *Config, logger logging.Logger, fn func(*Camera) error) (err error) {
	cam, err := New(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, cam.Close(ctx))
	}()
	return fn(cam)
}
