// Package uvc implements a depth sensor driver for UVC cameras that expose a Z16 depth format.
package uvc

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// DriverName is the name the UVC driver registers under.
const DriverName = "uvc"

var initOnce sync.Once

func init() {
	depthsensor.RegisterDriver(DriverName, depthsensor.Registration{
		Constructor: func(ctx context.Context, attrs utils.AttributeMap, logger logging.Logger) (depthsensor.Driver, error) {
			var conf Config
			if err := attrs.Decode(&conf); err != nil {
				return nil, err
			}
			if err := conf.Validate("attributes"); err != nil {
				return nil, err
			}
			return NewDriver(conf, queryDrivers, logger), nil
		},
		Initialize: func(ctx context.Context, logger logging.Logger) error {
			initOnce.Do(mediadevicescamera.Initialize)
			return nil
		},
	})
}

func queryDrivers() []driver.Driver {
	return driver.GetManager().Query(driver.FilterVideoRecorder())
}

// Config narrows which Z16 mode is picked. Zero values accept any.
type Config struct {
	Width     int     `json:"width_px,omitempty"`
	Height    int     `json:"height_px,omitempty"`
	FrameRate float32 `json:"frame_rate,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf Config) Validate(path string) error {
	if conf.Width < 0 || conf.Height < 0 {
		return errors.Errorf("%s: got illegal negative dimensions for width_px and height_px (%d, %d)",
			path, conf.Width, conf.Height)
	}
	if conf.FrameRate < 0 {
		return errors.Errorf("%s: got illegal negative frame rate (%.2f)", path, conf.FrameRate)
	}
	return nil
}

func (conf Config) accepts(p prop.Media) bool {
	if p.FrameFormat != frame.FormatZ16 {
		return false
	}
	if conf.Width != 0 && p.Width != conf.Width {
		return false
	}
	if conf.Height != 0 && p.Height != conf.Height {
		return false
	}
	if conf.FrameRate != 0 && p.FrameRate != conf.FrameRate {
		return false
	}
	return true
}

// Driver opens UVC depth cameras through mediadevices.
type Driver struct {
	conf    Config
	drivers func() []driver.Driver
	logger  logging.Logger
}

// NewDriver returns a UVC driver choosing among the mediadevices drivers that query returns.
func NewDriver(conf Config, query func() []driver.Driver, logger logging.Logger) *Driver {
	return &Driver{conf: conf, drivers: query, logger: logger}
}

// depthProperties returns the accepted depth modes of d, opening it if needed to read them.
func (d *Driver) depthProperties(md driver.Driver) (_ []prop.Media, err error) {
	if md.Status() == driver.StateClosed {
		if err := md.Open(); err != nil {
			return nil, err
		}
		defer func() {
			if errClose := md.Close(); errClose != nil {
				err = errClose
			}
		}()
	}
	var props []prop.Media
	for _, p := range md.Properties() {
		if d.conf.accepts(p) {
			props = append(props, p)
		}
	}
	return props, nil
}

func label(md driver.Driver) string {
	return strings.Split(md.Info().Label, mediadevicescamera.LabelSeparator)[0]
}

func info(md driver.Driver) depthsensor.DeviceInfo {
	return depthsensor.DeviceInfo{URI: label(md), Name: md.Info().Name, Vendor: "uvc"}
}

func (d *Driver) open(ctx context.Context, match func(driver.Driver) bool) (depthsensor.Device, error) {
	for _, md := range d.drivers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !match(md) {
			continue
		}
		if md.Status() == driver.StateRunning {
			d.logger.CDebugw(ctx, "driver is in use, skipping", "driver", md.Info().Label)
			continue
		}
		if _, ok := md.(driver.VideoRecorder); !ok {
			continue
		}
		props, err := d.depthProperties(md)
		if err != nil {
			d.logger.CDebugw(ctx, "cannot access driver properties, skipping", "driver", md.Info().Label, "error", err)
			continue
		}
		if len(props) == 0 {
			continue
		}
		d.logger.CDebugw(ctx, "opened uvc depth camera", "driver", md.Info().Label, "mode", props[0].Video)
		return &device{md: md, mode: props[0], info: info(md)}, nil
	}
	return nil, errors.Wrap(depthsensor.ErrNoDevice, "found no uvc camera with a Z16 depth mode")
}

// OpenAny opens the first camera with an accepted Z16 mode.
func (d *Driver) OpenAny(ctx context.Context) (depthsensor.Device, error) {
	return d.open(ctx, func(driver.Driver) bool { return true })
}

// OpenFile opens the camera at a device path such as /dev/video2.
func (d *Driver) OpenFile(ctx context.Context, path string) (depthsensor.Device, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return d.open(ctx, func(md driver.Driver) bool {
		l := label(md)
		return l == path || filepath.Base(l) == filepath.Base(path)
	})
}

// Enumerate lists cameras with an accepted Z16 mode.
func (d *Driver) Enumerate(ctx context.Context) ([]depthsensor.DeviceInfo, error) {
	var infos []depthsensor.DeviceInfo
	for _, md := range d.drivers() {
		if md.Status() == driver.StateRunning {
			continue
		}
		props, err := d.depthProperties(md)
		if err != nil || len(props) == 0 {
			continue
		}
		infos = append(infos, info(md))
	}
	return infos, nil
}

type device struct {
	md   driver.Driver
	mode prop.Media
	info depthsensor.DeviceInfo

	mu     sync.Mutex
	closed bool
	active *stream
}

func (dev *device) Info() depthsensor.DeviceInfo {
	return dev.info
}

func (dev *device) CreateDepthStream(ctx context.Context) (depthsensor.Stream, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, errors.Wrap(depthsensor.ErrNoDevice, "device closed")
	}
	if dev.active != nil {
		return nil, errors.New("uvc cameras support one depth stream at a time")
	}
	dev.active = &stream{dev: dev}
	return dev.active, nil
}

func (dev *device) Close(ctx context.Context) error {
	dev.mu.Lock()
	active := dev.active
	dev.closed = true
	dev.mu.Unlock()
	if active != nil {
		return active.Close(ctx)
	}
	return nil
}

func (dev *device) release(s *stream) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.active == s {
		dev.active = nil
	}
}

// stream opens the mediadevices driver on Start and closes it on Stop, which is what starts and
// stops capture on the camera.
type stream struct {
	dev *device

	mu      sync.Mutex
	reader  video.Reader
	started time.Time
	index   int
}

type readResult struct {
	img     image.Image
	release func()
	err     error
}

func (s *stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return nil
	}
	md := s.dev.md
	if md.Status() == driver.StateClosed {
		if err := md.Open(); err != nil {
			return errors.Wrap(err, "cannot open uvc camera")
		}
	}
	recorder, ok := md.(driver.VideoRecorder)
	if !ok {
		return errors.Wrap(depthsensor.ErrUnsupported, "driver cannot record video")
	}
	reader, err := recorder.VideoRecord(s.dev.mode)
	if err != nil {
		return errors.Wrap(err, "cannot start uvc depth capture")
	}
	s.reader = reader
	s.started = time.Now()
	return nil
}

func (s *stream) ReadFrame(ctx context.Context) (*depthsensor.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil, depthsensor.ErrStreamNotStarted
	}

	results := make(chan readResult, 1)
	reader := s.reader
	goutils.PanicCapturingGo(func() {
		img, release, err := reader.Read()
		results <- readResult{img, release, err}
	})

	var res readResult
	select {
	case <-ctx.Done():
		goutils.PanicCapturingGo(func() {
			if late := <-results; late.release != nil {
				late.release()
			}
		})
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.release != nil {
		defer res.release()
	}
	if res.err != nil {
		return nil, errors.Wrap(res.err, "cannot read uvc depth frame")
	}

	dm, err := rimage.ConvertImageToDepthMap(res.img)
	if err != nil {
		return nil, err
	}
	frame := &depthsensor.Frame{
		Data:      dm.Bytes(),
		Width:     dm.Width(),
		Height:    dm.Height(),
		Index:     s.index,
		Timestamp: time.Since(s.started),
	}
	s.index++
	return frame, nil
}

func (s *stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	s.reader = nil
	return s.dev.md.Close()
}

func (s *stream) Close(ctx context.Context) error {
	err := s.Stop(ctx)
	s.dev.release(s)
	return err
}
