// Package replay implements a depth sensor driver that plays back sessions recorded with
// rimage.SessionWriter.
package replay

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// DriverName is the name the replay driver registers under.
const DriverName = "replay"

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

// Config controls playback.
type Config struct {
	// Loop restarts from the first frame after the last one.
	Loop bool `json:"loop"`
	// Pace delays reads so frames come out at their recorded rate.
	Pace bool `json:"pace"`
}

// ConfigFromAttributes decodes driver attributes. Both options default to true.
func ConfigFromAttributes(attrs utils.AttributeMap) (Config, error) {
	conf := Config{Loop: true, Pace: true}
	if err := attrs.Decode(&conf); err != nil {
		return Config{}, err
	}
	return conf, nil
}

type recordedFrame struct {
	dm *rimage.DepthMap
	ts time.Duration
}

// Driver opens recordings.
type Driver struct {
	conf   Config
	clock  clock.Clock
	logger logging.Logger
}

// NewDriver returns a replay driver.
func NewDriver(conf Config, clk clock.Clock, logger logging.Logger) *Driver {
	return &Driver{conf: conf, clock: clk, logger: logger}
}

// OpenAny always fails since there are no live devices to replay.
func (d *Driver) OpenAny(ctx context.Context) (depthsensor.Device, error) {
	return nil, errors.Wrap(depthsensor.ErrNoDevice, "the replay driver can only open recorded sessions")
}

// OpenFile loads every frame of the session at path.
func (d *Driver) OpenFile(ctx context.Context, path string) (dev depthsensor.Device, err error) {
	if !rimage.IsSessionFile(path) {
		return nil, errors.Wrapf(depthsensor.ErrNoDevice, "%q is not a %s session", path, rimage.SessionFileExt)
	}
	sr, err := rimage.OpenSessionFile(path)
	if err != nil {
		return nil, errors.Wrapf(depthsensor.ErrNoDevice, "cannot open session: %v", err)
	}
	defer func() {
		err = multierr.Combine(err, sr.Close())
	}()

	var frames []recordedFrame
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dm, ts, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read frame %d of %q", len(frames), path)
		}
		frames = append(frames, recordedFrame{dm: dm, ts: ts})
	}
	if len(frames) == 0 {
		return nil, errors.Wrapf(depthsensor.ErrNoDevice, "session %q has no frames", path)
	}
	d.logger.Debugw("loaded depth session", "path", path, "frames", len(frames),
		"width", sr.Width(), "height", sr.Height())

	return &device{
		info: depthsensor.DeviceInfo{
			URI:    path,
			Name:   filepath.Base(path),
			Vendor: "depthcam replay",
		},
		conf:   d.conf,
		clock:  d.clock,
		frames: frames,
	}, nil
}

// Enumerate returns nothing. Recordings are not discoverable.
func (d *Driver) Enumerate(ctx context.Context) ([]depthsensor.DeviceInfo, error) {
	return nil, nil
}

type device struct {
	info   depthsensor.DeviceInfo
	conf   Config
	clock  clock.Clock
	frames []recordedFrame

	mu     sync.Mutex
	next   int
	closed bool
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
	return &stream{dev: dev}, nil
}

func (dev *device) Close(ctx context.Context) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.closed = true
	dev.frames = nil
	return nil
}

// take returns the next frame and how long after the previous one it was recorded. The playback
// position lives on the device, so a new stream continues where the last one stopped.
func (dev *device) take() (*depthsensor.Frame, time.Duration, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, 0, errors.Wrap(depthsensor.ErrNoDevice, "device closed")
	}
	if dev.next >= len(dev.frames) {
		if !dev.conf.Loop {
			return nil, 0, io.EOF
		}
		dev.next = 0
	}
	idx := dev.next
	dev.next++

	rec := dev.frames[idx]
	var gap time.Duration
	if idx > 0 {
		gap = rec.ts - dev.frames[idx-1].ts
	}
	return &depthsensor.Frame{
		Data:      append([]byte(nil), rec.dm.Bytes()...),
		Width:     rec.dm.Width(),
		Height:    rec.dm.Height(),
		Index:     idx,
		Timestamp: rec.ts,
	}, gap, nil
}

// unread puts frame idx back so the next take returns it again, unless another reader has already
// moved past it.
func (dev *device) unread(idx int) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.next == idx+1 {
		dev.next = idx
	}
}

type stream struct {
	dev *device

	mu       sync.Mutex
	running  bool
	lastRead time.Time
}

func (s *stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *stream) ReadFrame(ctx context.Context) (*depthsensor.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, depthsensor.ErrStreamNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, gap, err := s.dev.take()
	if err != nil {
		return nil, err
	}

	if s.dev.conf.Pace && !s.lastRead.IsZero() {
		if wait := gap - s.dev.clock.Since(s.lastRead); wait > 0 {
			timer := s.dev.clock.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.dev.unread(frame.Index)
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.lastRead = s.dev.clock.Now()
	return frame, nil
}

func (s *stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *stream) Close(ctx context.Context) error {
	return s.Stop(ctx)
}
