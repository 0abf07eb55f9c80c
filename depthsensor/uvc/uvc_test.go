package uvc

import (
	"context"
	"encoding/binary"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

type fakeMediaDriver struct {
	label  string
	props  []prop.Media
	block  chan struct{}
	mu     sync.Mutex
	state  driver.State
	opens  int
	closes int
}

func newFakeMediaDriver(label string, formats ...frame.Format) *fakeMediaDriver {
	md := &fakeMediaDriver{label: label, state: driver.StateClosed}
	for _, f := range formats {
		md.props = append(md.props, prop.Media{Video: prop.Video{Width: 2, Height: 2, FrameFormat: f, FrameRate: 30}})
	}
	return md
}

func (md *fakeMediaDriver) Open() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.opens++
	md.state = driver.StateOpened
	return nil
}

func (md *fakeMediaDriver) Close() error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.closes++
	md.state = driver.StateClosed
	return nil
}

func (md *fakeMediaDriver) Properties() []prop.Media {
	return md.props
}

func (md *fakeMediaDriver) ID() string {
	return md.label
}

func (md *fakeMediaDriver) Info() driver.Info {
	return driver.Info{Label: md.label + ";usb-0000", Name: "depth " + md.label}
}

func (md *fakeMediaDriver) Status() driver.State {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.state
}

func (md *fakeMediaDriver) VideoRecord(p prop.Media) (video.Reader, error) {
	md.mu.Lock()
	md.state = driver.StateRunning
	md.mu.Unlock()
	return video.ReaderFunc(func() (image.Image, func(), error) {
		if md.block != nil {
			<-md.block
		}
		img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))
		for i := 0; i < p.Width*p.Height; i++ {
			img.Pix[2*i] = 0x01
			img.Pix[2*i+1] = byte(i)
		}
		return img, func() {}, nil
	}), nil
}

func newTestDriver(t *testing.T, conf Config, drivers ...driver.Driver) *Driver {
	return NewDriver(conf, func() []driver.Driver { return drivers }, logging.NewTestLogger(t))
}

func TestConfig(t *testing.T) {
	test.That(t, Config{}.Validate("attributes"), test.ShouldBeNil)
	test.That(t, Config{Width: -1}.Validate("attributes"), test.ShouldNotBeNil)
	test.That(t, Config{FrameRate: -1}.Validate("attributes"), test.ShouldNotBeNil)

	z16 := prop.Media{Video: prop.Video{Width: 640, Height: 480, FrameFormat: frame.FormatZ16, FrameRate: 30}}
	test.That(t, Config{}.accepts(z16), test.ShouldBeTrue)
	test.That(t, Config{Width: 640, Height: 480}.accepts(z16), test.ShouldBeTrue)
	test.That(t, Config{Width: 320}.accepts(z16), test.ShouldBeFalse)
	test.That(t, Config{FrameRate: 15}.accepts(z16), test.ShouldBeFalse)
	yuyv := z16
	yuyv.FrameFormat = frame.FormatYUY2
	test.That(t, Config{}.accepts(yuyv), test.ShouldBeFalse)

	reg, ok := depthsensor.LookupDriver(DriverName)
	test.That(t, ok, test.ShouldBeTrue)
	_, err := reg.Constructor(context.Background(), utils.AttributeMap{"width_px": -3}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOpenAndRead(t *testing.T) {
	ctx := context.Background()
	rgb := newFakeMediaDriver("/dev/video0", frame.FormatYUY2)
	depth := newFakeMediaDriver("/dev/video2", frame.FormatYUY2, frame.FormatZ16)
	drv := newTestDriver(t, Config{}, rgb, depth)

	infos, err := drv.Enumerate(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, infos, test.ShouldResemble, []depthsensor.DeviceInfo{{URI: "/dev/video2", Name: "depth /dev/video2", Vendor: "uvc"}})

	dev, err := drv.OpenAny(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Info().URI, test.ShouldEqual, "/dev/video2")
	test.That(t, depth.Status(), test.ShouldEqual, driver.StateClosed)

	s, err := dev.CreateDepthStream(ctx)
	test.That(t, err, test.ShouldBeNil)
	_, err = dev.CreateDepthStream(ctx)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = s.ReadFrame(ctx)
	test.That(t, errors.Is(err, depthsensor.ErrStreamNotStarted), test.ShouldBeTrue)

	test.That(t, s.Start(ctx), test.ShouldBeNil)
	test.That(t, depth.Status(), test.ShouldEqual, driver.StateRunning)
	got, err := s.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Width, test.ShouldEqual, 2)
	test.That(t, got.Height, test.ShouldEqual, 2)
	test.That(t, got.Data, test.ShouldHaveLength, 8)
	test.That(t, binary.NativeEndian.Uint16(got.Data[6:]), test.ShouldEqual, uint16(0x0103))

	test.That(t, s.Stop(ctx), test.ShouldBeNil)
	test.That(t, depth.Status(), test.ShouldEqual, driver.StateClosed)
	test.That(t, s.Close(ctx), test.ShouldBeNil)

	// the slot is free again once the stream is closed
	s2, err := dev.CreateDepthStream(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s2.Start(ctx), test.ShouldBeNil)
	test.That(t, dev.Close(ctx), test.ShouldBeNil)
	test.That(t, depth.Status(), test.ShouldEqual, driver.StateClosed)
	_, err = dev.CreateDepthStream(ctx)
	test.That(t, errors.Is(err, depthsensor.ErrNoDevice), test.ShouldBeTrue)
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	depth := newFakeMediaDriver("/dev/video2", frame.FormatZ16)
	drv := newTestDriver(t, Config{}, depth)

	dev, err := drv.OpenFile(ctx, "/dev/video2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Info().URI, test.ShouldEqual, "/dev/video2")

	_, err = drv.OpenFile(ctx, "/dev/video9")
	test.That(t, errors.Is(err, depthsensor.ErrNoDevice), test.ShouldBeTrue)

	_, err = newTestDriver(t, Config{}, newFakeMediaDriver("/dev/video0", frame.FormatMJPEG)).OpenAny(ctx)
	test.That(t, errors.Is(err, depthsensor.ErrNoDevice), test.ShouldBeTrue)

	_, err = newTestDriver(t, Config{Width: 1280}, depth).OpenAny(ctx)
	test.That(t, errors.Is(err, depthsensor.ErrNoDevice), test.ShouldBeTrue)
}

func TestReadHonorsContext(t *testing.T) {
	depth := newFakeMediaDriver("/dev/video2", frame.FormatZ16)
	depth.block = make(chan struct{})
	defer close(depth.block)

	dev, err := newTestDriver(t, Config{}, depth).OpenAny(context.Background())
	test.That(t, err, test.ShouldBeNil)
	s, err := dev.CreateDepthStream(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Start(context.Background()), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.ReadFrame(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}
