package cli

import (
	"bytes"
	"context"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/rimage"
)

var fakeArgs = []string{"--driver", "fake", "--shape", "3x4", "--attr", "width=4", "--attr", "height=3"}

func runApp(ctx context.Context, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.RunContext(ctx, append([]string{"depthcam"}, args...))
	return out.String(), errOut.String(), err
}

func withFake(args ...string) []string {
	return append(append([]string{}, fakeArgs...), args...)
}

func TestParseShape(t *testing.T) {
	shape, err := parseShape("480x640")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, shape, test.ShouldResemble, []int{480, 640})

	shape, err = parseShape(" 2 X 3 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, shape, test.ShouldResemble, []int{2, 3})

	for _, bad := range []string{"480", "ax640", "480xb", ""} {
		_, err := parseShape(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestParseAttributes(t *testing.T) {
	attrs, err := parseAttributes([]string{"pattern=constant", "value=12", "empty="})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, attrs["pattern"], test.ShouldEqual, "constant")
	test.That(t, attrs["value"], test.ShouldEqual, "12")
	test.That(t, attrs["empty"], test.ShouldEqual, "")

	_, err = parseAttributes([]string{"novalue"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = parseAttributes([]string{"=x"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("png", func(t *testing.T) {
		fn := filepath.Join(dir, "depth.png")
		out, _, err := runApp(ctx, withFake("capture", "-o", fn)...)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "wrote 4x3 depth frame")

		f, err := os.Open(fn)
		test.That(t, err, test.ShouldBeNil)
		defer f.Close()
		img, err := png.Decode(f)
		test.That(t, err, test.ShouldBeNil)
		dm, err := rimage.ConvertImageToDepthMap(img)
		test.That(t, err, test.ShouldBeNil)
		// the second frame is kept
		test.That(t, dm.GetDepth(1, 0), test.ShouldEqual, rimage.Depth(2))
		test.That(t, dm.GetDepth(3, 2), test.ShouldEqual, rimage.Depth(12))
	})

	t.Run("raw", func(t *testing.T) {
		fn := filepath.Join(dir, "depth.dat.gz")
		_, _, err := runApp(ctx, withFake("--discard", "0", "capture", "-o", fn)...)
		test.That(t, err, test.ShouldBeNil)
		dm, err := rimage.ParseDepthMap(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dm.Width(), test.ShouldEqual, 4)
		test.That(t, dm.Height(), test.ShouldEqual, 3)
		test.That(t, dm.GetDepth(1, 0), test.ShouldEqual, rimage.Depth(1))
	})

	t.Run("captioned jpeg", func(t *testing.T) {
		fn := filepath.Join(dir, "depth.jpg")
		_, _, err := runApp(ctx, withFake("capture", "--caption", "-o", fn)...)
		test.That(t, err, test.ShouldBeNil)
		f, err := os.Open(fn)
		test.That(t, err, test.ShouldBeNil)
		defer f.Close()
		_, err = jpeg.Decode(f)
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := runApp(ctx, withFake("capture", "-o", filepath.Join(dir, "depth.bmp"))...)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "do not know what format")
	})

	t.Run("missing recording", func(t *testing.T) {
		args := withFake("--file", filepath.Join(dir, "session.oni"), "--tolerate-open-failure",
			"capture", "-o", filepath.Join(dir, "never.png"))
		_, logs, err := runApp(ctx, args...)
		test.That(t, errors.Is(err, depthsensor.ErrNoDevice), test.ShouldBeTrue)
		test.That(t, logs, test.ShouldContainSubstring, "cannot open depth camera")
		test.That(t, logs, test.ShouldContainSubstring, "UNCACHED ERROR:")
		_, err = os.Stat(filepath.Join(dir, "never.png"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})

	t.Run("bad attribute", func(t *testing.T) {
		_, _, err := runApp(ctx, withFake("--attr", "pattern", "capture")...)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestCaptureFromConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEPTHCAM_TEST_VALUE", "321")
	cfgFile := filepath.Join(dir, "depthcam.json")
	test.That(t, os.WriteFile(cfgFile, []byte(`{
		"camera": {
			"driver": "fake",
			"depth_shape": [2, 2],
			"attributes": {"width": 2, "height": 2, "pattern": "constant", "value": ${DEPTHCAM_TEST_VALUE}}
		}
	}`), 0o600), test.ShouldBeNil)

	fn := filepath.Join(dir, "depth.dat")
	_, _, err := runApp(context.Background(), "-c", cfgFile, "capture", "-o", fn)
	test.That(t, err, test.ShouldBeNil)
	dm, err := rimage.ParseDepthMap(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.Data(), test.ShouldResemble, []rimage.Depth{321, 321, 321, 321})
}

func TestStats(t *testing.T) {
	args := withFake("--attr", "pattern=constant", "--attr", "value=500", "stats", "--bins", "4")
	out, _, err := runApp(context.Background(), args...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "3x4")
	test.That(t, out, test.ShouldContainSubstring, "12 (100.0%)")
	test.That(t, out, test.ShouldContainSubstring, "500")

	out, _, err = runApp(context.Background(), withFake("--attr", "pattern=zeros", "stats")...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "no depth readings")
}

func TestRecordAndReplay(t *testing.T) {
	ctx := context.Background()
	session := filepath.Join(t.TempDir(), "session.dses")

	out, _, err := runApp(ctx, withFake("--discard", "0", "record", "-o", session, "--frames", "3")...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "recorded 3 frames")

	sr, err := rimage.OpenSessionFile(session)
	test.That(t, err, test.ShouldBeNil)
	var frames []*rimage.DepthMap
	for {
		dm, _, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		test.That(t, err, test.ShouldBeNil)
		frames = append(frames, dm)
	}
	test.That(t, sr.Close(), test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 3)
	for i, dm := range frames {
		test.That(t, dm.GetDepth(0, 0), test.ShouldEqual, rimage.Depth(i))
	}

	fn := filepath.Join(t.TempDir(), "replayed.dat")
	args := []string{
		"--driver", "replay", "--file", session, "--shape", "3x4", "--attr", "pace=false", "--discard", "1",
		"capture", "-o", fn,
	}
	_, _, err = runApp(ctx, args...)
	test.That(t, err, test.ShouldBeNil)
	dm, err := rimage.ParseDepthMap(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.Data(), test.ShouldResemble, frames[1].Data())

	_, _, err = runApp(ctx, withFake("record", "-o", filepath.Join(t.TempDir(), "session.bin"))...)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDevices(t *testing.T) {
	out, _, err := runApp(context.Background(), "--driver", "fake", "devices")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "fake://0")
	test.That(t, out, test.ShouldContainSubstring, "fake depth sensor")

	out, _, err = runApp(context.Background(), "--driver", "fake", "--attr", "fail_open=true", "devices")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "no devices")

	out, _, err = runApp(context.Background(), "--driver", "not-a-driver", "devices")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "depth sensor driver unavailable")
}

func TestViewToFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "plot.svg")
	_, _, err := runApp(context.Background(), withFake("view", "-o", fn)...)
	test.That(t, err, test.ShouldBeNil)
	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "Depth Image (4x3)")
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, logs, err := runApp(ctx, withFake("serve", "--address", "localhost:0")...)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs, test.ShouldContainSubstring, "serving live depth frames")
}

func TestLogFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "depthcam.log")
	out := filepath.Join(t.TempDir(), "depth.png")
	_, _, err := runApp(context.Background(), withFake("--debug", "--log-file", fn, "capture", "-o", out)...)
	test.That(t, err, test.ShouldBeNil)
	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "opened depth camera")
	test.That(t, string(data), test.ShouldContainSubstring, "read depth frame")
}
