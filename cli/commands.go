package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/camera"
	"go.viam.com/depthcam/config"
	"go.viam.com/depthcam/depthsensor"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
	"go.viam.com/depthcam/viewer"
)

// untilInterrupted returns a context done on SIGINT or SIGTERM.
func untilInterrupted(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func isDepthFile(fn string) bool {
	lower := strings.ToLower(fn)
	return strings.HasSuffix(lower, ".dat") || strings.HasSuffix(lower, ".dat.gz")
}

// getFrame reads one frame, giving up after the frame timeout.
func getFrame(ctx context.Context, c *cli.Context, cam *camera.Camera) (*rimage.DepthMap, error) {
	ctx, cancel := context.WithTimeout(ctx, utils.GetFrameTimeout(loggerFrom(c)))
	defer cancel()
	return cam.GetDepthFrame(ctx)
}

// CaptureAction writes one depth frame to --output.
func CaptureAction(c *cli.Context) error {
	out := c.String(flagOutput)
	return withCamera(c, func(ctx context.Context, cam *camera.Camera, cfg *config.Config) error {
		dm, err := getFrame(ctx, c, cam)
		if err != nil {
			return err
		}
		if isDepthFile(out) {
			if err := dm.WriteToFile(out); err != nil {
				return err
			}
		} else {
			data, err := encodeCapture(ctx, dm, out, c.Bool(flagCaption))
			if err != nil {
				return err
			}
			//nolint:gosec
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
		}
		printf(c, "wrote %dx%d depth frame to %s", dm.Width(), dm.Height(), out)
		return nil
	})
}

func encodeCapture(ctx context.Context, dm *rimage.DepthMap, out string, caption bool) ([]byte, error) {
	mimeType := utils.MimeTypeFromPath(out)
	if mimeType == utils.MimeTypeRawDepth {
		return nil, errors.Errorf("do not know what format to write %q in (want .png, .jpg, .qoi, .ppm, .dat or .dat.gz)", out)
	}
	if !caption {
		return rimage.EncodeImage(ctx, dm, mimeType)
	}
	lo, hi := dm.MinMax()
	text := fmt.Sprintf("%s  %d-%d mm", camera.PlotTitle(dm.Width(), dm.Height()), lo, hi)
	return rimage.EncodeImage(ctx, rimage.DrawCaption(dm.ToPrettyPicture(0, 0), text), mimeType)
}

// ViewAction plots one depth frame, either to a file or on a web page served until interrupted.
func ViewAction(c *cli.Context) error {
	return withCamera(c, func(ctx context.Context, cam *camera.Camera, cfg *config.Config) error {
		logger := loggerFrom(c)
		if out := c.String(flagOutput); out != "" {
			v, err := viewer.NewFileViewer(out, logger)
			if err != nil {
				return err
			}
			return cam.ViewDepthFrame(ctx, v)
		}

		addr := cfg.HTTP.Addr()
		if c.IsSet(flagAddress) {
			addr = c.String(flagAddress)
		}
		ctx, cancel := untilInterrupted(ctx)
		defer cancel()
		return cam.ViewDepthFrame(ctx, viewer.NewHTTPViewer(addr, logger.Sublogger("viewer")))
	})
}

// ServeAction serves live frames until interrupted.
func ServeAction(c *cli.Context) error {
	return withCamera(c, func(ctx context.Context, cam *camera.Camera, cfg *config.Config) error {
		logger := loggerFrom(c).Sublogger("viewer")
		addr := cfg.HTTP.Addr()
		if c.IsSet(flagAddress) {
			addr = c.String(flagAddress)
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		ctx, cancel := untilInterrupted(ctx)
		defer cancel()
		if cfg.ConfigFilePath != "" {
			stop, err := watchConfig(ctx, cfg, loggerFrom(c))
			if err != nil {
				return multierr.Combine(err, lis.Close())
			}
			defer stop()
		}
		logger.CInfow(ctx, "serving live depth frames", "url", fmt.Sprintf("http://%s", lis.Addr()))
		return viewer.Serve(ctx, lis, viewer.NewFrameHandler(cam, cfg.HTTP.RefreshSeconds, logger), logger)
	})
}

// watchConfig applies log level changes made to the config file while serving. Camera settings
// only take effect on restart.
func watchConfig(ctx context.Context, cfg *config.Config, logger logging.Logger) (func(), error) {
	w, err := config.NewWatcher(ctx, cfg.ConfigFilePath, cfg, logger)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(done)
		current := cfg.Camera
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg := <-w.Config():
				if err := newCfg.UpdateLoggers(logger); err != nil {
					logger.CErrorw(ctx, "cannot apply log levels", "error", err)
				}
				if !reflect.DeepEqual(current, newCfg.Camera) {
					logger.CWarnw(ctx, "camera config changed; restart to apply it", "path", cfg.ConfigFilePath)
					current = newCfg.Camera
				}
				logger.CInfow(ctx, "reloaded config", "path", cfg.ConfigFilePath)
			}
		}
	})
	return func() {
		cancel()
		<-done
		if err := w.Close(); err != nil {
			logger.Warnw("cannot stop config watcher", "error", err)
		}
	}, nil
}

// StatsAction prints a summary table and histogram of one depth frame.
func StatsAction(c *cli.Context) error {
	return withCamera(c, func(ctx context.Context, cam *camera.Camera, cfg *config.Config) error {
		dm, err := getFrame(ctx, c, cam)
		if err != nil {
			return err
		}
		stats := rimage.Stats(dm)

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Shape", "Valid", "Min", "Max", "Mean", "StdDev", "Median", "P5", "P95"})
		t.AppendRow(table.Row{
			fmt.Sprintf("%dx%d", stats.Height, stats.Width),
			fmt.Sprintf("%d (%.1f%%)", stats.Valid, 100*stats.ValidRatio()),
			stats.Min,
			stats.Max,
			fmt.Sprintf("%.1f", stats.Mean),
			fmt.Sprintf("%.1f", stats.StdDev),
			fmt.Sprintf("%.1f", stats.Median),
			fmt.Sprintf("%.0f", stats.P5),
			fmt.Sprintf("%.0f", stats.P95),
		})
		printf(c, "%s", t.Render())

		if stats.Valid == 0 {
			printf(c, "no depth readings")
			return nil
		}
		return rimage.FprintHistogram(c.App.Writer, dm, c.Int(flagBins), c.Int(flagWidth))
	})
}

// RecordAction records --frames depth frames to a session file.
func RecordAction(c *cli.Context) error {
	out := c.String(flagOutput)
	if !rimage.IsSessionFile(out) {
		return errors.Errorf("session file %q must end in %s or %s.gz", out, rimage.SessionFileExt, rimage.SessionFileExt)
	}
	frames := c.Int(flagFrames)
	if frames <= 0 {
		return errors.New("--frames must be positive")
	}
	interval := c.Duration(flagInterval)

	return withCamera(c, func(ctx context.Context, cam *camera.Camera, cfg *config.Config) (err error) {
		height, width := cam.Shape()
		sw, err := rimage.CreateSessionFile(out, width, height)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := sw.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()

		ctx, cancel := untilInterrupted(ctx)
		defer cancel()
		start := time.Now()
		for i := 0; i < frames; i++ {
			if i > 0 && interval > 0 && !goutils.SelectContextOrWait(ctx, interval) {
				break
			}
			dm, err := getFrame(ctx, c, cam)
			if err != nil {
				return err
			}
			if err := sw.WriteFrame(dm, time.Since(start)); err != nil {
				return err
			}
		}
		printf(c, "recorded %d frames to %s", sw.Frames(), out)
		return nil
	})
}

// DevicesAction lists each driver built into the binary and the devices it reports. With --driver
// only that driver is queried.
func DevicesAction(c *cli.Context) error {
	ctx := commandContext(c)
	logger := loggerFrom(c)
	cfg, err := readConfig(ctx, c, logger)
	if err != nil {
		return err
	}

	names := depthsensor.RegisteredDrivers()
	if c.IsSet(flagDriver) || c.IsSet(flagConfig) {
		names = []string{cfg.Camera.DriverName()}
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Driver", "URI", "Name", "Vendor", "Status"})
	for _, name := range names {
		var attrs utils.AttributeMap
		if name == cfg.Camera.DriverName() {
			attrs = cfg.Camera.Attributes
		}
		infos, err := enumerate(ctx, name, attrs, logger)
		switch {
		case err != nil:
			t.AppendRow(table.Row{name, "", "", "", err.Error()})
		case len(infos) == 0:
			t.AppendRow(table.Row{name, "", "", "", "no devices"})
		default:
			for _, info := range infos {
				t.AppendRow(table.Row{name, info.URI, info.Name, info.Vendor, "ok"})
			}
		}
	}
	printf(c, "%s", t.Render())
	return nil
}

func enumerate(
	ctx context.Context,
	name string,
	attrs utils.AttributeMap,
	logger logging.Logger,
) (infos []depthsensor.DeviceInfo, err error) {
	release, err := depthsensor.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, release(ctx))
	}()
	drv, err := depthsensor.NewDriver(ctx, name, attrs, logger.Sublogger(name))
	if err != nil {
		return nil, err
	}
	return drv.Enumerate(ctx)
}

func printf(c *cli.Context, format string, a ...interface{}) {
	fmt.Fprintf(c.App.Writer, format+"\n", a...)
}
