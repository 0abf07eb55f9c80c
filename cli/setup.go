package cli

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/depthcam/camera"
	"go.viam.com/depthcam/config"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

const (
	metadataLogger    = "logger"
	metadataLogCloser = "log_closer"
)

func setupLogging(c *cli.Context) error {
	logger := logging.NewBlankLogger("depthcam")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	if fn := c.String(flagLogFile); fn != "" {
		appender, closer := logging.NewFileAppender(fn)
		logger.AddAppender(appender)
		c.App.Metadata[metadataLogCloser] = closer
	}
	c.App.Metadata[metadataLogger] = logger
	logging.RegisterLogger("depthcam", logger)
	utils.LogEnvVariables("environment", logger)
	return nil
}

func teardownLogging(c *cli.Context) error {
	var err error
	if logger, ok := c.App.Metadata[metadataLogger].(logging.Logger); ok {
		//nolint:errcheck
		logger.Sync()
	}
	if closer, ok := c.App.Metadata[metadataLogCloser].(io.Closer); ok {
		err = multierr.Combine(err, closer.Close())
	}
	return err
}

func loggerFrom(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[metadataLogger].(logging.Logger); ok {
		return logger
	}
	return logging.NewLogger("depthcam")
}

// commandContext returns the context commands run under. --debug turns on debug logging for
// everything done with it.
func commandContext(c *cli.Context) context.Context {
	ctx := c.Context
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	return ctx
}

// readConfig loads --config, if given, and applies the global flags over it.
func readConfig(ctx context.Context, c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg := &config.Config{}
	if fn := c.String(flagConfig); fn != "" {
		var err error
		cfg, err = config.Read(ctx, fn, logger)
		if err != nil {
			return nil, err
		}
		if err := cfg.UpdateLoggers(logger); err != nil {
			return nil, err
		}
	}

	conf := &cfg.Camera
	if c.IsSet(flagDriver) {
		conf.Driver = c.String(flagDriver)
	}
	if c.IsSet(flagFile) {
		conf.FileName = c.String(flagFile)
	}
	if c.IsSet(flagShape) {
		shape, err := parseShape(c.String(flagShape))
		if err != nil {
			return nil, err
		}
		conf.DepthShape = shape
	}
	if c.IsSet(flagDiscard) {
		discard := c.Int(flagDiscard)
		conf.DiscardFrames = &discard
	}
	if c.IsSet(flagTolerate) {
		conf.TolerateOpenFailure = c.Bool(flagTolerate)
	}
	attrs, err := parseAttributes(c.StringSlice(flagAttr))
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if conf.Attributes == nil {
			conf.Attributes = utils.AttributeMap{}
		}
		for k, v := range attrs {
			conf.Attributes[k] = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseShape parses "HxW".
func parseShape(s string) ([]int, error) {
	hs, ws, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return nil, errors.Errorf("shape %q is not HxW", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return nil, errors.Wrapf(err, "bad shape height in %q", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return nil, errors.Wrapf(err, "bad shape width in %q", s)
	}
	return []int{h, w}, nil
}

// parseAttributes parses KEY=VALUE pairs. Values stay strings; drivers decode them weakly typed.
func parseAttributes(pairs []string) (utils.AttributeMap, error) {
	attrs := utils.AttributeMap{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("attribute %q is not KEY=VALUE", pair)
		}
		attrs[k] = v
	}
	return attrs, nil
}

// withCamera reads the config, opens the camera and runs fn with it, closing it afterwards.
func withCamera(c *cli.Context, fn func(ctx context.Context, cam *camera.Camera, cfg *config.Config) error) error {
	ctx := commandContext(c)
	logger := loggerFrom(c)
	cfg, err := readConfig(ctx, c, logger)
	if err != nil {
		return err
	}
	camLogger := logger.Sublogger("camera")
	logging.RegisterLogger("depthcam.camera", camLogger)
	return camera.WithCamera(ctx, &cfg.Camera, camLogger, func(cam *camera.Camera) error {
		return fn(ctx, cam, cfg)
	})
}
