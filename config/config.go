// Package config reads the depthcam configuration file.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/camera"
	"go.viam.com/depthcam/logging"
)

// DefaultHTTPAddress is where the HTTP viewer and live server listen by default.
const DefaultHTTPAddress = "localhost:8080"

// Config is the whole configuration file.
type Config struct {
	Camera camera.Config                 `json:"camera"`
	HTTP   HTTPConfig                    `json:"http"`
	Log    []logging.LoggerPatternConfig `json:"log,omitempty"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// HTTPConfig configures the web pages served by the view and serve commands.
type HTTPConfig struct {
	Address string `json:"address,omitempty"`
	// RefreshSeconds is how often the live page reloads. 0 disables reloading.
	RefreshSeconds int `json:"refresh_seconds,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if err := c.Camera.Validate("camera"); err != nil {
		return err
	}
	if err := c.HTTP.Validate("http"); err != nil {
		return err
	}
	for idx, lpc := range c.Log {
		if err := lpc.Validate(fmt.Sprintf("log.%d", idx)); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (hc *HTTPConfig) Validate(path string) error {
	if hc.RefreshSeconds < 0 {
		return goutils.NewConfigValidationError(path, errors.New("refresh_seconds cannot be negative"))
	}
	return nil
}

// Addr returns the configured address or DefaultHTTPAddress.
func (hc *HTTPConfig) Addr() string {
	if hc.Address == "" {
		return DefaultHTTPAddress
	}
	return hc.Address
}

// Read reads a config from the given file. ${VAR} references are substituted from the environment
// before parsing.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := &Config{ConfigFilePath: originalPath}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "read config", "path", originalPath, "driver", cfg.Camera.DriverName())
	return cfg, nil
}

// UpdateLoggers applies the config's logger levels to every registered logger.
func (c *Config) UpdateLoggers(logger logging.Logger) error {
	if len(c.Log) == 0 {
		return nil
	}
	return logging.UpdateLoggerLevelsFromConfig(c.Log, logger)
}
