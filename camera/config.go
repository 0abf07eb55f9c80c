package camera

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/depthsensor/openni2"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

const (
	// DefaultDriver is the driver used when none is configured.
	DefaultDriver = openni2.DriverName
	// DefaultHeight and DefaultWidth are the depth shape used when none is configured.
	DefaultHeight = 480
	DefaultWidth  = 640
	// DefaultDiscardFrames is how many frames are read and dropped before the kept one. Some ARM
	// boards hand back a stale buffer on the first read after a stream starts.
	DefaultDiscardFrames = 1
)

// Config describes how to open a depth camera.
type Config struct {
	Driver string `json:"driver,omitempty"`
	// DepthShape is [height, width].
	DepthShape []int `json:"depth_shape,omitempty"`
	// FileName opens a recording instead of the first live device.
	FileName      string `json:"file_name,omitempty"`
	DiscardFrames *int   `json:"discard_frames,omitempty"`
	// TolerateOpenFailure makes New log open failures and return a camera without a device instead
	// of failing. Reads on such a camera fail.
	TolerateOpenFailure bool               `json:"tolerate_open_failure,omitempty"`
	Attributes          utils.AttributeMap `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.DepthShape != nil {
		if len(conf.DepthShape) != 2 {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("depth_shape must be [height, width], got %v", conf.DepthShape))
		}
		if conf.DepthShape[0] <= 0 || conf.DepthShape[1] <= 0 {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("depth_shape must be positive, got %v", conf.DepthShape))
		}
		if conf.DepthShape[0] > rimage.MaxDepthMapDimension || conf.DepthShape[1] > rimage.MaxDepthMapDimension {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("depth_shape dimensions cannot exceed %d, got %v", rimage.MaxDepthMapDimension, conf.DepthShape))
		}
	}
	if conf.DiscardFrames != nil && *conf.DiscardFrames < 0 {
		return goutils.NewConfigValidationError(path, errors.New("discard_frames cannot be negative"))
	}
	return nil
}

// DriverName returns the configured driver or DefaultDriver.
func (conf *Config) DriverName() string {
	if conf.Driver == "" {
		return DefaultDriver
	}
	return conf.Driver
}

// Shape returns the configured (height, width) or the default shape.
func (conf *Config) Shape() (int, int) {
	if len(conf.DepthShape) != 2 {
		return DefaultHeight, DefaultWidth
	}
	return conf.DepthShape[0], conf.DepthShape[1]
}

// Discard returns the configured number of frames to drop or DefaultDiscardFrames.
func (conf *Config) Discard() int {
	if conf.DiscardFrames == nil {
		return DefaultDiscardFrames
	}
	return *conf.DiscardFrames
}
