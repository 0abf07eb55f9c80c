package utils

import (
	"os"
	"strings"
	"time"

	"go.viam.com/depthcam/logging"
)

const (
	// EnvVarPrefix is the prefix for all depthcam environment variables.
	EnvVarPrefix = "DEPTHCAM_"

	// ConfigEnvVar names the config file to load when --config is not given.
	ConfigEnvVar = "DEPTHCAM_CONFIG"

	// DriverEnvVar names the driver to use when --driver is not given.
	DriverEnvVar = "DEPTHCAM_DRIVER"

	// DefaultFrameTimeout is how long a command waits for one depth frame.
	DefaultFrameTimeout = 10 * time.Second

	// FrameTimeoutEnvVar overrides DefaultFrameTimeout.
	FrameTimeoutEnvVar = "DEPTHCAM_FRAME_TIMEOUT"

	// LibraryPathEnvVar is where the dynamic loader looks for native SDK runtimes.
	LibraryPathEnvVar = "LD_LIBRARY_PATH"

	// OpenNI2RedistEnvVar points at the OpenNI2 redistributable directory.
	OpenNI2RedistEnvVar = "OPENNI2_REDIST"
)

// GetFrameTimeout returns the frame timeout (env variable value if set, DefaultFrameTimeout
// otherwise).
func GetFrameTimeout(logger logging.Logger) time.Duration {
	return timeoutHelper(DefaultFrameTimeout, FrameTimeoutEnvVar, logger)
}

func timeoutHelper(defaultTimeout time.Duration, timeoutEnvVar string, logger logging.Logger) time.Duration {
	if timeoutVal := os.Getenv(timeoutEnvVar); timeoutVal != "" {
		timeout, err := time.ParseDuration(timeoutVal)
		if err != nil || timeout <= 0 {
			logger.Warnf("Failed to parse %s env var, falling back to default %v timeout",
				timeoutEnvVar, defaultTimeout)
			return defaultTimeout
		}
		return timeout
	}
	return defaultTimeout
}

// LogEnvVariables logs the depthcam environment variables in [os.Environ] along with the
// variables native drivers load their runtime from.
func LogEnvVariables(msg string, logger logging.Logger) {
	var env []string
	for _, v := range os.Environ() {
		if strings.HasPrefix(v, EnvVarPrefix) ||
			strings.HasPrefix(v, LibraryPathEnvVar+"=") ||
			strings.HasPrefix(v, OpenNI2RedistEnvVar+"=") {
			env = append(env, v)
		}
	}
	if len(env) != 0 {
		logger.Debugw(msg, "environment", env)
	}
}
