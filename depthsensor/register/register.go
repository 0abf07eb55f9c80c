// Package register registers all depth sensor drivers built into this binary. The openni2 driver
// only registers when built with the openni2 tag.
package register

import (
	// register all drivers.
	_ "go.viam.com/depthcam/depthsensor/fake"
	_ "go.viam.com/depthcam/depthsensor/openni2"
	_ "go.viam.com/depthcam/depthsensor/replay"
	_ "go.viam.com/depthcam/depthsensor/uvc"
)
