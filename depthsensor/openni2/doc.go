// Package openni2 binds the OpenNI2 C API as a depth sensor driver. The binding needs cgo and the
// OpenNI2 headers and library, so it is only compiled with the openni2 build tag:
//
//	go build -tags openni2 ./cmd/depthcam
//
// At runtime libOpenNI2 must be on the loader path and its OpenNI2/Drivers directory must sit
// next to it, or OPENNI2_REDIST must point at the redistributable directory.
package openni2

// DriverName is the name the OpenNI2 driver registers under.
const DriverName = "openni2"
