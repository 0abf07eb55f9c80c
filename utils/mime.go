package utils

import (
	"path/filepath"
	"strings"
)

const (
	// MimeTypeRawDepth is a raw rimage.DepthMap.
	MimeTypeRawDepth = "image/raw-depth"

	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"

	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"

	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypePPM is for binary portable pixmaps.
	MimeTypePPM = "image/x-portable-pixmap"
)

// MimeTypeFromPath guesses the output mime type from a file name. Unknown extensions, including the
// depth map formats ".dat" and ".dat.gz", map to MimeTypeRawDepth.
func MimeTypeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return MimeTypePNG
	case ".jpg", ".jpeg":
		return MimeTypeJPEG
	case ".qoi":
		return MimeTypeQOI
	case ".ppm":
		return MimeTypePPM
	default:
		return MimeTypeRawDepth
	}
}
