package rimage

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"

	"go.viam.com/depthcam/utils"
)

// EncodeImage encodes img in the given mime type. Depth maps are written as 16-bit gray PNGs, the
// raw depth format, or colorized in any other format.
func EncodeImage(ctx context.Context, img image.Image, mimeType string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.New("cannot encode nil image")
	}
	dm, isDepth := img.(*DepthMap)

	var buf bytes.Buffer
	switch mimeType {
	case utils.MimeTypeRawDepth:
		if !isDepth {
			return nil, errors.Wrapf(utils.NewUnexpectedTypeError(dm, img), "cannot encode as %s", mimeType)
		}
		if _, err := dm.WriteTo(&buf); err != nil {
			return nil, err
		}
	case utils.MimeTypePNG:
		if isDepth {
			img = dm.ToGray16()
		}
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypeJPEG:
		if isDepth {
			img = dm.ToPrettyPicture(0, 0)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
			return nil, err
		}
	case utils.MimeTypeQOI:
		if isDepth {
			img = dm.ToPrettyPicture(0, 0)
		}
		if err := qoi.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypePPM:
		if isDepth {
			img = dm.ToPrettyPicture(0, 0)
		}
		if err := ppm.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("do not know how to encode %q", mimeType)
	}
	return buf.Bytes(), nil
}

// DecodeImage is the inverse of EncodeImage. PNG and raw depth input come back as a *DepthMap.
func DecodeImage(ctx context.Context, data []byte, mimeType string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch mimeType {
	case utils.MimeTypeRawDepth:
		return ReadDepthMap(bytes.NewReader(data))
	case utils.MimeTypePNG:
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return ConvertImageToDepthMap(img)
	case utils.MimeTypeJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case utils.MimeTypeQOI:
		return qoi.Decode(bytes.NewReader(data))
	case utils.MimeTypePPM:
		return ppm.Decode(bytes.NewReader(data))
	default:
		return nil, errors.Errorf("do not know how to decode %q", mimeType)
	}
}
