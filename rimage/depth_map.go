// Package rimage holds depth map types and the image helpers built around them.
package rimage

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"unsafe"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ErrFrameSizeMismatch is returned when a raw frame buffer does not hold exactly
// width*height 16-bit samples.
var ErrFrameSizeMismatch = errors.New("frame buffer size does not match depth shape")

// MaxDepthMapDimension bounds width and height of depth maps read from untrusted sources.
const MaxDepthMapDimension = 100000

// MaxDepthMapSamples bounds width*height of depth maps read from files (128MiB of samples).
const MaxDepthMapSamples = 1 << 26

// Depth is the depth in millimeters, 0 meaning no reading.
type Depth uint16

// DepthMap is a row-major grid of depth samples.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a zeroed depth map.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// NewDepthMapFromBytes views buf as a width x height depth map of native byte order samples. The
// returned map shares buf's memory when buf is 2-byte aligned; otherwise samples are copied.
func NewDepthMapFromBytes(width, height int, buf []byte) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bad width or height for depth map %v %v", width, height)
	}
	if width > math.MaxInt/2/height {
		return nil, errors.Errorf("depth map of %dx%d samples is too large", width, height)
	}
	expected := width * height * 2
	if len(buf) != expected {
		return nil, errors.Wrapf(ErrFrameSizeMismatch,
			"got %d bytes but a %dx%d depth map needs %d", len(buf), width, height, expected)
	}

	n := width * height
	ptr := unsafe.Pointer(unsafe.SliceData(buf))
	if uintptr(ptr)%unsafe.Alignof(Depth(0)) == 0 {
		return &DepthMap{width: width, height: height, data: unsafe.Slice((*Depth)(ptr), n)}, nil
	}

	data := make([]Depth, n)
	for i := range data {
		data[i] = Depth(binary.NativeEndian.Uint16(buf[2*i:]))
	}
	return &DepthMap{width: width, height: height, data: data}, nil
}

// HasData returns whether the map holds any samples.
func (dm *DepthMap) HasData() bool {
	return dm.width > 0 && dm.height > 0 && len(dm.data) > 0
}

// Width returns the width of the map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the height of the map.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Shape returns (height, width), the order depth shapes are configured in.
func (dm *DepthMap) Shape() (int, int) {
	return dm.height, dm.width
}

// Get returns the depth at p.
func (dm *DepthMap) Get(p image.Point) Depth {
	return dm.data[p.Y*dm.width+p.X]
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set sets the depth at (x, y).
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[y*dm.width+x] = val
}

// Data returns the row-major samples. The slice aliases the map.
func (dm *DepthMap) Data() []Depth {
	return dm.data
}

// Bytes returns the samples as native byte order bytes. The slice aliases the map.
func (dm *DepthMap) Bytes() []byte {
	if len(dm.data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(dm.data))), len(dm.data)*2)
}

// Clone returns a deep copy that does not alias the receiver's memory.
func (dm *DepthMap) Clone() *DepthMap {
	out := NewEmptyDepthMap(dm.width, dm.height)
	copy(out.data, dm.data)
	return out
}

// MinMax returns the smallest and largest non-zero depth. Both are 0 when there are no readings.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min := Depth(0xffff)
	max := Depth(0)

	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}

	if max == 0 {
		return 0, 0
	}
	return min, max
}

// Rotate returns a rotated copy. Only 180 degrees is supported, which is what upside down
// mounted sensors need.
func (dm *DepthMap) Rotate(amount int) (*DepthMap, error) {
	if amount != 180 {
		return nil, errors.Errorf("depth maps can only rotate 180 degrees right now, not %d", amount)
	}

	dm2 := NewEmptyDepthMap(dm.width, dm.height)
	n := len(dm.data)
	for i, val := range dm.data {
		dm2.data[n-1-i] = val
	}
	return dm2, nil
}

// Resize returns a nearest-neighbor resized copy. Interpolating between depths would invent
// readings at object edges.
func (dm *DepthMap) Resize(width, height int) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("cannot resize depth map to %dx%d", width, height)
	}
	resized := resize.Resize(uint(width), uint(height), dm.ToGray16(), resize.NearestNeighbor)
	return ConvertImageToDepthMap(resized)
}

// ColorModel returns color.Gray16Model so that a DepthMap can be used as an image.Image.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// Bounds returns the rectangle covered by the map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// At returns the depth at (x, y) as a 16-bit gray value.
func (dm *DepthMap) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(dm.Bounds())) {
		return color.Gray16{}
	}
	return color.Gray16{uint16(dm.GetDepth(x, y))}
}

// ToGray16 copies the map into an image.Gray16.
func (dm *DepthMap) ToGray16() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for i, z := range dm.data {
		img.Pix[2*i] = uint8(z >> 8)
		img.Pix[2*i+1] = uint8(z)
	}
	return img
}

// ConvertImageToDepthMap takes an image and figures out if it's already a DepthMap or a 16-bit
// gray image that can be read as one.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	switch ii := img.(type) {
	case *DepthMap:
		return ii, nil
	case *image.Gray16:
		bounds := ii.Bounds()
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(ii.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm, nil
	case nil:
		return nil, errors.New("cannot convert nil image to depth map")
	default:
		bounds := ii.Bounds()
		if bounds.Empty() {
			return nil, errors.Errorf("cannot convert empty %T to depth map", img)
		}
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				gray, ok := color.Gray16Model.Convert(ii.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				if !ok {
					return nil, errors.Errorf("cannot convert %T to depth map", img)
				}
				dm.Set(x, y, Depth(gray.Y))
			}
		}
		return dm, nil
	}
}
