package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	depthMapMagic = binary.LittleEndian.Uint64([]byte("DEPTHMAP"))
	sessionMagic  = binary.LittleEndian.Uint64([]byte("DEPTHSES"))
)

// ErrBadMagic is returned when a file does not start with the expected format marker.
var ErrBadMagic = errors.New("unrecognized depth file header")

func readNext(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeHeader(out io.Writer, magic uint64, width, height int) error {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf, magic)
	binary.LittleEndian.PutUint64(buf[8:], uint64(width))
	binary.LittleEndian.PutUint64(buf[16:], uint64(height))
	_, err := out.Write(buf)
	return err
}

// readHeader reads magic, width and height. An io.EOF before the first byte is returned as is.
func readHeader(r io.Reader, wantMagic uint64) (int, int, error) {
	magic, err := readNext(r)
	if err != nil {
		return 0, 0, err
	}
	if magic != wantMagic {
		return 0, 0, ErrBadMagic
	}
	rawWidth, err := readNext(r)
	if err != nil {
		return 0, 0, errors.Wrap(noEOF(err), "reading width")
	}
	rawHeight, err := readNext(r)
	if err != nil {
		return 0, 0, errors.Wrap(noEOF(err), "reading height")
	}
	width, height := int(rawWidth), int(rawHeight)
	if width <= 0 || width >= MaxDepthMapDimension || height <= 0 || height >= MaxDepthMapDimension {
		return 0, 0, errors.Errorf("bad width or height for depth map %v %v", width, height)
	}
	if width*height > MaxDepthMapSamples {
		return 0, 0, errors.Errorf("depth map of %dx%d samples is too large", width, height)
	}
	return width, height, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func readSamples(r io.Reader, dm *DepthMap) error {
	buf := make([]byte, 2*dm.width)
	for y := 0; y < dm.height; y++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.Wrapf(noEOF(err), "reading row %d", y)
		}
		row := dm.data[y*dm.width : (y+1)*dm.width]
		for x := range row {
			row[x] = Depth(binary.LittleEndian.Uint16(buf[2*x:]))
		}
	}
	return nil
}

func writeSamples(out io.Writer, dm *DepthMap) error {
	buf := make([]byte, 2*dm.width)
	for y := 0; y < dm.height; y++ {
		row := dm.data[y*dm.width : (y+1)*dm.width]
		for x, z := range row {
			binary.LittleEndian.PutUint16(buf[2*x:], uint16(z))
		}
		if _, err := out.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ParseDepthMap reads a depth map file, gunzipping it when the name ends in .gz.
func ParseDepthMap(fn string) (dm *DepthMap, err error) {
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var r io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		var gr *gzip.Reader
		gr, err = gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer func() {
			err = multierr.Combine(err, gr.Close())
		}()
		r = gr
	}

	return ReadDepthMap(bufio.NewReader(r))
}

// ReadDepthMap reads a depth map in the raw format written by WriteTo.
func ReadDepthMap(r io.Reader) (*DepthMap, error) {
	width, height, err := readHeader(r, depthMapMagic)
	if err != nil {
		return nil, errors.Wrap(noEOF(err), "cannot read depth map header")
	}
	dm := NewEmptyDepthMap(width, height)
	if err := readSamples(r, dm); err != nil {
		return nil, err
	}
	return dm, nil
}

// WriteToFile writes the depth map to fn, gzipping it when the name ends in .gz.
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}

	if _, err := dm.WriteTo(out); err != nil {
		return err
	}

	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}

	return f.Sync()
}

// WriteTo writes the header and little endian samples to out.
func (dm *DepthMap) WriteTo(out io.Writer) (int64, error) {
	cw := &countingWriter{w: out}
	if err := writeHeader(cw, depthMapMagic, dm.width, dm.height); err != nil {
		return cw.n, err
	}
	err := writeSamples(cw, dm)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
