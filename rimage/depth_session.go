package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// SessionFileExt is the extension of recorded depth sessions. A trailing .gz compresses them.
const SessionFileExt = ".dses"

// IsSessionFile returns whether fn names a recorded depth session.
func IsSessionFile(fn string) bool {
	return strings.HasSuffix(fn, SessionFileExt) || strings.HasSuffix(fn, SessionFileExt+".gz")
}

// A SessionWriter appends timestamped depth maps of a fixed shape to a recording.
type SessionWriter struct {
	out    io.Writer
	width  int
	height int
	frames int

	closers []io.Closer
}

// NewSessionWriter writes a session header to out.
func NewSessionWriter(out io.Writer, width, height int) (*SessionWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bad width or height for depth session %v %v", width, height)
	}
	if err := writeHeader(out, sessionMagic, width, height); err != nil {
		return nil, errors.Wrap(err, "cannot write session header")
	}
	return &SessionWriter{out: out, width: width, height: height}, nil
}

// CreateSessionFile creates fn and starts a session in it, gzipping when the name ends in .gz.
func CreateSessionFile(fn string, width, height int) (*SessionWriter, error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{f}
	out := bufio.NewWriter(f)
	var w io.Writer = out
	closers = append([]io.Closer{flushCloser{out}}, closers...)
	if filepath.Ext(fn) == ".gz" {
		gout := gzip.NewWriter(out)
		w = gout
		closers = append([]io.Closer{gout}, closers...)
	}

	sw, err := NewSessionWriter(w, width, height)
	if err != nil {
		for _, c := range closers {
			err = multierr.Combine(err, c.Close())
		}
		return nil, err
	}
	sw.closers = closers
	return sw, nil
}

type flushCloser struct {
	w *bufio.Writer
}

func (fc flushCloser) Close() error {
	return fc.w.Flush()
}

// WriteFrame appends dm recorded at ts, the offset from the start of the session.
func (sw *SessionWriter) WriteFrame(dm *DepthMap, ts time.Duration) error {
	if dm.Width() != sw.width || dm.Height() != sw.height {
		return errors.Wrapf(ErrFrameSizeMismatch, "session is %dx%d but frame is %dx%d",
			sw.width, sw.height, dm.Width(), dm.Height())
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ts.Nanoseconds()))
	if _, err := sw.out.Write(buf[:]); err != nil {
		return err
	}
	if err := writeSamples(sw.out, dm); err != nil {
		return err
	}
	sw.frames++
	return nil
}

// Frames returns how many frames have been written.
func (sw *SessionWriter) Frames() int {
	return sw.frames
}

// Close flushes and closes anything CreateSessionFile opened. It does not close a writer passed to
// NewSessionWriter.
func (sw *SessionWriter) Close() error {
	var err error
	for _, c := range sw.closers {
		err = multierr.Combine(err, c.Close())
	}
	sw.closers = nil
	return err
}

// A SessionReader reads frames back from a recording in order.
type SessionReader struct {
	r      io.Reader
	width  int
	height int

	closers []io.Closer
}

// NewSessionReader reads the session header from r.
func NewSessionReader(r io.Reader) (*SessionReader, error) {
	width, height, err := readHeader(r, sessionMagic)
	if err != nil {
		return nil, errors.Wrap(noEOF(err), "cannot read session header")
	}
	return &SessionReader{r: r, width: width, height: height}, nil
}

// OpenSessionFile opens a session written by CreateSessionFile.
func OpenSessionFile(fn string) (*SessionReader, error) {
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{f}
	var r io.Reader = bufio.NewReader(f)
	if filepath.Ext(fn) == ".gz" {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, multierr.Combine(err, f.Close())
		}
		r = gr
		closers = append([]io.Closer{gr}, closers...)
	}

	sr, err := NewSessionReader(r)
	if err != nil {
		for _, c := range closers {
			err = multierr.Combine(err, c.Close())
		}
		return nil, err
	}
	sr.closers = closers
	return sr, nil
}

// Width returns the width of every frame in the session.
func (sr *SessionReader) Width() int {
	return sr.width
}

// Height returns the height of every frame in the session.
func (sr *SessionReader) Height() int {
	return sr.height
}

// Next returns the next frame and its timestamp. It returns io.EOF after the last frame and
// io.ErrUnexpectedEOF if the recording was cut off mid frame.
func (sr *SessionReader) Next() (*DepthMap, time.Duration, error) {
	rawTS, err := readNext(sr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, noEOF(err)
	}
	dm := NewEmptyDepthMap(sr.width, sr.height)
	if err := readSamples(sr.r, dm); err != nil {
		return nil, 0, err
	}
	return dm, time.Duration(int64(rawTS)), nil
}

// Close closes anything OpenSessionFile opened.
func (sr *SessionReader) Close() error {
	var err error
	for _, c := range sr.closers {
		err = multierr.Combine(err, c.Close())
	}
	sr.closers = nil
	return err
}
