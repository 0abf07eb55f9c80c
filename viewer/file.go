package viewer

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"go.viam.com/depthcam/logging"
)

// ErrUnsupportedFormat is returned for output files whose extension has no plot backend.
var ErrUnsupportedFormat = errors.New("unsupported plot format")

var fileFormats = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"svg":  true,
	"pdf":  true,
}

// FileViewer saves plots to a file. The format follows the file extension.
type FileViewer struct {
	path   string
	width  vg.Length
	height vg.Length
	logger logging.Logger
}

// NewFileViewer returns a viewer that saves to path at the default canvas size.
func NewFileViewer(path string, logger logging.Logger) (*FileViewer, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !fileFormats[ext] {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q (want png, jpg, svg or pdf)", path)
	}
	return &FileViewer{path: path, width: DefaultWidth, height: DefaultHeight, logger: logger}, nil
}

// SetSize changes the canvas size plots are saved at.
func (v *FileViewer) SetSize(width, height vg.Length) {
	v.width = width
	v.height = height
}

// Path returns the file plots are saved to.
func (v *FileViewer) Path() string {
	return v.path
}

// Show saves p, replacing any previous plot.
func (v *FileViewer) Show(ctx context.Context, p *plot.Plot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Save(v.width, v.height, v.path); err != nil {
		return errors.Wrapf(err, "cannot save plot to %q", v.path)
	}
	v.logger.CInfow(ctx, "saved depth plot", "path", v.path)
	return nil
}
