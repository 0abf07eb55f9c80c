// Package viewer contains sinks that display depth plots: files on disk and a small HTTP server
// that stays up until its context is done.
package viewer

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"go.viam.com/depthcam/logging"
)

// Default plot canvas size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

const shutdownTimeout = 5 * time.Second

func render(p *plot.Plot, width, height vg.Length, format string) ([]byte, error) {
	wt, err := p.WriterTo(width, height, format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Serve serves handler on lis until ctx is done, then shuts the server down.
func Serve(ctx context.Context, lis net.Listener, handler http.Handler, logger logging.Logger) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	wg.Add(1)
	goutils.PanicCapturingGo(func() {
		defer wg.Done()
		err := httpServer.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		logger.Errorw("error serving http", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Errorw("error shutting down", "error", shutdownErr)
		err = multierr.Combine(err, shutdownErr)
	}
	wg.Wait()
	return err
}
