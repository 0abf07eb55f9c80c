package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/logging"
)

// A Watcher sends the config read from a file every time the file changes to something new and
// valid. Invalid edits are logged and skipped.
type Watcher struct {
	path    string
	last    *Config
	logger  logging.Logger
	fsw     *fsnotify.Watcher
	configs chan *Config

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewWatcher watches the config file at path. initial is the config already in use; a change
// only counts once the file parses to something different.
func NewWatcher(ctx context.Context, path string, initial *Config, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create config watcher")
	}
	path = filepath.Clean(path)
	// editors often replace a file instead of writing it, so watch the directory
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %q", path), fsw.Close())
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:    path,
		last:    initial,
		logger:  logger,
		fsw:     fsw,
		configs: make(chan *Config),
		cancel:  cancel,
	}
	w.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer w.workers.Done()
		w.watch(cancelCtx)
	})
	return w, nil
}

// Config returns the channel new configs arrive on.
func (w *Watcher) Config() <-chan *Config {
	return w.configs
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.CWarnw(ctx, "config watcher error", "error", err)
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Read(ctx, w.path, w.logger)
			if err != nil {
				w.logger.CErrorw(ctx, "cannot reload config", "path", w.path, "error", err)
				continue
			}
			if w.last != nil && reflect.DeepEqual(w.last, cfg) {
				continue
			}
			w.last = cfg
			select {
			case <-ctx.Done():
				return
			case w.configs <- cfg:
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.workers.Wait()
	return err
}
