package depthsensor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/depthcam/logging"
)

// ReleaseFunc gives back a runtime reference. Calling it more than once is a no-op.
type ReleaseFunc func(ctx context.Context) error

// Runtime reference counts each driver's native runtime. The first Acquire of a driver runs its
// Initialize hook and the last release runs its Shutdown hook.
type Runtime struct {
	mu     sync.Mutex
	logger logging.Logger
	refs   map[string]int
}

// NewRuntime returns a runtime with no drivers initialized.
func NewRuntime(logger logging.Logger) *Runtime {
	return &Runtime{logger: logger, refs: make(map[string]int)}
}

var defaultRuntime = NewRuntime(logging.NewLogger("depthcam.runtime"))

// DefaultRuntime returns the process-wide runtime used by Acquire and Refs.
func DefaultRuntime() *Runtime {
	return defaultRuntime
}

// Acquire takes a reference on the named driver's runtime in the default runtime.
func Acquire(ctx context.Context, name string) (ReleaseFunc, error) {
	return defaultRuntime.Acquire(ctx, name)
}

// Refs returns the number of outstanding references on the named driver in the default runtime.
func Refs(name string) int {
	return defaultRuntime.Refs(name)
}

// Acquire takes a reference on the named driver's runtime, initializing it if this is the first.
func (rt *Runtime) Acquire(ctx context.Context, name string) (ReleaseFunc, error) {
	reg, ok := LookupDriver(name)
	if !ok {
		return nil, unavailable(name)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.refs[name] == 0 && reg.Initialize != nil {
		if err := reg.Initialize(ctx, rt.logger.Sublogger(name)); err != nil {
			return nil, errors.Wrapf(err, "cannot initialize depth sensor driver %q", name)
		}
		rt.logger.Debugw("initialized depth sensor runtime", "driver", name)
	}
	rt.refs[name]++

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			err = rt.release(ctx, name, reg)
		})
		return err
	}, nil
}

func (rt *Runtime) release(ctx context.Context, name string, reg Registration) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.refs[name]--
	if rt.refs[name] > 0 {
		return nil
	}
	delete(rt.refs, name)
	if reg.Shutdown == nil {
		return nil
	}
	rt.logger.Debugw("shutting down depth sensor runtime", "driver", name)
	return errors.Wrapf(reg.Shutdown(ctx), "cannot shut down depth sensor driver %q", name)
}

// Refs returns the number of outstanding references on the named driver.
func (rt *Runtime) Refs(name string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.refs[name]
}
