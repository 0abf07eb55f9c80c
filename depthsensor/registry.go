package depthsensor

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

type (
	// A CreateDriver builds a driver from its attributes. It runs after Initialize succeeded.
	CreateDriver func(ctx context.Context, attrs utils.AttributeMap, logger logging.Logger) (Driver, error)

	// An InitializeFunc sets up a driver's process-wide native runtime.
	InitializeFunc func(ctx context.Context, logger logging.Logger) error

	// A ShutdownFunc tears down what InitializeFunc set up.
	ShutdownFunc func(ctx context.Context) error
)

// Registration stores a driver constructor (mandatory) and its runtime hooks (optional).
type Registration struct {
	Constructor CreateDriver
	Initialize  InitializeFunc
	Shutdown    ShutdownFunc
}

var (
	registryMu     sync.RWMutex
	driverRegistry = make(map[string]Registration)
)

// RegisterDriver registers a driver under name. It panics on duplicate names or a nil constructor.
func RegisterDriver(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := driverRegistry[name]; old {
		panic(errors.Errorf("trying to register two depth sensor drivers with the same name: %s", name))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for depth sensor driver: %s", name))
	}
	driverRegistry[name] = reg
}

// deregisterDriver is for tests registering throwaway drivers.
func deregisterDriver(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(driverRegistry, name)
}

// LookupDriver looks up a driver registration by name.
func LookupDriver(name string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := driverRegistry[name]
	return reg, ok
}

// RegisteredDrivers returns the sorted names of every driver built into this binary.
func RegisteredDrivers() []string {
	registryMu.RLock()
	names := lo.Keys(driverRegistry)
	registryMu.RUnlock()
	sort.Strings(names)
	return names
}

// NewDriver constructs the named driver. The caller must already hold a runtime reference for it.
func NewDriver(ctx context.Context, name string, attrs utils.AttributeMap, logger logging.Logger) (Driver, error) {
	reg, ok := LookupDriver(name)
	if !ok {
		return nil, unavailable(name)
	}
	drv, err := reg.Constructor(ctx, attrs, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot construct depth sensor driver %q", name)
	}
	return drv, nil
}

func unavailable(name string) error {
	return errors.Wrapf(ErrDriverUnavailable,
		"driver %q is not built in (have %v); native SDK drivers need their build tag and their library on the loader path (LD_LIBRARY_PATH)",
		name, RegisteredDrivers())
}
