package depthsensor

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

type nopDriver struct{}

func (nopDriver) OpenAny(ctx context.Context) (Device, error) {
	return nil, ErrNoDevice
}

func (nopDriver) OpenFile(ctx context.Context, path string) (Device, error) {
	return nil, ErrNoDevice
}

func (nopDriver) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

type hookCounter struct {
	mu        sync.Mutex
	inits     int
	shutdowns int
	initErr   error
}

func (hc *hookCounter) registration() Registration {
	return Registration{
		Constructor: func(ctx context.Context, attrs utils.AttributeMap, logger logging.Logger) (Driver, error) {
			if attrs.Has("broken") {
				return nil, errors.New("broken attribute")
			}
			return nopDriver{}, nil
		},
		Initialize: func(ctx context.Context, logger logging.Logger) error {
			hc.mu.Lock()
			defer hc.mu.Unlock()
			if hc.initErr != nil {
				return hc.initErr
			}
			hc.inits++
			return nil
		},
		Shutdown: func(ctx context.Context) error {
			hc.mu.Lock()
			defer hc.mu.Unlock()
			hc.shutdowns++
			return nil
		},
	}
}

func (hc *hookCounter) counts() (int, int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.inits, hc.shutdowns
}

func registerForTest(t *testing.T, name string, reg Registration) {
	t.Helper()
	RegisterDriver(name, reg)
	t.Cleanup(func() {
		deregisterDriver(name)
	})
}

func TestRegisterDriver(t *testing.T) {
	hc := &hookCounter{}
	registerForTest(t, "test_register", hc.registration())

	reg, ok := LookupDriver("test_register")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, reg.Constructor, test.ShouldNotBeNil)
	test.That(t, RegisteredDrivers(), test.ShouldContain, "test_register")

	_, ok = LookupDriver("test_missing")
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, func() { RegisterDriver("test_register", hc.registration()) }, test.ShouldPanic)
	test.That(t, func() { RegisterDriver("test_nil", Registration{}) }, test.ShouldPanic)

	logger := logging.NewTestLogger(t)
	drv, err := NewDriver(context.Background(), "test_register", nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = drv.OpenAny(context.Background())
	test.That(t, errors.Is(err, ErrNoDevice), test.ShouldBeTrue)

	_, err = NewDriver(context.Background(), "test_register", utils.AttributeMap{"broken": true}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "broken attribute")

	_, err = NewDriver(context.Background(), "test_missing", nil, logger)
	test.That(t, errors.Is(err, ErrDriverUnavailable), test.ShouldBeTrue)
}

func TestRegisteredDriversSorted(t *testing.T) {
	hc := &hookCounter{}
	registerForTest(t, "test_sorted_b", hc.registration())
	registerForTest(t, "test_sorted_a", hc.registration())

	names := RegisteredDrivers()
	var idxA, idxB int
	for i, name := range names {
		switch name {
		case "test_sorted_a":
			idxA = i
		case "test_sorted_b":
			idxB = i
		}
	}
	test.That(t, idxA, test.ShouldBeLessThan, idxB)
}

func TestRuntimeRefCounting(t *testing.T) {
	ctx := context.Background()
	hc := &hookCounter{}
	registerForTest(t, "test_runtime", hc.registration())
	rt := NewRuntime(logging.NewTestLogger(t))

	release1, err := rt.Acquire(ctx, "test_runtime")
	test.That(t, err, test.ShouldBeNil)
	release2, err := rt.Acquire(ctx, "test_runtime")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rt.Refs("test_runtime"), test.ShouldEqual, 2)
	inits, shutdowns := hc.counts()
	test.That(t, inits, test.ShouldEqual, 1)
	test.That(t, shutdowns, test.ShouldEqual, 0)

	test.That(t, release1(ctx), test.ShouldBeNil)
	// releasing twice does not steal the other reference
	test.That(t, release1(ctx), test.ShouldBeNil)
	test.That(t, rt.Refs("test_runtime"), test.ShouldEqual, 1)
	_, shutdowns = hc.counts()
	test.That(t, shutdowns, test.ShouldEqual, 0)

	test.That(t, release2(ctx), test.ShouldBeNil)
	test.That(t, rt.Refs("test_runtime"), test.ShouldEqual, 0)
	inits, shutdowns = hc.counts()
	test.That(t, inits, test.ShouldEqual, 1)
	test.That(t, shutdowns, test.ShouldEqual, 1)

	// a fresh reference initializes again
	release3, err := rt.Acquire(ctx, "test_runtime")
	test.That(t, err, test.ShouldBeNil)
	inits, _ = hc.counts()
	test.That(t, inits, test.ShouldEqual, 2)
	test.That(t, release3(ctx), test.ShouldBeNil)
}

func TestRuntimeConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	hc := &hookCounter{}
	registerForTest(t, "test_runtime_concurrent", hc.registration())
	rt := NewRuntime(logging.NewTestLogger(t))

	var wg sync.WaitGroup
	releases := make([]ReleaseFunc, 16)
	for i := range releases {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := rt.Acquire(ctx, "test_runtime_concurrent")
			if err == nil {
				releases[i] = release
			}
		}(i)
	}
	wg.Wait()
	test.That(t, rt.Refs("test_runtime_concurrent"), test.ShouldEqual, 16)

	for _, release := range releases {
		wg.Add(1)
		go func(release ReleaseFunc) {
			defer wg.Done()
			release(ctx)
		}(release)
	}
	wg.Wait()
	inits, shutdowns := hc.counts()
	test.That(t, inits, test.ShouldEqual, 1)
	test.That(t, shutdowns, test.ShouldEqual, 1)
}

func TestRuntimeInitializeFailure(t *testing.T) {
	ctx := context.Background()
	hc := &hookCounter{initErr: errors.Wrap(ErrDriverUnavailable, "libfake.so not found")}
	registerForTest(t, "test_runtime_fail", hc.registration())
	rt := NewRuntime(logging.NewTestLogger(t))

	_, err := rt.Acquire(ctx, "test_runtime_fail")
	test.That(t, errors.Is(err, ErrDriverUnavailable), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "libfake.so")
	test.That(t, rt.Refs("test_runtime_fail"), test.ShouldEqual, 0)

	_, err = rt.Acquire(ctx, "test_runtime_unknown")
	test.That(t, errors.Is(err, ErrDriverUnavailable), test.ShouldBeTrue)

	_, err = Acquire(ctx, "test_runtime_unknown")
	test.That(t, errors.Is(err, ErrDriverUnavailable), test.ShouldBeTrue)
	test.That(t, Refs("test_runtime_unknown"), test.ShouldEqual, 0)
}
