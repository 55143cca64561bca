package gpu

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

const (
	// BackendEnv is the name of the environment variable that selects the default backend, see DefaultBackendName.
	BackendEnv = "GPUSHARE_BACKEND"

	// DefaultBackend is the backend used if BackendEnv is not set.
	DefaultBackend = "host"
)

var (
	// registeredBackends maps the (lower-case) names to the backends. Protected by muBackends.
	registeredBackends = make(map[string]*Backend)
	muBackends         sync.Mutex
)

// Backend is a registered backend driver, from which contexts are created.
//
// Backends are singletons per name (GetBackend returns a pointer to the same Backend if called with the same name).
type Backend struct {
	name   string
	driver Driver
}

// RegisterBackend registers a driver under the given name. Names are case-insensitive.
//
// It is usually called from the init function of the backend package, so the backend becomes available by
// simply importing it, e.g.:
//
//	import _ "github.com/gomlx/gpushare/gpu/host"
//
// It returns an InvalidParams error if the name is empty, the driver is nil, or the name is already registered.
func RegisterBackend(name string, driver Driver) error {
	const op = "RegisterBackend"
	key := strings.ToLower(name)
	if key == "" {
		return opErrorf(op, InvalidParams, "backend name can't be empty")
	}
	if driver == nil {
		return opErrorf(op, InvalidParams, "nil driver given for backend %q", name)
	}
	muBackends.Lock()
	defer muBackends.Unlock()
	if _, found := registeredBackends[key]; found {
		return opErrorf(op, InvalidParams, "backend %q already registered", name)
	}
	registeredBackends[key] = &Backend{name: name, driver: driver}
	klog.V(1).Infof("registered gpu backend %q", name)
	return nil
}

// GetBackend returns the backend registered with the given name (case-insensitive).
//
// If it is not registered it returns an InitializationFailure error: by convention the caller should consider the
// functionality unavailable (see IsUnavailable).
func GetBackend(name string) (*Backend, error) {
	muBackends.Lock()
	defer muBackends.Unlock()
	if backend, found := registeredBackends[strings.ToLower(name)]; found {
		return backend, nil
	}
	return nil, opErrorf("GetBackend", InitializationFailure, "backend %q not registered, available backends: %v "+
		"(backends are registered by importing their packages, e.g. github.com/gomlx/gpushare/gpu/host)",
		name, availableBackendsLocked())
}

// AvailableBackends returns the sorted names of the registered backends.
func AvailableBackends() []string {
	muBackends.Lock()
	defer muBackends.Unlock()
	return availableBackendsLocked()
}

func availableBackendsLocked() []string {
	names := make([]string, 0, len(registeredBackends))
	for _, backend := range registeredBackends {
		names = append(names, backend.name)
	}
	slices.Sort(names)
	return names
}

// DefaultBackendName returns the value of the environment variable GPUSHARE_BACKEND if set, or "host" otherwise.
func DefaultBackendName() string {
	if name := os.Getenv(BackendEnv); name != "" {
		return name
	}
	return DefaultBackend
}

// Name returns the name under which the backend was registered.
func (b *Backend) Name() string {
	return b.name
}

// String implements fmt.Stringer.
func (b *Backend) String() string {
	return fmt.Sprintf("gpu backend %q", b.name)
}

// NewContext opens the backend's device and creates a Context to manage its resources.
// The options (it can be left nil) are backend specific, see the documentation of the backends.
//
// Errors of kind InitializationFailure mean the backend or device is not available in this machine: callers
// should skip the functionality that depends on it.
func (b *Backend) NewContext(options NamedValuesMap) (*Context, error) {
	if err := options.validate(); err != nil {
		return nil, wrapError("NewContext", InvalidParams, err, "invalid options for %s", b)
	}
	return newContext(b, options)
}

// NewContext is a shortcut to GetBackend followed by Backend.NewContext.
func NewContext(backendName string, options NamedValuesMap) (*Context, error) {
	backend, err := GetBackend(backendName)
	if err != nil {
		return nil, err
	}
	return backend.NewContext(options)
}

// unregisterBackend is used by tests.
func unregisterBackend(name string) {
	muBackends.Lock()
	defer muBackends.Unlock()
	delete(registeredBackends, strings.ToLower(name))
}
