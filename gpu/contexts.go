package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context owns the connection to one backend device, its Capabilities snapshot and all the resources created on
// it (which must not outlive it). Create it with Backend.NewContext or NewContext.
//
// A Context and its resources are not safe for concurrent mutation: callers must serialize resource creation,
// destruction, export and import on a given Context themselves. Capabilities can be read concurrently.
//
// Multiple contexts (of the same or different backends) can coexist in a process, each independently owning its
// resources: handles exported from one can be imported in another.
type Context struct {
	wrapper      *contextWrapper
	backend      *Backend
	capabilities *Capabilities
	device       DeviceInfo
}

// contextWrapper holds the state that requires clean up. It doesn't reference the Context, so it can be
// used by runtime.AddCleanup.
type contextWrapper struct {
	dev         Device
	backendName string

	// mu protects the fields below: resource cleanups run in a separate goroutine.
	mu        sync.Mutex
	resources map[*resourceWrapper]struct{}
	destroyed bool
}

// newContext is called by Backend.NewContext to open the device and create the Context.
func newContext(backend *Backend, options NamedValuesMap) (*Context, error) {
	const op = "NewContext"
	dev, err := backend.driver.Open(options)
	if err != nil {
		return nil, countError(op, wrapError(op, InitializationFailure, err, "failed to open device of %s", backend))
	}
	if dev == nil {
		return nil, countError(op, opErrorf(op, InitializationFailure, "%s returned no device", backend))
	}

	// Device introspection: failure is fatal to the construction of the context.
	report, err := dev.QueryCapabilities()
	if err != nil {
		if closeErr := dev.Close(); closeErr != nil {
			klog.Errorf("Failed to close device of %s after failed capabilities query: %v", backend, closeErr)
		}
		err = errors.WithStack(&Error{Kind: InitializationFailure, Op: op,
			Msg: fmt.Sprintf("failed to query capabilities of device of %s", backend), Err: err})
		return nil, countError(op, err)
	}

	c := &Context{
		wrapper: &contextWrapper{
			dev:         dev,
			backendName: backend.Name(),
			resources:   make(map[*resourceWrapper]struct{}),
		},
		backend:      backend,
		capabilities: newCapabilities(report),
		device:       dev.Describe(),
	}
	runtime.AddCleanup(c, func(wrapper *contextWrapper) {
		if err := wrapper.destroy(); err != nil {
			klog.Errorf("gpu.Context.Destroy failed: %v", err)
		}
	}, c.wrapper)
	klog.V(1).Infof("created %s: %s", c, c.capabilities)
	return c, nil
}

// Backend returns the Backend from which the Context was created.
func (c *Context) Backend() *Backend {
	return c.backend
}

// Capabilities returns the immutable capabilities snapshot of the device, queried when the context was created.
func (c *Context) Capabilities() *Capabilities {
	return c.capabilities
}

// Device returns the description of the device.
func (c *Context) Device() DeviceInfo {
	return c.device
}

// IsValid returns whether the context has not been destroyed yet.
func (c *Context) IsValid() bool {
	if c == nil || c.wrapper == nil {
		return false
	}
	c.wrapper.mu.Lock()
	defer c.wrapper.mu.Unlock()
	return !c.wrapper.destroyed
}

// NumResources returns the number of resources alive in the context.
func (c *Context) NumResources() int {
	if c == nil || c.wrapper == nil {
		return 0
	}
	c.wrapper.mu.Lock()
	defer c.wrapper.mu.Unlock()
	return len(c.wrapper.resources)
}

// Destroy the context: it destroys all resources still alive, closes the device, and the Context is no longer
// valid. Handles previously exported and resources imported in other contexts are not affected.
//
// It is idempotent, and automatically called if the Context is garbage collected.
func (c *Context) Destroy() error {
	if c == nil || c.wrapper == nil {
		return nil
	}
	return c.wrapper.destroy()
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	if !c.IsValid() {
		return "Invalid context"
	}
	return fmt.Sprintf("Context[backend=%q, device=%s, resources=%d]", c.backend.Name(), c.device, c.NumResources())
}

// checkValid returns an InvalidHandle error if the context has been destroyed.
func (c *Context) checkValid(op string) error {
	if !c.IsValid() {
		return opErrorf(op, InvalidHandle, "context is nil or has been destroyed")
	}
	return nil
}

// track registers a resource created in the context.
func (w *contextWrapper) track(r *resourceWrapper) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resources[r] = struct{}{}
}

// untrack removes a resource destroyed from the context.
func (w *contextWrapper) untrack(r *resourceWrapper) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.resources, r)
}

func (w *contextWrapper) destroy() error {
	w.mu.Lock()
	if w.destroyed {
		// Already destroyed, no-op.
		w.mu.Unlock()
		return nil
	}
	w.destroyed = true
	resources := make([]*resourceWrapper, 0, len(w.resources))
	for r := range w.resources {
		resources = append(resources, r)
	}
	w.mu.Unlock()

	var firstErr error
	if len(resources) > 0 {
		klog.V(1).Infof("destroying %d resources left alive in context of backend %q", len(resources), w.backendName)
	}
	for _, r := range resources {
		if err := r.destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.dev.Close(); err != nil && firstErr == nil {
		firstErr = wrapError("Destroy", UnknownError, err, "failed to close device of backend %q", w.backendName)
	}
	klog.V(1).Infof("destroyed context of backend %q", w.backendName)
	return firstErr
}
