package gpu

import (
	"k8s.io/klog/v2"
)

// Export returns a Handle of the kind the resource was created with (see ResourceParams.HandleKind).
//
// Each call returns an independent handle: handles owning an OS reference (e.g. HandleFD) are duplicated, and must
// be closed by the caller (or consumed by Context.ImportHandle). The reported Handle.Size is always >= Size().
//
// It returns a NotExportable error if the resource was created with HandleNone, and an InvalidHandle error if it
// has been destroyed.
func (r *Resource) Export() (*Handle, error) {
	const op = "Export"
	if err := r.checkValid(op); err != nil {
		return nil, countError(op, err)
	}
	kind := r.params.HandleKind
	if kind == HandleNone {
		return nil, countError(op, opErrorf(op, NotExportable, "%s was not created exportable", r))
	}
	osHandle, reportedSize, err := r.wrapper.dev.Export(r.wrapper.alloc, kind)
	if err != nil {
		return nil, countError(op, wrapError(op, InvalidHandle, err, "backend %q failed to export %s",
			r.wrapper.backendName, r))
	}
	h := &Handle{Kind: kind, OSHandle: osHandle, Size: reportedSize}
	if h.Size < r.params.Size {
		if closeErr := h.Close(); closeErr != nil {
			klog.Errorf("Failed to close rejected %s: %v", h, closeErr)
		}
		return nil, countError(op, opErrorf(op, InvalidHandle, "backend %q exported handle of %d bytes for %s",
			r.wrapper.backendName, reportedSize, r))
	}
	exportsCounter.WithLabelValues(r.wrapper.backendName, kind.String()).Inc()
	klog.V(2).Infof("exported %s as %s", r, h)
	return h, nil
}

// ImportHandle creates a Resource aliasing the memory referred by the handle, which may have been exported by
// another Context (of this or another process, see SendHandle).
//
// params describe how the memory is going to be used: params.HandleKind is ignored (it is set to the handle's kind),
// a zero params.Size means the whole handle size, and a zero params.Usage (for buffers) means DefaultBufferUsage.
// The size required by params can't exceed the handle's size.
//
// On success the handle is consumed: ownership of its OS reference moves to the returned Resource, and the handle
// can't be imported again. On failure the handle is left untouched, and the caller still owns it, with one
// exception: if the backend accepts the handle but reports a backing size smaller than required, ownership has
// already moved to the backend, so the handle is consumed (and its OS reference released) even though an
// InvalidHandle error is returned.
//
// Consider the more convenient Context.ImportBuffer and Context.ImportTexture.
func (c *Context) ImportHandle(h *Handle, params ResourceParams) (*Resource, error) {
	const op = "ImportHandle"
	if err := c.checkValid(op); err != nil {
		return nil, countError(op, err)
	}
	if !h.IsValid() {
		return nil, countError(op, opErrorf(op, InvalidHandle, "can't import %s", h))
	}
	if !h.Kind.IsAHandleKind() {
		return nil, countError(op, opErrorf(op, InvalidHandle, "can't import handle of unknown kind %s", h.Kind))
	}
	if !c.capabilities.SupportsHandleKind(h.Kind) {
		return nil, countError(op, opErrorf(op, UnsupportedCapability,
			"handle kind %s not supported by backend %q (supported: %v)", h.Kind, c.backend.Name(),
			c.capabilities.HandleKinds()))
	}

	params.HandleKind = h.Kind
	switch params.Kind {
	case KindTexture:
		params.Size = params.RequiredSize()
	default:
		if params.Size == 0 {
			params.Size = h.Size
		}
		if params.Usage == 0 {
			params.Usage = DefaultBufferUsage
		}
	}
	if err := params.Validate(); err != nil {
		return nil, countError(op, wrapError(op, InvalidParams, err, "invalid parameters to import %s", h))
	}
	if params.Size > h.Size {
		return nil, countError(op, opErrorf(op, InvalidParams, "%s requires %d bytes, but %s is smaller",
			params.Kind, params.Size, h))
	}
	if err := params.checkCapabilities(c.capabilities); err != nil {
		return nil, countError(op, wrapError(op, UnsupportedCapability, err, "can't import %s", h))
	}

	alloc, err := c.wrapper.dev.Import(h.OSHandle, h.Kind, params.Size)
	if err != nil {
		return nil, countError(op, wrapError(op, InvalidHandle, err, "backend %q failed to import %s",
			c.backend.Name(), h))
	}
	h.consume()
	if alloc.Size() < params.Size {
		// Ownership of the OS handle already moved to the allocation: freeing it releases the handle.
		c.freeRejected(alloc)
		return nil, countError(op, opErrorf(op, InvalidHandle, "backend %q imported %d bytes from %s",
			c.backend.Name(), alloc.Size(), h))
	}
	r := c.newResource(params, alloc, true)
	importsCounter.WithLabelValues(c.backend.Name(), h.Kind.String()).Inc()
	klog.V(2).Infof("imported %s from %s", r, h)
	return r, nil
}
