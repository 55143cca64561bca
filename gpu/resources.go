package gpu

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"k8s.io/klog/v2"
)

// ResourceKind is the kind of a Resource: a buffer or a texture.
type ResourceKind int

const (
	KindBuffer ResourceKind = iota
	KindTexture
)

// String implements fmt.Stringer.
func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindTexture:
		return "Texture"
	default:
		return fmt.Sprintf("ResourceKind(%d)", int(k))
	}
}

// DefaultBufferUsage is the usage of buffers created with Context.NewBuffer or imported with Context.ImportBuffer,
// if no other usage is configured: a transfer buffer.
const DefaultBufferUsage = gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// DefaultTextureUsage is the usage of textures created with Context.NewTexture, if no other usage is configured.
const DefaultTextureUsage = gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst

// TextureDesc describes the shape and usage of a texture.
type TextureDesc struct {
	Dimension gputypes.TextureDimension
	Size      gputypes.Extent3D
	Format    gputypes.TextureFormat
	Usage     gputypes.TextureUsage
}

// ResourceParams are the parameters used to create (or import) a Resource. It is a plain value, echoed by
// Resource.Params.
type ResourceParams struct {
	Kind ResourceKind

	// Size in bytes, it must be > 0 for buffers. For textures it is derived from the Texture description
	// (see RequiredSize). For imports 0 means the whole size of the handle.
	Size uint64

	// Usage of buffers, ignored for textures.
	Usage gputypes.BufferUsage

	// Texture description, ignored for buffers.
	Texture TextureDesc

	// HandleKind the resource can be exported as, or HandleNone. It is a creation-time property: a resource
	// created with HandleNone can never be exported.
	HandleKind HandleKind

	// HostMapped requests memory that can be accessed from the host with Resource.Data.
	HostMapped bool

	// Label for debugging.
	Label string
}

// texelSize returns the number of bytes per texel for the formats known to this package.
func texelSize(format gputypes.TextureFormat) (uint64, bool) {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1, true
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4, true
	default:
		return 0, false
	}
}

// RequiredSize returns the number of bytes required by the resource: Size for buffers, and
// width * height * depth * bytes-per-texel for textures. It returns 0 for textures of unknown formats, and for
// textures whose size doesn't fit in an uint64.
func (p ResourceParams) RequiredSize() uint64 {
	if p.Kind != KindTexture {
		return p.Size
	}
	texel, ok := texelSize(p.Texture.Format)
	if !ok {
		return 0
	}
	extent := p.Texture.Size
	size := texel
	for _, dim := range []uint32{extent.Width, extent.Height, extent.DepthOrArrayLayers} {
		hi, lo := bits.Mul64(size, uint64(dim))
		if hi != 0 {
			return 0
		}
		size = lo
	}
	return size
}

// Validate checks that the parameters are well-formed, independently of any device capabilities.
// It returns an InvalidParams error otherwise.
func (p ResourceParams) Validate() error {
	const op = "Validate"
	if !p.HandleKind.IsAHandleKind() {
		return opErrorf(op, InvalidParams, "invalid handle kind %s", p.HandleKind)
	}
	switch p.Kind {
	case KindBuffer:
		if p.Size == 0 {
			return opErrorf(op, InvalidParams, "buffer size must be > 0")
		}
		if p.Usage == 0 {
			return opErrorf(op, InvalidParams, "buffer usage can't be empty")
		}
	case KindTexture:
		desc := p.Texture
		extent := desc.Size
		if extent.Width == 0 || extent.Height == 0 || extent.DepthOrArrayLayers == 0 {
			return opErrorf(op, InvalidParams, "texture extent %dx%dx%d has a zero dimension",
				extent.Width, extent.Height, extent.DepthOrArrayLayers)
		}
		switch desc.Dimension {
		case gputypes.TextureDimension1D:
			if extent.Height != 1 || extent.DepthOrArrayLayers != 1 {
				return opErrorf(op, InvalidParams, "1D texture must have height and depth 1, got %dx%dx%d",
					extent.Width, extent.Height, extent.DepthOrArrayLayers)
			}
		case gputypes.TextureDimension2D:
			if extent.DepthOrArrayLayers != 1 {
				return opErrorf(op, InvalidParams, "2D texture must have depth 1, got %dx%dx%d",
					extent.Width, extent.Height, extent.DepthOrArrayLayers)
			}
		case gputypes.TextureDimension3D:
			// OK.
		default:
			return opErrorf(op, InvalidParams, "invalid texture dimension %v", desc.Dimension)
		}
		if _, ok := texelSize(desc.Format); !ok {
			return opErrorf(op, InvalidParams, "texture format %v not supported", desc.Format)
		}
		if p.RequiredSize() == 0 {
			return opErrorf(op, InvalidParams, "texture extent %dx%dx%d overflows the addressable size",
				extent.Width, extent.Height, extent.DepthOrArrayLayers)
		}
		if desc.Usage == 0 {
			return opErrorf(op, InvalidParams, "texture usage can't be empty")
		}
	default:
		return opErrorf(op, InvalidParams, "invalid resource kind %s", p.Kind)
	}
	return nil
}

// checkCapabilities returns an UnsupportedCapability error if the parameters require something the capabilities
// don't include, or an InvalidParams error if they exceed the device limits.
func (p ResourceParams) checkCapabilities(caps *Capabilities) error {
	const op = "CheckCapabilities"
	if !caps.SupportsHandleKind(p.HandleKind) {
		return opErrorf(op, UnsupportedCapability, "handle kind %s not supported by the device (supported: %v)",
			p.HandleKind, caps.HandleKinds())
	}
	if p.HostMapped && !caps.SupportsHostMapping() {
		return opErrorf(op, UnsupportedCapability, "host-mapped resources not supported by the device")
	}
	switch p.Kind {
	case KindBuffer:
		if !caps.SupportsBufferUsage(p.Usage) {
			return opErrorf(op, UnsupportedCapability, "buffer usage %#x not supported by the device", uint64(p.Usage))
		}
		if maxSize := caps.MaxBufferSize(); maxSize > 0 && p.Size > maxSize {
			return opErrorf(op, InvalidParams, "buffer size %d exceeds the device maximum of %d bytes", p.Size, maxSize)
		}
	case KindTexture:
		desc := p.Texture
		if !caps.SupportsFormat(desc.Format) {
			return opErrorf(op, UnsupportedCapability, "texture format %v not supported by the device", desc.Format)
		}
		if !caps.SupportsTextureUsage(desc.Usage) {
			return opErrorf(op, UnsupportedCapability, "texture usage %#x not supported by the device", uint64(desc.Usage))
		}
		if maxDim := caps.MaxTextureDimension(); maxDim > 0 &&
			(desc.Size.Width > maxDim || desc.Size.Height > maxDim || desc.Size.DepthOrArrayLayers > maxDim) {
			return opErrorf(op, InvalidParams, "texture extent %dx%dx%d exceeds the device maximum dimension %d",
				desc.Size.Width, desc.Size.Height, desc.Size.DepthOrArrayLayers, maxDim)
		}
	}
	return nil
}

// Resource is a buffer or texture: a backend allocation plus the parameters it was created with.
//
// It is owned by its creator until Destroy is called (or it is garbage collected). It must not outlive its
// Context: destroying the Context destroys all its resources.
type Resource struct {
	wrapper *resourceWrapper
	ctx     *Context
	params  ResourceParams
}

// resourceWrapper holds the state that requires clean up. It doesn't reference the Resource, so it can be
// used by runtime.AddCleanup.
type resourceWrapper struct {
	alloc       Allocation
	dev         Device
	owner       *contextWrapper
	backendName string
	kind        ResourceKind
	backingSize uint64
	imported    bool
	mapped      []byte // Cached host mapping, see Resource.Data.
	destroyed   atomic.Bool
}

var resourcesAlive atomic.Int64

// ResourcesAlive returns the number of resources, in all contexts, currently alive.
func ResourcesAlive() int64 {
	return resourcesAlive.Load()
}

// newResource creates the Resource for a successful allocation and registers it for freeing.
func (c *Context) newResource(params ResourceParams, alloc Allocation, imported bool) *Resource {
	r := &Resource{
		ctx:    c,
		params: params,
		wrapper: &resourceWrapper{
			alloc:       alloc,
			dev:         c.wrapper.dev,
			owner:       c.wrapper,
			backendName: c.wrapper.backendName,
			kind:        params.Kind,
			backingSize: alloc.Size(),
			imported:    imported,
		},
	}
	c.wrapper.track(r.wrapper)
	resourcesAlive.Add(1)
	resourcesAliveGauge.WithLabelValues(r.wrapper.backendName, params.Kind.String()).Inc()
	resourceBytesGauge.WithLabelValues(r.wrapper.backendName).Add(float64(r.wrapper.backingSize))

	runtime.AddCleanup(r, func(wrapper *resourceWrapper) {
		if err := wrapper.destroy(); err != nil {
			klog.Errorf("gpu.Resource.Destroy failed: %v", err)
		}
	}, r.wrapper)
	return r
}

func (w *resourceWrapper) isValid() bool {
	return w != nil && !w.destroyed.Load()
}

func (w *resourceWrapper) destroy() error {
	if w == nil || !w.destroyed.CompareAndSwap(false, true) {
		// Already destroyed, no-op.
		return nil
	}
	err := w.dev.Free(w.alloc)
	w.owner.untrack(w)
	w.alloc = nil
	w.mapped = nil
	resourcesAlive.Add(-1)
	resourcesAliveGauge.WithLabelValues(w.backendName, w.kind.String()).Dec()
	resourceBytesGauge.WithLabelValues(w.backendName).Sub(float64(w.backingSize))
	if err != nil {
		return countError("Destroy", wrapError("Destroy", UnknownError, err, "backend %q failed to free %s of %d bytes",
			w.backendName, w.kind, w.backingSize))
	}
	return nil
}

// CreateResource allocates a new buffer or texture.
//
// Parameters are validated (InvalidParams) and checked against the context Capabilities (UnsupportedCapability)
// before any backend allocation is attempted. If the allocation fails it returns an OutOfMemory error.
//
// If params.HandleKind is not HandleNone, the allocation is created exportable from the start, see Resource.Export.
//
// The returned resource's BackingSize is always >= the requested size: backends may round it up.
//
// Consider the more convenient Context.NewBuffer and Context.NewTexture.
func (c *Context) CreateResource(params ResourceParams) (*Resource, error) {
	const op = "CreateResource"
	if err := c.checkValid(op); err != nil {
		return nil, countError(op, err)
	}
	if params.Kind == KindTexture {
		params.Size = params.RequiredSize()
	}
	if err := params.Validate(); err != nil {
		return nil, countError(op, wrapError(op, InvalidParams, err, "invalid parameters for %s", params.Kind))
	}
	if err := params.checkCapabilities(c.capabilities); err != nil {
		return nil, countError(op, wrapError(op, UnsupportedCapability, err, "can't create %s", params.Kind))
	}

	alloc, err := c.wrapper.dev.Alloc(AllocRequest{
		Kind:        params.Kind,
		Size:        params.Size,
		BufferUsage: params.Usage,
		Texture:     params.Texture,
		HandleKind:  params.HandleKind,
		HostMapped:  params.HostMapped,
		Label:       params.Label,
	})
	if err != nil {
		return nil, countError(op, wrapError(op, OutOfMemory, err, "backend %q failed to allocate %s of %d bytes",
			c.backend.Name(), params.Kind, params.Size))
	}
	if alloc.Size() < params.Size {
		c.freeRejected(alloc)
		return nil, countError(op, opErrorf(op, OutOfMemory, "backend %q allocated %d bytes for %s of %d bytes",
			c.backend.Name(), alloc.Size(), params.Kind, params.Size))
	}
	r := c.newResource(params, alloc, false)
	klog.V(2).Infof("created %s", r)
	return r, nil
}

// freeRejected frees an allocation that didn't satisfy the postconditions. Errors are only logged.
func (c *Context) freeRejected(alloc Allocation) {
	if err := c.wrapper.dev.Free(alloc); err != nil {
		klog.Errorf("Failed to free rejected allocation of backend %q: %v", c.backend.Name(), err)
	}
}

// Destroy the Resource: the backend allocation is released, and the Resource is no longer valid.
// This is automatically called if the Resource is garbage collected. It is idempotent.
//
// Handles previously exported from the resource are independent values: they still need to be closed by their
// owners, and resources already imported from them in other contexts are not affected.
// It's the caller's responsibility to make sure all in-flight uses of exported handles are complete.
func (r *Resource) Destroy() error {
	if r == nil || !r.wrapper.isValid() {
		return nil
	}
	err := r.wrapper.destroy()
	klog.V(2).Infof("destroyed %s of %d bytes (backend %q)", r.params.Kind, r.wrapper.backingSize, r.wrapper.backendName)
	return err
}

// IsValid returns whether the resource has not been destroyed yet.
func (r *Resource) IsValid() bool {
	return r != nil && r.wrapper.isValid()
}

// checkValid returns an InvalidHandle error if the resource has been destroyed.
func (r *Resource) checkValid(op string) error {
	if !r.IsValid() {
		return opErrorf(op, InvalidHandle, "resource is nil or has been destroyed")
	}
	return nil
}

// Params returns the parameters the resource was created with.
// For textures Size is the one derived from the texture description.
func (r *Resource) Params() ResourceParams {
	return r.params
}

// Kind returns whether the resource is a buffer or a texture.
func (r *Resource) Kind() ResourceKind {
	return r.params.Kind
}

// Size returns the requested size in bytes.
func (r *Resource) Size() uint64 {
	return r.params.Size
}

// BackingSize returns the actual size of the backing allocation in bytes, always >= Size.
func (r *Resource) BackingSize() uint64 {
	return r.wrapper.backingSize
}

// HandleKind returns the kind of handle the resource can be exported as, or HandleNone.
func (r *Resource) HandleKind() HandleKind {
	return r.params.HandleKind
}

// Label returns the label given at creation.
func (r *Resource) Label() string {
	return r.params.Label
}

// IsImported returns whether the resource was created by importing a handle.
func (r *Resource) IsImported() bool {
	return r.wrapper.imported
}

// Context returns the context that owns the resource.
func (r *Resource) Context() *Context {
	return r.ctx
}

// String implements fmt.Stringer.
func (r *Resource) String() string {
	if !r.IsValid() {
		return "Invalid resource"
	}
	var label, imported string
	if r.params.Label != "" {
		label = fmt.Sprintf("%q, ", r.params.Label)
	}
	if r.wrapper.imported {
		imported = ", imported"
	}
	return fmt.Sprintf("%s[%ssize=%d, backing=%d, handle=%s%s]", r.params.Kind, label, r.params.Size,
		r.wrapper.backingSize, r.params.HandleKind, imported)
}
