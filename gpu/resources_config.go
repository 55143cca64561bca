package gpu

import (
	"github.com/gogpu/gputypes"
	"k8s.io/klog/v2"
)

// ResourceConfig is used to configure the creation (or import) of a Resource. It is created with Context.NewBuffer,
// Context.NewTexture, Context.ImportBuffer or Context.ImportTexture.
//
// At the end call ResourceConfig.Done to actually create the resource.
type ResourceConfig struct {
	ctx    *Context
	params ResourceParams
	data   []byte
	handle *Handle

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// NewBuffer returns a configuration to create a buffer. Configure at least its size with WithSize, or its contents
// with WithData, and then call Done.
//
// By default, buffers are created with DefaultBufferUsage, not exportable and not host-mapped.
func (c *Context) NewBuffer() *ResourceConfig {
	return &ResourceConfig{ctx: c, params: ResourceParams{Kind: KindBuffer, Usage: DefaultBufferUsage}}
}

// NewTexture returns a configuration to create a 2D texture of the given width and height, and format.
//
// By default, textures are created with DefaultTextureUsage, not exportable and not host-mapped.
func (c *Context) NewTexture(width, height int, format gputypes.TextureFormat) *ResourceConfig {
	b := &ResourceConfig{ctx: c, params: ResourceParams{
		Kind: KindTexture,
		Texture: TextureDesc{
			Dimension: gputypes.TextureDimension2D,
			Format:    format,
			Usage:     DefaultTextureUsage,
		},
	}}
	return b.WithTextureSize(width, height, 1)
}

// ImportBuffer returns a configuration to import a buffer from a handle, see Context.ImportHandle.
// By default, the imported buffer uses the whole handle size.
func (c *Context) ImportBuffer(h *Handle) *ResourceConfig {
	b := &ResourceConfig{ctx: c, handle: h, params: ResourceParams{Kind: KindBuffer, Usage: DefaultBufferUsage}}
	if h == nil {
		b.err = opErrorf("ImportBuffer", InvalidHandle, "nil handle")
	}
	return b
}

// ImportTexture returns a configuration to import a 2D texture from a handle, see Context.ImportHandle.
func (c *Context) ImportTexture(h *Handle, width, height int, format gputypes.TextureFormat) *ResourceConfig {
	b := c.NewTexture(width, height, format)
	b.handle = h
	if h == nil {
		b.err = opErrorf("ImportTexture", InvalidHandle, "nil handle")
	}
	return b
}

// WithSize configures the size in bytes of a buffer. It must be > 0.
func (b *ResourceConfig) WithSize(size int) *ResourceConfig {
	if b.err != nil {
		return b
	}
	if size <= 0 {
		b.err = opErrorf("WithSize", InvalidParams, "buffer size must be > 0, got %d", size)
		return b
	}
	if b.params.Kind != KindBuffer {
		b.err = opErrorf("WithSize", InvalidParams, "size of %s is derived from its extent, use WithTextureSize",
			b.params.Kind)
		return b
	}
	b.params.Size = uint64(size)
	return b
}

// WithUsage configures the usage of a buffer.
func (b *ResourceConfig) WithUsage(usage gputypes.BufferUsage) *ResourceConfig {
	if b.err != nil {
		return b
	}
	if b.params.Kind != KindBuffer {
		b.err = opErrorf("WithUsage", InvalidParams, "WithUsage is for buffers, use WithTextureUsage for %s",
			b.params.Kind)
		return b
	}
	b.params.Usage = usage
	return b
}

// WithTextureSize configures the extent of a texture. Depth must be 1 for 1D and 2D textures.
func (b *ResourceConfig) WithTextureSize(width, height, depth int) *ResourceConfig {
	if b.err != nil {
		return b
	}
	if b.params.Kind != KindTexture {
		b.err = opErrorf("WithTextureSize", InvalidParams, "%s has no texture extent, use WithSize", b.params.Kind)
		return b
	}
	if width <= 0 || height <= 0 || depth <= 0 {
		b.err = opErrorf("WithTextureSize", InvalidParams, "texture extent must be > 0, got %dx%dx%d",
			width, height, depth)
		return b
	}
	b.params.Texture.Size = gputypes.Extent3D{
		Width:              uint32(width),
		Height:             uint32(height),
		DepthOrArrayLayers: uint32(depth),
	}
	return b
}

// WithDimension configures the dimension of a texture (the default is 2D).
func (b *ResourceConfig) WithDimension(dimension gputypes.TextureDimension) *ResourceConfig {
	if b.err != nil {
		return b
	}
	b.params.Texture.Dimension = dimension
	return b
}

// WithFormat configures the format of a texture.
func (b *ResourceConfig) WithFormat(format gputypes.TextureFormat) *ResourceConfig {
	if b.err != nil {
		return b
	}
	b.params.Texture.Format = format
	return b
}

// WithTextureUsage configures the usage of a texture.
func (b *ResourceConfig) WithTextureUsage(usage gputypes.TextureUsage) *ResourceConfig {
	if b.err != nil {
		return b
	}
	if b.params.Kind != KindTexture {
		b.err = opErrorf("WithTextureUsage", InvalidParams, "WithTextureUsage is for textures, use WithUsage for %s",
			b.params.Kind)
		return b
	}
	b.params.Texture.Usage = usage
	return b
}

// Exportable configures the resource to be exportable as the given handle kind, see Resource.Export.
// It is ignored for imports: the imported resource takes the kind of the handle.
func (b *ResourceConfig) Exportable(kind HandleKind) *ResourceConfig {
	if b.err != nil {
		return b
	}
	if !kind.IsAHandleKind() {
		b.err = opErrorf("Exportable", InvalidParams, "invalid handle kind %s", kind)
		return b
	}
	b.params.HandleKind = kind
	return b
}

// HostMapped configures the resource to be accessible from the host, see Resource.Data.
func (b *ResourceConfig) HostMapped() *ResourceConfig {
	if b.err != nil {
		return b
	}
	b.params.HostMapped = true
	return b
}

// WithLabel configures a label, used for debugging.
func (b *ResourceConfig) WithLabel(label string) *ResourceConfig {
	if b.err != nil {
		return b
	}
	b.params.Label = label
	return b
}

// WithData configures the initial contents of the resource: it implies HostMapped, and for buffers whose
// size is not configured, it sets the size to len(data).
//
// The data is copied during Done, so it can be reused afterward.
func (b *ResourceConfig) WithData(data []byte) *ResourceConfig {
	if b.err != nil {
		return b
	}
	if len(data) == 0 {
		b.err = opErrorf("WithData", InvalidParams, "empty data")
		return b
	}
	b.data = data
	b.params.HostMapped = true
	if b.params.Kind == KindBuffer && b.params.Size == 0 && b.handle == nil {
		b.params.Size = uint64(len(data))
	}
	return b
}

// Params returns the parameters configured so far.
func (b *ResourceConfig) Params() ResourceParams {
	return b.params
}

// Done creates (or imports) the resource using the configuration.
func (b *ResourceConfig) Done() (*Resource, error) {
	if b.err != nil {
		// Return first error saved during configuration.
		return nil, countError("Done", b.err)
	}
	var r *Resource
	var err error
	if b.handle != nil {
		r, err = b.ctx.ImportHandle(b.handle, b.params)
	} else {
		r, err = b.ctx.CreateResource(b.params)
	}
	if err != nil {
		return nil, err
	}
	if len(b.data) > 0 {
		if err = r.FromHost(b.data); err != nil {
			desc := r.String()
			if destroyErr := r.Destroy(); destroyErr != nil {
				klog.Errorf("Failed to destroy %s after failing to copy its initial data: %v", desc, destroyErr)
			}
			return nil, err
		}
	}
	return r, nil
}
