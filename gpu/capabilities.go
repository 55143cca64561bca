package gpu

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/gputypes"
)

// CapabilityReport is what a backend Device reports about itself, see Device.QueryCapabilities.
type CapabilityReport struct {
	// HandleKinds the device can export memory as and import memory from.
	HandleKinds []HandleKind

	// BufferUsages and TextureUsages are the union of the usage flags supported.
	BufferUsages  gputypes.BufferUsage
	TextureUsages gputypes.TextureUsage

	// TextureFormats supported for textures. Leave empty if the device doesn't support textures.
	TextureFormats []gputypes.TextureFormat

	// MaxBufferSize in bytes; 0 means no limit.
	MaxBufferSize uint64

	// MaxTextureDimension is the maximum width, height or depth of a texture; 0 means no limit.
	MaxTextureDimension uint32

	// HostMapping is set if resources can be created host-mapped (see ResourceParams.HostMapped), and the
	// Device implements Mapper.
	HostMapping bool
}

// Capabilities is an immutable snapshot of what a Context's device supports, queried once when the context is
// created.
//
// Queries are pure functions, and it is safe to use it concurrently.
type Capabilities struct {
	handleKinds         uint64 // Bit set indexed by HandleKind.
	bufferUsages        gputypes.BufferUsage
	textureUsages       gputypes.TextureUsage
	formats             []gputypes.TextureFormat
	maxBufferSize       uint64
	maxTextureDimension uint32
	hostMapping         bool
}

// newCapabilities creates the immutable snapshot from the report of a device.
func newCapabilities(report CapabilityReport) *Capabilities {
	c := &Capabilities{
		bufferUsages:        report.BufferUsages,
		textureUsages:       report.TextureUsages,
		formats:             slices.Clone(report.TextureFormats),
		maxBufferSize:       report.MaxBufferSize,
		maxTextureDimension: report.MaxTextureDimension,
		hostMapping:         report.HostMapping,
	}
	for _, kind := range report.HandleKinds {
		if kind == HandleNone || !kind.IsAHandleKind() {
			continue
		}
		c.handleKinds |= 1 << uint(kind)
	}
	return c
}

// SupportsHandleKind returns whether resources can be exported as (and imported from) the given handle kind.
// HandleNone is always supported.
func (c *Capabilities) SupportsHandleKind(kind HandleKind) bool {
	if kind == HandleNone {
		return true
	}
	if !kind.IsAHandleKind() {
		return false
	}
	return c.handleKinds&(1<<uint(kind)) != 0
}

// HandleKinds returns the list of supported handle kinds, not including HandleNone.
func (c *Capabilities) HandleKinds() []HandleKind {
	var kinds []HandleKind
	for _, kind := range HandleKindValues() {
		if kind != HandleNone && c.SupportsHandleKind(kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// SupportsBufferUsage returns whether all the flags in usage are supported for buffers.
func (c *Capabilities) SupportsBufferUsage(usage gputypes.BufferUsage) bool {
	return usage != 0 && c.bufferUsages&usage == usage
}

// SupportsTextureUsage returns whether all the flags in usage are supported for textures.
func (c *Capabilities) SupportsTextureUsage(usage gputypes.TextureUsage) bool {
	return usage != 0 && c.textureUsages&usage == usage
}

// SupportsFormat returns whether textures can be created with the given format.
func (c *Capabilities) SupportsFormat(format gputypes.TextureFormat) bool {
	return slices.Contains(c.formats, format)
}

// SupportsTextures returns whether the device supports textures at all.
func (c *Capabilities) SupportsTextures() bool {
	return len(c.formats) > 0 && c.textureUsages != 0
}

// SupportsHostMapping returns whether resources can be created host-mapped.
func (c *Capabilities) SupportsHostMapping() bool {
	return c.hostMapping
}

// MaxBufferSize returns the maximum size of a buffer in bytes, or 0 if there is no limit.
func (c *Capabilities) MaxBufferSize() uint64 {
	return c.maxBufferSize
}

// MaxTextureDimension returns the maximum width, height or depth of a texture, or 0 if there is no limit.
func (c *Capabilities) MaxTextureDimension() uint32 {
	return c.maxTextureDimension
}

// String implements fmt.Stringer.
func (c *Capabilities) String() string {
	var handles []string
	for _, kind := range c.HandleKinds() {
		handles = append(handles, kind.String())
	}
	return fmt.Sprintf("Capabilities[handles={%s}, bufferUsages=%#x, textureUsages=%#x, formats=%d, hostMapping=%v]",
		strings.Join(handles, ","), uint64(c.bufferUsages), uint64(c.textureUsages), len(c.formats), c.hostMapping)
}
