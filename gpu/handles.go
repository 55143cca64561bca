package gpu

import (
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

// HandleKind enumerates the kinds of OS-level handles a resource's memory can be exported as.
type HandleKind int

const (
	// HandleNone means no external handle: the resource can't be exported.
	HandleNone HandleKind = iota

	// HandleFD is a POSIX file descriptor (Vulkan's VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT).
	// Each export returns a new duplicated descriptor owned by the caller.
	HandleFD

	// HandleDMABuf is a Linux dma-buf file descriptor.
	HandleDMABuf

	// HandleWin32 is an NT handle, owned by the caller.
	HandleWin32

	// HandleWin32KMT is a global share (KMT) handle: it's a name, not a reference, so it is never closed.
	HandleWin32KMT

	// HandleHostPtr is a host virtual address aliasing the memory. It is only meaningful inside the
	// process that exported it, and doesn't own anything.
	HandleHostPtr
)

// ownsOSHandle returns whether handles of this kind hold an OS reference that must be released with Close.
func (k HandleKind) ownsOSHandle() bool {
	switch k {
	case HandleFD, HandleDMABuf, HandleWin32:
		return true
	default:
		return false
	}
}

// Handle is a portable reference to the memory backing a Resource.
//
// Only Kind, OSHandle and Size cross an API or process boundary (see MarshalBinary): Size is the backend's view
// of the backing allocation, and it is always >= the requested size of the exported resource.
//
// Handles are plain values with no shared state: they can be passed across goroutines freely. But a handle doesn't
// keep the exported Resource alive: the caller must make sure the exporting Resource is not destroyed while the
// memory is still being used through handles that alias it (for HandleFD handles the kernel keeps the memory
// alive, for HandleHostPtr handles it doesn't).
//
// A Handle owning an OS reference (HandleFD, HandleDMABuf, HandleWin32) must be released with Close, unless it is
// consumed by Context.ImportHandle, in which case ownership moves to the imported Resource.
type Handle struct {
	Kind     HandleKind
	OSHandle uintptr
	Size     uint64

	// consumed is set when the handle is closed or imported.
	consumed bool
}

// IsValid returns whether the handle can still be imported.
func (h *Handle) IsValid() bool {
	return h != nil && h.Kind != HandleNone && !h.consumed
}

// Close releases the OS handle, if the handle owns one. It is a no-op for handles already closed or consumed by
// an import.
func (h *Handle) Close() error {
	if h == nil || h.consumed {
		return nil
	}
	h.consumed = true
	if !h.Kind.ownsOSHandle() {
		return nil
	}
	klog.V(2).Infof("closing %s", h)
	if err := closeOSHandle(h.Kind, h.OSHandle); err != nil {
		return errors.WithMessagef(err, "failed to close %s", h)
	}
	return nil
}

// consume marks the handle as used by an import: ownership of the OS handle moved elsewhere.
func (h *Handle) consume() {
	h.consumed = true
}

// String implements fmt.Stringer.
func (h *Handle) String() string {
	if h == nil {
		return "Handle(nil)"
	}
	state := ""
	if h.consumed {
		state = ", consumed"
	}
	return fmt.Sprintf("Handle[%s=%#x, size=%d%s]", h.Kind, h.OSHandle, h.Size, state)
}

// Field numbers of the handle wire shape.
const (
	handleFieldKind     protowire.Number = 1
	handleFieldOSHandle protowire.Number = 2
	handleFieldSize     protowire.Number = 3
)

// MarshalBinary encodes the handle wire shape (kind, OS handle and size) using the protobuf wire format.
//
// Notice that for handles owning an OS reference the integer value alone is not enough to transfer the handle to
// another process: see SendHandle.
func (h *Handle) MarshalBinary() ([]byte, error) {
	if !h.IsValid() {
		return nil, opErrorf("MarshalBinary", InvalidHandle, "can't marshal %s", h)
	}
	var b []byte
	b = protowire.AppendTag(b, handleFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Kind))
	b = protowire.AppendTag(b, handleFieldOSHandle, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.OSHandle))
	b = protowire.AppendTag(b, handleFieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, h.Size)
	return b, nil
}

// UnmarshalHandle decodes a handle encoded with Handle.MarshalBinary. Unknown fields are ignored.
func UnmarshalHandle(data []byte) (*Handle, error) {
	const op = "UnmarshalHandle"
	h := &Handle{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, wrapError(op, InvalidHandle, protowire.ParseError(n), "malformed handle tag")
		}
		data = data[n:]
		if typ != protowire.VarintType || num < handleFieldKind || num > handleFieldSize {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, wrapError(op, InvalidHandle, protowire.ParseError(n), "malformed handle field %d", num)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, wrapError(op, InvalidHandle, protowire.ParseError(n), "malformed handle field %d", num)
		}
		data = data[n:]
		switch num {
		case handleFieldKind:
			h.Kind = HandleKind(v)
		case handleFieldOSHandle:
			h.OSHandle = uintptr(v)
		case handleFieldSize:
			h.Size = v
		}
	}
	if h.Kind == HandleNone || !h.Kind.IsAHandleKind() {
		return nil, opErrorf(op, InvalidHandle, "invalid handle kind %s", h.Kind)
	}
	return h, nil
}
