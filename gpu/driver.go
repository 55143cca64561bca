package gpu

import (
	"github.com/gogpu/gputypes"
)

// Driver is implemented by backends (Vulkan, D3D, host memory, ...), and registered with RegisterBackend.
//
// The Driver and Device interfaces are the only calls this package makes into a backend.
type Driver interface {
	// Open connects to the backend and opens its device. The options are backend specific.
	//
	// If the backend or a compatible device is not available on this machine, it should return an error created
	// with NewError(InitializationFailure, ...).
	Open(options NamedValuesMap) (Device, error)
}

// Device is an opened backend device. It is owned by one Context.
//
// Device methods are only called with the Context serialization described in the package documentation: a
// Device doesn't need to be safe for concurrent use, except for Free (called from resource cleanups).
type Device interface {
	// Describe returns the description of the device.
	Describe() DeviceInfo

	// QueryCapabilities introspects the device. It is called once when the Context is created.
	QueryCapabilities() (CapabilityReport, error)

	// Alloc allocates memory of at least request.Size bytes, with the export flags for request.HandleKind
	// (if not HandleNone) set at creation time.
	Alloc(request AllocRequest) (Allocation, error)

	// Export returns an OS handle of the given kind for the allocation, and the size of the backing memory as
	// seen by the device. Handles that own an OS reference are duplicated on every call: ownership goes to the
	// caller.
	Export(allocation Allocation, kind HandleKind) (osHandle uintptr, reportedSize uint64, err error)

	// Import creates an allocation aliasing the memory referred by osHandle, of which at least size bytes will be
	// used. On success, ownership of osHandle (if the kind owns one) moves to the allocation, and it should be
	// released by Free.
	Import(osHandle uintptr, kind HandleKind, size uint64) (Allocation, error)

	// Free releases the allocation.
	Free(allocation Allocation) error

	// Close releases the device.
	Close() error
}

// Mapper is optionally implemented by a Device whose memory can be mapped into the host address space.
type Mapper interface {
	// Map returns the host view of the allocation. It is valid until the allocation is freed.
	Map(allocation Allocation) ([]byte, error)
}

// Allocation is a backend-native allocation.
type Allocation interface {
	// Size of the backing memory, after rounding up to the backend's alignment requirements.
	Size() uint64
}

// AllocRequest is the request passed to Device.Alloc.
type AllocRequest struct {
	Kind ResourceKind

	// Size is the minimum number of bytes requested.
	Size uint64

	// BufferUsage is set for buffers.
	BufferUsage gputypes.BufferUsage

	// Texture is set for textures.
	Texture TextureDesc

	// HandleKind the allocation must be exportable as, or HandleNone.
	HandleKind HandleKind

	// HostMapped requests memory that can be mapped with Mapper.Map.
	HostMapped bool

	// Label for debugging.
	Label string
}
