package host

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gomlx/gpushare/gpu"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// device implements gpu.Device and gpu.Mapper with memfd files mapped shared in the process.
type device struct {
	cfg config

	// mu protects the fields below: Free may be called from resource cleanups.
	mu        sync.Mutex
	allocated uint64
	live      int
	closed    bool
}

// allocation is a memfd file mapped into the process.
type allocation struct {
	fd       int
	mem      []byte
	size     uint64
	label    string
	imported bool
	freed    bool
}

// Size implements gpu.Allocation.
func (a *allocation) Size() uint64 {
	return a.size
}

// addr returns the host address of the mapping.
func (a *allocation) addr() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(a.mem)))
}

// String implements fmt.Stringer.
func (a *allocation) String() string {
	return fmt.Sprintf("memfd(fd=%d, size=%d, label=%q, imported=%v)", a.fd, a.size, a.label, a.imported)
}

var (
	// liveMappings maps the host address of every live allocation (of any device) to it, so host pointers exported
	// by one context can be imported by another. Protected by muMappings.
	liveMappings = make(map[uintptr]*allocation)
	muMappings   sync.Mutex
)

func registerMapping(a *allocation) {
	muMappings.Lock()
	defer muMappings.Unlock()
	liveMappings[a.addr()] = a
}

func unregisterMapping(a *allocation) {
	muMappings.Lock()
	defer muMappings.Unlock()
	delete(liveMappings, a.addr())
}

// dupMappingFD returns a duplicate of the file descriptor backing the live allocation that starts at addr.
func dupMappingFD(addr uintptr) (int, error) {
	muMappings.Lock()
	defer muMappings.Unlock()
	a, found := liveMappings[addr]
	if !found {
		return -1, gpu.NewError(gpu.InvalidHandle, "host pointer %#x is not the start of a live host allocation", addr)
	}
	fd, err := unix.FcntlInt(uintptr(a.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrapf(err, "failed to duplicate file descriptor of %s", a)
	}
	return fd, nil
}

func open(cfg config) (gpu.Device, error) {
	// Check that memfd is available, e.g.: it may be blocked by seccomp in some sandboxes.
	fd, err := unix.MemfdCreate("gpushare-probe", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, gpu.NewError(gpu.InitializationFailure, "memfd_create not available: %v", err)
	}
	if err = unix.Close(fd); err != nil {
		klog.Errorf("Failed to close memfd probe: %v", err)
	}
	d := &device{cfg: cfg}
	klog.V(1).Infof("opened host device: %s", d.Describe().DebugString)
	return d, nil
}

// Describe implements gpu.Device.
func (d *device) Describe() gpu.DeviceInfo {
	return gpu.DeviceInfo{
		Name:          "host memory",
		Vendor:        "gpushare",
		DriverVersion: runtime.Version(),
		DebugString: fmt.Sprintf("host memory (memfd) on %s/%s, alignment=%d, memory_limit=%d, handles=%v",
			runtime.GOOS, runtime.GOARCH, d.cfg.alignment, d.cfg.memoryLimit, d.cfg.handleKinds()),
	}
}

// QueryCapabilities implements gpu.Device.
func (d *device) QueryCapabilities() (gpu.CapabilityReport, error) {
	if d.isClosed() {
		return gpu.CapabilityReport{}, errors.New("host device already closed")
	}
	return gpu.CapabilityReport{
		HandleKinds: d.cfg.handleKinds(),
		BufferUsages: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
			gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite |
			gputypes.BufferUsageStorage | gputypes.BufferUsageUniform | gputypes.BufferUsageVertex,
		TextureUsages: gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
			gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment,
		TextureFormats: []gputypes.TextureFormat{
			gputypes.TextureFormatRGBA8Unorm,
			gputypes.TextureFormatBGRA8Unorm,
			gputypes.TextureFormatR8Unorm,
		},
		MaxBufferSize:       d.cfg.memoryLimit,
		MaxTextureDimension: MaxTextureDimension,
		HostMapping:         true,
	}, nil
}

func (d *device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// reserve accounts size bytes against the memory limit.
func (d *device) reserve(size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("host device already closed")
	}
	if d.cfg.memoryLimit > 0 && d.allocated+size > d.cfg.memoryLimit {
		return gpu.NewError(gpu.OutOfMemory, "allocating %d bytes would exceed the memory limit (%d of %d bytes in use)",
			size, d.allocated, d.cfg.memoryLimit)
	}
	d.allocated += size
	d.live++
	return nil
}

func (d *device) release(size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocated -= size
	d.live--
}

// Alloc implements gpu.Device.
func (d *device) Alloc(request gpu.AllocRequest) (gpu.Allocation, error) {
	size := alignUp(request.Size, d.cfg.alignment)
	if size == 0 {
		return nil, gpu.NewError(gpu.InvalidParams, "can't allocate %d bytes", request.Size)
	}
	if err := d.reserve(size); err != nil {
		return nil, err
	}
	// The label is not used as the memfd name: it may hold characters the kernel rejects.
	name := "gpushare-" + request.Kind.String()
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		d.release(size)
		return nil, errors.Wrapf(err, "memfd_create(%q) failed", name)
	}
	if err = unix.Ftruncate(fd, int64(size)); err != nil {
		d.release(size)
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "failed to resize memfd to %d bytes", size)
	}
	a, err := mapFD(fd, size)
	if err != nil {
		d.release(size)
		_ = unix.Close(fd)
		return nil, err
	}
	a.label = request.Label
	registerMapping(a)
	if d.cfg.debug {
		klog.Infof("host: allocated %s for %s of %d bytes", a, request.Kind, request.Size)
	}
	return a, nil
}

// mapFD maps size bytes of the file fd. The returned allocation owns fd.
func mapFD(fd int, size uint64) (*allocation, error) {
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes of fd %d", size, fd)
	}
	return &allocation{fd: fd, mem: mem, size: size}, nil
}

func (d *device) toAllocation(alloc gpu.Allocation) (*allocation, error) {
	a, ok := alloc.(*allocation)
	if !ok || a == nil {
		return nil, gpu.NewError(gpu.InvalidHandle, "allocation %v (%T) was not created by the host backend", alloc, alloc)
	}
	if a.freed {
		return nil, gpu.NewError(gpu.InvalidHandle, "%s already freed", a)
	}
	return a, nil
}

// Export implements gpu.Device.
func (d *device) Export(alloc gpu.Allocation, kind gpu.HandleKind) (uintptr, uint64, error) {
	a, err := d.toAllocation(alloc)
	if err != nil {
		return 0, 0, err
	}
	switch kind {
	case gpu.HandleFD:
		var stat unix.Stat_t
		if err = unix.Fstat(a.fd, &stat); err != nil {
			return 0, 0, errors.Wrapf(err, "fstat of %s failed", a)
		}
		fd, err := unix.FcntlInt(uintptr(a.fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "failed to duplicate file descriptor of %s", a)
		}
		return uintptr(fd), uint64(stat.Size), nil
	case gpu.HandleHostPtr:
		return a.addr(), a.size, nil
	default:
		return 0, 0, gpu.NewError(gpu.UnsupportedCapability, "host backend can't export handles of kind %s", kind)
	}
}

// Import implements gpu.Device.
func (d *device) Import(osHandle uintptr, kind gpu.HandleKind, size uint64) (gpu.Allocation, error) {
	if d.isClosed() {
		return nil, errors.New("host device already closed")
	}
	var fd int
	switch kind {
	case gpu.HandleFD:
		fd = int(osHandle)
	case gpu.HandleHostPtr:
		var err error
		if fd, err = dupMappingFD(osHandle); err != nil {
			return nil, err
		}
	default:
		return nil, gpu.NewError(gpu.UnsupportedCapability, "host backend can't import handles of kind %s", kind)
	}
	// closeOnError only closes file descriptors we own: an imported HandleFD is still owned by the caller on failure.
	closeOnError := func() {
		if kind == gpu.HandleHostPtr {
			_ = unix.Close(fd)
		}
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		closeOnError()
		return nil, gpu.NewError(gpu.InvalidHandle, "fstat of imported fd %d failed: %v", fd, err)
	}
	fileSize := uint64(stat.Size)
	if fileSize == 0 || fileSize < size {
		closeOnError()
		return nil, gpu.NewError(gpu.InvalidHandle, "imported fd %d holds %d bytes, %d required", fd, fileSize, size)
	}
	a, err := mapFD(fd, fileSize)
	if err != nil {
		closeOnError()
		return nil, err
	}
	a.imported = true
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
	registerMapping(a)
	if d.cfg.debug {
		klog.Infof("host: imported %s from %s handle", a, kind)
	}
	return a, nil
}

// Map implements gpu.Mapper.
func (d *device) Map(alloc gpu.Allocation) ([]byte, error) {
	a, err := d.toAllocation(alloc)
	if err != nil {
		return nil, err
	}
	return a.mem, nil
}

// Free implements gpu.Device.
func (d *device) Free(alloc gpu.Allocation) error {
	a, err := d.toAllocation(alloc)
	if err != nil {
		return err
	}
	a.freed = true
	unregisterMapping(a)
	if a.imported {
		d.mu.Lock()
		d.live--
		d.mu.Unlock()
	} else {
		d.release(a.size)
	}
	var firstErr error
	if err = unix.Munmap(a.mem); err != nil {
		firstErr = errors.Wrapf(err, "failed to unmap %s", a)
	}
	if err = unix.Close(a.fd); err != nil && firstErr == nil {
		firstErr = errors.Wrapf(err, "failed to close %s", a)
	}
	if d.cfg.debug {
		klog.Infof("host: freed %s", a)
	}
	a.mem = nil
	return firstErr
}

// Close implements gpu.Device.
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.live != 0 {
		return errors.Errorf("host device closed with %d allocations (%d bytes) still alive", d.live, d.allocated)
	}
	return nil
}
