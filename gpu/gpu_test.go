package gpu

// Common initialization and testing tools for all test files.

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

// fakeAlignment is the granularity of the fake driver allocations.
const fakeAlignment = 256

// fullReport is the capability report of a fake device that supports everything.
func fullReport() CapabilityReport {
	return CapabilityReport{
		HandleKinds: []HandleKind{HandleHostPtr, HandleWin32KMT},
		BufferUsages: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage |
			gputypes.BufferUsageUniform | gputypes.BufferUsageVertex,
		TextureUsages: gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
			gputypes.TextureUsageTextureBinding,
		TextureFormats:      []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatR8Unorm},
		MaxBufferSize:       1 << 20,
		MaxTextureDimension: 1024,
		HostMapping:         true,
	}
}

// fakeDriver implements Driver, Device and Mapper in Go memory, and records the calls it receives.
//
// Only handle kinds that don't own OS handles (HandleHostPtr and HandleWin32KMT) should be used with it: the
// "OS handles" it exports are just ids of its memory blocks.
type fakeDriver struct {
	report CapabilityReport

	// Failure injection.
	openErr, queryErr, allocErr             error
	allocShrink, exportShrink, importShrink uint64

	mu       sync.Mutex
	calls    []string
	nextID   uintptr
	memories map[uintptr][]byte
	live     int
	closed   bool
}

type fakeAllocation struct {
	id   uintptr
	size uint64
}

func (a *fakeAllocation) Size() uint64 { return a.size }

func newFakeDriver(report CapabilityReport) *fakeDriver {
	return &fakeDriver{report: report, nextID: 0x1000, memories: make(map[uintptr][]byte)}
}

func (d *fakeDriver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

// countCalls returns how many calls were recorded for the method.
func (d *fakeDriver) countCalls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, call := range d.calls {
		if strings.HasPrefix(call, method+"(") {
			count++
		}
	}
	return count
}

func (d *fakeDriver) numLive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *fakeDriver) Open(options NamedValuesMap) (Device, error) {
	d.record("Open(%v)", options)
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d, nil
}

func (d *fakeDriver) Describe() DeviceInfo {
	return DeviceInfo{Name: "fake", Vendor: "tests", DriverVersion: "0.0"}
}

func (d *fakeDriver) QueryCapabilities() (CapabilityReport, error) {
	d.record("QueryCapabilities()")
	return d.report, d.queryErr
}

func (d *fakeDriver) Alloc(request AllocRequest) (Allocation, error) {
	d.record("Alloc(%s, %d, %s)", request.Kind, request.Size, request.HandleKind)
	if d.allocErr != nil {
		return nil, d.allocErr
	}
	size := (request.Size + fakeAlignment - 1) / fakeAlignment * fakeAlignment
	size -= d.allocShrink
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.memories[id] = make([]byte, size)
	d.live++
	return &fakeAllocation{id: id, size: size}, nil
}

func (d *fakeDriver) Export(allocation Allocation, kind HandleKind) (uintptr, uint64, error) {
	d.record("Export(%s)", kind)
	a := allocation.(*fakeAllocation)
	if !slices.Contains(d.report.HandleKinds, kind) {
		return 0, 0, errors.Errorf("fake driver doesn't export %s", kind)
	}
	return a.id, a.size - d.exportShrink, nil
}

func (d *fakeDriver) Import(osHandle uintptr, kind HandleKind, size uint64) (Allocation, error) {
	d.record("Import(%#x, %s, %d)", osHandle, kind, size)
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, found := d.memories[osHandle]
	if !found {
		return nil, errors.Errorf("unknown fake handle %#x", osHandle)
	}
	d.live++
	return &fakeAllocation{id: osHandle, size: uint64(len(mem)) - d.importShrink}, nil
}

func (d *fakeDriver) Map(allocation Allocation) ([]byte, error) {
	d.record("Map()")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memories[allocation.(*fakeAllocation).id], nil
}

func (d *fakeDriver) Free(allocation Allocation) error {
	d.record("Free(%#x)", allocation.(*fakeAllocation).id)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live--
	return nil
}

func (d *fakeDriver) Close() error {
	d.record("Close()")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// registerFake registers the driver under a name unique to the test, and unregisters it at the end of the test.
func registerFake(t *testing.T, driver *fakeDriver) *Backend {
	name := "fake-" + strings.ReplaceAll(t.Name(), "/", "-")
	require.NoError(t, RegisterBackend(name, driver))
	t.Cleanup(func() { unregisterBackend(name) })
	return capture(GetBackend(name)).Test(t)
}

// newFakeContext creates a context on a fake driver with the given capabilities, destroyed at the end of the test.
func newFakeContext(t *testing.T, report CapabilityReport) (*Context, *fakeDriver) {
	driver := newFakeDriver(report)
	backend := registerFake(t, driver)
	ctx := capture(backend.NewContext(nil)).Test(t)
	t.Cleanup(func() { require.NoError(t, ctx.Destroy()) })
	return ctx, driver
}
