// Package host implements a gpu backend on top of host memory, and registers it with the name "host".
//
// To use it simply import with:
//
//	import _ "github.com/gomlx/gpushare/gpu/host"
//
// And calls to gpu.NewContext("host", options) will use it.
//
// On linux resources are backed by anonymous memory files (memfd), mapped shared into the process: they can be
// exported as file descriptors (gpu.HandleFD) that other contexts or processes can import, or as host pointers
// (gpu.HandleHostPtr) for other contexts in the same process. On other platforms creating a context fails with an
// InitializationFailure error, and callers are expected to skip.
//
// Options (see gpu.NamedValuesMap):
//
//   - "alignment" (int64): allocations are rounded up to a multiple of it. It must be a power of 2, defaults to the
//     page size.
//   - "handle_fd" (bool): whether resources can be exported as gpu.HandleFD. Defaults to true.
//   - "handle_host_ptr" (bool): whether resources can be exported as gpu.HandleHostPtr. Defaults to true.
//   - "memory_limit" (int64): maximum number of bytes allocated (not counting imports) by the context; 0 means
//     no limit.
//   - "debug" (bool): logs every allocation.
package host

import (
	"os"

	"github.com/gomlx/gpushare/gpu"
	"k8s.io/klog/v2"
)

// BackendName is the name under which the backend is registered.
const BackendName = "host"

// Option keys, see package documentation.
const (
	OptionAlignment     = "alignment"
	OptionHandleFD      = "handle_fd"
	OptionHandleHostPtr = "handle_host_ptr"
	OptionMemoryLimit   = "memory_limit"
	OptionDebug         = "debug"
)

// MaxTextureDimension is the largest width, height or depth of textures.
const MaxTextureDimension = 16384

func init() {
	err := gpu.RegisterBackend(BackendName, Driver{})
	if err != nil {
		klog.Fatalf("Failed to register %q backend (github.com/gomlx/gpushare/gpu/host): %+v", BackendName, err)
	}
}

// Driver implements gpu.Driver for host memory.
type Driver struct{}

// Open implements gpu.Driver.
func (Driver) Open(options gpu.NamedValuesMap) (gpu.Device, error) {
	cfg, err := parseOptions(options)
	if err != nil {
		return nil, err
	}
	return open(cfg)
}

// config holds the parsed options.
type config struct {
	alignment     uint64
	handleFD      bool
	handleHostPtr bool
	memoryLimit   uint64
	debug         bool
}

func parseOptions(options gpu.NamedValuesMap) (cfg config, err error) {
	alignment, err := options.Int64(OptionAlignment, int64(os.Getpagesize()))
	if err != nil {
		return
	}
	if alignment <= 0 || !isPowerOfTwo(uint64(alignment)) {
		err = gpu.NewError(gpu.InvalidParams, "option %q must be a positive power of 2, got %d", OptionAlignment, alignment)
		return
	}
	cfg.alignment = uint64(alignment)
	if cfg.handleFD, err = options.Bool(OptionHandleFD, true); err != nil {
		return
	}
	if cfg.handleHostPtr, err = options.Bool(OptionHandleHostPtr, true); err != nil {
		return
	}
	memoryLimit, err := options.Int64(OptionMemoryLimit, 0)
	if err != nil {
		return
	}
	if memoryLimit < 0 {
		err = gpu.NewError(gpu.InvalidParams, "option %q can't be negative, got %d", OptionMemoryLimit, memoryLimit)
		return
	}
	cfg.memoryLimit = uint64(memoryLimit)
	if cfg.debug, err = options.Bool(OptionDebug, false); err != nil {
		return
	}
	return cfg, nil
}

// handleKinds returns the handle kinds enabled by the configuration.
func (cfg config) handleKinds() []gpu.HandleKind {
	var kinds []gpu.HandleKind
	if cfg.handleFD {
		kinds = append(kinds, gpu.HandleFD)
	}
	if cfg.handleHostPtr {
		kinds = append(kinds, gpu.HandleHostPtr)
	}
	return kinds
}
