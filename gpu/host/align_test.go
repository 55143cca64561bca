package host

import (
	"testing"

	"github.com/gomlx/gpushare/gpu"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(0), alignUp(0, 64))
	require.Equal(t, uint64(64), alignUp(1, 64))
	require.Equal(t, uint64(64), alignUp(64, 64))
	require.Equal(t, uint64(1024), alignUp(1000, 64))
	require.Equal(t, uint64(4096), alignUp(1000, 4096))
	require.Equal(t, uint64(0), alignUp(^uint64(0)-10, 64), "overflow")

	require.True(t, isPowerOfTwo(1))
	require.True(t, isPowerOfTwo(4096))
	require.False(t, isPowerOfTwo(0))
	require.False(t, isPowerOfTwo(48))
}

func TestParseOptions(t *testing.T) {
	cfg, err := parseOptions(nil)
	require.NoError(t, err)
	require.True(t, isPowerOfTwo(cfg.alignment))
	require.Equal(t, []gpu.HandleKind{gpu.HandleFD, gpu.HandleHostPtr}, cfg.handleKinds())
	require.Zero(t, cfg.memoryLimit)

	cfg, err = parseOptions(gpu.NamedValuesMap{
		OptionAlignment:     int64(64),
		OptionHandleHostPtr: false,
		OptionMemoryLimit:   int64(1 << 16),
		OptionDebug:         true,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(64), cfg.alignment)
	require.Equal(t, []gpu.HandleKind{gpu.HandleFD}, cfg.handleKinds())
	require.Equal(t, uint64(1<<16), cfg.memoryLimit)
	require.True(t, cfg.debug)

	for _, options := range []gpu.NamedValuesMap{
		{OptionAlignment: int64(48)},
		{OptionAlignment: int64(-64)},
		{OptionMemoryLimit: int64(-1)},
		{OptionHandleFD: "yes"},
	} {
		_, err = parseOptions(options)
		require.Truef(t, gpu.IsKind(err, gpu.InvalidParams), "options %v: expected InvalidParams, got %v", options, err)
	}
}

func TestRegistered(t *testing.T) {
	backend, err := gpu.GetBackend(BackendName)
	require.NoError(t, err)
	require.Equal(t, BackendName, backend.Name())
	require.Contains(t, gpu.AvailableBackends(), BackendName)
}
