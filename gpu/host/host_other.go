//go:build !linux

package host

import (
	"runtime"

	"github.com/gomlx/gpushare/gpu"
)

func open(_ config) (gpu.Device, error) {
	return nil, gpu.NewError(gpu.InitializationFailure, "host backend requires memfd (linux), not available on %s",
		runtime.GOOS)
}
