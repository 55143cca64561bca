//go:build windows

package gpu

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func closeOSHandle(kind HandleKind, osHandle uintptr) error {
	switch kind {
	case HandleWin32:
		return errors.WithStack(windows.CloseHandle(windows.Handle(osHandle)))
	default:
		return NewError(UnsupportedCapability, "can't close handles of kind %s on this platform", kind)
	}
}
