//go:build !unix && !windows

package gpu

func closeOSHandle(kind HandleKind, _ uintptr) error {
	return NewError(UnsupportedCapability, "can't close handles of kind %s on this platform", kind)
}
