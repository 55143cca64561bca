package gpu

import "fmt"

// DeviceInfo describes the device behind a Context, as reported by the backend.
//
// The meaning of "device" depends on the backend: for GPU backends it's usually one physical adapter (a Vulkan
// physical device, a DXGI adapter); for the host backend it's the host memory of the current process, exposed
// through memfd files.
type DeviceInfo struct {
	Name          string
	Vendor        string
	DriverVersion string

	// DebugString suitable for logging when errors occur.
	// Should be verbose enough to describe the current device unambiguously.
	DebugString string
}

// String implements fmt.Stringer.
func (d DeviceInfo) String() string {
	if d.Vendor == "" {
		return fmt.Sprintf("%s (driver %s)", d.Name, d.DriverVersion)
	}
	return fmt.Sprintf("%s/%s (driver %s)", d.Vendor, d.Name, d.DriverVersion)
}
