// Package gpu implements a backend-agnostic layer for GPU memory resources (buffers and textures) that can be
// exported as OS-level handles (file descriptors, host pointers, shared handles) and imported into other contexts,
// APIs or processes.
//
// A typical session:
//
//	ctx, err := gpu.NewContext("host", nil)
//	if err != nil {
//		// Backend or device not available on this machine: skip the functionality.
//	}
//	defer ctx.Destroy()
//	buf, err := ctx.NewBuffer().WithSize(1024).Exportable(gpu.HandleFD).Done()
//	handle, err := buf.Export()
//	...
//	other, err := otherCtx.ImportHandle(handle, gpu.ResourceParams{})
//
// Backends are registered with RegisterBackend, usually from the init function of the backend package (see
// sub-package host).
package gpu

// Generate String methods for the enum types.
//go:generate go tool enumer -type=HandleKind -trimprefix=Handle -output=gen_handlekind_enumer.go handles.go
//go:generate go tool enumer -type=ErrorKind -output=gen_errorkind_enumer.go error.go
