package gpu

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExport(t *testing.T) {
	ctx, driver := newFakeContext(t, fullReport())

	// Resources created without a handle kind can't be exported.
	plain := capture(ctx.NewBuffer().WithSize(1024).Done()).Test(t)
	_, err := plain.Export()
	require.True(t, IsKind(err, NotExportable), "got %v", err)
	require.Equal(t, 0, driver.countCalls("Export"))

	buf := capture(ctx.NewBuffer().WithSize(1000).Exportable(HandleHostPtr).Done()).Test(t)
	h := capture(buf.Export()).Test(t)
	fmt.Printf("\t%s -> %s\n", buf, h)
	require.Equal(t, HandleHostPtr, h.Kind)
	require.NotZero(t, h.OSHandle)
	require.GreaterOrEqual(t, h.Size, buf.Size())

	// Exporting again returns an equivalent handle.
	h2 := capture(buf.Export()).Test(t)
	require.Equal(t, h.Kind, h2.Kind)
	require.Equal(t, h.Size, h2.Size)
	require.NoError(t, h2.Close())

	// Driver reports a backing size smaller than the resource.
	driver.exportShrink = 512
	_, err = buf.Export()
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)
	driver.exportShrink = 0

	// Destroyed resources can't be exported, but previously exported handles are independent values.
	require.NoError(t, buf.Destroy())
	_, err = buf.Export()
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)
	require.True(t, h.IsValid())
	require.NoError(t, h.Close())
}

func TestImportHandle(t *testing.T) {
	ctxA, driver := newFakeContext(t, fullReport())
	src := capture(ctxA.NewBuffer().WithSize(1000).Exportable(HandleHostPtr).HostMapped().Done()).Test(t)
	require.NoError(t, src.FromHost([]byte("shared memory")))
	h := capture(src.Export()).Test(t)

	// Import in a second context of the same backend.
	ctxB := capture(ctxA.Backend().NewContext(nil)).Test(t)
	defer func() { require.NoError(t, ctxB.Destroy()) }()
	dst := capture(ctxB.ImportBuffer(h).HostMapped().Done()).Test(t)
	fmt.Printf("\t%s -> %s -> %s\n", src, h, dst)
	require.True(t, dst.IsImported())
	require.Equal(t, HandleHostPtr, dst.HandleKind())
	require.Equal(t, h.Size, dst.Size(), "size 0 means the whole handle")
	require.Equal(t, DefaultBufferUsage, dst.Params().Usage)
	require.GreaterOrEqual(t, dst.BackingSize(), src.Size())
	require.False(t, h.IsValid(), "handle must be consumed by the import")

	// Data is visible through both resources.
	data := capture(dst.Data()).Test(t)
	require.Equal(t, "shared memory", string(data[:13]))

	// Consumed handles can't be imported again.
	_, err := ctxB.ImportHandle(h, ResourceParams{})
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)

	// The imported resource is independently destructible.
	require.NoError(t, dst.Destroy())
	require.True(t, src.IsValid())
	require.Equal(t, 1, ctxA.NumResources())
	require.Equal(t, 0, ctxB.NumResources())
	require.Equal(t, 1, driver.countCalls("Import"))
}

func TestImportHandleFailures(t *testing.T) {
	ctx, driver := newFakeContext(t, fullReport())
	src := capture(ctx.NewBuffer().WithSize(256).Exportable(HandleHostPtr).Done()).Test(t)

	_, err := ctx.ImportHandle(nil, ResourceParams{})
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)
	_, err = ctx.ImportHandle(&Handle{}, ResourceParams{})
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)
	_, err = ctx.ImportBuffer(nil).Done()
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)

	// Context doesn't support the handle kind.
	_, err = ctx.ImportHandle(&Handle{Kind: HandleDMABuf, OSHandle: 3, Size: 256}, ResourceParams{})
	require.True(t, IsKind(err, UnsupportedCapability), "got %v", err)

	// Requested size larger than the handle.
	h := capture(src.Export()).Test(t)
	_, err = ctx.ImportBuffer(h).WithSize(int(h.Size) + 1).Done()
	require.True(t, IsKind(err, InvalidParams), "got %v", err)
	require.True(t, h.IsValid(), "failed imports must not consume the handle")

	// Driver fails to import an unknown handle: unclassified errors are InvalidHandle.
	_, err = ctx.ImportHandle(&Handle{Kind: HandleWin32KMT, OSHandle: 0xdead, Size: 256}, ResourceParams{})
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)
	require.Equal(t, 1, driver.countCalls("Import"), "only the last import should reach the driver")

	// Import works in the same context too.
	imported := capture(ctx.ImportBuffer(h).WithSize(128).Done()).Test(t)
	require.Equal(t, uint64(128), imported.Size())
	require.Equal(t, 2, ctx.NumResources())
}

func TestImportHandleUnderReportedSize(t *testing.T) {
	ctx, driver := newFakeContext(t, fullReport())
	src := capture(ctx.NewBuffer().WithSize(1024).Exportable(HandleHostPtr).Done()).Test(t)
	h := capture(src.Export()).Test(t)

	// The backend accepted the handle, but reports less memory than required: the handle was already handed
	// over, so it is consumed, and the backend allocation is freed.
	driver.importShrink = 512
	freesBefore := driver.countCalls("Free")
	_, err := ctx.ImportBuffer(h).WithSize(1024).Done()
	require.True(t, IsKind(err, InvalidHandle), "got %v", err)
	require.False(t, h.IsValid(), "handle ownership moved to the backend")
	require.Equal(t, freesBefore+1, driver.countCalls("Free"))
	require.Equal(t, 1, ctx.NumResources())
}
