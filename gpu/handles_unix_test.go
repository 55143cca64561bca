//go:build unix

package gpu

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// unixSocketPair returns both ends of a connected unix socket.
func unixSocketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	conns := make([]*net.UnixConn, 2)
	for ii, fd := range fds {
		f := os.NewFile(uintptr(fd), "socketpair")
		conn, err := net.FileConn(f)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		conns[ii] = conn.(*net.UnixConn)
		t.Cleanup(func() { _ = conns[ii].Close() })
	}
	return conns[0], conns[1]
}

func TestSendReceiveHandle(t *testing.T) {
	sender, receiver := unixSocketPair(t)

	// Use the write end of a pipe as the file descriptor to transfer.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	fd, err := unix.Dup(int(w.Fd()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	h := &Handle{Kind: HandleFD, OSHandle: uintptr(fd), Size: 1024}
	require.NoError(t, SendHandle(sender, h))
	require.False(t, h.IsValid(), "SendHandle should close the local handle")

	received := capture(ReceiveHandle(receiver)).Test(t)
	require.Equal(t, HandleFD, received.Kind)
	require.Equal(t, uint64(1024), received.Size)

	// The received file descriptor is the write end of the pipe.
	n, err := unix.Write(int(received.OSHandle), []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, received.Close())
	buf := make([]byte, 8)
	n, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	// Host pointers can't cross process boundaries.
	err = SendHandle(sender, &Handle{Kind: HandleHostPtr, OSHandle: 0x1000, Size: 16})
	require.True(t, IsKind(err, InvalidHandle))

	// Consumed handles can't be sent.
	err = SendHandle(sender, h)
	require.True(t, IsKind(err, InvalidHandle))
}

func TestReceiveHandleWithoutDescriptor(t *testing.T) {
	sender, receiver := unixSocketPair(t)
	payload := capture((&Handle{Kind: HandleFD, OSHandle: 3, Size: 8}).MarshalBinary()).Test(t)
	_, err := sender.Write(payload)
	require.NoError(t, err)
	_, err = ReceiveHandle(receiver)
	require.True(t, IsKind(err, InvalidHandle))
}
