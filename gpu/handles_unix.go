//go:build unix

package gpu

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// maxHandleMessageSize is the largest encoded Handle: 3 tags plus 3 varints.
const maxHandleMessageSize = 3 * (1 + 10)

func closeOSHandle(kind HandleKind, osHandle uintptr) error {
	switch kind {
	case HandleFD, HandleDMABuf:
		return errors.WithStack(unix.Close(int(osHandle)))
	default:
		return NewError(UnsupportedCapability, "can't close handles of kind %s on this platform", kind)
	}
}

// SendHandle transfers the handle to the process on the other side of the unix socket: the handle wire shape is
// sent as the message payload and the file descriptor as SCM_RIGHTS ancillary data.
//
// Only HandleFD and HandleDMABuf handles can cross a process boundary. On success the local handle is closed: the
// receiver owns its own copy of the file descriptor, see ReceiveHandle.
func SendHandle(conn *net.UnixConn, h *Handle) error {
	const op = "SendHandle"
	if !h.IsValid() {
		return opErrorf(op, InvalidHandle, "can't send %s", h)
	}
	if h.Kind != HandleFD && h.Kind != HandleDMABuf {
		return opErrorf(op, InvalidHandle, "handles of kind %s can't be transferred to another process", h.Kind)
	}
	payload, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	oob := unix.UnixRights(int(h.OSHandle))
	n, oobn, err := conn.WriteMsgUnix(payload, oob, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to send %s", op, h)
	}
	if n != len(payload) || oobn != len(oob) {
		return errors.Errorf("%s: short write sending %s: %d/%d bytes, %d/%d control bytes", op, h, n, len(payload), oobn, len(oob))
	}
	klog.V(2).Infof("sent %s over %s", h, conn.LocalAddr())
	return h.Close()
}

// ReceiveHandle receives a handle sent with SendHandle. The returned handle owns the received file descriptor:
// it must be closed or consumed by Context.ImportHandle.
func ReceiveHandle(conn *net.UnixConn) (*Handle, error) {
	const op = "ReceiveHandle"
	buf := make([]byte, maxHandleMessageSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read from %s", op, conn.LocalAddr())
	}
	var fds []int
	if oobn > 0 {
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, wrapError(op, InvalidHandle, err, "malformed control message")
		}
		for ii := range msgs {
			msgFDs, err := unix.ParseUnixRights(&msgs[ii])
			if err != nil {
				continue
			}
			fds = append(fds, msgFDs...)
		}
	}
	closeFDs := func(fds []int) {
		for _, fd := range fds {
			if err := unix.Close(fd); err != nil {
				klog.Errorf("%s: failed to close unexpected file descriptor %d: %v", op, fd, err)
			}
		}
	}
	if len(fds) != 1 {
		closeFDs(fds)
		return nil, opErrorf(op, InvalidHandle, "expected exactly one file descriptor, got %d", len(fds))
	}
	h, err := UnmarshalHandle(buf[:n])
	if err != nil {
		closeFDs(fds)
		return nil, err
	}
	if h.Kind != HandleFD && h.Kind != HandleDMABuf {
		closeFDs(fds)
		return nil, opErrorf(op, InvalidHandle, "received a file descriptor for a handle of kind %s", h.Kind)
	}
	h.OSHandle = uintptr(fds[0])
	klog.V(2).Infof("received %s over %s", h, conn.LocalAddr())
	return h, nil
}
