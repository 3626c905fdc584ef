package gearman

import (
	"net"

	"golang.org/x/sys/unix"
)

// soError reads SO_ERROR off conn's underlying file descriptor. §4.1
// requires observing it on the first write-readiness event after a
// non-blocking connect; the standard library has no portable accessor for
// it, so this goes through SyscallConn + golang.org/x/sys/unix exactly the
// way a raw-socket ioctl would in any other non-blocking-I/O Go codebase.
func soError(conn net.Conn) error {
	sc, ok := conn.(syscallConn)
	if !ok {
		return nil
	}

	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var errno int
	var getErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		errno, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if getErr != nil {
		return getErr
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
