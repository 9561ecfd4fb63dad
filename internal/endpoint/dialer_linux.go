//go:build linux

package endpoint

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func bufferControl(recv, send int) func(network, address string, c syscall.RawConn) error {
	if recv <= 0 && send <= 0 {
		return nil
	}
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if recv > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recv); err != nil {
					sockErr = err
					return
				}
			}
			if send > 0 {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, send)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
