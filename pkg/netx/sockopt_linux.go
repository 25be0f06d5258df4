//go:build linux

package netx

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func (l LocalAddr) control(network, address string, c syscall.RawConn) error {
	var optErr error
	err := c.Control(func(fd uintptr) {
		s := int(fd)
		if optErr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); optErr != nil {
			return
		}
		if optErr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); optErr != nil {
			return
		}
		if l.fwmark != 0 {
			if optErr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_MARK, int(l.fwmark)); optErr != nil {
				return
			}
		}
		if l.iface != "" {
			optErr = unix.BindToDevice(s, l.iface)
		}
	})
	if err != nil {
		return err
	}
	return optErr
}
