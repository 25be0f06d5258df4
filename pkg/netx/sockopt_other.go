//go:build !linux

package netx

import (
	"fmt"
	"syscall"
)

func (l LocalAddr) control(network, address string, c syscall.RawConn) error {
	if l.fwmark != 0 || l.iface != "" {
		return fmt.Errorf("netx: fwmark and iface binding require linux")
	}
	return nil
}
