package netx

import (
	"context"
	"net"
	"net/netip"
)

// LocalAddr is the local bind configuration for a mapper: address (port 0
// lets the OS choose), plus the Linux-only options fwmark, interface
// binding and force-reuse. Immutable once a mapper starts using it.
//
// Every socket created from a LocalAddr has SO_REUSEADDR and SO_REUSEPORT
// set, so a UDP probe and a TCP connection can share one local port.
type LocalAddr struct {
	addr       netip.AddrPort
	iface      string
	fwmark     uint32
	forceReuse bool
}

// NewLocal creates a bind config for the given address.
func NewLocal(addr netip.AddrPort) LocalAddr {
	return LocalAddr{addr: addr}
}

// WithIface binds sockets to a network interface (SO_BINDTODEVICE, Linux).
func (l LocalAddr) WithIface(name string) LocalAddr {
	l.iface = name
	return l
}

// WithFwmark sets SO_MARK for policy routing (Linux).
func (l LocalAddr) WithFwmark(mark uint32) LocalAddr {
	l.fwmark = mark
	return l
}

// WithForceReuse enables stealing the port from a foreign process before
// binding (Linux, requires root or CAP_SYS_PTRACE).
func (l LocalAddr) WithForceReuse(force bool) LocalAddr {
	l.forceReuse = force
	return l
}

// AddrPort returns the configured bind address.
func (l LocalAddr) AddrPort() netip.AddrPort {
	return l.addr
}

// ForceReuse reports whether port stealing was requested.
func (l LocalAddr) ForceReuse() bool {
	return l.forceReuse
}

// WithPort returns a copy bound to a concrete port, used to rebind the
// TCP side of a mapper onto the port the UDP probe discovered.
func (l LocalAddr) WithPort(port uint16) LocalAddr {
	l.addr = netip.AddrPortFrom(l.addr.Addr(), port)
	return l
}

// ListenUDP binds a UDP socket with the configured options applied.
func (l LocalAddr) ListenUDP(ctx context.Context) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: l.control}
	pc, err := lc.ListenPacket(ctx, "udp", l.addr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// DialTCP connects to remote from the configured local address.
func (l LocalAddr) DialTCP(ctx context.Context, remote netip.AddrPort) (*net.TCPConn, error) {
	d := net.Dialer{
		LocalAddr: net.TCPAddrFromAddrPort(l.addr),
		Control:   l.control,
	}
	conn, err := d.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}
