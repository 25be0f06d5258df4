package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/elliotchance/pie/v2"
)

// Preference selects which address family a resolution should yield.
type Preference int

const (
	PreferNone Preference = iota
	PreferIPv4
	PreferIPv6
)

// ErrNoAddressFound means DNS succeeded but no candidate matched the
// requested address family.
var ErrNoAddressFound = errors.New("netx: no matching address found")

// RemoteAddr is a resolvable target: either a literal socket address or a
// hostname with port and family preference. Literal addresses skip DNS
// entirely; hostnames are resolved on every Resolve call so mappers pick
// up DNS changes between cycles.
type RemoteAddr struct {
	host   string
	port   uint16
	addr   netip.AddrPort
	prefer Preference
}

// RemoteFromAddr wraps an already-resolved socket address.
func RemoteFromAddr(addr netip.AddrPort) RemoteAddr {
	return RemoteAddr{addr: addr}
}

// RemoteFromHost creates a target that is resolved lazily.
func RemoteFromHost(host string, port uint16, prefer Preference) RemoteAddr {
	return RemoteAddr{host: host, port: port, prefer: prefer}
}

// IsZero reports whether r was never initialized.
func (r RemoteAddr) IsZero() bool {
	return r.host == "" && !r.addr.IsValid()
}

// Host returns the hostname or literal IP, suitable for an HTTP Host header.
func (r RemoteAddr) Host() string {
	if r.host != "" {
		return r.host
	}
	return r.addr.Addr().String()
}

// Resolve returns the concrete socket address for this target. Safe to call
// repeatedly; literal addresses resolve without I/O.
func (r RemoteAddr) Resolve(ctx context.Context) (netip.AddrPort, error) {
	if r.host == "" {
		if !r.addr.IsValid() {
			return netip.AddrPort{}, ErrNoAddressFound
		}
		return r.addr, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", r.host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("netx: resolve %s: %w", r.host, err)
	}
	addr, ok := pickAddr(addrs, r.prefer)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w for %s", ErrNoAddressFound, r.host)
	}
	return netip.AddrPortFrom(addr, r.port), nil
}

// pickAddr filters candidates by family preference and returns the first
// match, deterministically with respect to answer order.
func pickAddr(addrs []netip.Addr, prefer Preference) (netip.Addr, bool) {
	unmapped := pie.Map(addrs, func(a netip.Addr) netip.Addr { return a.Unmap() })

	matching := pie.Filter(unmapped, func(a netip.Addr) bool {
		switch prefer {
		case PreferIPv4:
			return a.Is4()
		case PreferIPv6:
			return a.Is6()
		default:
			return true
		}
	})
	if len(matching) == 0 {
		return netip.Addr{}, false
	}
	return matching[0], true
}
