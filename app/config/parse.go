package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/uchouT/nyat/pkg/netx"
)

// Default ports applied when an address string carries none.
const (
	DefaultStunPort   uint16 = 3478
	DefaultRemotePort uint16 = 80
)

// ParseBind accepts "PORT" or "ADDR:PORT". A bare port binds the
// unspecified address of the preferred family.
func ParseBind(s string, ipv6 bool) (netip.AddrPort, error) {
	if port, err := strconv.ParseUint(s, 10, 16); err == nil {
		addr := netip.IPv4Unspecified()
		if ipv6 {
			addr = netip.IPv6Unspecified()
		}
		return netip.AddrPortFrom(addr, uint16(port)), nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid bind %q: expected PORT or ADDR:PORT", s)
	}
	return ap, nil
}

// ParseServer accepts "IP:PORT", "HOST:PORT", a bare IP or a bare
// hostname, filling in defaultPort when none is given. IP literals skip
// DNS entirely.
func ParseServer(s string, defaultPort uint16, prefer netx.Preference) (netx.RemoteAddr, error) {
	if s == "" {
		return netx.RemoteAddr{}, fmt.Errorf("empty server address")
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return netx.RemoteFromAddr(ap), nil
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return netx.RemoteFromAddr(netip.AddrPortFrom(addr, defaultPort)), nil
	}

	if host, portStr, ok := splitHostPort(s); ok {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return netx.RemoteAddr{}, fmt.Errorf("invalid address %q: expected HOST[:PORT]", s)
		}
		return netx.RemoteFromHost(host, uint16(port), prefer), nil
	}

	return netx.RemoteFromHost(s, defaultPort, prefer), nil
}

// splitHostPort splits on the last colon so IPv6-ish strings fall
// through to the literal parsers above rather than here.
func splitHostPort(s string) (host, port string, ok bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 || strings.Contains(s[:i], ":") {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
