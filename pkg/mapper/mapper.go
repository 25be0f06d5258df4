// Package mapper discovers and maintains a host's externally-visible
// socket address behind a NAT. A mapper owns one local socket, keeps the
// NAT mapping alive with transport-specific keepalive traffic, and invokes
// a handler whenever the observed public address changes.
package mapper

import (
	"context"
	"net/netip"
)

// MappingInfo is the observable result of one discovery: the public
// address the NAT presents and the local address it maps to. Value type;
// a new instance is produced on every refresh.
type MappingInfo struct {
	PubAddr   netip.AddrPort
	LocalAddr netip.AddrPort
}

// MappingHandler receives mapping-change notifications. For a single
// mapper, calls are strictly ordered and never concurrent.
type MappingHandler interface {
	OnChange(info MappingInfo)
}

// HandlerFunc adapts a plain function to MappingHandler.
type HandlerFunc func(info MappingInfo)

func (f HandlerFunc) OnChange(info MappingInfo) { f(info) }

// Mapper is a runnable mapping session. Run blocks until ctx is cancelled
// or a fatal error occurs; it never returns nil while healthy.
type Mapper interface {
	Run(ctx context.Context, handler MappingHandler) error
}

// changeTracker invokes the handler only when the public (address, port)
// pair differs from the previous observation. Local address changes alone
// never trigger a notification.
type changeTracker struct {
	last netip.AddrPort
	seen bool
}

func (t *changeTracker) observe(info MappingInfo, h MappingHandler) {
	if t.seen && t.last == info.PubAddr {
		return
	}
	t.seen = true
	t.last = info.PubAddr
	h.OnChange(info)
}
