package mapper

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uchouT/nyat/pkg/netx"
	"github.com/uchouT/nyat/pkg/tools"
)

type transport int

const (
	transportUDP transport = iota
	transportTCP
)

// Defaults per transport.
const (
	DefaultUDPInterval  = 5 * time.Second
	DefaultTCPInterval  = 30 * time.Second
	DefaultCheckPerTick = 5
)

// Builder aggregates mapper configuration. It performs no I/O; everything
// up to Build is pure defaulting and validation.
type Builder struct {
	transport    transport
	local        netx.LocalAddr
	stun         netx.RemoteAddr
	remote       netx.RemoteAddr
	interval     time.Duration
	checkPerTick int
	tickSet      bool
}

// NewUDP creates a builder for a UDP mapper. Defaults: interval 5s,
// STUN probe every 5th tick.
func NewUDP(local netx.LocalAddr, stun netx.RemoteAddr) *Builder {
	return &Builder{
		transport:    transportUDP,
		local:        local,
		stun:         stun,
		interval:     DefaultUDPInterval,
		checkPerTick: DefaultCheckPerTick,
	}
}

// NewTCP creates a builder for a TCP mapper. remote is the HTTP server
// used for keepalive traffic (typically port 80). Default interval 30s.
func NewTCP(local netx.LocalAddr, stun netx.RemoteAddr, remote netx.RemoteAddr) *Builder {
	return &Builder{
		transport: transportTCP,
		local:     local,
		stun:      stun,
		remote:    remote,
		interval:  DefaultTCPInterval,
	}
}

// Interval sets the keepalive / refresh cadence.
func (b *Builder) Interval(d time.Duration) *Builder {
	b.interval = d
	return b
}

// CheckPerTick sets how many keepalive ticks pass between STUN re-probes.
// UDP only.
func (b *Builder) CheckPerTick(n int) *Builder {
	b.checkPerTick = n
	b.tickSet = true
	return b
}

// Remote sets an optional UDP keepalive peer. Without one, keepalive
// datagrams go to the STUN server.
func (b *Builder) Remote(r netx.RemoteAddr) *Builder {
	if b.transport == transportUDP {
		b.remote = r
	}
	return b
}

// Build validates the configuration and produces an immutable mapper.
// No side effects until Run is invoked.
func (b *Builder) Build() (Mapper, error) {
	if b.interval <= 0 {
		return nil, &ConfigError{Reason: "interval must be positive"}
	}
	if b.stun.IsZero() {
		return nil, &ConfigError{Reason: "stun server is required"}
	}

	log := logrus.WithField("session", tools.SessionID())

	switch b.transport {
	case transportTCP:
		if b.tickSet {
			return nil, &ConfigError{Reason: "check-per-tick is only valid for udp"}
		}
		if b.remote.IsZero() {
			return nil, &ConfigError{Reason: "tcp mapper requires a remote keepalive target"}
		}
		return &TCPMapper{
			local:      b.local,
			stun:       b.stun,
			remote:     b.remote,
			interval:   b.interval,
			retryDelay: reconnectDelay,
			log:        log,
		}, nil
	default:
		if b.checkPerTick < 1 {
			return nil, &ConfigError{Reason: "check-per-tick must be at least 1"}
		}
		m := &UDPMapper{
			local:        b.local,
			stun:         b.stun,
			interval:     b.interval,
			checkPerTick: b.checkPerTick,
			log:          log,
		}
		if !b.remote.IsZero() {
			m.remote = &b.remote
		}
		return m, nil
	}
}
