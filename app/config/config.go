// Package config turns CLI flags and TOML batch files into mapper
// configurations.
package config

import (
	"net/netip"
	"time"

	"github.com/uchouT/nyat/pkg/mapper"
	"github.com/uchouT/nyat/pkg/netx"
)

// Mode selects the mapping transport.
type Mode string

const (
	ModeTCP Mode = "tcp"
	ModeUDP Mode = "udp"
)

// RunConfig is one fully-resolved mapping task.
type RunConfig struct {
	Mode Mode
	Bind netip.AddrPort
	Stun netx.RemoteAddr

	// Remote is the HTTP keepalive server. TCP only.
	Remote netx.RemoteAddr

	// Keepalive overrides the per-transport default interval when > 0.
	Keepalive time.Duration

	// Count overrides the UDP probe cadence when > 0.
	Count int

	// Exec is a shell command spawned on every mapping change.
	Exec string

	Iface      string
	Fwmark     uint32
	ForceReuse bool
}

// BuildMapper assembles the mapper for this task. Validation errors
// surface as mapper.ConfigError.
func (c *RunConfig) BuildMapper() (mapper.Mapper, error) {
	local := netx.NewLocal(c.Bind)
	if c.Iface != "" {
		local = local.WithIface(c.Iface)
	}
	if c.Fwmark != 0 {
		local = local.WithFwmark(c.Fwmark)
	}
	local = local.WithForceReuse(c.ForceReuse)

	var b *mapper.Builder
	switch c.Mode {
	case ModeTCP:
		b = mapper.NewTCP(local, c.Stun, c.Remote)
	default:
		b = mapper.NewUDP(local, c.Stun)
		if c.Count > 0 {
			b.CheckPerTick(c.Count)
		}
	}
	if c.Keepalive > 0 {
		b.Interval(c.Keepalive)
	}
	return b.Build()
}
