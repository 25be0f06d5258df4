package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/viper"

	"github.com/uchouT/nyat/pkg/netx"
)

// BatchConfig is a parsed batch file: named tasks merged with the
// [default] section.
type BatchConfig struct {
	LogLevel string
	Tasks    map[string]RunConfig
}

type batchFile struct {
	LogLevel string               `mapstructure:"log-level"`
	Default  defaultEntry         `mapstructure:"default"`
	Task     map[string]taskEntry `mapstructure:"task"`
}

// Pointer fields distinguish "absent" from zero values so the merge
// with [default] stays explicit.
type defaultEntry struct {
	StunHost   *string `mapstructure:"stun-host"`
	StunPort   *uint16 `mapstructure:"stun-port"`
	RemoteHost *string `mapstructure:"remote-host"`
	RemotePort *uint16 `mapstructure:"remote-port"`
	Keepalive  *uint   `mapstructure:"keepalive"`
	IPv6       *bool   `mapstructure:"ipv6"`
	Iface      *string `mapstructure:"iface"`
	Fwmark     *uint32 `mapstructure:"fwmark"`
	ForceReuse *bool   `mapstructure:"force-reuse"`
}

type taskEntry struct {
	Mode       string  `mapstructure:"mode"`
	Bind       string  `mapstructure:"bind"`
	StunHost   *string `mapstructure:"stun-host"`
	StunPort   *uint16 `mapstructure:"stun-port"`
	RemoteHost *string `mapstructure:"remote-host"`
	RemotePort *uint16 `mapstructure:"remote-port"`
	Keepalive  *uint   `mapstructure:"keepalive"`
	Count      *int    `mapstructure:"count"`
	Exec       *string `mapstructure:"exec"`
	IPv6       *bool   `mapstructure:"ipv6"`
	Iface      *string `mapstructure:"iface"`
	Fwmark     *uint32 `mapstructure:"fwmark"`
	ForceReuse *bool   `mapstructure:"force-reuse"`
}

// server is a host/port pair before DNS-vs-literal classification.
type server struct {
	host string
	port uint16
}

// serverFromPair enforces the both-or-neither rule on a host/port pair.
func serverFromPair(host *string, port *uint16, label string) (*server, error) {
	switch {
	case host != nil && port != nil:
		return &server{host: *host, port: *port}, nil
	case host == nil && port == nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s-host and %s-port must both be specified", label, label)
	}
}

func (s server) remote(prefer netx.Preference) netx.RemoteAddr {
	if addr, err := netip.ParseAddr(s.host); err == nil {
		return netx.RemoteFromAddr(netip.AddrPortFrom(addr, s.port))
	}
	return netx.RemoteFromHost(s.host, s.port, prefer)
}

// LoadBatch reads and validates a TOML batch file.
func LoadBatch(path string) (*BatchConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file batchFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Task) == 0 {
		return nil, fmt.Errorf("no [task.*] entries in %s", path)
	}

	defStun, err := serverFromPair(file.Default.StunHost, file.Default.StunPort, "stun")
	if err != nil {
		return nil, fmt.Errorf("[default]: %w", err)
	}
	defRemote, err := serverFromPair(file.Default.RemoteHost, file.Default.RemotePort, "remote")
	if err != nil {
		return nil, fmt.Errorf("[default]: %w", err)
	}
	if file.Default.Iface != nil {
		if err := CheckIface(*file.Default.Iface); err != nil {
			return nil, fmt.Errorf("[default] iface: %w", err)
		}
	}

	tasks := make(map[string]RunConfig, len(file.Task))
	for name, entry := range file.Task {
		cfg, err := entry.into(name, &file.Default, defStun, defRemote)
		if err != nil {
			return nil, err
		}
		tasks[name] = cfg
	}
	return &BatchConfig{LogLevel: file.LogLevel, Tasks: tasks}, nil
}

func (t taskEntry) into(name string, def *defaultEntry, defStun, defRemote *server) (RunConfig, error) {
	fail := func(err error) (RunConfig, error) {
		return RunConfig{}, fmt.Errorf("task %q: %w", name, err)
	}

	ipv6 := orDefault(t.IPv6, def.IPv6, false)
	prefer := netx.PreferIPv4
	if ipv6 {
		prefer = netx.PreferIPv6
	}

	stun, err := serverFromPair(t.StunHost, t.StunPort, "stun")
	if err != nil {
		return fail(err)
	}
	if stun == nil {
		stun = defStun
	}
	if stun == nil {
		return fail(errors.New("requires stun-host and stun-port"))
	}

	bind, err := ParseBind(t.Bind, ipv6)
	if err != nil {
		return fail(err)
	}

	var mode Mode
	var remoteAddr netx.RemoteAddr
	switch Mode(t.Mode) {
	case ModeTCP:
		remote, err := serverFromPair(t.RemoteHost, t.RemotePort, "remote")
		if err != nil {
			return fail(err)
		}
		if remote == nil {
			remote = defRemote
		}
		if remote == nil {
			return fail(errors.New("tcp mode requires remote-host and remote-port"))
		}
		if t.Count != nil {
			return fail(errors.New("count is only valid in udp mode"))
		}
		mode = ModeTCP
		remoteAddr = remote.remote(prefer)
	case ModeUDP:
		if t.RemoteHost != nil || t.RemotePort != nil {
			return fail(errors.New("remote-host/remote-port are not valid in udp mode"))
		}
		mode = ModeUDP
	default:
		return fail(fmt.Errorf("invalid mode %q: expected tcp or udp", t.Mode))
	}

	if t.Iface != nil {
		if err := CheckIface(*t.Iface); err != nil {
			return fail(fmt.Errorf("iface: %w", err))
		}
	}

	cfg := RunConfig{
		Mode:       mode,
		Bind:       bind,
		Stun:       stun.remote(prefer),
		Remote:     remoteAddr,
		Iface:      orDefault(t.Iface, def.Iface, ""),
		Fwmark:     orDefault(t.Fwmark, def.Fwmark, 0),
		ForceReuse: orDefault(t.ForceReuse, def.ForceReuse, false),
	}
	if ka := orDefault(t.Keepalive, def.Keepalive, 0); ka > 0 {
		cfg.Keepalive = time.Duration(ka) * time.Second
	}
	if t.Count != nil {
		cfg.Count = *t.Count
	}
	if t.Exec != nil {
		cfg.Exec = *t.Exec
	}
	return cfg, nil
}

func orDefault[T any](task, def *T, zero T) T {
	if task != nil {
		return *task
	}
	if def != nil {
		return *def
	}
	return zero
}
