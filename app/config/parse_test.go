package config

import (
	"context"
	"net/netip"
	"testing"

	"github.com/uchouT/nyat/pkg/netx"
)

func TestParseBind(t *testing.T) {
	cases := []struct {
		in   string
		ipv6 bool
		want string
	}{
		{"0", false, "0.0.0.0:0"},
		{"4070", false, "0.0.0.0:4070"},
		{"4070", true, "[::]:4070"},
		{"192.168.1.10:4070", false, "192.168.1.10:4070"},
		{"[fe80::1]:4070", false, "[fe80::1]:4070"},
	}
	for _, c := range cases {
		got, err := ParseBind(c.in, c.ipv6)
		if err != nil {
			t.Fatalf("ParseBind(%q): %v", c.in, err)
		}
		if got != netip.MustParseAddrPort(c.want) {
			t.Fatalf("ParseBind(%q) = %v, want %s", c.in, got, c.want)
		}
	}

	for _, bad := range []string{"", "notaport", "1.2.3.4", "70000", ":80"} {
		if _, err := ParseBind(bad, false); err == nil {
			t.Fatalf("ParseBind(%q) accepted", bad)
		}
	}
}

func TestParseServerLiteral(t *testing.T) {
	r, err := ParseServer("203.0.113.1:3479", DefaultStunPort, netx.PreferNone)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Host(); got != "203.0.113.1" {
		t.Fatalf("host %q", got)
	}

	// bare IP takes the default port
	r, err = ParseServer("203.0.113.1", DefaultStunPort, netx.PreferNone)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if addr.Port() != DefaultStunPort {
		t.Fatalf("port %d, want %d", addr.Port(), DefaultStunPort)
	}
}

func TestParseServerHostname(t *testing.T) {
	r, err := ParseServer("stun.example.com:3478", DefaultStunPort, netx.PreferIPv4)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Host(); got != "stun.example.com" {
		t.Fatalf("host %q", got)
	}

	r, err = ParseServer("example.com", DefaultRemotePort, netx.PreferNone)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Host(); got != "example.com" {
		t.Fatalf("host %q", got)
	}

	if _, err := ParseServer("example.com:notaport", DefaultRemotePort, netx.PreferNone); err == nil {
		t.Fatal("bad port accepted")
	}
	if _, err := ParseServer("", DefaultStunPort, netx.PreferNone); err == nil {
		t.Fatal("empty address accepted")
	}
}
