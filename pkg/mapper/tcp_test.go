package mapper

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uchouT/nyat/pkg/netx"
)

// fakeTCPPeer accepts keepalive connections. It drops the first
// connection after one request to force the mapper into a reconnect,
// then keeps later connections open.
type fakeTCPPeer struct {
	ln net.Listener

	mu       sync.Mutex
	accepted int
	requests []string
}

func newFakeTCPPeer(t *testing.T) *fakeTCPPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen fake peer: %v", err)
	}
	p := &fakeTCPPeer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go p.serve()
	return p
}

func (p *fakeTCPPeer) addr() netip.AddrPort {
	return p.ln.Addr().(*net.TCPAddr).AddrPort()
}

func (p *fakeTCPPeer) acceptedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

func (p *fakeTCPPeer) firstRequest() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return ""
	}
	return p.requests[0]
}

func (p *fakeTCPPeer) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.accepted++
		nth := p.accepted
		p.mu.Unlock()
		go p.handle(conn, nth == 1)
	}
}

func (p *fakeTCPPeer) handle(conn net.Conn, dropAfterFirst bool) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if strings.HasPrefix(line, "HEAD ") {
			p.mu.Lock()
			p.requests = append(p.requests, strings.TrimRight(line, "\r\n"))
			p.mu.Unlock()
			// consume the remaining header lines
			for {
				h, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if h == "\r\n" {
					break
				}
			}
			conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
			if dropAfterFirst {
				return
			}
		}
	}
}

func TestTCPMapperReconnectsAfterDrop(t *testing.T) {
	srv := newFakeStunServer(t, netip.MustParseAddrPort("198.51.100.9:40100"))
	peer := newFakeTCPPeer(t)

	changes := make(chan MappingInfo, 16)
	m := &TCPMapper{
		local:      netx.NewLocal(netip.MustParseAddrPort("127.0.0.1:0")),
		stun:       netx.RemoteFromAddr(srv.addr()),
		remote:     netx.RemoteFromAddr(peer.addr()),
		interval:   50 * time.Millisecond,
		retryDelay: 10 * time.Millisecond,
		log:        testLog(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, HandlerFunc(func(i MappingInfo) { changes <- i }))
	}()

	var got MappingInfo
	select {
	case got = <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no mapping notification")
	}
	if want := netip.MustParseAddrPort("198.51.100.9:40100"); got.PubAddr != want {
		t.Fatalf("public mapping %v, want %v", got.PubAddr, want)
	}

	// the peer drops the first connection after one request; wait for
	// the mapper to rediscover and connect again
	deadline := time.After(5 * time.Second)
	for peer.acceptedCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("mapper never reconnected, %d connections seen", peer.acceptedCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// each setup cycle runs exactly one discovery probe
	if n := srv.probeCount(); n != 2 {
		t.Fatalf("saw %d discovery probes, want 2", n)
	}

	// public mapping did not move, so the reconnect must not re-notify
	select {
	case extra := <-changes:
		t.Fatalf("duplicate notification after reconnect: %v", extra)
	default:
	}

	if req := peer.firstRequest(); req != "HEAD / HTTP/1.1" {
		t.Fatalf("keepalive request line %q", req)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v, want context.Canceled", err)
	}
}

func TestTCPMapperGivesUpAfterSetupFailures(t *testing.T) {
	// an unresolvable STUN host fails every setup cycle without waiting
	// on probe timeouts, .invalid never resolves
	m := &TCPMapper{
		local:      netx.NewLocal(netip.MustParseAddrPort("127.0.0.1:0")),
		stun:       netx.RemoteFromHost("stun.invalid", 3478, netx.PreferNone),
		remote:     netx.RemoteFromAddr(netip.MustParseAddrPort("127.0.0.1:9")),
		interval:   50 * time.Millisecond,
		retryDelay: time.Millisecond,
		log:        testLog(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err := m.Run(ctx, HandlerFunc(func(MappingInfo) {}))
	if err == nil {
		t.Fatal("run succeeded against a dead stun server")
	}
	if !Recoverable(err) {
		t.Fatalf("setup failure should be a recoverable class, got %T: %v", err, err)
	}
}
