package mapper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/uchouT/nyat/pkg/netx"
)

const (
	// setupRetryLimit bounds consecutive failed setup cycles (discovery +
	// connect) before Run gives up with the last error.
	setupRetryLimit = 5

	// reconnectDelay separates setup cycles.
	reconnectDelay = 5 * time.Second

	// connectRetries is the extra dial attempts one setup cycle makes,
	// with exponential backoff, before the cycle counts as failed.
	connectRetries = 4
)

// TCPMapper maintains a NAT mapping through a long-lived TCP connection.
//
// Discovery runs over a short-lived UDP probe bound to the same local
// port as the TCP connection: full-cone NATs preserve the external
// mapping per local port across transports only when the port is reused
// promptly. The probe socket is closed right before the TCP bind; the
// window in between is racy against other processes taking the port,
// which is accepted rather than masked.
type TCPMapper struct {
	local      netx.LocalAddr
	stun       netx.RemoteAddr
	remote     netx.RemoteAddr
	interval   time.Duration
	retryDelay time.Duration
	log        *logrus.Entry
}

// Run loops: discover, connect, keep alive until the connection drops,
// then rediscover. Bind errors are fatal; other setup failures retry up
// to setupRetryLimit consecutive times.
func (m *TCPMapper) Run(ctx context.Context, handler MappingHandler) error {
	var tracker changeTracker
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		info, conn, err := m.connect(ctx)
		if err != nil {
			var bindErr *BindError
			if errors.As(err, &bindErr) {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			retries++
			if retries >= setupRetryLimit {
				return err
			}
			m.log.Debugf("setup failed (%d/%d): %s", retries, setupRetryLimit, err.Error())
			if err := sleep(ctx, m.retryDelay); err != nil {
				return err
			}
			continue
		}
		retries = 0

		tracker.observe(info, handler)

		err = m.keepalive(ctx, conn)
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.log.Infof("connection lost (%s), rediscovering", err)
		if err := sleep(ctx, m.retryDelay); err != nil {
			return err
		}
	}
}

// connect performs one discovery + connection cycle: UDP probe on the
// local port, STUN exchange, close probe, immediately dial TCP from the
// identical port.
func (m *TCPMapper) connect(ctx context.Context) (MappingInfo, *net.TCPConn, error) {
	stunAddr, err := m.stun.Resolve(ctx)
	if err != nil {
		return MappingInfo{}, nil, &ResolveError{Err: err}
	}
	remoteAddr, err := m.remote.Resolve(ctx)
	if err != nil {
		return MappingInfo{}, nil, &ResolveError{Err: err}
	}

	pub, port, err := m.discover(ctx, stunAddr)
	if err != nil {
		return MappingInfo{}, nil, err
	}

	tcpLocal := m.local.WithPort(port)
	var conn *net.TCPConn
	dial := func() error {
		c, err := tcpLocal.DialTCP(ctx, remoteAddr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		return MappingInfo{}, nil, &ConnectError{Err: err}
	}

	info := MappingInfo{PubAddr: pub, LocalAddr: localAddrPort(conn)}
	m.log.Infof("tcp mapper connected from %s, public %s", info.LocalAddr, info.PubAddr)
	return info, conn, nil
}

// discover binds the short-lived UDP probe, resolves the public mapping
// and reports the concrete local port to rebind over TCP. The probe must
// be closed before the TCP bind; other processes can grab the port in
// that window.
func (m *TCPMapper) discover(ctx context.Context, stunAddr netip.AddrPort) (netip.AddrPort, uint16, error) {
	probe, err := bindLocal(ctx, m.local, m.log)
	if err != nil {
		return netip.AddrPort{}, 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		probe.SetReadDeadline(time.Unix(0, 0))
	})

	pub, err := stunExchange(ctx, probe, stunAddr)
	port := localAddrPort(probe).Port()

	stop()
	probe.Close()
	if err != nil {
		return netip.AddrPort{}, 0, err
	}
	return pub, port, nil
}

// keepalive sends a minimal HTTP HEAD request every interval and watches
// the connection for errors or a FIN from the peer. Returns when the
// connection is no longer usable or ctx is cancelled.
func (m *TCPMapper) keepalive(ctx context.Context, conn *net.TCPConn) error {
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(m.interval)

	// wake blocked reads/writes when the caller cancels
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(0, 0))
	})
	defer stop()

	request := []byte(fmt.Sprintf(
		"HEAD / HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n\r\n", m.remote.Host()))

	// drain responses; any read error (including the peer's FIN) ends
	// the keepalive phase
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 8192)
		for {
			if _, err := conn.Read(buf); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := conn.Write(request); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
