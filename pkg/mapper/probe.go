package mapper

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uchouT/nyat/pkg/netx"
	"github.com/uchouT/nyat/pkg/stun"
)

const (
	// responseTimeout bounds a single wait for a STUN response.
	responseTimeout = 3 * time.Second

	// probeRetries is how many fresh transactions one discovery cycle
	// tries before reporting the cycle as failed.
	probeRetries = 3
)

// bindLocal binds the mapper's UDP socket, first forcing SO_REUSEPORT on
// foreign holders of the port when requested. Forcer failures are logged
// and swallowed (the bind itself decides); bind failures are fatal.
func bindLocal(ctx context.Context, local netx.LocalAddr, log *logrus.Entry) (*net.UDPConn, error) {
	if local.ForceReuse() && local.AddrPort().Port() != 0 {
		if err := netx.ForceReusePort(local.AddrPort().Port()); err != nil {
			reuseErr := &ReuseForceError{Err: err}
			log.Warnf("%s, binding anyway", reuseErr.Error())
		}
	}
	conn, err := local.ListenUDP(ctx)
	if err != nil {
		return nil, &BindError{Err: err}
	}
	return conn, nil
}

// stunExchange performs one discovery cycle over conn: up to probeRetries
// binding requests, each with a fresh transaction ID and a bounded wait.
// Datagrams that are malformed, from a stale transaction or from another
// sender are discarded, not fatal.
func stunExchange(ctx context.Context, conn *net.UDPConn, server netip.AddrPort) (netip.AddrPort, error) {
	lastErr := errors.New("no response")

	for attempt := 0; attempt < probeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return netip.AddrPort{}, err
		}

		req, txID, err := stun.EncodeBindingRequest()
		if err != nil {
			return netip.AddrPort{}, &StunProtocolError{Err: err}
		}
		if _, err := conn.WriteToUDPAddrPort(req, server); err != nil {
			return netip.AddrPort{}, &StunProtocolError{Err: err}
		}

		pub, err := awaitResponse(ctx, conn, server, txID)
		if err == nil {
			return pub, nil
		}
		lastErr = err

		// an error response (e.g. 420 Unknown Attribute) is retried
		// with a fresh transaction like any timeout
		var resp *stun.ErrorResponse
		if errors.As(err, &resp) {
			logrus.Debugf("stun error response %d, retrying", resp.Code)
		}
	}
	return netip.AddrPort{}, &StunProtocolError{Err: lastErr}
}

// awaitResponse reads datagrams until the matching response arrives or the
// per-attempt deadline passes.
func awaitResponse(ctx context.Context, conn *net.UDPConn, server netip.AddrPort, txID stun.TransactionID) (netip.AddrPort, error) {
	deadline := time.Now().Add(responseTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return netip.AddrPort{}, err
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, stun.MaxMessageSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return netip.AddrPort{}, ctxErr
			}
			return netip.AddrPort{}, err
		}
		if from.Addr().Unmap() != server.Addr().Unmap() {
			continue
		}

		pub, err := stun.Decode(buf[:n], txID)
		switch {
		case err == nil:
			return pub, nil
		case errors.Is(err, stun.ErrTransactionMismatch), errors.Is(err, stun.ErrMalformed):
			// stray datagram, keep waiting
			continue
		default:
			return netip.AddrPort{}, err
		}
	}
}

// localAddrPort reports the concrete local address after binding, with the
// OS-chosen port filled in.
func localAddrPort(conn net.Conn) netip.AddrPort {
	switch a := conn.LocalAddr().(type) {
	case *net.UDPAddr:
		return a.AddrPort()
	case *net.TCPAddr:
		return a.AddrPort()
	default:
		return netip.AddrPort{}
	}
}
