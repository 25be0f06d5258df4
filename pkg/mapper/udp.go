package mapper

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uchouT/nyat/pkg/netx"
)

// keepalivePayload is the datagram sent on non-probe ticks. Content is
// irrelevant; it only has to traverse the NAT to keep the binding warm.
var keepalivePayload = []byte("nya")

// failureEscalation is how many consecutive failed cycles raise the log
// level. The mapper itself keeps retrying indefinitely.
const failureEscalation = 3

// UDPMapper owns a single UDP socket. It discovers the public mapping via
// STUN, then ticks at a fixed interval: every checkPerTick-th tick re-runs
// a full STUN probe, all other ticks send a lightweight keepalive datagram.
type UDPMapper struct {
	local        netx.LocalAddr
	stun         netx.RemoteAddr
	remote       *netx.RemoteAddr
	interval     time.Duration
	checkPerTick int
	log          *logrus.Entry
}

// Run binds the socket and loops until ctx is cancelled. Only bind errors
// are fatal; every STUN or resolution failure is retried on a later tick.
func (m *UDPMapper) Run(ctx context.Context, handler MappingHandler) error {
	conn, err := bindLocal(ctx, m.local, m.log)
	if err != nil {
		return err
	}
	defer conn.Close()

	// wake any blocked read when the caller cancels
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(0, 0))
	})
	defer stop()

	local := localAddrPort(conn)
	m.log.Infof("udp mapper bound on %s", local)

	var tracker changeTracker
	failures := 0

	probe := func() error {
		stunAddr, err := m.stun.Resolve(ctx)
		if err != nil {
			return &ResolveError{Err: err}
		}
		pub, err := stunExchange(ctx, conn, stunAddr)
		if err != nil {
			return err
		}
		tracker.observe(MappingInfo{PubAddr: pub, LocalAddr: local}, handler)
		return nil
	}

	m.note(probe(), &failures)
	if err := ctx.Err(); err != nil {
		return err
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	cnt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cnt++
		if cnt >= m.checkPerTick {
			cnt = 0
			m.note(probe(), &failures)
		} else {
			m.note(m.keepalive(ctx, conn), &failures)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// keepalive sends one datagram to the configured remote peer, or to the
// STUN server when no peer is set, without re-discovering.
func (m *UDPMapper) keepalive(ctx context.Context, conn *net.UDPConn) error {
	target := m.stun
	if m.remote != nil {
		target = *m.remote
	}
	addr, err := target.Resolve(ctx)
	if err != nil {
		return &ResolveError{Err: err}
	}
	if _, err := conn.WriteToUDPAddrPort(keepalivePayload, addr); err != nil {
		return fmt.Errorf("keepalive send: %w", err)
	}
	return nil
}

// note logs a transient cycle failure, escalating after several in a row.
// nil resets the streak.
func (m *UDPMapper) note(err error, failures *int) {
	if err == nil {
		*failures = 0
		return
	}
	*failures++
	if *failures >= failureEscalation {
		m.log.Warnf("%d consecutive cycles failed, still retrying: %s", *failures, err.Error())
	} else {
		m.log.Debugf("cycle failed: %s", err.Error())
	}
}
