package transport

import (
	"context"
	"net"
	"time"

	"github.com/getamis/sirius/log"
	"golang.org/x/sys/unix"
)

// BroadcastAddr is the fixed discovery/broadcast address used by the
// reference deployment (spec.md §6).
const BroadcastAddr = "255.255.255.255:5005"

// UDPTransport implements Transport over a single broadcast-enabled
// IPv4 UDP socket, grounded on the reference's NetworkInterface (a
// SO_BROADCAST datagram socket shared for both discovery and unicast
// traffic).
type UDPTransport struct {
	conn   *net.UDPConn
	logger log.Logger
}

// NewUDPTransport opens a UDP socket bound to localAddr (e.g.
// ":5005") with broadcast enabled.
func NewUDPTransport(localAddr string, logger log.Logger) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &UDPTransport{conn: conn, logger: logger}, nil
}

// enableBroadcast sets SO_BROADCAST on the socket backing conn so
// writes to 255.255.255.255 are permitted; net.UDPConn does not enable
// this by default (mirrors the reference's NetworkInterface setting
// socket.SO_BROADCAST explicitly).
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// deadlineFromCtx translates ctx's deadline into a short read deadline
// so the read loop wakes periodically to recheck cancellation, never
// blocking forever (spec.md §5: "never as unbounded blocking reads").
func deadlineFromCtx(ctx context.Context) time.Time {
	short := time.Now().Add(500 * time.Millisecond)
	if dl, ok := ctx.Deadline(); ok && dl.Before(short) {
		return dl
	}
	return short
}

// Broadcast sends data to the fixed broadcast address. Send failures
// are logged and returned, never retried: the protocol relies on periodic ADVERT and
// round timeouts for progress rather than transport-level retries
// (spec.md §7).
func (t *UDPTransport) Broadcast(ctx context.Context, data []byte) error {
	return t.SendTo(ctx, Addr(BroadcastAddr), data)
}

// SendTo unicasts data to addr, a UDP host:port string.
func (t *UDPTransport) SendTo(ctx context.Context, addr Addr, data []byte) error {
	raddr, err := net.ResolveUDPAddr("udp4", string(addr))
	if err != nil {
		t.logger.Warn("resolve failed", "addr", addr, "err", err)
		return err
	}
	if _, err := t.conn.WriteToUDP(data, raddr); err != nil {
		t.logger.Warn("send failed", "addr", addr, "err", err)
		return err
	}
	return nil
}

// Listen reads datagrams until ctx is cancelled, delivering each to
// handler. It runs its read loop on its own goroutine so Listen itself
// never blocks the caller.
func (t *UDPTransport) Listen(ctx context.Context, handler Handler) error {
	go func() {
		buf := make([]byte, 65535)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			t.conn.SetReadDeadline(deadlineFromCtx(ctx))
			n, raddr, err := t.conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue // read timeout: loop back and recheck ctx
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			handler(Addr(raddr.String()), data)
		}
	}()
	return nil
}

// LocalAddr returns the bound socket's local address.
func (t *UDPTransport) LocalAddr() Addr {
	return Addr(t.conn.LocalAddr().String())
}

// Close releases the UDP socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
