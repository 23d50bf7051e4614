// Package transport provides the datagram abstraction peers send and
// receive framed protocol bytes over. The protocol assumes nothing
// about the transport beyond connectionless delivery of whole
// datagrams and a broadcast capability for discovery (spec.md §1, §6):
// any implementation satisfying Transport is substitutable.
package transport

import "context"

// Addr is an opaque, comparable transport address (e.g. a UDP
// *net.UDPAddr stringified, or an in-process peer id for tests).
type Addr string

// Handler is invoked once per received datagram, with the address it
// arrived from.
type Handler func(from Addr, data []byte)

// Transport sends and receives already-framed byte buffers. It does
// not interpret payloads; framing and protocol semantics live in the
// wire and peer packages.
type Transport interface {
	// Broadcast sends data to every reachable peer (discovery, SYNC,
	// REQUEST, LEAVE, BVECT, MALICIOUS per spec.md §6).
	Broadcast(ctx context.Context, data []byte) error

	// SendTo unicasts data to a specific known address (SHARE, RESULT
	// per spec.md §6).
	SendTo(ctx context.Context, addr Addr, data []byte) error

	// Listen begins delivering inbound datagrams to handler until ctx
	// is cancelled or Close is called. It must not block the caller.
	Listen(ctx context.Context, handler Handler) error

	// LocalAddr returns this transport's own address, included so the
	// originator of a unicast can recognize its own broadcast echoes.
	LocalAddr() Addr

	// Close releases the underlying resource (the shared socket,
	// per spec.md §5).
	Close() error
}
