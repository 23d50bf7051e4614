package transport

import (
	"context"
	"sync"
)

// memoryBus fans out broadcasts and unicasts between in-process
// MemoryTransports, replacing real sockets for deterministic multi-peer
// tests — the in-memory counterpart to the reference's simulator.py,
// grounded on the teacher's TestPeerManager in-process harness pattern.
type memoryBus struct {
	mu    sync.Mutex
	peers map[Addr]*MemoryTransport
}

func newMemoryBus() *memoryBus {
	return &memoryBus{peers: make(map[Addr]*MemoryTransport)}
}

// MemoryTransport implements Transport entirely in-process.
type MemoryTransport struct {
	addr    Addr
	bus     *memoryBus
	mu      sync.Mutex
	handler Handler
	closed  bool
}

// NewMemoryBus constructs a group of MemoryTransports sharing a single
// bus: broadcasting from any one of them reaches every other member.
func NewMemoryBus(addrs ...Addr) map[Addr]*MemoryTransport {
	bus := newMemoryBus()
	out := make(map[Addr]*MemoryTransport, len(addrs))
	for _, a := range addrs {
		t := &MemoryTransport{addr: a, bus: bus}
		bus.peers[a] = t
		out[a] = t
	}
	return out
}

// Broadcast delivers data to every peer on the bus, including the
// sender (mirroring a UDP broadcast socket receiving its own packets).
func (t *MemoryTransport) Broadcast(ctx context.Context, data []byte) error {
	t.bus.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(t.bus.peers))
	for _, p := range t.bus.peers {
		targets = append(targets, p)
	}
	t.bus.mu.Unlock()

	for _, p := range targets {
		p.deliver(t.addr, data)
	}
	return nil
}

// SendTo delivers data to a single addressed peer on the bus.
func (t *MemoryTransport) SendTo(ctx context.Context, addr Addr, data []byte) error {
	t.bus.mu.Lock()
	target, ok := t.bus.peers[addr]
	t.bus.mu.Unlock()
	if !ok {
		return nil // unreachable peer: best-effort send, per spec.md §7
	}
	target.deliver(t.addr, data)
	return nil
}

func (t *MemoryTransport) deliver(from Addr, data []byte) {
	t.mu.Lock()
	h := t.handler
	closed := t.closed
	t.mu.Unlock()
	if h != nil && !closed {
		h(from, data)
	}
}

// Listen registers handler as the receiver for this transport.
func (t *MemoryTransport) Listen(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		t.mu.Lock()
		t.handler = nil
		t.mu.Unlock()
	}()
	return nil
}

// LocalAddr returns this transport's bus address.
func (t *MemoryTransport) LocalAddr() Addr {
	return t.addr
}

// Close marks the transport as no longer receiving deliveries.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
