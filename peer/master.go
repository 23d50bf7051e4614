package peer

import (
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/mpcmesh/pceps/circuit"
	"github.com/mpcmesh/pceps/field"
	"github.com/mpcmesh/pceps/transport"
	"github.com/mpcmesh/pceps/wire"
)

const (
	minKnownPartiesToOpenRound = 3
	minThreshold               = 2
	primeRangeLow              = 1 << 30
	primeRangeHigh             = 1<<31 - 1

	defaultRoundInterval = 30 * time.Second
)

// Master wraps a Peer with the round-opening behavior described in
// spec.md §4.3: it periodically chooses a modulus (and, under PCEAS, a
// generator), selects a threshold and a set of providers, builds the
// circuit, and drives the round by broadcasting REQUEST then SYNC. It
// then participates in the round exactly like any other peer — its own
// broadcasts loop back through the transport, so Peer's ordinary
// Awaiting -> Sync -> Comp -> Res handling applies unmodified.
type Master struct {
	*Peer
	roundInterval time.Duration
}

// NewMaster constructs a Master peer. roundInterval of 0 defaults to
// the reference's ~30s cadence.
func NewMaster(cfg Config, roundInterval time.Duration) *Master {
	if roundInterval == 0 {
		roundInterval = defaultRoundInterval
	}
	return &Master{Peer: New(cfg), roundInterval: roundInterval}
}

// Run drives the underlying Peer's event loop and, concurrently, the
// Master's round-opening ticker. It blocks until ctx is cancelled.
func (m *Master) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- m.Peer.Run(ctx) }()

	ticker := time.NewTicker(m.roundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			m.openRound(ctx)
		}
	}
}

// openRound implements spec.md §4.3's "Round opening (Master)".
func (m *Master) openRound(ctx context.Context) {
	if m.Peer.State() != Awaiting {
		return // a round is already in flight
	}

	known := m.Peer.KnownParties()
	delete(known, m.cfg.PID) // the Master's own echoed broadcasts record it too
	n := len(known) + 1      // +1 for the Master itself
	if n < minKnownPartiesToOpenRound {
		m.logger.Debug("not enough known parties to open a round", "known", n)
		return
	}

	p, err := field.RandomPrime(big.NewInt(primeRangeLow), big.NewInt(primeRangeHigh))
	if err != nil {
		m.logger.Error("failed to generate round modulus", "err", err)
		return
	}
	var g *big.Int
	if m.cfg.Version == PCEAS {
		g, err = field.RandomPrime(big.NewInt(primeRangeLow), big.NewInt(primeRangeHigh))
		if err != nil {
			m.logger.Error("failed to generate generator", "err", err)
			return
		}
	}

	k := chooseThreshold(n)

	providers := chooseProviders(m.cfg.PID, known, k, n)
	c := makeCircuit(providers)

	circuitBytes, err := c.Encode()
	if err != nil {
		m.logger.Error("failed to encode circuit", "err", err)
		return
	}

	m.broadcastRequest(ctx)
	m.broadcastSync(ctx, p, k, circuitBytes, g)
	m.logger.Info("round opened", "k", k, "providers", providers, "p", p)
}

// chooseThreshold mirrors the reference's tmax/threshold selection:
// tmax = round(n/2) - 1; when that is at most 2, clamp to the floor of 2.
func chooseThreshold(n int) int {
	tmax := (n+1)/2 - 1 // round(n/2) via integer rounding, minus 1
	if tmax <= minThreshold {
		return minThreshold
	}
	return minThreshold + rand.Intn(tmax-minThreshold+1)
}

// chooseProviders samples k distinct PIDs without replacement from the
// known-peer set, drawing from self+known parties when n<=k (the
// Master must provide an input itself to reach k providers), and from
// known parties alone otherwise (spec.md §4.3: "excluding itself when
// n > k").
func chooseProviders(self field.PID, known map[field.PID]transport.Addr, k, n int) []field.PID {
	candidates := make([]field.PID, 0, n)
	if n <= k {
		candidates = append(candidates, self)
	}
	for id := range known {
		candidates = append(candidates, id)
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

// makeCircuit builds a left-folded ADD chain over the providers' SHARE
// leaves: ((s1+s2)+s3)+... (spec.md §4.3).
func makeCircuit(providers []field.PID) *circuit.Circuit {
	c := circuit.New()
	acc := c.AddShare(providers[0])
	for _, pid := range providers[1:] {
		next := c.AddShare(pid)
		acc = c.AddAdd(acc, next)
	}
	return c
}

func (m *Master) broadcastRequest(ctx context.Context) {
	payload, _ := wire.PutUint(new(big.Int).SetUint64(uint64(m.cfg.PID)))
	frame, err := wire.Encode(wire.Frame{
		Type: wire.Request, Version: uint8(m.cfg.Version), Origin: m.cfg.PID, Payload: payload,
	})
	if err != nil {
		return
	}
	_ = m.transport.Broadcast(ctx, frame)
}

func (m *Master) broadcastSync(ctx context.Context, p *big.Int, k int, circuitBytes []byte, g *big.Int) {
	payload, err := wire.EncodeSync(uint8(m.cfg.Version), p, k, circuitBytes, g)
	if err != nil {
		m.logger.Error("encode sync payload failed", "err", err)
		return
	}
	frame, err := wire.Encode(wire.Frame{
		Type: wire.Sync, Version: uint8(m.cfg.Version), Origin: m.cfg.PID, Payload: payload,
	})
	if err != nil {
		return
	}
	_ = m.transport.Broadcast(ctx, frame)
}
