package peer

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcmesh/pceps/circuit"
	"github.com/mpcmesh/pceps/field"
	"github.com/mpcmesh/pceps/transport"
	"github.com/mpcmesh/pceps/wire"
)

// wireListen registers p's synchronous datagram handler on tr, so every
// Broadcast/SendTo in these tests drives the state machine directly on
// the calling goroutine instead of through frameCh and the poll loop.
// A MemoryTransport echoes broadcasts back to their sender; those echoes
// are dropped here, because the sender still holds p.mu while it
// broadcasts and handling the echo synchronously would deadlock.
func wireListen(t *testing.T, ctx context.Context, p *Peer, tr transport.Transport) {
	t.Helper()
	self := tr.LocalAddr()
	require.NoError(t, tr.Listen(ctx, func(from transport.Addr, data []byte) {
		if from == self {
			return
		}
		p.processDatagram(ctx, from, data)
	}))
}

func addrOf(pid field.PID) transport.Addr {
	return transport.Addr(big.NewInt(int64(pid)).String())
}

func encodeAdvert(origin field.PID) []byte {
	payload, _ := wire.PutUint(big.NewInt(int64(origin)))
	f, _ := wire.Encode(wire.Frame{Type: wire.Advert, Version: uint8(PCEPS), Origin: origin, Payload: payload})
	return f
}

// p2 is driven directly via processDatagram rather than through a
// registered transport Listen handler, so handleAdvert's own `go
// p.sendAdvert(ctx)` rebroadcast (fire-and-forget, touching no peer
// state these tests read) cannot race with the assertions below.
func TestIdempotentDiscovery(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus(addrOf(1), addrOf(2))

	p2 := New(Config{PID: 2, Version: PCEPS, Transport: bus[addrOf(2)]})
	p2.state = Awaiting

	advert := encodeAdvert(1)
	for i := 0; i < 5; i++ {
		p2.processDatagram(ctx, addrOf(1), advert)
	}

	known := p2.KnownParties()
	assert.Len(t, known, 1)
	assert.Equal(t, addrOf(1), known[1])
}

func TestBlacklistedOriginDropped(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus(addrOf(1), addrOf(2))

	p2 := New(Config{PID: 2, Version: PCEPS, Transport: bus[addrOf(2)]})
	p2.state = Awaiting
	p2.blacklist[1] = true

	p2.processDatagram(ctx, addrOf(1), encodeAdvert(1))

	assert.Empty(t, p2.KnownParties())
}

func TestSanityCheckWaitsForEnoughKnownParties(t *testing.T) {
	ctx := context.Background()
	p := New(Config{PID: 1, Version: PCEPS, Transport: transport.NewMemoryBus(addrOf(1))[addrOf(1)]})
	p.state = Comp
	p.round.k = 2
	p.round.primeP = big.NewInt(31)
	c := circuit.New()
	c.AddCMul(big.NewInt(1), c.AddShare(5)) // a provider (pid 5) this peer is not, so tryEvaluate keeps waiting rather than erroring on an empty circuit
	p.round.circuit = c
	p.round.shares = map[field.PID]*big.Int{}
	p.round.bVectors = map[field.PID][]*big.Int{}
	p.round.results = map[field.PID]*big.Int{}

	p.maybeProceedComp(ctx)
	assert.False(t, p.round.sanityPassed, "only self known, must keep waiting")
	assert.Equal(t, Comp, p.state)

	p.knownParties[2] = addrOf(2)
	p.knownParties[3] = addrOf(3)
	p.maybeProceedComp(ctx)
	assert.True(t, p.round.sanityPassed)
}

// TestEndToEndPCEPSSumCircuit drives three providers' already-computed
// local shares of a left-folded sum circuit through tryEvaluate/
// tryFinish exactly as the network would, and checks the Master's
// reconstructed aggregate against the hand-computed expectation (the
// same worked values as field.TestDivideByThresholdEndToEnd).
func TestEndToEndPCEPSSumCircuit(t *testing.T) {
	ctx := context.Background()
	p := big.NewInt(2147483659)
	k := 2
	ids := []field.PID{1, 2, 3}
	s1, s2, s3 := big.NewInt(21), big.NewInt(25), big.NewInt(29)

	sh1, err := field.CreateShares(s1, ids, k, p, nil)
	require.NoError(t, err)
	sh2, err := field.CreateShares(s2, ids, k, p, nil)
	require.NoError(t, err)
	sh3, err := field.CreateShares(s3, ids, k, p, nil)
	require.NoError(t, err)

	template := makeCircuit(ids)
	templateBytes, err := template.Encode()
	require.NoError(t, err)

	bus := transport.NewMemoryBus(addrOf(1), addrOf(2), addrOf(3))
	peers := make(map[field.PID]*Peer, 3)
	for _, id := range ids {
		c, err := circuit.Decode(templateBytes)
		require.NoError(t, err)

		pr := New(Config{PID: id, Version: PCEPS, Transport: bus[addrOf(id)]})
		pr.state = Comp
		pr.round.primeP = p
		pr.round.k = k
		pr.round.circuit = c
		pr.round.applicant = 1
		pr.round.shares = map[field.PID]*big.Int{
			1: sh1.Shares[id],
			2: sh2.Shares[id],
			3: sh3.Shares[id],
		}
		pr.round.bVectors = map[field.PID][]*big.Int{}
		pr.round.results = map[field.PID]*big.Int{}
		for _, other := range ids {
			if other != id {
				pr.knownParties[other] = addrOf(other)
			}
		}
		wireListen(t, ctx, pr, bus[addrOf(id)])
		peers[id] = pr
	}

	var aggregate *big.Int
	master := peers[1]
	master.onResultReady = func(v *big.Int) { aggregate = v }

	// Order matters only in that the applicant must be evaluated before
	// (or as a result of) receiving the others' RESULT frames; tryFinish
	// re-checks completeness on every call so any order converges.
	master.mu.Lock()
	master.tryEvaluate(ctx)
	master.mu.Unlock()

	peers[2].mu.Lock()
	peers[2].tryEvaluate(ctx)
	peers[2].mu.Unlock()

	peers[3].mu.Lock()
	peers[3].tryEvaluate(ctx)
	peers[3].mu.Unlock()

	require.NotNil(t, aggregate, "master must have reconstructed a result")

	wantSum := new(big.Int).Add(s1, s2)
	wantSum.Add(wantSum, s3)
	wantSum.Mod(wantSum, p)
	want, err := field.DivideByThreshold(wantSum, k, p)
	require.NoError(t, err)

	assert.Equal(t, want, aggregate)
	assert.Equal(t, Awaiting, master.State(), "round completion must return the applicant to Awaiting")
}

// TestPCEASTamperedShareBlacklistsSender covers S6: a share that fails
// Feldman verification against its own provider's B-vector causes the
// recipient to blacklist the sender, drop it from known_parties, and
// abandon the round without ever reaching a result.
func TestPCEASTamperedShareBlacklistsSender(t *testing.T) {
	ctx := context.Background()
	p := big.NewInt(2147483659)
	g := big.NewInt(5)
	k := 2
	ids := []field.PID{1, 2, 3}

	sharing, err := field.CreateShares(big.NewInt(17), ids, k, p, g)
	require.NoError(t, err)
	tampered := new(big.Int).Add(sharing.Shares[2], big.NewInt(2000))
	tampered.Mod(tampered, p)

	bus := transport.NewMemoryBus(addrOf(1), addrOf(2))
	victim := New(Config{PID: 2, Version: PCEAS, Transport: bus[addrOf(2)]})
	victim.state = Comp
	victim.round.primeP = p
	victim.round.primeG = g
	victim.round.k = k
	victim.round.shares = map[field.PID]*big.Int{}
	victim.round.bVectors = map[field.PID][]*big.Int{}
	victim.round.results = map[field.PID]*big.Int{}
	victim.knownParties[1] = addrOf(1)
	wireListen(t, ctx, victim, bus[addrOf(2)])

	var resultFired bool
	victim.onResultReady = func(*big.Int) { resultFired = true }

	bVectPayload, err := wire.EncodeIntList(sharing.BVector)
	require.NoError(t, err)
	bVectFrame, err := wire.Encode(wire.Frame{Type: wire.BVect, Version: uint8(PCEAS), Origin: 1, Payload: bVectPayload})
	require.NoError(t, err)
	bus[addrOf(1)].Broadcast(ctx, bVectFrame)

	sharePayload, err := wire.PutUint(tampered)
	require.NoError(t, err)
	shareFrame, err := wire.Encode(wire.Frame{Type: wire.Share, Version: uint8(PCEAS), Origin: 1, Payload: sharePayload})
	require.NoError(t, err)
	bus[addrOf(1)].SendTo(ctx, addrOf(2), shareFrame)

	assert.True(t, victim.IsBlacklisted(1))
	assert.NotContains(t, victim.KnownParties(), field.PID(1))
	assert.Equal(t, Awaiting, victim.State())
	assert.False(t, resultFired)
}

// TestPCEASShareArrivingBeforeBVectorIsVerifiedLate covers the
// out-of-order case: a share recorded before its B-vector arrives must
// still be checked, retroactively, the moment the B-vector shows up.
func TestPCEASShareArrivingBeforeBVectorIsVerifiedLate(t *testing.T) {
	ctx := context.Background()
	p := big.NewInt(2147483659)
	g := big.NewInt(5)
	k := 2
	ids := []field.PID{1, 2, 3}

	sharing, err := field.CreateShares(big.NewInt(17), ids, k, p, g)
	require.NoError(t, err)
	tampered := new(big.Int).Add(sharing.Shares[2], big.NewInt(2000))
	tampered.Mod(tampered, p)

	bus := transport.NewMemoryBus(addrOf(1), addrOf(2))
	victim := New(Config{PID: 2, Version: PCEAS, Transport: bus[addrOf(2)]})
	victim.state = Comp
	victim.round.primeP = p
	victim.round.primeG = g
	victim.round.k = k
	victim.round.shares = map[field.PID]*big.Int{}
	victim.round.bVectors = map[field.PID][]*big.Int{}
	victim.round.results = map[field.PID]*big.Int{}
	victim.knownParties[1] = addrOf(1)
	wireListen(t, ctx, victim, bus[addrOf(2)])

	sharePayload, err := wire.PutUint(tampered)
	require.NoError(t, err)
	shareFrame, err := wire.Encode(wire.Frame{Type: wire.Share, Version: uint8(PCEAS), Origin: 1, Payload: sharePayload})
	require.NoError(t, err)
	bus[addrOf(1)].SendTo(ctx, addrOf(2), shareFrame)

	assert.False(t, victim.IsBlacklisted(1), "cannot verify before the b-vector arrives")

	bVectPayload, err := wire.EncodeIntList(sharing.BVector)
	require.NoError(t, err)
	bVectFrame, err := wire.Encode(wire.Frame{Type: wire.BVect, Version: uint8(PCEAS), Origin: 1, Payload: bVectPayload})
	require.NoError(t, err)
	bus[addrOf(1)].Broadcast(ctx, bVectFrame)

	assert.True(t, victim.IsBlacklisted(1))
	assert.Equal(t, Awaiting, victim.State())
}

func TestHandleMaliciousBlacklistsAccusedAndAbandonsRound(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus(addrOf(1), addrOf(2))

	p2 := New(Config{PID: 2, Version: PCEAS, Transport: bus[addrOf(2)]})
	p2.state = Comp
	p2.round.primeP = big.NewInt(31)
	p2.round.k = 2
	p2.round.shares = map[field.PID]*big.Int{}
	p2.round.bVectors = map[field.PID][]*big.Int{}
	p2.round.results = map[field.PID]*big.Int{}
	p2.knownParties[1] = addrOf(1)
	p2.knownParties[3] = addrOf(3)
	wireListen(t, ctx, p2, bus[addrOf(2)])

	values := []*big.Int{big.NewInt(3)}
	payload, err := wire.EncodeIntList(values)
	require.NoError(t, err)
	frame, err := wire.Encode(wire.Frame{Type: wire.Malicious, Version: uint8(PCEAS), Origin: 1, Payload: payload})
	require.NoError(t, err)

	bus[addrOf(1)].Broadcast(ctx, frame)

	assert.True(t, p2.IsBlacklisted(3))
	assert.Equal(t, Awaiting, p2.State())
}
