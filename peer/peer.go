// Package peer implements the five-state protocol driver each node in
// the network runs: discovery, round synchronization, local circuit
// evaluation, and result collection, for both the semi-honest (PCEPS)
// and actively-secure (PCEAS) protocol variants.
package peer

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/getamis/sirius/log"
	"github.com/pkg/errors"

	"github.com/mpcmesh/pceps/circuit"
	"github.com/mpcmesh/pceps/field"
	"github.com/mpcmesh/pceps/transport"
	"github.com/mpcmesh/pceps/wire"
)

// State is one of the five protocol states a peer occupies.
type State int

const (
	Start State = iota
	Awaiting
	Sync
	Comp
	Res
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case Awaiting:
		return "Awaiting"
	case Sync:
		return "Sync"
	case Comp:
		return "Comp"
	case Res:
		return "Res"
	default:
		return "Unknown"
	}
}

// Version selects the protocol variant, carried as the frame version
// nibble (spec.md §4.1).
type Version uint8

const (
	PCEPS Version = 0
	PCEAS Version = 1
)

const (
	advertCountThreshold = 3
	defaultTimeout       = 10 * time.Second
	providerSecretLow    = 15
	providerSecretHigh   = 25
)

// Config parameterizes a Peer. Only PID, Version, and the transport are
// required; everything else defaults to the reference's constants.
type Config struct {
	PID       field.PID
	Version   Version
	Transport transport.Transport
	Logger    log.Logger

	Timeout time.Duration // defaults to 10s
}

// Peer is one node's protocol state: its identity and role, its
// current state, the set of peers it knows about, a durable blacklist,
// and the current round's scratch state. Peer state is created once on
// boot and persists across rounds; clean resets only the round-scoped
// fields.
type Peer struct {
	cfg       Config
	transport transport.Transport
	logger    log.Logger
	timeout   time.Duration

	mu            sync.Mutex
	state         State
	knownParties  map[field.PID]transport.Addr
	blacklist     map[field.PID]bool
	advertCount   int
	frameCh       chan inboundFrame
	deadline      time.Time
	hasDeadline   bool
	roundSeq      int // increments each round opened; survives clean(), unlike roundState
	onResultReady func(*big.Int)

	round roundState
}

// roundState holds every field that clean() resets to its zero value.
type roundState struct {
	circuit      *circuit.Circuit
	primeP       *big.Int
	primeG       *big.Int
	k            int
	applicant    field.PID
	isProvider   bool
	shares       map[field.PID]*big.Int
	bVectors     map[field.PID][]*big.Int
	results      map[field.PID]*big.Int
	finalResult  *big.Int
	stopProt     bool
	suspected    []field.PID
	sanityPassed bool
}

type inboundFrame struct {
	from transport.Addr
	data []byte
}

// New constructs a Peer in the Start state. Call Run to boot it.
func New(cfg Config) *Peer {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	return &Peer{
		cfg:          cfg,
		transport:    cfg.Transport,
		logger:       cfg.Logger.New("pid", cfg.PID, "version", cfg.Version),
		timeout:      cfg.Timeout,
		state:        Start,
		knownParties: make(map[field.PID]transport.Addr),
		blacklist:    make(map[field.PID]bool),
		frameCh:      make(chan inboundFrame, 256),
	}
}

// PID returns this peer's identifier.
func (p *Peer) PID() field.PID { return p.cfg.PID }

// State returns the peer's current protocol state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// KnownParties returns a snapshot of the known-peer set.
func (p *Peer) KnownParties() map[field.PID]transport.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[field.PID]transport.Addr, len(p.knownParties))
	for k, v := range p.knownParties {
		out[k] = v
	}
	return out
}

// IsBlacklisted reports whether pid is on the durable blacklist.
func (p *Peer) IsBlacklisted(pid field.PID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blacklist[pid]
}

// clean resets all round-scoped state and returns the peer to
// Awaiting, preserving the known-peer set, blacklist, PID, and version
// (spec.md §3, "Lifecycle").
func (p *Peer) clean() {
	p.round = roundState{}
	p.state = Awaiting
	p.hasDeadline = false
}

// Run boots the peer: it starts listening on the transport, enters
// Awaiting, and drives the single event loop (inbound frames and
// timers) until ctx is cancelled. It blocks until ctx is done.
func (p *Peer) Run(ctx context.Context) error {
	if err := p.transport.Listen(ctx, p.onDatagram); err != nil {
		return errors.Wrap(err, "peer: failed to start listening")
	}

	p.mu.Lock()
	p.state = Awaiting
	p.advertCount = 0
	p.mu.Unlock()

	advertTicker := time.NewTicker(p.timeout / 2)
	defer advertTicker.Stop()
	checkTicker := time.NewTicker(100 * time.Millisecond)
	defer checkTicker.Stop()

	p.sendAdvert(ctx)
	p.mu.Lock()
	p.advertCount++
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.frameCh:
			p.handleFrame(ctx, f)
		case <-advertTicker.C:
			p.mu.Lock()
			count := p.advertCount
			p.mu.Unlock()
			if count < advertCountThreshold {
				p.sendAdvert(ctx)
				p.mu.Lock()
				p.advertCount++
				p.mu.Unlock()
			}
		case <-checkTicker.C:
			p.checkDeadline(ctx)
		}
	}
}

// onDatagram is the transport's receive callback; it only enqueues, so
// the single state-machine goroutine is the sole mutator of peer state
// (spec.md §5).
func (p *Peer) onDatagram(from transport.Addr, data []byte) {
	select {
	case p.frameCh <- inboundFrame{from: from, data: data}:
	default:
		p.logger.Warn("frame queue full, dropping datagram")
	}
}

// processDatagram synchronously decodes and dispatches one inbound
// datagram, bypassing frameCh. Tests that want a deterministic,
// goroutine-free protocol run wire this in as the transport's handler
// instead of onDatagram.
func (p *Peer) processDatagram(ctx context.Context, from transport.Addr, data []byte) {
	p.handleFrame(ctx, inboundFrame{from: from, data: data})
}

func (p *Peer) sendAdvert(ctx context.Context) {
	payload, _ := wire.PutUint(new(big.Int).SetUint64(uint64(p.cfg.PID)))
	frame, err := wire.Encode(wire.Frame{
		Type: wire.Advert, Version: uint8(p.cfg.Version), Origin: p.cfg.PID, Payload: payload,
	})
	if err != nil {
		p.logger.Error("encode advert failed", "err", err)
		return
	}
	if err := p.transport.Broadcast(ctx, frame); err != nil {
		p.logger.Warn("broadcast advert failed", "err", err)
	}
}

// setDeadline arms the poll-loop's timeout check for the current wait
// phase (Sync, sanity check, or share/result collection).
func (p *Peer) setDeadline(d time.Duration) {
	p.deadline = time.Now().Add(d)
	p.hasDeadline = true
}

// checkDeadline fires the current state's timeout handling if the
// armed deadline has passed. It runs on the single state-machine
// goroutine via the poll loop's checkTicker.
func (p *Peer) checkDeadline(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maybeProceedComp(ctx)
	if !p.hasDeadline || time.Now().Before(p.deadline) {
		return
	}
	p.hasDeadline = false

	switch p.state {
	case Sync:
		p.logger.Info("timed out waiting for SYNC", p.logCtx()...)
		p.clean()
	case Comp:
		p.logger.Info("timed out waiting for round inputs", p.logCtx()...)
		if p.cfg.Version == PCEAS {
			p.accuseSilentPeers()
		}
		p.clean()
	}
}

// handleFrame decodes and dispatches one inbound datagram. Decode
// errors drop the datagram without changing state (spec.md §7).
// Blacklisted origins are dropped silently in any state.
func (p *Peer) handleFrame(ctx context.Context, f inboundFrame) {
	frame, err := wire.Decode(f.data)
	if err != nil {
		p.logger.Debug("dropping undecodable frame", "err", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.blacklist[frame.Origin] {
		return
	}
	if frame.Version != uint8(p.cfg.Version) && frame.Type != wire.Leave {
		return
	}

	// Any non-stale sender teaches us (or refreshes) its address, so a
	// later unicast reply has somewhere to go.
	_, alreadyKnown := p.knownParties[frame.Origin]
	p.knownParties[frame.Origin] = f.from

	switch frame.Type {
	case wire.Leave:
		p.handleLeave(frame)
		return
	case wire.Advert:
		p.handleAdvert(ctx, frame, !alreadyKnown)
		return
	}

	switch p.state {
	case Awaiting:
		if frame.Type == wire.Request {
			p.handleRequest(frame)
		}
	case Sync:
		if frame.Type == wire.Sync {
			p.handleSync(ctx, frame)
		}
	case Comp:
		p.handleCompFrame(ctx, frame)
	}
}

// handleAdvert implements discovery (spec.md §4.3): an ADVERT from an
// unknown, non-blacklisted PID is recorded (already done above) and
// triggers a rebroadcast of our own ADVERT. Repeated ADVERTs from the
// same PID are a no-op beyond the address refresh already applied,
// which keeps discovery idempotent (testable property 8).
func (p *Peer) handleAdvert(ctx context.Context, frame wire.Frame, isNew bool) {
	if frame.Origin == p.cfg.PID {
		return
	}
	if p.state == Awaiting && isNew {
		go p.sendAdvert(ctx)
	}
	p.maybeProceedComp(ctx)
}

func (p *Peer) handleLeave(frame wire.Frame) {
	v, _, err := wire.GetUint(frame.Payload)
	if err != nil {
		return
	}
	delete(p.knownParties, field.PID(v.Uint64()))
}

func (p *Peer) handleRequest(frame wire.Frame) {
	v, _, err := wire.GetUint(frame.Payload)
	if err != nil {
		return
	}
	p.round.applicant = field.PID(v.Uint64())
	p.state = Sync
	p.roundSeq++
	p.setDeadline(p.timeout)
	p.logger.Info("round requested", p.logCtx("applicant", p.round.applicant)...)
}

// logCtx prepends the current round sequence number and state to extra,
// the way crypto/tss/message/msg_main.go's messageLoop attaches
// msgType/fromId to every log line in a message's lifecycle.
func (p *Peer) logCtx(extra ...interface{}) []interface{} {
	return append([]interface{}{"round", p.roundSeq, "state", p.state}, extra...)
}

func (p *Peer) handleSync(ctx context.Context, frame wire.Frame) {
	pVal, k, circuitBytes, g, err := wire.DecodeSync(frame.Version, frame.Payload)
	if err != nil {
		p.logger.Warn("malformed SYNC payload, staying in Sync", "err", err)
		return
	}
	c, err := circuit.Decode(circuitBytes)
	if err != nil {
		p.logger.Warn("circuit translation failed, staying in Sync", "err", err)
		return
	}

	p.round.primeP = pVal
	p.round.primeG = g
	p.round.k = k
	p.round.circuit = c
	p.state = Comp
	p.round.shares = make(map[field.PID]*big.Int)
	p.round.bVectors = make(map[field.PID][]*big.Int)
	p.round.results = make(map[field.PID]*big.Int)
	p.setDeadline(p.timeout)
	p.maybeProceedComp(ctx)
}

// sanityCheckResult distinguishes a fatal sanity failure (bad
// parameters) from a transient one (not enough known parties yet, so
// the caller should keep waiting until the Comp-phase deadline).
type sanityCheckResult int

const (
	sanityOK sanityCheckResult = iota
	sanityWaiting
	sanityFatal
)

// sanityCheck requires k >= 2, enough known parties, and a prime
// modulus (spec.md §4.3). Too few known parties is transient: the round
// stays in Comp and is retried as more ADVERTs arrive, until the
// Comp-phase deadline expires.
func (p *Peer) sanityCheck() sanityCheckResult {
	if p.round.k < minThreshold {
		return sanityFatal
	}
	ok, err := field.IsPrime(p.round.primeP)
	if err != nil || !ok {
		return sanityFatal
	}
	if len(p.knownParties) < p.round.k {
		return sanityWaiting
	}
	return sanityOK
}

// maybeProceedComp re-attempts the sanity check and, once it passes,
// determines provider status and shares a secret exactly once per
// round. It is called both when a round enters Comp and whenever a new
// peer is discovered while already in Comp. A provider's own share is
// assigned locally rather than delivered over the network, so it must
// also attempt evaluation and finish here: otherwise a provider whose
// own share was the last one needed would never be nudged forward.
func (p *Peer) maybeProceedComp(ctx context.Context) {
	if p.state != Comp || p.round.sanityPassed {
		return
	}
	switch p.sanityCheck() {
	case sanityFatal:
		p.logger.Info("sanity check failed", p.logCtx()...)
		p.clean()
		return
	case sanityWaiting:
		return
	case sanityOK:
		p.round.sanityPassed = true
		p.round.isProvider = p.isInputProvider(p.cfg.PID)
		if p.round.isProvider {
			p.shareSecret()
		}
		p.tryEvaluate(ctx)
		p.tryFinish(ctx)
	}
}

// isInputProvider reports whether pid appears as a SHARE leaf in the
// round's circuit.
func (p *Peer) isInputProvider(pid field.PID) bool {
	for _, id := range p.round.circuit.GetInputIDs() {
		if id == pid {
			return true
		}
	}
	return false
}

// shareSecret samples this provider's secret, creates shares for every
// known party, keeps its own share, and unicasts the rest (spec.md
// §4.3 PCEPS step 2). Under PCEAS it also broadcasts the B-vector
// before distributing shares (see peas.go).
func (p *Peer) shareSecret() {
	secret := big.NewInt(int64(providerSecretLow + rand.Intn(providerSecretHigh-providerSecretLow+1)))

	ids := make([]field.PID, 0, len(p.knownParties)+1)
	ids = append(ids, p.cfg.PID)
	for id := range p.knownParties {
		if id != p.cfg.PID {
			ids = append(ids, id)
		}
	}

	var g *big.Int
	if p.cfg.Version == PCEAS {
		g = p.round.primeG
	}

	sharing, err := field.CreateShares(secret, ids, p.round.k, p.round.primeP, g)
	if err != nil {
		p.logger.Error("share creation failed", p.logCtx("err", err)...)
		return
	}

	p.round.shares[p.cfg.PID] = sharing.Shares[p.cfg.PID]

	if p.cfg.Version == PCEAS {
		p.broadcastBVector(sharing.BVector)
	}

	for _, id := range ids {
		if id == p.cfg.PID {
			continue
		}
		p.sendShare(id, sharing.Shares[id])
	}
}

func (p *Peer) sendShare(to field.PID, value *big.Int) {
	addr, ok := p.knownParties[to]
	if !ok {
		return
	}
	payload, err := wire.PutUint(value)
	if err != nil {
		return
	}
	frame, err := wire.Encode(wire.Frame{
		Type: wire.Share, Version: uint8(p.cfg.Version), Origin: p.cfg.PID, Payload: payload,
	})
	if err != nil {
		return
	}
	_ = p.transport.SendTo(context.Background(), addr, frame)
}

// handleCompFrame dispatches frames received while waiting for shares,
// B-vectors, results, or (PCEAS) accusations.
func (p *Peer) handleCompFrame(ctx context.Context, frame wire.Frame) {
	switch frame.Type {
	case wire.Share:
		p.handleShare(frame)
	case wire.BVect:
		if p.cfg.Version == PCEAS {
			p.handleBVector(frame)
		}
	case wire.Malicious:
		if p.cfg.Version == PCEAS {
			p.handleMalicious(ctx, frame)
		}
	case wire.Result:
		p.handleResult(frame)
	}

	p.tryEvaluate(ctx)
	p.tryFinish(ctx)
}

func (p *Peer) handleShare(frame wire.Frame) {
	v, _, err := wire.GetUint(frame.Payload)
	if err != nil {
		return
	}
	if _, exists := p.round.shares[frame.Origin]; exists {
		return // first-write-wins, tolerates duplicate/retransmitted datagrams
	}

	if p.cfg.Version == PCEAS {
		if b, ok := p.round.bVectors[frame.Origin]; ok {
			if !field.VerifyShare(v, p.cfg.PID, b, p.round.primeG, p.round.primeP) {
				p.flagMalicious(frame.Origin)
				return
			}
		}
	}
	p.round.shares[frame.Origin] = v
}

// tryEvaluate runs the local circuit evaluation once every provider's
// share has arrived, and (for a participant) unicasts the RESULT frame.
func (p *Peer) tryEvaluate(ctx context.Context) {
	if p.state != Comp || p.round.circuit == nil || p.round.stopProt {
		return
	}
	for _, id := range p.round.circuit.GetInputIDs() {
		if _, ok := p.round.shares[id]; !ok {
			return
		}
	}

	result, err := p.round.circuit.Evaluate(p.round.shares, p.round.primeP)
	if err != nil {
		p.logger.Error("circuit evaluation failed", p.logCtx("err", err)...)
		p.clean()
		return
	}
	p.round.results[p.cfg.PID] = result

	if p.round.applicant != p.cfg.PID {
		p.sendResult(ctx, result)
		p.logger.Info("local evaluation complete, result sent", p.logCtx()...)
		p.state = Res
		p.clean() // Res -> Awaiting is immediate once the round's only remaining job (reporting) is done
	}
}

func (p *Peer) sendResult(ctx context.Context, result *big.Int) {
	addr, ok := p.knownParties[p.round.applicant]
	if !ok {
		return
	}
	payload, err := wire.PutUint(result)
	if err != nil {
		return
	}
	frame, err := wire.Encode(wire.Frame{
		Type: wire.Result, Version: uint8(p.cfg.Version), Origin: p.cfg.PID, Payload: payload,
	})
	if err != nil {
		return
	}
	_ = p.transport.SendTo(ctx, addr, frame)
}

func (p *Peer) handleResult(frame wire.Frame) {
	if p.round.applicant != p.cfg.PID {
		return // only the applicant (Master) collects results
	}
	v, _, err := wire.GetUint(frame.Payload)
	if err != nil {
		return
	}
	if _, exists := p.round.results[frame.Origin]; !exists {
		p.round.results[frame.Origin] = v
	}
}

// tryFinish reconstructs the aggregate once the applicant holds its own
// result and every other known peer's result.
func (p *Peer) tryFinish(ctx context.Context) {
	if p.round.applicant != p.cfg.PID || p.state != Comp {
		return
	}
	if _, ok := p.round.results[p.cfg.PID]; !ok {
		return
	}
	for id := range p.knownParties {
		if _, ok := p.round.results[id]; !ok {
			return
		}
	}

	ids := make([]field.PID, 0, len(p.round.results))
	for id := range p.round.results {
		ids = append(ids, id)
	}
	lambda, err := field.ComputeRecombinationVector(ids, p.round.primeP)
	if err != nil {
		p.logger.Error("recombination failed", p.logCtx("err", err)...)
		p.clean()
		return
	}
	reconstructed, err := field.Reconstruct(lambda, p.round.results, p.round.primeP)
	if err != nil {
		p.logger.Error("reconstruction failed", p.logCtx("err", err)...)
		p.clean()
		return
	}
	aggregate, err := field.DivideByThreshold(reconstructed, p.round.k, p.round.primeP)
	if err != nil {
		p.logger.Error("threshold division failed", p.logCtx("err", err)...)
		p.clean()
		return
	}
	p.logger.Info("round complete", p.logCtx("result", aggregate)...)
	p.state = Res
	if p.onResultReady != nil {
		p.onResultReady(aggregate)
	}
	p.clean() // Res -> Awaiting is immediate once the aggregate has been reported
}
