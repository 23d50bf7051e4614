package peer

import (
	"context"
	"math/big"

	"github.com/mpcmesh/pceps/field"
	"github.com/mpcmesh/pceps/wire"
)

// NewPCEASConfig is a convenience constructor for the actively-secure
// variant: Shamir sharing plus Feldman-style commitments, letting every
// shareholder verify its share without learning anyone else's
// (spec.md §4.3, PCEAS participant flow).
func NewPCEASConfig(pid uint64) Config {
	return Config{
		PID:     field.PID(pid),
		Version: PCEAS,
		Timeout: defaultTimeout,
	}
}

// broadcastBVector sends this provider's commitment vector before its
// shares go out, so recipients can verify a share the instant it
// arrives (spec.md §4.3 PCEAS step a).
func (p *Peer) broadcastBVector(b []*big.Int) {
	payload, err := wire.EncodeIntList(b)
	if err != nil {
		p.logger.Error("encode b-vector failed", "err", err)
		return
	}
	frame, err := wire.Encode(wire.Frame{
		Type: wire.BVect, Version: uint8(p.cfg.Version), Origin: p.cfg.PID, Payload: payload,
	})
	if err != nil {
		return
	}
	_ = p.transport.Broadcast(context.Background(), frame)
}

func (p *Peer) handleBVector(frame wire.Frame) {
	values, err := wire.DecodeIntList(frame.Payload)
	if err != nil {
		return
	}
	if _, exists := p.round.bVectors[frame.Origin]; exists {
		return
	}
	p.round.bVectors[frame.Origin] = values

	// A share may have already arrived before its B-vector: verify it
	// now that the commitment is known.
	if v, ok := p.round.shares[frame.Origin]; ok {
		if !field.VerifyShare(v, p.cfg.PID, values, p.round.primeG, p.round.primeP) {
			delete(p.round.shares, frame.Origin)
			p.flagMalicious(frame.Origin)
		}
	}
}

// flagMalicious implements spec.md §4.3 PCEAS step b: a share fails
// verification, so the sender is blacklisted, dropped from
// known_parties, and accused via a broadcast MALICIOUS frame; the round
// is abandoned.
func (p *Peer) flagMalicious(accused field.PID) {
	p.blacklist[accused] = true
	delete(p.knownParties, accused)
	p.round.suspected = append(p.round.suspected, accused)
	p.logger.Info("vss check failed, accusing peer", p.logCtx("accused", accused)...)
	p.broadcastMalicious(p.round.suspected)
	p.clean()
}

func (p *Peer) broadcastMalicious(accused []field.PID) {
	values := make([]*big.Int, len(accused))
	for i, id := range accused {
		values[i] = new(big.Int).SetUint64(uint64(id))
	}
	payload, err := wire.EncodeIntList(values)
	if err != nil {
		return
	}
	frame, err := wire.Encode(wire.Frame{
		Type: wire.Malicious, Version: uint8(p.cfg.Version), Origin: p.cfg.PID, Payload: payload,
	})
	if err != nil {
		return
	}
	_ = p.transport.Broadcast(context.Background(), frame)
}

// handleMalicious implements spec.md §4.3 PCEAS step c: receiving an
// accusation aborts any in-flight evaluation, merges the accused PIDs
// into the local blacklist, and gossips the accusation once more if it
// introduced new entries.
func (p *Peer) handleMalicious(ctx context.Context, frame wire.Frame) {
	values, err := wire.DecodeIntList(frame.Payload)
	if err != nil {
		return
	}

	p.round.stopProt = true

	var newlyBlacklisted []field.PID
	for _, v := range values {
		id := field.PID(v.Uint64())
		if !p.blacklist[id] {
			p.blacklist[id] = true
			delete(p.knownParties, id)
			newlyBlacklisted = append(newlyBlacklisted, id)
		}
	}

	if len(newlyBlacklisted) > 0 {
		p.broadcastMalicious(newlyBlacklisted)
	}

	p.clean()
}

// accuseSilentPeers implements spec.md §4.3 PCEAS step d: if the
// Comp-phase deadline expires while shares or B-vectors are still
// outstanding, every provider that never delivered one is accused.
func (p *Peer) accuseSilentPeers() {
	if p.round.circuit == nil {
		return
	}
	var silent []field.PID
	for _, id := range p.round.circuit.GetInputIDs() {
		_, haveShare := p.round.shares[id]
		_, haveB := p.round.bVectors[id]
		if !haveShare || !haveB {
			silent = append(silent, id)
		}
	}
	if len(silent) == 0 {
		return
	}
	for _, id := range silent {
		p.blacklist[id] = true
		delete(p.knownParties, id)
	}
	p.logger.Info("accusing silent peers", p.logCtx("pids", silent)...)
	p.broadcastMalicious(silent)
}
