package peer

import "github.com/mpcmesh/pceps/field"

// NewPCEPSConfig is a convenience constructor for the semi-honest
// variant: Shamir sharing and BGW-style evaluation with no
// verifiability. PCEPS never populates a blacklist, since it has no way
// to detect a mutated share (spec.md §4.3, "Blacklist semantics").
func NewPCEPSConfig(pid uint64) Config {
	return Config{
		PID:     field.PID(pid),
		Version: PCEPS,
		Timeout: defaultTimeout,
	}
}
