package wire

import "github.com/mpcmesh/pceps/circuit"

// EncodeCircuit serializes c for embedding in a SYNC frame's payload.
// It is a thin pass-through to circuit.Encode: the circuit package owns
// the gate tree's byte layout (DESIGN.md), and wire only places that
// blob inside the outer frame envelope.
func EncodeCircuit(c *circuit.Circuit) ([]byte, error) {
	return c.Encode()
}

// DecodeCircuit parses a circuit byte blob previously produced by
// EncodeCircuit.
func DecodeCircuit(data []byte) (*circuit.Circuit, error) {
	return circuit.Decode(data)
}
