// Package circuit implements the arithmetic-circuit data model: an
// arena of gates forming a DAG, evaluated in a topological order that
// matches the order gates were added.
package circuit

import (
	"errors"
	"math/big"

	"github.com/mpcmesh/pceps/field"
)

// Kind identifies a gate's operation.
type Kind uint8

const (
	// Share is an input leaf carrying a party id; at evaluation time the
	// runtime substitutes that party's share value.
	Share Kind = iota
	// Const is a public constant leaf.
	Const
	// Add sums its two inputs modulo p.
	Add
	// Mul multiplies its two inputs modulo p. Evaluation is WIP (see
	// circuit.Evaluate): a full implementation needs the interactive
	// BGW re-sharing step, which this port does not provide.
	Mul
	// CMul multiplies its single input by a public constant modulo p.
	CMul
)

// arity returns the number of wired arena children a gate kind expects.
// SHARE carries no wired child: its single "input" (per spec.md §3) is
// the share value substituted at evaluation time, tracked separately via
// valueSet/setShareValue rather than an arena reference.
func arity(k Kind) int {
	switch k {
	case Add, Mul:
		return 2
	case CMul:
		return 1
	case Share, Const:
		return 0
	default:
		return -1
	}
}

var (
	// ErrUnknownKind is returned for a gate kind outside the known set.
	ErrUnknownKind = errors.New("circuit: unknown gate kind")
	// ErrArity is returned when a gate is given the wrong number of operand values.
	ErrArity = errors.New("circuit: wrong number of operands for gate kind")
	// ErrNotComputed is returned when a gate's result is read before it is computed.
	ErrNotComputed = errors.New("circuit: gate has not been computed yet")
	// ErrInputNotReady is returned by Evaluate when a gate's input has not been computed yet.
	ErrInputNotReady = errors.New("circuit: an input gate has not been computed")
	// ErrMissingShare is returned when a SHARE leaf has no substituted value at evaluation time.
	ErrMissingShare = errors.New("circuit: no share value supplied for this SHARE gate")
	// ErrMulNotImplemented is returned by Evaluate when the circuit contains a MUL gate.
	ErrMulNotImplemented = errors.New("circuit: MUL gate evaluation is not implemented (interactive re-sharing is WIP)")
	// ErrEmptyCircuit is returned by Encode on a circuit with no gates.
	ErrEmptyCircuit = errors.New("circuit: circuit is empty")
	// ErrTruncated is returned by Decode on a short or malformed byte stream.
	ErrTruncated = errors.New("circuit: truncated gate encoding")
	// ErrIncompleteTree is returned by Decode when operands are missing at end of stream.
	ErrIncompleteTree = errors.New("circuit: incomplete circuit, translation failed")
)

// Gate is one node of the circuit. Inputs are indices into the owning
// Circuit's gate arena rather than pointers, so the circuit is a plain
// slice with no cyclic ownership (see DESIGN.md's "Gate polymorphism"
// note).
type Gate struct {
	Kind Kind

	// Inputs holds the arena indices of this gate's wired operand
	// gates. Only ADD/MUL/CMUL populate this; its length always equals
	// arity(Kind).
	Inputs []int

	// PID is set only for Share gates: the party id this leaf is
	// reserved for.
	PID field.PID

	// Const is set only for Const and CMul gates: the public value.
	Const *big.Int

	value    *big.Int
	valueSet bool // distinguishes "computed to 0" from "not yet computed"
}

// Result returns the gate's computed value, or ErrNotComputed if
// compute() has not run yet.
func (g *Gate) Result() (*big.Int, error) {
	if !g.valueSet {
		return nil, ErrNotComputed
	}
	return g.value, nil
}

// setShareValue substitutes the carried share value into a SHARE leaf,
// immediately before that leaf is used as an input during evaluation.
func (g *Gate) setShareValue(v *big.Int) {
	g.value = v
	g.valueSet = true
}

// compute evaluates this gate's operation given its operand values,
// reducing modulo p. It mirrors the reference's Gate.compute, split so
// that a legitimately-zero result is never mistaken for "not computed"
// (the reference's `if not val` bug, flagged in spec.md §9).
func (g *Gate) compute(operands []*big.Int, p *big.Int) error {
	if want := arity(g.Kind); want < 0 {
		return ErrUnknownKind
	} else if (g.Kind == Add || g.Kind == Mul || g.Kind == CMul) && len(operands) != want {
		return ErrArity
	}

	var result *big.Int
	switch g.Kind {
	case Const:
		result = new(big.Int).Mod(g.Const, p)
	case Share:
		if !g.valueSet {
			return ErrMissingShare
		}
		result = new(big.Int).Mod(g.value, p)
	case Add:
		result = new(big.Int).Add(operands[0], operands[1])
		result.Mod(result, p)
	case Mul:
		result = new(big.Int).Mul(operands[0], operands[1])
		result.Mod(result, p)
	case CMul:
		result = new(big.Int).Mul(g.Const, operands[0])
		result.Mod(result, p)
	default:
		return ErrUnknownKind
	}
	g.value = result
	g.valueSet = true
	return nil
}
