package circuit

import (
	"math/big"

	"github.com/mpcmesh/pceps/field"
)

// wire gate-type codes, fixed by the protocol's byte format.
const (
	codeShare byte = 0x00
	codeConst byte = 0x01
	codeAdd   byte = 0x10
	codeMul   byte = 0x11
	codeCMul  byte = 0x12
)

// Circuit is an arena of gates in topological order: every gate's
// Inputs reference arena indices strictly lower than its own index, so
// the final element is always the circuit's output gate.
type Circuit struct {
	Gates []Gate

	next int // cursor for GetNextGate
}

// New returns an empty circuit.
func New() *Circuit {
	return &Circuit{}
}

// addGate appends g to the arena and returns its index.
func (c *Circuit) addGate(g Gate) int {
	c.Gates = append(c.Gates, g)
	return len(c.Gates) - 1
}

// AddShare appends a SHARE leaf reserved for pid and returns its index.
func (c *Circuit) AddShare(pid field.PID) int {
	return c.addGate(Gate{Kind: Share, PID: pid})
}

// AddConst appends a CONST leaf carrying value and returns its index.
func (c *Circuit) AddConst(value *big.Int) int {
	return c.addGate(Gate{Kind: Const, Const: new(big.Int).Set(value)})
}

// AddAdd appends an ADD gate over the two given operand indices.
func (c *Circuit) AddAdd(left, right int) int {
	return c.addGate(Gate{Kind: Add, Inputs: []int{left, right}})
}

// AddMul appends a MUL gate over the two given operand indices.
// Evaluation of a circuit containing a MUL gate is not implemented
// (see ErrMulNotImplemented); it can still be built and serialized.
func (c *Circuit) AddMul(left, right int) int {
	return c.addGate(Gate{Kind: Mul, Inputs: []int{left, right}})
}

// AddCMul appends a CMUL gate multiplying the operand at input by the
// public constant value.
func (c *Circuit) AddCMul(value *big.Int, input int) int {
	return c.addGate(Gate{Kind: CMul, Const: new(big.Int).Set(value), Inputs: []int{input}})
}

// Root returns the index of the circuit's output gate (its last-added
// gate), or -1 if the circuit is empty.
func (c *Circuit) Root() int {
	return len(c.Gates) - 1
}

// GetNextGate returns the next non-leaf gate in arena order and
// advances the cursor, or ok=false once the arena is exhausted. Leaf
// gates (SHARE/CONST) are never surfaced: they are only ever consumed
// as another gate's operand.
func (c *Circuit) GetNextGate() (idx int, ok bool) {
	for c.next < len(c.Gates) {
		i := c.next
		c.next++
		if c.Gates[i].Kind != Share && c.Gates[i].Kind != Const {
			return i, true
		}
	}
	return 0, false
}

// ResetCursor rewinds GetNextGate to the start of the arena.
func (c *Circuit) ResetCursor() {
	c.next = 0
}

// GetInputIDs returns the distinct party ids carried by every SHARE
// leaf reachable from any gate's direct inputs, in first-seen order.
func (c *Circuit) GetInputIDs() []field.PID {
	seen := make(map[field.PID]bool)
	var ids []field.PID
	for i := range c.Gates {
		g := &c.Gates[i]
		for _, idx := range g.Inputs {
			in := &c.Gates[idx]
			if in.Kind == Share && !seen[in.PID] {
				seen[in.PID] = true
				ids = append(ids, in.PID)
			}
		}
	}
	return ids
}

// Evaluate computes the circuit's output gate given the local shares
// held for each SHARE leaf's party id, reducing every intermediate
// value modulo p. It returns ErrMissingShare if a referenced SHARE leaf
// has no entry in shares, and ErrMulNotImplemented if the circuit
// contains a MUL gate (interactive re-sharing is out of scope for this
// port; see DESIGN.md's Open Question decisions).
func (c *Circuit) Evaluate(shares map[field.PID]*big.Int, p *big.Int) (*big.Int, error) {
	if len(c.Gates) == 0 {
		return nil, ErrEmptyCircuit
	}

	for i := range c.Gates {
		g := &c.Gates[i]
		switch g.Kind {
		case Share:
			v, ok := shares[g.PID]
			if !ok {
				return nil, ErrMissingShare
			}
			g.setShareValue(v)
		case Const:
			if err := g.compute(nil, p); err != nil {
				return nil, err
			}
		case Mul:
			return nil, ErrMulNotImplemented
		case Add, CMul:
			operands := make([]*big.Int, len(g.Inputs))
			for j, idx := range g.Inputs {
				in := &c.Gates[idx]
				if !in.valueSet {
					return nil, ErrInputNotReady
				}
				operands[j] = in.value
			}
			if err := g.compute(operands, p); err != nil {
				return nil, err
			}
		default:
			return nil, ErrUnknownKind
		}
	}

	root := &c.Gates[c.Root()]
	return root.Result()
}

// Encode serializes the circuit as a prefix (pre-order) traversal
// starting from the output gate: each gate is written as a one-byte
// type code, followed by its own payload, followed (for ADD/MUL/CMUL)
// by its operand subtrees in input order. Leaves embedded only as
// operands of the output's subtree are written; any arena gate never
// reached from the output is dropped, since the wire format has no way
// to represent disconnected gates.
func (c *Circuit) Encode() ([]byte, error) {
	if len(c.Gates) == 0 {
		return nil, ErrEmptyCircuit
	}
	var buf []byte
	c.encodeGate(c.Root(), &buf)
	return buf, nil
}

func (c *Circuit) encodeGate(idx int, buf *[]byte) {
	g := &c.Gates[idx]
	switch g.Kind {
	case Share:
		*buf = append(*buf, codeShare)
		encodeInt(new(big.Int).SetUint64(uint64(g.PID)), buf)
	case Const:
		*buf = append(*buf, codeConst)
		encodeInt(g.Const, buf)
	case Add:
		*buf = append(*buf, codeAdd)
		c.encodeGate(g.Inputs[0], buf)
		c.encodeGate(g.Inputs[1], buf)
	case Mul:
		*buf = append(*buf, codeMul)
		c.encodeGate(g.Inputs[0], buf)
		c.encodeGate(g.Inputs[1], buf)
	case CMul:
		*buf = append(*buf, codeCMul)
		encodeInt(g.Const, buf)
		c.encodeGate(g.Inputs[0], buf)
	}
}

// Decode parses a circuit previously produced by Encode. It rebuilds
// the arena bottom-up via a stack of pending (kind, arity, collected
// inputs) frames, so every child is appended to the arena strictly
// before the parent that references it; the last gate appended is
// always the output. ErrIncompleteTree is returned if the byte stream
// ends with operands still pending.
func Decode(data []byte) (*Circuit, error) {
	c := New()
	pos := 0

	type frame struct {
		kind   Kind
		wantN  int
		inputs []int
		cval   *big.Int // CMUL's constant, held until its operand arrives
	}
	var stack []*frame

	attach := func(idx int) {
		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		top.inputs = append(top.inputs, idx)
	}

	flush := func() error {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if len(top.inputs) < top.wantN {
				return nil
			}
			var g Gate
			switch top.kind {
			case Add:
				g = Gate{Kind: Add, Inputs: top.inputs}
			case Mul:
				g = Gate{Kind: Mul, Inputs: top.inputs}
			case CMul:
				g = Gate{Kind: CMul, Const: top.cval, Inputs: top.inputs}
			}
			idx := c.addGate(g)
			stack = stack[:len(stack)-1]
			attach(idx)
		}
		return nil
	}

	for pos < len(data) {
		code := data[pos]
		pos++
		switch code {
		case codeShare:
			v, n, err := decodeInt(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			idx := c.addGate(Gate{Kind: Share, PID: field.PID(v.Uint64())})
			attach(idx)
		case codeConst:
			v, n, err := decodeInt(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			idx := c.addGate(Gate{Kind: Const, Const: v})
			attach(idx)
		case codeAdd:
			stack = append(stack, &frame{kind: Add, wantN: 2})
		case codeMul:
			stack = append(stack, &frame{kind: Mul, wantN: 2})
		case codeCMul:
			v, n, err := decodeInt(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			stack = append(stack, &frame{kind: CMul, wantN: 1, cval: v})
		default:
			return nil, ErrUnknownKind
		}
		if err := flush(); err != nil {
			return nil, err
		}
	}

	if len(stack) != 0 || len(c.Gates) == 0 {
		return nil, ErrIncompleteTree
	}
	return c, nil
}

// reverseBytes returns a new slice holding b's bytes in reverse order.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// encodeInt appends value as a length-prefixed little-endian integer:
// one byte giving the minimal byte length, followed by that many
// bytes, matching the integer encoding used everywhere else on the
// wire.
func encodeInt(value *big.Int, buf *[]byte) {
	b := value.Bytes() // big-endian from math/big
	if len(b) == 0 {
		b = []byte{0}
	}
	*buf = append(*buf, byte(len(b)))
	*buf = append(*buf, reverseBytes(b)...)
}

// decodeInt reads a length-prefixed little-endian integer written by
// encodeInt, returning the value and the number of bytes consumed.
func decodeInt(data []byte) (*big.Int, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	n := int(data[0])
	if len(data) < 1+n {
		return nil, 0, ErrTruncated
	}
	v := new(big.Int).SetBytes(reverseBytes(data[1 : 1+n]))
	return v, 1 + n, nil
}
