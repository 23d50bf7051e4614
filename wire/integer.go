// Package wire implements the protocol's bit-for-bit binary framing:
// length-prefixed integers, the Frame envelope, and the circuit-tree
// byte encoding embedded inside SYNC frames.
package wire

import (
	"errors"
	"math/big"
)

// ErrNegative is returned when encoding a negative integer, which the
// wire format has no representation for.
var ErrNegative = errors.New("wire: cannot encode a negative integer")

// Len returns the minimal number of bytes needed to hold v's magnitude:
// 0 encodes as a single zero byte, and every power-of-256 boundary
// costs one more byte than the value just below it (e.g. 2^64-1 takes
// 8 bytes, 2^64 takes 9).
func Len(v *big.Int) int {
	if v.Sign() == 0 {
		return 1
	}
	n := (v.BitLen() + 7) / 8
	if n == 0 {
		n = 1
	}
	return n
}

// reverse returns a new slice holding b's bytes in reverse order.
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// PutUint encodes v as a length byte followed by its minimal-length
// little-endian magnitude, matching every other integer field on the
// wire (origin PIDs, the modulus, shares, results, B-vector entries).
func PutUint(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	b := v.Bytes() // big-endian from math/big
	if len(b) == 0 {
		b = []byte{0}
	}
	out := make([]byte, 0, 1+len(b))
	out = append(out, byte(len(b)))
	out = append(out, reverse(b)...)
	return out, nil
}

// GetUint reads a length-prefixed little-endian integer written by
// PutUint, returning the value and the number of bytes consumed.
func GetUint(data []byte) (*big.Int, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	n := int(data[0])
	if len(data) < 1+n {
		return nil, 0, ErrTruncated
	}
	return new(big.Int).SetBytes(reverse(data[1 : 1+n])), 1 + n, nil
}

// PutUint64 is the common-case helper for plain machine integers (PIDs,
// frame types, version numbers treated as values rather than header bits).
func PutUint64(v uint64) []byte {
	b, _ := PutUint(new(big.Int).SetUint64(v))
	return b
}
