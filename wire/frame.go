package wire

import (
	"errors"
	"math/big"

	"github.com/mpcmesh/pceps/field"
)

// FrameType identifies the kind of message carried by a Frame. Values
// are fixed by the protocol's on-wire type nibble and must not be
// renumbered.
type FrameType uint8

const (
	Advert FrameType = iota
	Share
	Mul
	Result
	Sync
	Request
	Leave
	BVect
	Malicious
)

var (
	// ErrTruncated is returned when a byte stream ends mid-field.
	ErrTruncated = errors.New("wire: truncated frame")
	// ErrUnknownType is returned for a type nibble outside the known set.
	ErrUnknownType = errors.New("wire: unknown frame type")
	// ErrUnknownVersion is returned by Encode for a version that does not fit
	// the header nibble, and for a SYNC version this codec does not understand.
	ErrUnknownVersion = errors.New("wire: unknown frame version")
)

// maxFrameType is the highest assigned FrameType, used to validate a
// decoded type nibble.
const maxFrameType = Malicious

// Frame is a decoded protocol message: an origin party id and an
// opaque, type-specific payload. Callers interpret Payload with the
// matching Encode*/Decode* helper for Type (EncodeSync/DecodeSync,
// EncodeIntList/DecodeIntList, or used directly for ADVERT/SHARE/MUL/
// RESULT/REQUEST/LEAVE, whose payloads are themselves length-prefixed
// integers the caller decodes with GetUint).
type Frame struct {
	Type    FrameType
	Version uint8
	Origin  field.PID
	Payload []byte
}

// Encode serializes f as: one byte packing (type<<4)|version, the
// origin party id as a length-prefixed integer, and the payload as a
// length-prefixed byte string.
func Encode(f Frame) ([]byte, error) {
	if f.Type > maxFrameType {
		return nil, ErrUnknownType
	}
	if f.Version > 0x0f {
		return nil, ErrUnknownVersion
	}

	out := make([]byte, 0, 2+len(f.Payload)+8)
	out = append(out, byte(f.Type)<<4|f.Version)

	origin, err := PutUint(new(big.Int).SetUint64(uint64(f.Origin)))
	if err != nil {
		return nil, err
	}
	out = append(out, origin...)

	out = append(out, byte(len(f.Payload)))
	out = append(out, f.Payload...)
	return out, nil
}

// Decode parses a Frame previously produced by Encode.
func Decode(data []byte) (Frame, error) {
	if len(data) < 1 {
		return Frame{}, ErrTruncated
	}
	typeVersion := data[0]
	ftype := FrameType(typeVersion >> 4)
	version := typeVersion & 0x0f
	if ftype > maxFrameType {
		return Frame{}, ErrUnknownType
	}
	pos := 1

	origin, n, err := GetUint(data[pos:])
	if err != nil {
		return Frame{}, err
	}
	pos += n

	if len(data) < pos+1 {
		return Frame{}, ErrTruncated
	}
	plen := int(data[pos])
	pos++
	if len(data) < pos+plen {
		return Frame{}, ErrTruncated
	}
	payload := data[pos : pos+plen]

	return Frame{
		Type:    ftype,
		Version: version,
		Origin:  field.PID(origin.Uint64()),
		Payload: payload,
	}, nil
}

// EncodeSync builds the payload for a SYNC frame: the field modulus,
// the threshold, and the serialized circuit, followed (version 1 only)
// by the Feldman generator g used by PCEAS. Version 0 is the PCEPS
// layout with no generator.
func EncodeSync(version uint8, p *big.Int, k int, circuitBytes []byte, g *big.Int) ([]byte, error) {
	var out []byte

	pb, err := PutUint(p)
	if err != nil {
		return nil, err
	}
	out = append(out, pb...)

	kb, err := PutUint(big.NewInt(int64(k)))
	if err != nil {
		return nil, err
	}
	out = append(out, kb...)

	clenB, err := PutUint(big.NewInt(int64(len(circuitBytes))))
	if err != nil {
		return nil, err
	}
	out = append(out, clenB...)
	out = append(out, circuitBytes...)

	if version == 1 {
		if g == nil {
			return nil, errors.New("wire: version 1 SYNC requires a generator")
		}
		gb, err := PutUint(g)
		if err != nil {
			return nil, err
		}
		out = append(out, gb...)
	} else if version != 0 {
		return nil, ErrUnknownVersion
	}

	return out, nil
}

// DecodeSync parses a SYNC frame's payload. g is nil for version 0.
func DecodeSync(version uint8, payload []byte) (p *big.Int, k int, circuitBytes []byte, g *big.Int, err error) {
	pos := 0

	p, n, err := GetUint(payload[pos:])
	if err != nil {
		return nil, 0, nil, nil, err
	}
	pos += n

	kv, n, err := GetUint(payload[pos:])
	if err != nil {
		return nil, 0, nil, nil, err
	}
	pos += n
	k = int(kv.Int64())

	clenV, n, err := GetUint(payload[pos:])
	if err != nil {
		return nil, 0, nil, nil, err
	}
	pos += n
	clen := int(clenV.Int64())
	if len(payload) < pos+clen {
		return nil, 0, nil, nil, ErrTruncated
	}
	circuitBytes = payload[pos : pos+clen]
	pos += clen

	switch version {
	case 0:
		return p, k, circuitBytes, nil, nil
	case 1:
		gv, _, err := GetUint(payload[pos:])
		if err != nil {
			return nil, 0, nil, nil, err
		}
		return p, k, circuitBytes, gv, nil
	default:
		return nil, 0, nil, nil, ErrUnknownVersion
	}
}

// EncodeIntList serializes a sequence of integers as consecutive
// length-prefixed values, used for BVECT and MALICIOUS payloads.
func EncodeIntList(values []*big.Int) ([]byte, error) {
	var out []byte
	for _, v := range values {
		b, err := PutUint(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeIntList parses a sequence of length-prefixed integers written
// by EncodeIntList.
func DecodeIntList(data []byte) ([]*big.Int, error) {
	var values []*big.Int
	pos := 0
	for pos < len(data) {
		v, n, err := GetUint(data[pos:])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		pos += n
	}
	return values, nil
}
