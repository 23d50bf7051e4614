package wire

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpcmesh/pceps/field"
)

func TestEncodeShareFrameMatchesWorkedExample(t *testing.T) {
	f := Frame{
		Type:    Share,
		Version: 0,
		Origin:  field.PID(0),
		Payload: []byte{0x01},
	}
	got, err := Encode(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x01, 0x00, 0x01, 0x01}, got)
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: Advert, Version: 0, Origin: 7, Payload: nil},
		{Type: Share, Version: 0, Origin: 1, Payload: []byte{0x2a}},
		{Type: Leave, Version: 0, Origin: 255, Payload: []byte{}},
		{Type: Malicious, Version: 1, Origin: 1024, Payload: []byte{0x01, 0x02, 0x03}},
	}
	for _, f := range cases {
		encoded, err := Encode(f)
		require.NoError(t, err)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, f.Type, decoded.Type)
		assert.Equal(t, f.Version, decoded.Version)
		assert.Equal(t, f.Origin, decoded.Origin)
		if len(f.Payload) == 0 {
			assert.Empty(t, decoded.Payload)
		} else {
			assert.Equal(t, f.Payload, decoded.Payload)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte{0xF0, 0x01, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0x10})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestSyncPayloadRoundTripPCEPS(t *testing.T) {
	p := big.NewInt(2147483659)
	circuitBytes := []byte{0x10, 0x00, 0x01, 0x01, 0x00, 0x01, 0x02}

	payload, err := EncodeSync(0, p, 3, circuitBytes, nil)
	require.NoError(t, err)

	gotP, gotK, gotCircuit, gotG, err := DecodeSync(0, payload)
	require.NoError(t, err)
	assert.Equal(t, p, gotP)
	assert.Equal(t, 3, gotK)
	assert.Equal(t, circuitBytes, gotCircuit)
	assert.Nil(t, gotG)
}

func TestSyncPayloadRoundTripPCEAS(t *testing.T) {
	p := big.NewInt(2147483659)
	g := big.NewInt(5)
	circuitBytes := []byte{0x00, 0x01, 0x01}

	payload, err := EncodeSync(1, p, 2, circuitBytes, g)
	require.NoError(t, err)

	gotP, gotK, gotCircuit, gotG, err := DecodeSync(1, payload)
	require.NoError(t, err)
	assert.Equal(t, p, gotP)
	assert.Equal(t, 2, gotK)
	assert.Equal(t, circuitBytes, gotCircuit)
	assert.Equal(t, g, gotG)
}

func TestIntListRoundTrip(t *testing.T) {
	values := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(300), big.NewInt(70000)}
	encoded, err := EncodeIntList(values)
	require.NoError(t, err)

	decoded, err := DecodeIntList(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(values))
	for i := range values {
		assert.Equal(t, values[i], decoded[i])
	}
}
