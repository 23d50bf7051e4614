package circuit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateResultBeforeComputeIsError(t *testing.T) {
	g := Gate{Kind: Const, Const: big.NewInt(5)}
	_, err := g.Result()
	assert.ErrorIs(t, err, ErrNotComputed)
}

func TestGateComputeArityMismatch(t *testing.T) {
	g := Gate{Kind: Add}
	err := g.compute([]*big.Int{big.NewInt(1)}, big.NewInt(31))
	assert.ErrorIs(t, err, ErrArity)
}

func TestGateComputeShareMissingValue(t *testing.T) {
	g := Gate{Kind: Share, PID: 1}
	err := g.compute(nil, big.NewInt(31))
	assert.ErrorIs(t, err, ErrMissingShare)
}

func TestGateComputeAddWrapsModulus(t *testing.T) {
	g := Gate{Kind: Add}
	err := g.compute([]*big.Int{big.NewInt(20), big.NewInt(20)}, big.NewInt(31))
	require.NoError(t, err)
	result, err := g.Result()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), result) // 40 mod 31 = 9
}

func TestGateComputeCMul(t *testing.T) {
	g := Gate{Kind: CMul, Const: big.NewInt(4)}
	err := g.compute([]*big.Int{big.NewInt(10)}, big.NewInt(31))
	require.NoError(t, err)
	result, err := g.Result()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), result) // 40 mod 31 = 9
}
