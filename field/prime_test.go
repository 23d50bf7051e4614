package field

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrimeKnownValues(t *testing.T) {
	primes := []int64{2, 3, 5, 7, 11, 31, 104729}
	for _, p := range primes {
		ok, err := IsPrime(big.NewInt(p))
		require.NoError(t, err)
		assert.Truef(t, ok, "%d should be prime", p)
	}

	composites := []int64{1, 4, 6, 8, 9, 15, 21, 104730}
	for _, n := range composites {
		ok, err := IsPrime(big.NewInt(n))
		require.NoError(t, err)
		assert.Falsef(t, ok, "%d should not be prime", n)
	}
}

func TestIsPrimeRejectsBelowTwo(t *testing.T) {
	_, err := IsPrime(big.NewInt(1))
	assert.ErrorIs(t, err, ErrTooSmall)
	_, err = IsPrime(big.NewInt(0))
	assert.ErrorIs(t, err, ErrTooSmall)
}

func TestRandomPrimeWithinBounds(t *testing.T) {
	a := big.NewInt(1 << 20)
	b := big.NewInt((1 << 20) + 10000)
	for i := 0; i < 5; i++ {
		p, err := RandomPrime(a, b)
		require.NoError(t, err)
		assert.True(t, p.Cmp(a) >= 0 && p.Cmp(b) <= 0)
		ok, err := IsPrime(p)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRandomPrimeSwapsInvertedBounds(t *testing.T) {
	a := big.NewInt(1000)
	b := big.NewInt(900)
	p, err := RandomPrime(a, b)
	require.NoError(t, err)
	assert.True(t, p.Cmp(big.NewInt(900)) >= 0 && p.Cmp(big.NewInt(1000)) <= 0)
}
