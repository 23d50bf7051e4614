// Package field implements the finite-field primitives shared by the
// PCEPS and PCEAS protocol variants: primality testing, random prime
// generation, Shamir share construction and recombination.
package field

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// millerRabinWitnesses is the number of random bases tried by IsPrime.
// Fixed at 5 to match the reference protocol's primality test exactly;
// math/big.Int.ProbablyPrime uses a different internal strategy and
// would not reproduce the same acceptance probability.
const millerRabinWitnesses = 5

var (
	// ErrTooSmall is returned when a primality candidate is below 2.
	ErrTooSmall = errors.New("field: candidate must be >= 2")
	// ErrEmptyRange is returned if prime generation is given a degenerate bound.
	ErrEmptyRange = errors.New("field: empty search range")
)

var (
	big0 = big.NewInt(0)
	big1 = big.NewInt(1)
	big2 = big.NewInt(2)
)

// IsPrime runs a Miller-Rabin primality test with 5 random witnesses.
// It accepts 2 as prime and rejects even numbers and values below 2.
func IsPrime(n *big.Int) (bool, error) {
	if n.Cmp(big2) < 0 {
		return false, ErrTooSmall
	}
	if n.Cmp(big2) == 0 {
		return true, nil
	}
	if n.Bit(0) == 0 {
		return false, nil
	}

	// write n-1 as 2^s * d with d odd
	nMinus1 := new(big.Int).Sub(n, big1)
	d := new(big.Int).Set(nMinus1)
	s := 0
	for d.Bit(0) == 0 {
		d.Rsh(d, 1)
		s++
	}

	for i := 0; i < millerRabinWitnesses; i++ {
		a, err := randomInRange(big2, n)
		if err != nil {
			return false, err
		}
		if isComposite(n, nMinus1, a, d, s) {
			return false, nil
		}
	}
	return true, nil
}

// isComposite reports whether a is a witness of n's compositeness,
// given n-1 = 2^s * d.
func isComposite(n, nMinus1, a, d *big.Int, s int) bool {
	x := new(big.Int).Exp(a, d, n)
	if x.Cmp(big1) == 0 || x.Cmp(nMinus1) == 0 {
		return false
	}
	for i := 0; i < s-1; i++ {
		x.Mul(x, x)
		x.Mod(x, n)
		if x.Cmp(nMinus1) == 0 {
			return false
		}
	}
	return true
}

// RandomPrime draws uniformly from [a,b] (bounds swapped if b < a) and
// retries until a prime is found.
func RandomPrime(a, b *big.Int) (*big.Int, error) {
	lo, hi := a, b
	if hi.Cmp(lo) < 0 {
		lo, hi = hi, lo
	}

	for {
		candidate, err := randomInRange(lo, new(big.Int).Add(hi, big1))
		if err != nil {
			return nil, err
		}
		ok, err := IsPrime(candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			return candidate, nil
		}
	}
}

// randomInRange returns a uniform random value in [lo, hi).
func randomInRange(lo, hi *big.Int) (*big.Int, error) {
	span := new(big.Int).Sub(hi, lo)
	if span.Sign() <= 0 {
		return nil, ErrEmptyRange
	}
	r, err := rand.Int(rand.Reader, span)
	if err != nil {
		return nil, err
	}
	return r.Add(r, lo), nil
}
