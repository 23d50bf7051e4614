package field

import (
	"errors"
	"math/big"
)

// PID identifies a peer. Zero is reserved: it is the evaluation point of
// the secret polynomial and must never be assigned to a real peer.
type PID uint64

var (
	// ErrZeroPID is returned when a share set includes the reserved PID 0.
	ErrZeroPID = errors.New("field: pid 0 is reserved and cannot hold a share")
	// ErrSecretTooLarge is returned when the secret is not smaller than the modulus.
	ErrSecretTooLarge = errors.New("field: secret must be smaller than the modulus")
	// ErrNotEnoughParties is returned when the sharing set is too small for the threshold.
	ErrNotEnoughParties = errors.New("field: number of parties must exceed the threshold")
	// ErrThresholdTooSmall is returned when a threshold below 2 is requested.
	ErrThresholdTooSmall = errors.New("field: threshold must be at least 2")
	// ErrResultMismatch is returned when results and the recombination vector disagree on membership.
	ErrResultMismatch = errors.New("field: recombination vector does not match the result set")
)

// Share is a single Shamir share (pid, f(pid) mod p).
type Share struct {
	PID   PID
	Value *big.Int
}

// Sharing is the output of CreateShares: one share per requested PID,
// plus (for PCEAS) the Feldman-style commitment vector over the
// polynomial's coefficients.
type Sharing struct {
	Shares  map[PID]*big.Int
	BVector []*big.Int // nil unless a PCEAS generator was supplied
}

// CreateShares samples a random degree-(k-1) polynomial with constant
// term secret, and evaluates it at every id in ids. If g is non-nil, it
// additionally returns the Feldman-style commitment vector
// B_i = c_i * g mod p used by PCEAS to verify shares.
func CreateShares(secret *big.Int, ids []PID, k int, p *big.Int, g *big.Int) (*Sharing, error) {
	if k < 2 {
		return nil, ErrThresholdTooSmall
	}
	if len(ids) <= k {
		return nil, ErrNotEnoughParties
	}
	if secret.Cmp(p) >= 0 {
		return nil, ErrSecretTooLarge
	}
	for _, id := range ids {
		if id == 0 {
			return nil, ErrZeroPID
		}
	}

	coeffs := make([]*big.Int, k)
	coeffs[0] = new(big.Int).Mod(secret, p)
	for i := 1; i < k; i++ {
		c, err := randomInRange(big0, p)
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}

	shares := make(map[PID]*big.Int, len(ids))
	for _, id := range ids {
		shares[id] = evalPolynomial(coeffs, id, p)
	}

	sharing := &Sharing{Shares: shares}
	if g != nil {
		b := make([]*big.Int, k)
		for i, c := range coeffs {
			b[i] = new(big.Int).Mod(new(big.Int).Mul(c, g), p)
		}
		sharing.BVector = b
	}
	return sharing, nil
}

// evalPolynomial computes f(x) mod p via Horner's method, where
// coeffs[i] is the coefficient of x^i.
func evalPolynomial(coeffs []*big.Int, x PID, p *big.Int) *big.Int {
	xv := new(big.Int).SetUint64(uint64(x))
	result := new(big.Int).Set(coeffs[len(coeffs)-1])
	for i := len(coeffs) - 2; i >= 0; i-- {
		result.Mul(result, xv)
		result.Add(result, coeffs[i])
		result.Mod(result, p)
	}
	return result
}

// VerifyShare checks a received share against the sender's B-vector
// under PCEAS: s*g == sum_j B[j] * pid^j (mod p).
func VerifyShare(value *big.Int, pid PID, b []*big.Int, g, p *big.Int) bool {
	lhs := new(big.Int).Mod(new(big.Int).Mul(value, g), p)

	rhs := new(big.Int)
	x := new(big.Int).SetUint64(uint64(pid))
	power := new(big.Int).SetInt64(1)
	for _, coeff := range b {
		term := new(big.Int).Mul(coeff, power)
		rhs.Add(rhs, term)
		rhs.Mod(rhs, p)
		power.Mul(power, x)
		power.Mod(power, p)
	}
	return lhs.Cmp(rhs) == 0
}

// ComputeRecombinationVector computes the Lagrange coefficients
// lambda_i = product_{j != i} (-j) * inverse(i-j) mod p, for the
// evaluation points in ids. This supersedes the reference
// implementation's real-number division, which silently truncates
// whenever -j/(i-j) is not an integer; here every step stays in GF(p)
// via modular inversion, which exists because p is prime and i != j.
func ComputeRecombinationVector(ids []PID, p *big.Int) (map[PID]*big.Int, error) {
	vector := make(map[PID]*big.Int, len(ids))
	for _, i := range ids {
		iv := new(big.Int).SetUint64(uint64(i))
		lambda := big.NewInt(1)
		for _, j := range ids {
			if i == j {
				continue
			}
			jv := new(big.Int).SetUint64(uint64(j))

			numerator := new(big.Int).Neg(jv)
			numerator.Mod(numerator, p)

			denominator := new(big.Int).Sub(iv, jv)
			denominator.Mod(denominator, p)
			inv := new(big.Int).ModInverse(denominator, p)
			if inv == nil {
				return nil, errors.New("field: modulus is not prime relative to the evaluation points")
			}

			term := new(big.Int).Mul(numerator, inv)
			term.Mod(term, p)

			lambda.Mul(lambda, term)
			lambda.Mod(lambda, p)
		}
		vector[i] = lambda
	}
	return vector, nil
}

// Reconstruct computes R = sum_i lambda_i * result_i mod p from the
// per-party local evaluation results and the recombination vector.
// Application-level callers (the Master, for the reference sum-of-shares
// circuit) are responsible for dividing by k to recover the sum of
// input secrets; that convention is specific to the left-folded ADD
// circuit the Master builds, not a general property of reconstruction.
func Reconstruct(lambda map[PID]*big.Int, results map[PID]*big.Int, p *big.Int) (*big.Int, error) {
	if len(results) != len(lambda) {
		return nil, ErrResultMismatch
	}
	total := new(big.Int)
	for id, result := range results {
		coeff, ok := lambda[id]
		if !ok {
			return nil, ErrResultMismatch
		}
		term := new(big.Int).Mul(result, coeff)
		term.Mod(term, p)
		total.Add(total, term)
		total.Mod(total, p)
	}
	return total, nil
}

// DivideByThreshold divides R by k in GF(p) via modular inverse, the
// application-level convention the Master uses to recover the sum of
// input secrets from the reconstructed sum-of-shares circuit result.
func DivideByThreshold(r *big.Int, k int, p *big.Int) (*big.Int, error) {
	kv := new(big.Int).SetInt64(int64(k))
	inv := new(big.Int).ModInverse(kv, p)
	if inv == nil {
		return nil, errors.New("field: threshold has no inverse modulo p")
	}
	result := new(big.Int).Mul(r, inv)
	result.Mod(result, p)
	return result, nil
}
