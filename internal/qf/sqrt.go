package qf

import (
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

var (
	bigOne = big.NewInt(1)
	bigTen = big.NewInt(10)
)

// scaleSquared returns 10^(2·decimals). It stays a *big.Int: at high
// precision it is far wider than sdkmath.Int.
func scaleSquared(decimals int32) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(2*int64(decimals)), nil)
}

// sqrtFixed returns sqrt(amount) with decimals fractional digits, i.e.
// isqrt(amount · 10^(2·decimals)), where scale2 = 10^(2·decimals).
func sqrtFixed(amount sdkmath.Int, scale2 *big.Int) (sdkmath.Int, error) {
	return fromBig("square root", isqrt(new(big.Int).Mul(amount.BigInt(), scale2)))
}

// isqrt returns floor(sqrt(n)) using Newton's method. Non-positive n yields 0.
// The radicand of sqrtFixed is up to 256 + 2·MaxDecimals·log2(10) bits wide,
// so the iteration runs on *big.Int rather than sdkmath.Int.
//
// The first guess 2^ceil(bits/2) is never below the root, so the iteration
// decreases monotonically and stops at the first non-decreasing step.
func isqrt(n *big.Int) *big.Int {
	if n.Sign() <= 0 {
		return new(big.Int)
	}
	x := new(big.Int).Lsh(bigOne, uint(n.BitLen()+1)/2)
	y := new(big.Int)
	for {
		// y = (x + n/x) / 2
		y.Quo(n, x)
		y.Add(y, x)
		y.Rsh(y, 1)
		if y.Cmp(x) >= 0 {
			return x
		}
		x.Set(y)
	}
}

// fromBig brings an intermediate back into sdkmath.Int, reporting what as a
// precision overflow when it is wider than sdkmath.MaxBitLen.
func fromBig(what string, n *big.Int) (sdkmath.Int, error) {
	if n.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.Int{}, fmt.Errorf("%w: %s is %d bits wide", ErrPrecisionOverflow, what, n.BitLen())
	}
	return sdkmath.NewIntFromBigInt(n), nil
}

// safeAdd returns a + b. sdkmath.Int panics on overflow; the sum is
// pre-checked and any panic that slips past is recovered as
// ErrPrecisionOverflow.
func safeAdd(what string, a, b sdkmath.Int) (sum sdkmath.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			sum = sdkmath.Int{}
			err = fmt.Errorf("%w: %s: %v", ErrPrecisionOverflow, what, r)
		}
	}()
	if _, err := fromBig(what, new(big.Int).Add(a.BigInt(), b.BigInt())); err != nil {
		return sdkmath.Int{}, err
	}
	return a.Add(b), nil
}

// mulDiv returns floor(a · b / c) for c > 0 and a ≤ c. The product goes
// through *big.Int; the quotient is at most b.
func mulDiv(a, b, c sdkmath.Int) sdkmath.Int {
	n := new(big.Int).Mul(a.BigInt(), b.BigInt())
	return sdkmath.NewIntFromBigInt(n.Quo(n, c.BigInt()))
}
