package qf

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// ToFixedPoint converts a human-unit amount (e.g. 12.5 USD) to the integer
// domain scaled by 10^decimals, rounding half up.
func ToFixedPoint(v decimal.Decimal, decimals int32) (sdkmath.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return sdkmath.Int{}, fmt.Errorf("%w: decimals %d outside [0, %d]", ErrInvalidContribution, decimals, MaxDecimals)
	}
	if v.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: amount %s is negative", ErrInvalidContribution, v)
	}
	n := v.Shift(decimals).Round(0).BigInt()
	if n.BitLen() > sdkmath.MaxBitLen {
		return sdkmath.Int{}, fmt.Errorf("%w: amount %s at %d decimals exceeds %d bits", ErrInvalidContribution, v, decimals, sdkmath.MaxBitLen)
	}
	return sdkmath.NewIntFromBigInt(n), nil
}

// FromFixedPoint converts an integer-domain amount back to human units.
func FromFixedPoint(n sdkmath.Int, decimals int32) decimal.Decimal {
	if n.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.BigInt(), -decimals)
}
