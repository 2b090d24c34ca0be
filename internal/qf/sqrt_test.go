package qf

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

func TestIsqrt_SmallValues(t *testing.T) {
	tests := []struct {
		n, want int64
	}{
		{-4, 0},
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{15, 3},
		{16, 4},
		{17, 4},
		{99, 9},
		{100, 10},
		{1 << 62, 1 << 31},
	}
	for _, tt := range tests {
		if got := isqrt(big.NewInt(tt.n)); got.Cmp(big.NewInt(tt.want)) != 0 {
			t.Errorf("isqrt(%d): expected %d, got %s", tt.n, tt.want, got)
		}
	}
}

func TestIsqrt_AgreesWithBigSqrt(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	limit := new(big.Int).Lsh(bigOne, 520)
	for i := 0; i < 500; i++ {
		n := new(big.Int).Rand(rng, limit)
		want := new(big.Int).Sqrt(n)
		if got := isqrt(n); got.Cmp(want) != 0 {
			t.Fatalf("isqrt(%s): expected %s, got %s", n, want, got)
		}
	}
}

func TestIsqrt_WidestAmount(t *testing.T) {
	want := new(big.Int).Sub(new(big.Int).Lsh(bigOne, 128), bigOne)
	if got := isqrt(maxInt().BigInt()); got.Cmp(want) != 0 {
		t.Errorf("isqrt(2^256-1): expected %s, got %s", want, got)
	}
}

func TestSqrtFixed_CarriesDecimals(t *testing.T) {
	// sqrt(2) to 4 places.
	got, err := sqrtFixed(bi(2), scaleSquared(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectInt(t, "sqrt(2)", got, 14142)

	// Perfect squares stay exact at any precision.
	got, err = sqrtFixed(bi(81), scaleSquared(18))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectInt(t, "sqrt(81)", got, 9_000_000_000_000_000_000)
}

func TestSqrtFixed_Overflow(t *testing.T) {
	// The radicand may be wider than 256 bits as long as the root is not.
	if _, err := sqrtFixed(maxInt(), scaleSquared(MaxDecimals/2)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := sqrtFixed(maxInt(), scaleSquared(MaxDecimals)); !errors.Is(err, ErrPrecisionOverflow) {
		t.Errorf("expected ErrPrecisionOverflow, got %v", err)
	}
}

func TestSafeAdd(t *testing.T) {
	sum, err := safeAdd("sum", maxInt().Sub(bi(1)), bi(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sum.Equal(maxInt()) {
		t.Errorf("expected 2^256-1, got %s", sum)
	}
	if _, err := safeAdd("sum", maxInt(), bi(1)); !errors.Is(err, ErrPrecisionOverflow) {
		t.Errorf("expected ErrPrecisionOverflow, got %v", err)
	}
}

func TestMulDiv_RoundsDown(t *testing.T) {
	// The intermediate product 2^256·(2^256-1) is far wider than 256 bits.
	got := mulDiv(maxInt(), maxInt(), maxInt())
	if !got.Equal(maxInt()) {
		t.Errorf("expected 2^256-1, got %s", got)
	}
	expectInt(t, "200·100/300", mulDiv(bi(200), bi(100), bi(300)), 66)
}

// --- Fixed-point boundary ---

func TestToFixedPoint(t *testing.T) {
	tests := []struct {
		in       string
		decimals int32
		want     string
	}{
		{"12.5", 2, "1250"},
		{"12.345", 2, "1235"},
		{"12.344", 2, "1234"},
		{"0", 18, "0"},
		{"1", 18, "1000000000000000000"},
		{"100", 0, "100"},
		{"99.5", 0, "100"},
	}
	for _, tt := range tests {
		got, err := ToFixedPoint(decimal.RequireFromString(tt.in), tt.decimals)
		if err != nil {
			t.Fatalf("ToFixedPoint(%s, %d): unexpected error: %v", tt.in, tt.decimals, err)
		}
		if got.String() != tt.want {
			t.Errorf("ToFixedPoint(%s, %d): expected %s, got %s", tt.in, tt.decimals, tt.want, got)
		}
	}
}

func TestToFixedPoint_Rejects(t *testing.T) {
	if _, err := ToFixedPoint(decimal.NewFromInt(-1), 2); err == nil {
		t.Error("expected error for negative amount")
	}
	if _, err := ToFixedPoint(decimal.NewFromInt(1), -1); err == nil {
		t.Error("expected error for negative decimals")
	}
	if _, err := ToFixedPoint(decimal.NewFromInt(2), 77); err == nil {
		t.Error("expected error for amount beyond uint256")
	}
}

func TestFromFixedPoint_RoundTrip(t *testing.T) {
	v := decimal.RequireFromString("1234.56")
	n, err := ToFixedPoint(v, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back := FromFixedPoint(n, 6); !back.Equal(v) {
		t.Errorf("expected %s, got %s", v, back)
	}
	if !FromFixedPoint(sdkmath.Int{}, 6).IsZero() {
		t.Error("nil should convert to zero")
	}
}
