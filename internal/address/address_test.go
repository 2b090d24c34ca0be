package address

import (
	"errors"
	"strings"
	"testing"
)

// Reference vectors from EIP-55.
var checksummed = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestHex_EIP55Vectors(t *testing.T) {
	for _, want := range checksummed {
		a, err := Parse(strings.ToLower(want))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", want, err)
		}
		if got := a.Hex(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

func TestParse_AcceptsChecksummedAndSingleCase(t *testing.T) {
	for _, s := range checksummed {
		for _, in := range []string{s, strings.ToLower(s), "0x" + strings.ToUpper(s[2:])} {
			if _, err := Parse(in); err != nil {
				t.Errorf("expected %s to parse, got %v", in, err)
			}
		}
	}
}

func TestParse_RejectsBadChecksum(t *testing.T) {
	// Flip the case of one letter.
	bad := "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	_, err := Parse(bad)
	if !errors.Is(err, ErrBadChecksum) {
		t.Errorf("expected ErrBadChecksum, got %v", err)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"0x",
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAedd",
		"0xZZZeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"alice",
	}
	for _, in := range tests {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress for %q, got %v", in, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("0xFB6916095CA1DF60BB79CE92CE3EA74C37C5D359")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359" {
		t.Errorf("unexpected normalized address %s", got)
	}
}

func TestZero(t *testing.T) {
	a, err := Parse("0x0000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IsZero() {
		t.Error("expected zero address")
	}
	if a.Hex() != "0x0000000000000000000000000000000000000000" {
		t.Errorf("unexpected zero hex %s", a.Hex())
	}
}
