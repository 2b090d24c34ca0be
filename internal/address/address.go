// Package address parses and renders EVM account addresses, the identities
// contributors and recipients use on-chain.
//
// Mixed-case input must carry a valid EIP-55 checksum; all-lowercase and
// all-uppercase input is accepted as unchecksummed.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// addressRegex matches: 0x{40 hex digits}
// Example: 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed
var addressRegex = regexp.MustCompile(`^0[xX]([0-9a-fA-F]{40})$`)

var (
	ErrInvalidAddress = errors.New("address: invalid address format")
	ErrBadChecksum    = errors.New("address: EIP-55 checksum mismatch")
)

// Address is a 20-byte EVM account address.
type Address [20]byte

// Zero is the all-zero address.
var Zero Address

// Parse validates and decodes a hex address.
func Parse(s string) (Address, error) {
	var a Address
	matches := addressRegex.FindStringSubmatch(s)
	if matches == nil {
		return a, fmt.Errorf("%w: %q (expected 0x followed by 40 hex digits)", ErrInvalidAddress, s)
	}
	digits := matches[1]
	if _, err := hex.Decode(a[:], []byte(digits)); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	lower, upper := strings.ToLower(digits), strings.ToUpper(digits)
	if digits != lower && digits != upper && "0x"+digits != a.Hex() {
		return a, fmt.Errorf("%w: %s", ErrBadChecksum, s)
	}
	return a, nil
}

// Normalize parses s and returns its checksummed form.
func Normalize(s string) (string, error) {
	a, err := Parse(s)
	if err != nil {
		return "", err
	}
	return a.Hex(), nil
}

// Hex returns the EIP-55 checksummed representation.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, ch := range out {
		if ch < 'a' || ch > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = ch - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}
