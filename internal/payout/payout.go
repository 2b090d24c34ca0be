// Package payout turns a finalized matching result into a merkle
// distribution a payout contract can verify claims against.
//
// Leaves are keccak256(abi.encode(uint256 index, address recipient,
// uint256 amount)); internal nodes hash the sorted pair of their children,
// which keeps proofs compatible with OpenZeppelin's MerkleProof.verify.
package payout

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"

	sdkmath "cosmossdk.io/math"
	"golang.org/x/crypto/sha3"

	"github.com/qfround/matching-engine/internal/address"
	"github.com/qfround/matching-engine/internal/qf"
)

var (
	// ErrEmptyTree is returned when there is nothing to pay out.
	ErrEmptyTree = errors.New("payout: no leaves")

	// ErrLeafIndex is returned for a proof request outside the tree.
	ErrLeafIndex = errors.New("payout: leaf index out of range")

	// ErrInvalidAmount is returned for a missing or negative amount.
	ErrInvalidAmount = errors.New("payout: invalid amount")
)

// Hash is a 32-byte keccak256 digest.
type Hash [32]byte

// Hex returns the 0x-prefixed hex encoding.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// Leaf is one claimable payout.
type Leaf struct {
	Index     uint64
	Recipient address.Address
	Amount    sdkmath.Int
}

// Leaves builds the payout leaves of a matching result: recipients with a
// positive match, ordered by address, indexed from zero. Every recipient key
// must be a valid address.
func Leaves(res qf.Result) ([]Leaf, error) {
	leaves := make([]Leaf, 0, len(res))
	for recipient, m := range res {
		if m.Matched.IsNil() || !m.Matched.IsPositive() {
			continue
		}
		a, err := address.Parse(recipient)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", recipient, err)
		}
		leaves = append(leaves, Leaf{Recipient: a, Amount: m.Matched})
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i].Recipient[:], leaves[j].Recipient[:]) < 0
	})
	for i := range leaves {
		leaves[i].Index = uint64(i)
	}
	return leaves, nil
}

// LeafHash returns keccak256(abi.encode(index, recipient, amount)).
// sdkmath.Int never exceeds 256 bits, so a non-negative amount always fills
// its uint256 word.
func LeafHash(l Leaf) (Hash, error) {
	var h Hash
	if l.Amount.IsNil() || l.Amount.IsNegative() {
		return h, fmt.Errorf("%w: %v", ErrInvalidAmount, l.Amount)
	}

	var buf [96]byte
	new(big.Int).SetUint64(l.Index).FillBytes(buf[0:32])
	copy(buf[32+12:64], l.Recipient[:])
	l.Amount.BigInt().FillBytes(buf[64:96])

	k := sha3.NewLegacyKeccak256()
	k.Write(buf[:])
	copy(h[:], k.Sum(nil))
	return h, nil
}

func hashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	k := sha3.NewLegacyKeccak256()
	k.Write(a[:])
	k.Write(b[:])
	var h Hash
	copy(h[:], k.Sum(nil))
	return h
}

// Tree is an immutable merkle tree over payout leaves.
type Tree struct {
	leaves []Leaf
	layers [][]Hash // layers[0] are leaf hashes, the last layer is the root
}

// NewTree hashes leaves in the given order.
func NewTree(leaves []Leaf) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	layer := make([]Hash, len(leaves))
	for i, l := range leaves {
		h, err := LeafHash(l)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		layer[i] = h
	}

	t := &Tree{leaves: append([]Leaf(nil), leaves...), layers: [][]Hash{layer}}
	for len(layer) > 1 {
		next := make([]Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				// Odd node out is promoted unchanged.
				next = append(next, layer[i])
				continue
			}
			next = append(next, hashPair(layer[i], layer[i+1]))
		}
		t.layers = append(t.layers, next)
		layer = next
	}
	return t, nil
}

// Root returns the merkle root.
func (t *Tree) Root() Hash {
	return t.layers[len(t.layers)-1][0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// Leaf returns the i-th leaf and its hash.
func (t *Tree) Leaf(i int) (Leaf, Hash, error) {
	if i < 0 || i >= len(t.leaves) {
		return Leaf{}, Hash{}, fmt.Errorf("%w: %d of %d", ErrLeafIndex, i, len(t.leaves))
	}
	return t.leaves[i], t.layers[0][i], nil
}

// Proof returns the sibling hashes from leaf i up to the root.
func (t *Tree) Proof(i int) ([]Hash, error) {
	if i < 0 || i >= len(t.leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafIndex, i, len(t.leaves))
	}
	var proof []Hash
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := i ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		i /= 2
	}
	return proof, nil
}

// Verify reports whether proof links leaf to root.
func Verify(root, leaf Hash, proof []Hash) bool {
	h := leaf
	for _, p := range proof {
		h = hashPair(h, p)
	}
	return h == root
}
