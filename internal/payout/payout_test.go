package payout

import (
	"errors"
	"fmt"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/qfround/matching-engine/internal/address"
	"github.com/qfround/matching-engine/internal/qf"
)

func addr(i int) address.Address {
	a, err := address.Parse(fmt.Sprintf("0x%040x", i+1))
	if err != nil {
		panic(err)
	}
	return a
}

func leaves(n int) []Leaf {
	out := make([]Leaf, n)
	for i := range out {
		out[i] = Leaf{Index: uint64(i), Recipient: addr(i), Amount: sdkmath.NewInt(int64(100 * (i + 1)))}
	}
	return out
}

func TestNewTree_Empty(t *testing.T) {
	if _, err := NewTree(nil); !errors.Is(err, ErrEmptyTree) {
		t.Errorf("expected ErrEmptyTree, got %v", err)
	}
}

func TestNewTree_SingleLeafRootIsLeafHash(t *testing.T) {
	ls := leaves(1)
	tree, err := NewTree(ls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, err := LeafHash(ls[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Root() != h {
		t.Errorf("expected root %s, got %s", h, tree.Root())
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proof) != 0 {
		t.Errorf("expected empty proof, got %d hashes", len(proof))
	}
}

func TestProof_VerifiesEveryLeaf(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 7, 8, 13} {
		tree, err := NewTree(leaves(n))
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		for i := 0; i < n; i++ {
			proof, err := tree.Proof(i)
			if err != nil {
				t.Fatalf("n=%d i=%d: unexpected error: %v", n, i, err)
			}
			_, h, _ := tree.Leaf(i)
			if !Verify(tree.Root(), h, proof) {
				t.Errorf("n=%d: proof for leaf %d does not verify", n, i)
			}
		}
	}
}

func TestVerify_RejectsTamperedLeaf(t *testing.T) {
	ls := leaves(5)
	tree, err := NewTree(ls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proof, _ := tree.Proof(2)

	forged := ls[2]
	forged.Amount = sdkmath.NewInt(1_000_000)
	h, err := LeafHash(forged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Verify(tree.Root(), h, proof) {
		t.Error("tampered amount should not verify")
	}
}

func TestProof_OutOfRange(t *testing.T) {
	tree, _ := NewTree(leaves(3))
	if _, err := tree.Proof(3); !errors.Is(err, ErrLeafIndex) {
		t.Errorf("expected ErrLeafIndex, got %v", err)
	}
	if _, err := tree.Proof(-1); !errors.Is(err, ErrLeafIndex) {
		t.Errorf("expected ErrLeafIndex, got %v", err)
	}
}

func TestLeafHash_RejectsInvalidAmount(t *testing.T) {
	for _, amount := range []sdkmath.Int{{}, sdkmath.NewInt(-1)} {
		if _, err := LeafHash(Leaf{Recipient: addr(0), Amount: amount}); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for %v, got %v", amount, err)
		}
	}
}

func TestLeafHash_WidestAmount(t *testing.T) {
	widest, ok := sdkmath.NewIntFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if !ok {
		t.Fatal("2^256-1 should parse")
	}
	if _, err := LeafHash(Leaf{Recipient: addr(0), Amount: widest}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLeaves_OrderedAndFiltered(t *testing.T) {
	res := qf.Result{
		addr(2).Hex(): {Matched: sdkmath.NewInt(30)},
		addr(0).Hex(): {Matched: sdkmath.NewInt(10)},
		addr(1).Hex(): {Matched: sdkmath.NewInt(0)},
	}
	ls, err := Leaves(res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ls) != 2 {
		t.Fatalf("expected 2 leaves (zero match excluded), got %d", len(ls))
	}
	if ls[0].Recipient != addr(0) || ls[1].Recipient != addr(2) {
		t.Errorf("leaves not ordered by address: %s, %s", ls[0].Recipient, ls[1].Recipient)
	}
	if ls[0].Index != 0 || ls[1].Index != 1 {
		t.Errorf("unexpected indices %d, %d", ls[0].Index, ls[1].Index)
	}
}

func TestLeaves_DeterministicRoot(t *testing.T) {
	res := qf.Result{}
	for i := 0; i < 9; i++ {
		res[addr(i).Hex()] = qf.Match{Matched: sdkmath.NewInt(int64(i + 1))}
	}
	var roots []Hash
	for i := 0; i < 5; i++ {
		ls, err := Leaves(res)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tree, err := NewTree(ls)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		roots = append(roots, tree.Root())
	}
	for _, r := range roots[1:] {
		if r != roots[0] {
			t.Fatalf("root changed between runs: %s vs %s", roots[0], r)
		}
	}
}

func TestLeaves_RejectsNonAddressRecipient(t *testing.T) {
	_, err := Leaves(qf.Result{"project-1": {Matched: sdkmath.NewInt(5)}})
	if !errors.Is(err, address.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}
