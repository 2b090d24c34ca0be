package qf

import (
	"errors"
	"math/rand"
	"testing"

	sdkmath "cosmossdk.io/math"
)

// naiveDelta reruns Compute on the augmented set for every amount.
func naiveDelta(t *testing.T, e *Engine, in Input, contributor, recipient string, amounts []sdkmath.Int) []sdkmath.Int {
	t.Helper()
	before, err := e.Compute(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := make([]sdkmath.Int, len(amounts))
	for i, a := range amounts {
		augmented := in
		augmented.Contributions = append(append([]Contribution(nil), in.Contributions...),
			Contribution{Contributor: contributor, Recipient: recipient, Amount: a})
		after, err := e.Compute(augmented)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out[i] = matchedOf(after, recipient).Sub(matchedOf(before, recipient))
	}
	return out
}

func TestEstimateDelta_ZeroAmountChangesNothing(t *testing.T) {
	in := scenario(100)
	for _, r := range []string{"P1", "P2", "unknown"} {
		deltas, err := EstimateDelta(in, r, []sdkmath.Int{bi(0)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expectInt(t, r+" delta", deltas[0], 0)
	}
}

func TestEstimateDelta_Scenario(t *testing.T) {
	// P1 has A=100, B=100. A third donor of 100 gives (30)² - 300 = 600
	// ideal; with a pool of 1000 that is fully matched.
	deltas, err := EstimateDelta(scenario(1000), "P1", []sdkmath.Int{bi(0), bi(100), bi(400)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectInt(t, "delta(0)", deltas[0], 0)
	expectInt(t, "delta(100)", deltas[1], 400)
	// (10+10+20)² - 600 = 1000 ideal, exactly the pool.
	expectInt(t, "delta(400)", deltas[2], 800)
}

func TestEstimateDelta_AmountsAreIndependent(t *testing.T) {
	in := scenario(1000)
	together, err := EstimateDelta(in, "P1", []sdkmath.Int{bi(100), bi(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !together[0].Equal(together[1]) {
		t.Errorf("same amount twice should give the same delta, got %s and %s", together[0], together[1])
	}
}

func TestEstimateDelta_NewRecipient(t *testing.T) {
	deltas, err := EstimateDelta(scenario(1000), "P9", []sdkmath.Int{bi(50)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A lone hypothetical donor earns nothing.
	expectInt(t, "delta", deltas[0], 0)
}

func TestEstimateDeltaAs_ExistingContributorCanLoseMatch(t *testing.T) {
	// Whole-unit roots: X topping up from 1 to 3 keeps isqrt at 1 while the
	// counted amount grows, so the recipient loses match.
	in := Input{
		Contributions: []Contribution{c("A", "P", 1), c("X", "P", 1)},
		MatchingPool:  bi(1000),
	}
	deltas, err := (&Engine{}).EstimateDeltaAs(in, "X", "P", []sdkmath.Int{bi(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectInt(t, "delta", deltas[0], -2)
}

func TestEstimateDelta_RejectsInvalid(t *testing.T) {
	if _, err := EstimateDelta(scenario(100), "P1", []sdkmath.Int{bi(-1)}); !errors.Is(err, ErrInvalidContribution) {
		t.Errorf("expected ErrInvalidContribution for negative hypothetical, got %v", err)
	}
	if _, err := EstimateDelta(scenario(-1), "P1", []sdkmath.Int{bi(1)}); !errors.Is(err, ErrInvalidPool) {
		t.Errorf("expected ErrInvalidPool, got %v", err)
	}
}

func TestEstimateDelta_MatchesNaiveRecompute(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	engines := []*Engine{
		{},
		{opts: Options{MinimumAmount: bi(500)}},
		{opts: Options{ContributorCap: bi(3000), MatchingCap: bi(4000)}},
	}
	for i := 0; i < 150; i++ {
		in := randomInput(rng)
		e := engines[i%len(engines)]
		recipient := []string{"P1", "P3", "P9"}[rng.Intn(3)]
		contributor := []string{HypotheticalContributor, "A", "C"}[rng.Intn(3)]
		amounts := []sdkmath.Int{bi(0), bi(rng.Int63n(100)), bi(rng.Int63n(10000)), bi(rng.Int63n(1000000))}

		got, err := e.EstimateDeltaAs(in, contributor, recipient, amounts)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		want := naiveDelta(t, e, in, contributor, recipient, amounts)
		for j := range want {
			if !got[j].Equal(want[j]) {
				t.Fatalf("case %d amount %s: cached delta %s, recompute %s", i, amounts[j], got[j], want[j])
			}
		}
		if !got[0].IsZero() {
			t.Fatalf("case %d: zero hypothetical moved match by %s", i, got[0])
		}
	}
}

func TestEstimateImpact_SaturationShrinksOthers(t *testing.T) {
	in := Input{
		Contributions: []Contribution{
			c("A", "P1", 100), c("B", "P1", 100),
			c("A", "P2", 100), c("B", "P2", 100),
		},
		MatchingPool: bi(400),
	}
	impact, err := (&Engine{}).EstimateImpact(in, "Z", "P2", bi(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Ideal: P1 200, P2 600 → 800 > 400, so everyone is halved.
	expectInt(t, "P1 impact", impact["P1"], -100)
	expectInt(t, "P2 impact", impact["P2"], 100)
}

func TestEstimateDelta_ReportsOverflow(t *testing.T) {
	in := Input{Contributions: supporters("P", 2, pow2(250)), MatchingPool: bi(1)}
	if _, err := EstimateDelta(in, "P", []sdkmath.Int{maxInt()}); !errors.Is(err, ErrPrecisionOverflow) {
		t.Errorf("expected ErrPrecisionOverflow, got %v", err)
	}
}

func TestEstimateImpact_DoesNotMutateInput(t *testing.T) {
	in := scenario(100)
	n := len(in.Contributions)
	if _, err := (&Engine{}).EstimateImpact(in, "Z", "P1", bi(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in.Contributions) != n {
		t.Errorf("input contributions grew from %d to %d", n, len(in.Contributions))
	}
}
