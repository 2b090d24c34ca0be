package qf

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// HypotheticalContributor is the identity used for what-if contributions when
// the caller does not supply one (the zero address).
const HypotheticalContributor = "0x0000000000000000000000000000000000000000"

// EstimateDelta reports, for each hypothetical amount independently, how much
// recipient's Matched would change if HypotheticalContributor added that
// amount. A delta can be negative: the added support may saturate the pool and
// scale every recipient down.
func (e *Engine) EstimateDelta(in Input, recipient string, amounts []sdkmath.Int) ([]sdkmath.Int, error) {
	return e.EstimateDeltaAs(in, HypotheticalContributor, recipient, amounts)
}

// EstimateDeltaAs is EstimateDelta with an explicit contributor. If contributor
// already supports recipient, the hypothetical amount is added to their
// existing contribution, exactly as Compute would aggregate it.
//
// Tallies for every recipient are built once; each amount only re-settles the
// target recipient and reruns the scaling pass. The output is identical to
// calling Compute on the augmented contribution set.
func (e *Engine) EstimateDeltaAs(in Input, contributor, recipient string, amounts []sdkmath.Int) ([]sdkmath.Int, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	for i, a := range amounts {
		if err := validateAmount(a); err != nil {
			return nil, fmt.Errorf("hypothetical amount %d: %w", i, err)
		}
	}

	scale2 := scaleSquared(in.Decimals)
	tallies, err := e.aggregate(in.Contributions, scale2)
	if err != nil {
		return nil, err
	}

	before, err := e.distribute(tallies, in.MatchingPool, scale2)
	if err != nil {
		return nil, err
	}
	base := matchedOf(before, recipient)

	current, existed := tallies[recipient]
	deltas := make([]sdkmath.Int, len(amounts))
	for i, a := range amounts {
		var t *tally
		if existed {
			t = current.clone()
		} else {
			t = newTally()
		}
		if err := t.add(contributor, a); err != nil {
			return nil, fmt.Errorf("hypothetical amount %d: %w", i, err)
		}
		if err := e.settle(t, scale2); err != nil {
			return nil, fmt.Errorf("hypothetical amount %d: %w", i, err)
		}

		tallies[recipient] = t
		after, err := e.distribute(tallies, in.MatchingPool, scale2)
		if err != nil {
			return nil, fmt.Errorf("hypothetical amount %d: %w", i, err)
		}
		deltas[i] = matchedOf(after, recipient).Sub(base)
	}
	return deltas, nil
}

// EstimateDelta runs Engine.EstimateDelta with no caps or minimums.
func EstimateDelta(in Input, recipient string, amounts []sdkmath.Int) ([]sdkmath.Int, error) {
	return (&Engine{}).EstimateDelta(in, recipient, amounts)
}

func matchedOf(r Result, recipient string) sdkmath.Int {
	if m, ok := r[recipient]; ok {
		return m.Matched
	}
	return sdkmath.ZeroInt()
}

// EstimateImpact reports how every recipient's Matched changes when
// contributor adds amount to recipient. Recipients other than the target
// only ever lose match (through pool scale-down).
func (e *Engine) EstimateImpact(in Input, contributor, recipient string, amount sdkmath.Int) (map[string]sdkmath.Int, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, fmt.Errorf("hypothetical amount: %w", err)
	}

	before, err := e.Compute(in)
	if err != nil {
		return nil, err
	}
	augmented := in
	augmented.Contributions = make([]Contribution, len(in.Contributions), len(in.Contributions)+1)
	copy(augmented.Contributions, in.Contributions)
	augmented.Contributions = append(augmented.Contributions, Contribution{
		Contributor: contributor,
		Recipient:   recipient,
		Amount:      amount,
	})
	after, err := e.Compute(augmented)
	if err != nil {
		return nil, err
	}

	impact := make(map[string]sdkmath.Int, len(after))
	for r, m := range after {
		impact[r] = m.Matched.Sub(matchedOf(before, r))
	}
	return impact, nil
}
