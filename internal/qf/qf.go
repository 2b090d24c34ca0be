// Package qf implements linear quadratic funding: the distribution of a fixed
// matching pool across recipients according to the breadth of their support.
//
// For every recipient the engine sums, per contributor, the square roots of the
// amounts received. The square of that sum is the recipient's QF weight; the
// part of the weight above what was directly contributed is the ideal match.
// When the ideal matches together exceed the pool, every match is scaled down
// by pool / idealTotal, rounding down per recipient.
//
// Amounts are sdkmath.Int values in a fixed-point domain scaled by
// 10^decimals, never float64. sdkmath.Int is bounded to 256 bits, the same
// range a payout contract accepts; any value that would leave it is reported
// as ErrPrecisionOverflow. The engine is pure: it keeps no state between calls
// and never mutates its inputs.
package qf

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

var (
	// ErrInvalidContribution is returned for a negative or missing
	// contribution amount, or an unusable decimals value.
	ErrInvalidContribution = errors.New("qf: invalid contribution")

	// ErrInvalidPool is returned when the matching pool is missing or
	// negative.
	ErrInvalidPool = errors.New("qf: invalid matching pool")

	// ErrPrecisionOverflow is returned when a sum, square root, QF weight or
	// the ideal total match no longer fits sdkmath.Int.
	ErrPrecisionOverflow = errors.New("qf: precision overflow")

	// ErrInvalidOptions is returned for negative caps or minimums.
	ErrInvalidOptions = errors.New("qf: invalid options")
)

// MaxDecimals bounds the fixed-point precision: one whole token, 10^decimals,
// must itself fit sdkmath.Int.
const MaxDecimals = 77

// Contribution is one donation from a contributor to a recipient. Both
// identities are opaque to the engine.
type Contribution struct {
	Contributor string      `json:"contributor"`
	Recipient   string      `json:"recipient"`
	Amount      sdkmath.Int `json:"amount"`
}

// Input is everything one matching run needs. All amounts share Decimals.
type Input struct {
	Contributions []Contribution
	MatchingPool  sdkmath.Int
	Decimals      int32
}

// Match is a recipient's share of the pool.
type Match struct {
	TotalReceived sdkmath.Int `json:"total_received"`
	// SumOfSqrt carries Decimals fractional digits.
	SumOfSqrt     sdkmath.Int `json:"sum_of_sqrt"`
	Matched       sdkmath.Int `json:"matched"`
	Contributions int         `json:"contributions"`
	Contributors  int         `json:"contributors"`
}

// Result maps recipient → Match. Recipients without contributions are absent.
type Result map[string]Match

// TotalMatched returns Σ Matched over all recipients. The sum never exceeds
// the pool it was distributed from.
func (r Result) TotalMatched() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, m := range r {
		total = total.Add(m.Matched)
	}
	return total
}

// Options holds the optional eligibility rules and caps of a round. A nil
// sdkmath.Int (the zero value) disables the rule.
type Options struct {
	// MinimumAmount excludes a contributor's aggregated amount to a recipient
	// from the QF kernel when it is below this value.
	MinimumAmount sdkmath.Int
	// ContributorCap counts a contributor's aggregated amount to a recipient
	// up to this value.
	ContributorCap sdkmath.Int
	// MatchingCap clamps every recipient's Matched after pool scaling. The
	// excess is left unallocated.
	MatchingCap sdkmath.Int
}

// Engine computes linear QF distributions under fixed Options.
// It is stateless and safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine validates opts and returns an Engine. sdkmath.Int is immutable,
// so the engine can hold opts as given.
func NewEngine(opts Options) (*Engine, error) {
	for name, v := range map[string]sdkmath.Int{
		"minimum amount":  opts.MinimumAmount,
		"contributor cap": opts.ContributorCap,
		"matching cap":    opts.MatchingCap,
	} {
		if !v.IsNil() && v.IsNegative() {
			return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidOptions, name)
		}
	}
	return &Engine{opts: opts}, nil
}

// Options returns the engine's options.
func (e *Engine) Options() Options {
	return e.opts
}

// Compute runs linear QF with no caps or minimums.
func Compute(in Input) (Result, error) {
	return (&Engine{}).Compute(in)
}

// Compute distributes in.MatchingPool across the recipients of
// in.Contributions. Invalid input is rejected before any aggregation and no
// partial result is returned.
func (e *Engine) Compute(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	scale2 := scaleSquared(in.Decimals)
	tallies, err := e.aggregate(in.Contributions, scale2)
	if err != nil {
		return nil, err
	}
	return e.distribute(tallies, in.MatchingPool, scale2)
}

func validate(in Input) error {
	if in.Decimals < 0 || in.Decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d outside [0, %d]", ErrInvalidContribution, in.Decimals, MaxDecimals)
	}
	if in.MatchingPool.IsNil() {
		return fmt.Errorf("%w: missing", ErrInvalidPool)
	}
	if in.MatchingPool.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidPool, in.MatchingPool)
	}
	for i, c := range in.Contributions {
		if err := validateAmount(c.Amount); err != nil {
			return fmt.Errorf("contribution %d (%s → %s): %w", i, c.Contributor, c.Recipient, err)
		}
	}
	return nil
}

func validateAmount(a sdkmath.Int) error {
	switch {
	case a.IsNil():
		return fmt.Errorf("%w: missing amount", ErrInvalidContribution)
	case a.IsNegative():
		return fmt.Errorf("%w: amount %s is negative", ErrInvalidContribution, a)
	}
	return nil
}

// tally is the per-recipient aggregate the scaling pass works from.
type tally struct {
	received      sdkmath.Int
	counted       sdkmath.Int
	sumOfSqrt     sdkmath.Int
	contributions int
	byContributor map[string]sdkmath.Int
}

func newTally() *tally {
	return &tally{
		received:      sdkmath.ZeroInt(),
		counted:       sdkmath.ZeroInt(),
		sumOfSqrt:     sdkmath.ZeroInt(),
		byContributor: make(map[string]sdkmath.Int),
	}
}

// add records a raw contribution; kernel values are derived by settle.
func (t *tally) add(contributor string, amount sdkmath.Int) error {
	received, err := safeAdd("total received", t.received, amount)
	if err != nil {
		return err
	}
	sum, ok := t.byContributor[contributor]
	if !ok {
		sum = sdkmath.ZeroInt()
	}
	if sum, err = safeAdd("contributor total", sum, amount); err != nil {
		return err
	}
	t.received = received
	t.byContributor[contributor] = sum
	t.contributions++
	return nil
}

// settle recomputes counted and sumOfSqrt from the per-contributor sums.
// Both are plain sums, so map iteration order does not affect the result.
func (e *Engine) settle(t *tally, scale2 *big.Int) error {
	counted, sumOfSqrt := sdkmath.ZeroInt(), sdkmath.ZeroInt()
	for _, amount := range t.byContributor {
		eligible := e.eligible(amount)
		if eligible.IsZero() {
			continue
		}
		root, err := sqrtFixed(eligible, scale2)
		if err != nil {
			return err
		}
		// Each eligible amount is bounded by its contributor's total, which
		// add has already checked, so only the root sum can overflow.
		counted = counted.Add(eligible)
		if sumOfSqrt, err = safeAdd("sum of square roots", sumOfSqrt, root); err != nil {
			return err
		}
	}
	t.counted, t.sumOfSqrt = counted, sumOfSqrt
	return nil
}

func (e *Engine) eligible(amount sdkmath.Int) sdkmath.Int {
	if !e.opts.MinimumAmount.IsNil() && amount.LT(e.opts.MinimumAmount) {
		return sdkmath.ZeroInt()
	}
	if !e.opts.ContributorCap.IsNil() && amount.GT(e.opts.ContributorCap) {
		return e.opts.ContributorCap
	}
	return amount
}

func (t *tally) clone() *tally {
	c := *t
	c.byContributor = make(map[string]sdkmath.Int, len(t.byContributor)+1)
	for k, v := range t.byContributor {
		c.byContributor[k] = v
	}
	return &c
}

func (e *Engine) aggregate(contributions []Contribution, scale2 *big.Int) (map[string]*tally, error) {
	tallies := make(map[string]*tally)
	for _, c := range contributions {
		t, ok := tallies[c.Recipient]
		if !ok {
			t = newTally()
			tallies[c.Recipient] = t
		}
		if err := t.add(c.Contributor, c.Amount); err != nil {
			return nil, fmt.Errorf("recipient %s: %w", c.Recipient, err)
		}
	}
	for recipient, t := range tallies {
		if err := e.settle(t, scale2); err != nil {
			return nil, fmt.Errorf("recipient %s: %w", recipient, err)
		}
	}
	return tallies, nil
}

// weight returns floor(sumOfSqrt^2 / 10^(2·decimals)).
func (t *tally) weight(scale2 *big.Int) (sdkmath.Int, error) {
	s := t.sumOfSqrt.BigInt()
	w := new(big.Int).Mul(s, s)
	return fromBig("weight", w.Quo(w, scale2))
}

// ideal returns max(0, weight - counted).
func (t *tally) ideal(scale2 *big.Int) (sdkmath.Int, error) {
	w, err := t.weight(scale2)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if w.LTE(t.counted) {
		return sdkmath.ZeroInt(), nil
	}
	return w.Sub(t.counted), nil
}

// distribute runs the scaling pass. Every Matched is rounded down so the
// total never exceeds the pool; leftover pool is not redistributed.
func (e *Engine) distribute(tallies map[string]*tally, pool sdkmath.Int, scale2 *big.Int) (Result, error) {
	ideals := make(map[string]sdkmath.Int, len(tallies))
	idealTotal := sdkmath.ZeroInt()
	for recipient, t := range tallies {
		ideal, err := t.ideal(scale2)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", recipient, err)
		}
		ideals[recipient] = ideal
		if idealTotal, err = safeAdd("ideal total match", idealTotal, ideal); err != nil {
			return nil, err
		}
	}

	saturated := idealTotal.GT(pool)
	result := make(Result, len(tallies))
	for recipient, t := range tallies {
		matched := ideals[recipient]
		if saturated {
			matched = mulDiv(matched, pool, idealTotal)
		}
		if !e.opts.MatchingCap.IsNil() && matched.GT(e.opts.MatchingCap) {
			matched = e.opts.MatchingCap
		}
		result[recipient] = Match{
			TotalReceived: t.received,
			SumOfSqrt:     t.sumOfSqrt,
			Matched:       matched,
			Contributions: t.contributions,
			Contributors:  len(t.byContributor),
		}
	}
	return result, nil
}
