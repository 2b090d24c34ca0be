package round

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/qfround/matching-engine/internal/address"
	"github.com/qfround/matching-engine/internal/metrics"
	"github.com/qfround/matching-engine/internal/model"
	"github.com/qfround/matching-engine/internal/payout"
	"github.com/qfround/matching-engine/internal/qf"
)

// InputOf converts a round and its votes to the engine's integer domain.
func InputOf(rd *model.Round, votes []model.Vote) (qf.Input, error) {
	pool, err := poolOf(rd)
	if err != nil {
		return qf.Input{}, err
	}
	in := qf.Input{
		Contributions: make([]qf.Contribution, len(votes)),
		MatchingPool:  pool,
		Decimals:      rd.Decimals,
	}
	for i, v := range votes {
		amount, err := qf.ToFixedPoint(v.Amount, rd.Decimals)
		if err != nil {
			return qf.Input{}, fmt.Errorf("vote %s: %w", v.ID, err)
		}
		in.Contributions[i] = qf.Contribution{
			Contributor: v.Contributor,
			Recipient:   v.Recipient,
			Amount:      amount,
		}
	}
	return in, nil
}

func poolOf(rd *model.Round) (sdkmath.Int, error) {
	if rd.MatchingPool.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s is negative", qf.ErrInvalidPool, rd.MatchingPool)
	}
	return qf.ToFixedPoint(rd.MatchingPool, rd.Decimals)
}

// EngineFor builds the engine for a round's rules. A zero rule is off.
func EngineFor(rd *model.Round) (*qf.Engine, error) {
	opt := func(name string, v decimal.Decimal) (sdkmath.Int, error) {
		if v.IsZero() {
			return sdkmath.Int{}, nil
		}
		if v.IsNegative() {
			return sdkmath.Int{}, fmt.Errorf("%w: %s must not be negative", qf.ErrInvalidOptions, name)
		}
		return qf.ToFixedPoint(v, rd.Decimals)
	}
	var opts qf.Options
	var err error
	if opts.MinimumAmount, err = opt("minimum amount", rd.MinimumAmount); err != nil {
		return nil, err
	}
	if opts.ContributorCap, err = opt("contributor cap", rd.ContributorCap); err != nil {
		return nil, err
	}
	if opts.MatchingCap, err = opt("matching cap", rd.MatchingCap); err != nil {
		return nil, err
	}
	return qf.NewEngine(opts)
}

// EstimateFor runs the what-if estimate for one recipient in human units.
func EstimateFor(engine *qf.Engine, rd *model.Round, in qf.Input, contributor, recipient string, amounts []decimal.Decimal) (*model.Estimate, error) {
	raw := make([]sdkmath.Int, len(amounts))
	for i, a := range amounts {
		n, err := qf.ToFixedPoint(a, rd.Decimals)
		if err != nil {
			return nil, err
		}
		raw[i] = n
	}
	deltas, err := engine.EstimateDeltaAs(in, contributor, recipient, raw)
	if err != nil {
		return nil, err
	}
	metrics.EstimatesTotal.Add(float64(len(amounts)))

	est := &model.Estimate{
		Recipient:   recipient,
		Contributor: contributor,
		Amounts:     make([]decimal.Decimal, len(raw)),
		Deltas:      make([]decimal.Decimal, len(deltas)),
	}
	for i := range raw {
		est.Amounts[i] = qf.FromFixedPoint(raw[i], rd.Decimals)
		est.Deltas[i] = qf.FromFixedPoint(deltas[i], rd.Decimals)
	}
	return est, nil
}

// MatchingOf renders a result largest match first, ties by recipient.
func MatchingOf(rd *model.Round, res qf.Result) model.Matching {
	m := model.Matching{
		RoundID:      rd.ID,
		MatchingPool: rd.MatchingPool,
		TotalMatched: qf.FromFixedPoint(res.TotalMatched(), rd.Decimals),
		Recipients:   make([]model.RecipientMatch, 0, len(res)),
	}
	for recipient, match := range res {
		m.Recipients = append(m.Recipients, model.RecipientMatch{
			Recipient:     recipient,
			TotalReceived: qf.FromFixedPoint(match.TotalReceived, rd.Decimals),
			SumOfSqrt:     qf.FromFixedPoint(match.SumOfSqrt, rd.Decimals),
			Matched:       qf.FromFixedPoint(match.Matched, rd.Decimals),
			Contributions: match.Contributions,
			Contributors:  match.Contributors,
		})
	}
	sort.Slice(m.Recipients, func(i, j int) bool {
		a, b := m.Recipients[i], m.Recipients[j]
		if c := a.Matched.Cmp(b.Matched); c != 0 {
			return c > 0
		}
		return a.Recipient < b.Recipient
	})
	return m
}

// DistributionOf freezes a result into payout entries and their merkle root.
// A round where nobody earned a match gets an empty distribution with the
// zero root.
func DistributionOf(rd *model.Round, pool sdkmath.Int, res qf.Result) (*model.Distribution, error) {
	leaves, err := payout.Leaves(res)
	if err != nil {
		return nil, err
	}
	dist := &model.Distribution{
		RoundID:      rd.ID,
		MerkleRoot:   payout.Hash{}.Hex(),
		MatchingPool: rd.MatchingPool,
		TotalMatched: qf.FromFixedPoint(res.TotalMatched(), rd.Decimals),
		Entries:      make([]model.DistributionEntry, len(leaves)),
		FinalizedAt:  time.Now().UTC(),
	}
	if len(leaves) == 0 {
		return dist, nil
	}
	tree, err := payout.NewTree(leaves)
	if err != nil {
		return nil, err
	}
	dist.MerkleRoot = tree.Root().Hex()

	poolDec := decimal.NewFromBigInt(pool.BigInt(), 0)
	for i, l := range leaves {
		recipient := l.Recipient.Hex()
		match := res[recipient]
		share := decimal.Zero
		if pool.IsPositive() {
			share = decimal.NewFromBigInt(l.Amount.BigInt(), 0).DivRound(poolDec, 18)
		}
		dist.Entries[i] = model.DistributionEntry{
			Index:               l.Index,
			Recipient:           recipient,
			TotalReceived:       qf.FromFixedPoint(match.TotalReceived, rd.Decimals),
			Matched:             qf.FromFixedPoint(l.Amount, rd.Decimals),
			MatchedRaw:          l.Amount.String(),
			MatchPoolPercentage: share,
			Contributors:        match.Contributors,
		}
	}
	return dist, nil
}

// ErrNoPayout is returned by ProofOf for a recipient absent from the
// distribution.
var ErrNoPayout = errors.New("round: recipient has no payout")

// ProofOf rebuilds the merkle tree of a stored distribution and returns the
// claim proof of recipient (checksummed). It fails if the entries no longer
// hash to the stored root.
func ProofOf(dist *model.Distribution, recipient string) (*ProofResponse, error) {
	if len(dist.Entries) == 0 {
		return nil, ErrNoPayout
	}
	leaves := make([]payout.Leaf, len(dist.Entries))
	for i, e := range dist.Entries {
		a, err := address.Parse(e.Recipient)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		amount, ok := sdkmath.NewIntFromString(e.MatchedRaw)
		if !ok {
			return nil, fmt.Errorf("entry %d: bad amount %q", i, e.MatchedRaw)
		}
		leaves[i] = payout.Leaf{Index: e.Index, Recipient: a, Amount: amount}
	}
	tree, err := payout.NewTree(leaves)
	if err != nil {
		return nil, err
	}
	if tree.Root().Hex() != dist.MerkleRoot {
		return nil, fmt.Errorf("merkle root %s does not match entries (%s)", dist.MerkleRoot, tree.Root().Hex())
	}

	for i := 0; i < tree.Len(); i++ {
		leaf, hash, _ := tree.Leaf(i)
		if leaf.Recipient.Hex() != recipient {
			continue
		}
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		resp := &ProofResponse{
			RoundID:    dist.RoundID,
			Index:      leaf.Index,
			Recipient:  recipient,
			Amount:     leaf.Amount.String(),
			Leaf:       hash.Hex(),
			Proof:      make([]string, len(proof)),
			MerkleRoot: dist.MerkleRoot,
		}
		for j, p := range proof {
			resp.Proof[j] = p.Hex()
		}
		return resp, nil
	}
	return nil, ErrNoPayout
}
