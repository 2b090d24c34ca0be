// Package model defines the core domain types shared across the matching engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round statuses.
const (
	StatusOpen      = "open"
	StatusFinalized = "finalized"
)

// Round is a quadratic-funding round: a matching pool in one token and the
// eligibility rules its votes are matched under. Amounts are in human units
// (e.g. 1.5 DAI); the engine works on them scaled by 10^Decimals.
type Round struct {
	ID             string          `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Token          string          `json:"token" db:"token"`
	Decimals       int32           `json:"decimals" db:"decimals"`
	MatchingPool   decimal.Decimal `json:"matching_pool" db:"matching_pool"`
	MinimumAmount  decimal.Decimal `json:"minimum_amount" db:"minimum_amount"`   // zero = no minimum
	ContributorCap decimal.Decimal `json:"contributor_cap" db:"contributor_cap"` // zero = uncapped
	MatchingCap    decimal.Decimal `json:"matching_cap" db:"matching_cap"`       // zero = uncapped
	Status         string          `json:"status" db:"status"`                   // "open", "finalized"
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Vote is an immutable contribution record. Once created, votes are never
// modified or deleted.
type Vote struct {
	ID          string          `json:"id" db:"id"`
	RoundID     string          `json:"round_id" db:"round_id"`
	Contributor string          `json:"contributor" db:"contributor"` // checksummed address
	Recipient   string          `json:"recipient" db:"recipient"`     // project payout address
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// RecipientMatch is one row of a live matching computation.
type RecipientMatch struct {
	Recipient     string          `json:"recipient"`
	TotalReceived decimal.Decimal `json:"total_received"`
	SumOfSqrt     decimal.Decimal `json:"sum_of_sqrt"`
	Matched       decimal.Decimal `json:"matched"`
	Contributions int             `json:"contributions"`
	Contributors  int             `json:"contributors"`
}

// Matching is the live matching estimate of a round.
type Matching struct {
	RoundID      string           `json:"round_id"`
	MatchingPool decimal.Decimal  `json:"matching_pool"`
	TotalMatched decimal.Decimal  `json:"total_matched"`
	Recipients   []RecipientMatch `json:"recipients"`
}

// DistributionEntry is one payout leaf of a finalized round.
type DistributionEntry struct {
	Index               uint64          `json:"index"`
	Recipient           string          `json:"recipient"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	Matched             decimal.Decimal `json:"matched"`
	MatchedRaw          string          `json:"matched_raw"`           // integer amount in 10^-decimals units
	MatchPoolPercentage decimal.Decimal `json:"match_pool_percentage"` // fraction of the pool, 0..1
	Contributors        int             `json:"contributors"`
}

// Distribution is the frozen outcome of a round, ready to post to a payout
// contract. Entries are ordered by Index.
type Distribution struct {
	RoundID      string              `json:"round_id" db:"round_id"`
	MerkleRoot   string              `json:"merkle_root" db:"merkle_root"`
	MatchingPool decimal.Decimal     `json:"matching_pool" db:"matching_pool"`
	TotalMatched decimal.Decimal     `json:"total_matched" db:"total_matched"`
	Entries      []DistributionEntry `json:"entries" db:"entries"`
	FinalizedAt  time.Time           `json:"finalized_at" db:"finalized_at"`
}

// Estimate is a what-if answer: the change in Recipient's match for each
// hypothetical donation from Contributor.
type Estimate struct {
	Recipient   string            `json:"recipient"`
	Contributor string            `json:"contributor"`
	Amounts     []decimal.Decimal `json:"amounts"`
	Deltas      []decimal.Decimal `json:"deltas"`
}
