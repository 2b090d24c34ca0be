package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
	"github.com/urfave/cli/v2"

	"github.com/qfround/matching-engine/internal/address"
	"github.com/qfround/matching-engine/internal/model"
	"github.com/qfround/matching-engine/internal/qf"
	"github.com/qfround/matching-engine/internal/round"
)

// votesFile is the qfcalc input: a round's parameters and its votes, amounts
// in human units.
type votesFile struct {
	Name           string          `json:"name"`
	Token          string          `json:"token"`
	Decimals       int32           `json:"decimals"`
	MatchingPool   decimal.Decimal `json:"matching_pool"`
	MinimumAmount  decimal.Decimal `json:"minimum_amount"`
	ContributorCap decimal.Decimal `json:"contributor_cap"`
	MatchingCap    decimal.Decimal `json:"matching_cap"`
	Votes          []model.Vote    `json:"votes"`
}

func loadVotes(file string) (*votesFile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var vf votesFile
	if err := sonnet.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return &vf, nil
}

// loadRound reads the votes file named by the global flags, applies the
// overrides and returns the engine input. Contributors and recipients are
// checksummed, as the server does on every vote, so one account spelled in
// two cases stays one contributor.
func loadRound(ctx *cli.Context) (*model.Round, qf.Input, *qf.Engine, error) {
	vf, err := loadVotes(ctx.String("votes"))
	if err != nil {
		return nil, qf.Input{}, nil, err
	}
	rd := &model.Round{
		Name:           vf.Name,
		Token:          vf.Token,
		Decimals:       vf.Decimals,
		MatchingPool:   vf.MatchingPool,
		MinimumAmount:  vf.MinimumAmount,
		ContributorCap: vf.ContributorCap,
		MatchingCap:    vf.MatchingCap,
		Status:         model.StatusOpen,
	}
	if ctx.IsSet("decimals") {
		decimals := ctx.Int("decimals")
		if decimals < 0 || decimals > qf.MaxDecimals {
			return nil, qf.Input{}, nil, fmt.Errorf("invalid decimals %d: must be within [0, %d]", decimals, qf.MaxDecimals)
		}
		rd.Decimals = int32(decimals)
	}
	for flag, dst := range map[string]*decimal.Decimal{
		"pool":            &rd.MatchingPool,
		"min":             &rd.MinimumAmount,
		"contributor-cap": &rd.ContributorCap,
		"matching-cap":    &rd.MatchingCap,
	} {
		if !ctx.IsSet(flag) {
			continue
		}
		v, err := decimal.NewFromString(ctx.String(flag))
		if err != nil {
			return nil, qf.Input{}, nil, fmt.Errorf("invalid %s: %w", flag, err)
		}
		*dst = v
	}

	for i := range vf.Votes {
		v := &vf.Votes[i]
		if v.Contributor, err = address.Normalize(v.Contributor); err != nil {
			return nil, qf.Input{}, nil, fmt.Errorf("vote %d contributor: %w", i, err)
		}
		if v.Recipient, err = address.Normalize(v.Recipient); err != nil {
			return nil, qf.Input{}, nil, fmt.Errorf("vote %d recipient: %w", i, err)
		}
	}

	in, err := round.InputOf(rd, vf.Votes)
	if err != nil {
		return nil, qf.Input{}, nil, err
	}
	engine, err := round.EngineFor(rd)
	if err != nil {
		return nil, qf.Input{}, nil, err
	}
	return rd, in, engine, nil
}

func writeJSON(file string, v any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return err
	}
	if file == "" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	return os.WriteFile(file, buf.Bytes(), 0644)
}
