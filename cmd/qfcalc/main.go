package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/qfround/matching-engine/internal/address"
	"github.com/qfround/matching-engine/internal/model"
	"github.com/qfround/matching-engine/internal/qf"
	"github.com/qfround/matching-engine/internal/round"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "qfcalc",
		Usage: "Offline quadratic-funding matching calculator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "votes",
				Required: true,
				Usage:    "specify the input votes.json",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "specify the output file (default stdout)",
			},
			&cli.StringFlag{
				Name:  "pool",
				Usage: "override the matching pool (human units)",
			},
			&cli.IntFlag{
				Name:  "decimals",
				Usage: "override the token decimals",
			},
			&cli.StringFlag{
				Name:  "min",
				Usage: "override the minimum counted contribution",
			},
			&cli.StringFlag{
				Name:  "contributor-cap",
				Usage: "override the per-contributor cap",
			},
			&cli.StringFlag{
				Name:  "matching-cap",
				Usage: "override the per-recipient matching cap",
			},
		},
		Commands: []*cli.Command{
			computeCmd(),
			estimateCmd(),
			payoutCmd(),
		},
	}
}

func computeCmd() *cli.Command {
	return &cli.Command{
		Name:    "compute",
		Usage:   "Compute the matching distribution",
		Aliases: []string{"c"},
		Action: func(ctx *cli.Context) error {
			rd, in, engine, err := loadRound(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Compute(in)
			if err != nil {
				return err
			}
			return writeJSON(ctx.String("out"), round.MatchingOf(rd, res))
		},
	}
}

func estimateCmd() *cli.Command {
	return &cli.Command{
		Name:    "estimate",
		Usage:   "Estimate how a hypothetical donation moves a recipient's match",
		Aliases: []string{"e"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "recipient",
				Required: true,
				Usage:    "specify the recipient",
			},
			&cli.StringFlag{
				Name:  "contributor",
				Value: qf.HypotheticalContributor,
				Usage: "specify who donates",
			},
			&cli.StringFlag{
				Name:  "amounts",
				Value: "0,1,10,100,1000",
				Usage: "specify the comma-separated hypothetical amounts",
			},
			&cli.BoolFlag{
				Name:  "impact",
				Usage: "report every recipient's change for the first amount instead",
			},
		},
		Action: func(ctx *cli.Context) error {
			amounts, err := round.ParseAmounts(ctx.String("amounts"))
			if err != nil {
				return err
			}
			rd, in, engine, err := loadRound(ctx)
			if err != nil {
				return err
			}
			contributor, err := address.Normalize(ctx.String("contributor"))
			if err != nil {
				return fmt.Errorf("contributor: %w", err)
			}
			recipient, err := address.Normalize(ctx.String("recipient"))
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			if !ctx.Bool("impact") {
				est, err := round.EstimateFor(engine, rd, in, contributor, recipient, amounts)
				if err != nil {
					return err
				}
				return writeJSON(ctx.String("out"), est)
			}

			amount, err := qf.ToFixedPoint(amounts[0], rd.Decimals)
			if err != nil {
				return err
			}
			impact, err := engine.EstimateImpact(in, contributor, recipient, amount)
			if err != nil {
				return err
			}
			out := make(map[string]decimal.Decimal, len(impact))
			for r, delta := range impact {
				out[r] = qf.FromFixedPoint(delta, rd.Decimals)
			}
			return writeJSON(ctx.String("out"), out)
		},
	}
}

// payoutReport is the distribution plus every recipient's claim proof.
type payoutReport struct {
	Distribution *model.Distribution    `json:"distribution"`
	Proofs       []*round.ProofResponse `json:"proofs,omitempty"`
}

func payoutCmd() *cli.Command {
	return &cli.Command{
		Name:    "payout",
		Usage:   "Build the merkle payout distribution (recipients must be addresses)",
		Aliases: []string{"p"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "round-id",
				Value: "offline",
				Usage: "specify the round id recorded in the distribution",
			},
			&cli.BoolFlag{
				Name:  "proofs",
				Usage: "include a claim proof per recipient",
			},
		},
		Action: func(ctx *cli.Context) error {
			rd, in, engine, err := loadRound(ctx)
			if err != nil {
				return err
			}
			rd.ID = ctx.String("round-id")
			res, err := engine.Compute(in)
			if err != nil {
				return err
			}
			dist, err := round.DistributionOf(rd, in.MatchingPool, res)
			if err != nil {
				return err
			}

			report := payoutReport{Distribution: dist}
			if ctx.Bool("proofs") {
				for _, e := range dist.Entries {
					p, err := round.ProofOf(dist, e.Recipient)
					if err != nil {
						return err
					}
					report.Proofs = append(report.Proofs, p)
				}
			}
			return writeJSON(ctx.String("out"), report)
		},
	}
}
