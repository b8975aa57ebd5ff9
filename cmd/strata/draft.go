package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/strataml/strata/internal/logger"
)

func draftCmd() *cli.Command {
	var (
		exit   int64
		entry  int64
		output string
	)

	flags := append(modelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "exit",
			Usage:       "number of scales to draft before exiting",
			Value:       5,
			Destination: &exit,
		},
		&cli.Int64Flag{
			Name:        "entry",
			Usage:       "scale to re-enter at for the refine pass (defaults to exit-1)",
			Value:       -1,
			Destination: &entry,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output image path",
			Value:       "strata_refined.png",
			Destination: &output,
		},
	)

	return &cli.Command{
		Name:  "draft",
		Usage: "Speculative decoding: draft to an early exit, then refine to the finest scale",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfgFile := LoadConfig()
			applyModelConfig(cmd, cfgFile)
			applySamplingConfig(cmd, cfgFile)

			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			m, err := buildModel(log)
			if err != nil {
				return err
			}
			opts := buildOptions(cmd)

			if entry < 0 {
				entry = exit - 1
			}

			draft, err := m.Draft(ctx, opts, int(exit))
			if err != nil {
				return err
			}
			log.Info("drafted",
				"exit", draft.Exit,
				"token_hub", draft.TokenHub.L,
				"logits_hub", draft.LogitsHub.L,
			)

			res, err := m.Refine(ctx, draft, int(entry))
			if err != nil {
				return err
			}
			if err := saveImages(res, output); err != nil {
				return err
			}
			log.Info("refined", "entry", entry, "labels", res.Labels, "output", output)
			return nil
		},
	}
}
