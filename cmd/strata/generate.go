package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/strataml/strata/internal/engine"
	"github.com/strataml/strata/internal/logger"
)

func generateCmd() *cli.Command {
	var (
		output     string
		beamWidth  int64
		noProgress bool
	)

	flags := append(modelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output image path",
			Value:       "strata.png",
			Destination: &output,
		},
		&cli.Int64Flag{
			Name:        "beam",
			Usage:       "beam width (>1 enables the beam variant)",
			Value:       1,
			Destination: &beamWidth,
		},
		&cli.BoolFlag{
			Name:        "no-progress",
			Usage:       "disable the per-scale progress bar",
			Destination: &noProgress,
		},
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Decode images from class conditioning",
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
			if !noProgress {
				scaleProgress(&opts, m.Schedule().Steps())
			}

			var res engine.Result
			if beamWidth > 1 {
				res, err = m.BeamSearch(ctx, opts, int(beamWidth))
			} else {
				res, err = m.Generate(ctx, opts)
			}
			if err != nil {
				return err
			}
			if err := saveImages(res, output); err != nil {
				return err
			}
			log.Info("decoded", "labels", res.Labels, "output", output)
			return nil
		},
	}
}
