package main

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/urfave/cli/v3"

	"github.com/strataml/strata/internal/codec"
	"github.com/strataml/strata/internal/engine"
	"github.com/strataml/strata/internal/logger"
	"github.com/strataml/strata/internal/tensor"
)

func inpaintCmd() *cli.Command {
	var (
		refPath     string
		maskInPath  string
		maskOutPath string
		output      string
		noProgress  bool
	)

	flags := append(modelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "reference",
			Aliases:     []string{"ref"},
			Usage:       "reference image supplying the masked content",
			Destination: &refPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "mask-in",
			Usage:       "mask image; bright cells are taken from the reference during decoding",
			Destination: &maskInPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "mask-out",
			Usage:       "mask image; bright cells show generated content in the output (defaults to the inverse of mask-in semantics, i.e. everything)",
			Destination: &maskOutPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output image path",
			Value:       "strata_inpaint.png",
			Destination: &output,
		},
		&cli.BoolFlag{
			Name:        "no-progress",
			Usage:       "disable the per-scale progress bar",
			Destination: &noProgress,
		},
	)

	return &cli.Command{
		Name:  "inpaint",
		Usage: "Decode with masked cells pinned to a reference image",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfgFile := LoadConfig()
			applyModelConfig(cmd, cfgFile)
			applySamplingConfig(cmd, cfgFile)

			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			// The reference stack uses RGB latents, so the reference image
			// resized to the finest scale serves as the canvas directly.
			if codecDim != 3 {
				return fmt.Errorf("inpainting with the reference codec needs codec-dim 3, got %d", codecDim)
			}
			m, err := buildModel(log)
			if err != nil {
				return err
			}

			refImg, err := imaging.Open(refPath)
			if err != nil {
				return fmt.Errorf("open reference: %w", err)
			}
			maskInImg, err := imaging.Open(maskInPath)
			if err != nil {
				return fmt.Errorf("open mask-in: %w", err)
			}

			final := m.Schedule().FinalSide()
			spec := &engine.InpaintSpec{
				Reference: tensor.ResizeNearest(codec.GridFromImage(refImg), final, final),
				MaskIn:    codec.MaskFromImage(maskInImg),
			}
			if maskOutPath != "" {
				maskOutImg, err := imaging.Open(maskOutPath)
				if err != nil {
					return fmt.Errorf("open mask-out: %w", err)
				}
				spec.MaskOut = codec.MaskFromImage(maskOutImg)
			} else {
				// Expose everything generated.
				full := tensor.NewGrid(1, 1, final, final)
				for i := range full.Data {
					full.Data[i] = 1
				}
				spec.MaskOut = full
			}

			opts := buildOptions(cmd)
			opts.Inpaint = spec
			if !noProgress {
				scaleProgress(&opts, m.Schedule().Steps())
			}

			res, err := m.Generate(ctx, opts)
			if err != nil {
				return err
			}
			if err := saveImages(res, output); err != nil {
				return err
			}
			log.Info("inpainted", "labels", res.Labels, "output", output)
			return nil
		},
	}
}
