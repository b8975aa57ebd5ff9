package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/strataml/strata/internal/codec"
	"github.com/strataml/strata/internal/engine"
	"github.com/strataml/strata/internal/logger"
)

func buildModel(log logger.Logger) (*engine.Model, error) {
	return engine.New(engine.Config{
		Depth:      int(depth),
		EmbedDim:   int(embedDim),
		CodecDim:   int(codecDim),
		Vocab:      int(vocab),
		NumClasses: int(numClasses),
		Seed:       modelSeed,
		Logger:     log,
	})
}

// buildOptions assembles engine options from the shared sampling flags.
func buildOptions(c *cli.Command) engine.Options {
	opts := engine.Options{
		BatchSize: int(batchSize),
		CFG:       cfgScale,
		TopP:      topP,
		Smooth:    smooth,
	}
	if topK > 0 {
		opts.TopK = []int{int(topK)}
	}
	if temp != 1.0 {
		opts.Temperature = []float64{temp}
	}
	if c.IsSet("label") || c.IsSet("l") {
		l := int(label)
		opts.Label = &l
	}
	if seed >= 0 {
		s := seed
		opts.Seed = &s
	}
	return opts
}

// scaleProgress attaches a per-scale progress bar to the run.
func scaleProgress(opts *engine.Options, steps int) *progressbar.ProgressBar {
	bar := progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("decoding"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	opts.OnScale = func(done, total int) {
		_ = bar.Set(done)
	}
	return bar
}

// saveImages writes every sample of a result as PNG. For batches past one
// the sample index is appended to the file stem.
func saveImages(res engine.Result, output string) error {
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(output, ext)
	if ext == "" {
		ext = ".png"
	}
	for b := 0; b < res.Image.B; b++ {
		path := output
		if res.Image.B > 1 {
			path = fmt.Sprintf("%s_%d%s", stem, b, ext)
		}
		if err := imaging.Save(codec.ToImage(res.Image, b), path); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
	}
	return nil
}
