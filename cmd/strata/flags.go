package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/strataml/strata/internal/logger"
)

var (
	depth      int64
	embedDim   int64
	codecDim   int64
	vocab      int64
	numClasses int64
	modelSeed  int64

	label     int64
	batchSize int64
	seed      int64
	cfgScale  float64
	topK      int64
	topP      float64
	temp      float64
	smooth    bool

	logLevel  string
	logFormat string
	debug     bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "depth",
			Usage:       "number of backbone blocks",
			Value:       2,
			Destination: &depth,
		},
		&cli.Int64Flag{
			Name:        "embed-dim",
			Aliases:     []string{"embed_dim"},
			Usage:       "backbone embedding width",
			Value:       32,
			Destination: &embedDim,
		},
		&cli.Int64Flag{
			Name:        "codec-dim",
			Aliases:     []string{"codec_dim"},
			Usage:       "codec latent channel width",
			Value:       3,
			Destination: &codecDim,
		},
		&cli.Int64Flag{
			Name:        "vocab",
			Usage:       "codebook size",
			Value:       64,
			Destination: &vocab,
		},
		&cli.Int64Flag{
			Name:        "classes",
			Usage:       "number of conditioning classes",
			Value:       10,
			Destination: &numClasses,
		},
		&cli.Int64Flag{
			Name:        "model-seed",
			Aliases:     []string{"model_seed"},
			Usage:       "seed for the deterministic reference weights",
			Value:       1,
			Destination: &modelSeed,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "label",
			Aliases:     []string{"l"},
			Usage:       "class label to condition on (-1 = unconditional; omit for a random class)",
			Value:       -1,
			Destination: &label,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "number of samples to decode",
			Value:       1,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "run seed (-1 = keep the model generator state)",
			Value:       -1,
			Destination: &seed,
		},
		&cli.Float64Flag{
			Name:        "cfg",
			Usage:       "classifier-free guidance scale",
			Value:       1.5,
			Destination: &cfgScale,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling parameter (0 = disabled)",
			Value:       0,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "nucleus sampling threshold (0 = disabled)",
			Value:       0,
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature",
			Value:       1.0,
			Destination: &temp,
		},
		&cli.BoolFlag{
			Name:        "smooth",
			Usage:       "Gumbel-softmax relaxed sampling (visualization only)",
			Destination: &smooth,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "pretty":
		return logger.Pretty(os.Stderr, level)
	default:
		return logger.Default()
	}
}
