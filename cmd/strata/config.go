package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the strata configuration file
// (~/.config/strata/config.yaml). Fields are pointers so "not set" can be
// told apart from zero values.
type Config struct {
	// Sampling defaults
	CFG         *float64 `yaml:"cfg"`
	TopK        *int64   `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	Temperature *float64 `yaml:"temperature"`
	Seed        *int64   `yaml:"seed"`

	// Model shape
	Depth    *int64 `yaml:"depth"`
	EmbedDim *int64 `yaml:"embed_dim"`
	CodecDim *int64 `yaml:"codec_dim"`
	Vocab    *int64 `yaml:"vocab"`
	Classes  *int64 `yaml:"classes"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "strata", "config.yaml")
}

// applySamplingConfig applies config file defaults where the corresponding
// CLI flag was not explicitly set.
func applySamplingConfig(c *cli.Command, cfg Config) {
	if cfg.CFG != nil && !c.IsSet("cfg") {
		cfgScale = *cfg.CFG
	}
	if cfg.TopK != nil && !c.IsSet("top-k") && !c.IsSet("top_k") && !c.IsSet("topk") {
		topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") && !c.IsSet("top_p") && !c.IsSet("topp") {
		topP = *cfg.TopP
	}
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		temp = *cfg.Temperature
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file model-shape defaults.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Depth != nil && !c.IsSet("depth") {
		depth = *cfg.Depth
	}
	if cfg.EmbedDim != nil && !c.IsSet("embed-dim") && !c.IsSet("embed_dim") {
		embedDim = *cfg.EmbedDim
	}
	if cfg.CodecDim != nil && !c.IsSet("codec-dim") && !c.IsSet("codec_dim") {
		codecDim = *cfg.CodecDim
	}
	if cfg.Vocab != nil && !c.IsSet("vocab") {
		vocab = *cfg.Vocab
	}
	if cfg.Classes != nil && !c.IsSet("classes") {
		numClasses = *cfg.Classes
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
