package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the parallax configuration file
// (~/.config/parallax/config.yaml).  All optional fields are pointers so
// "not set" is distinguishable from zero values.
type Config struct {
	// Model
	ContextLen *int64 `yaml:"context_len"`
	HiddenDim  *int64 `yaml:"hidden_dim"`
	ModelSeed  *int64 `yaml:"model_seed"`

	// Training defaults
	Workers     *int64   `yaml:"workers"`
	AccumSteps  *int64   `yaml:"accum_steps"`
	BatchSize   *int64   `yaml:"batch_size"`
	LearnRate   *float64 `yaml:"learn_rate"`
	WeightDecay *float64 `yaml:"weight_decay"`

	// Sampling defaults
	Method            string   `yaml:"method"`
	Temperature       *float64 `yaml:"temperature"`
	TopK              *int64   `yaml:"top_k"`
	TopP              *float64 `yaml:"top_p"`
	Tau               *float64 `yaml:"tau"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	Steps             *int64   `yaml:"steps"`
	Seed              *int64   `yaml:"seed"`

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
	return filepath.Join(dir, "parallax", "config.yaml")
}

// LoadConfig reads the config file.  Returns a zero Config if the file
// does not exist or fails to parse.
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

// applyCommonConfig applies config file defaults to the shared model and
// logging variables when the corresponding CLI flag was not set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.ContextLen != nil && !c.IsSet("context") {
		contextLen = *cfg.ContextLen
	}
	if cfg.HiddenDim != nil && !c.IsSet("hidden") {
		hiddenDim = *cfg.HiddenDim
	}
	if cfg.ModelSeed != nil && !c.IsSet("model-seed") {
		modelSeed = *cfg.ModelSeed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyTrainConfig applies config file defaults to train command variables.
func applyTrainConfig(c *cli.Command, cfg Config,
	workers, accumSteps, batchSize *int64, learnRate, weightDecay *float64,
) {
	applyCommonConfig(c, cfg)
	if cfg.Workers != nil && !c.IsSet("workers") {
		*workers = *cfg.Workers
	}
	if cfg.AccumSteps != nil && !c.IsSet("accum-steps") {
		*accumSteps = *cfg.AccumSteps
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		*batchSize = *cfg.BatchSize
	}
	if cfg.LearnRate != nil && !c.IsSet("lr") {
		*learnRate = *cfg.LearnRate
	}
	if cfg.WeightDecay != nil && !c.IsSet("weight-decay") {
		*weightDecay = *cfg.WeightDecay
	}
}

// applyGenerateConfig applies config file defaults to generate command
// variables.
func applyGenerateConfig(c *cli.Command, cfg Config,
	method *string, temperature, topP, tau, repetitionPenalty *float64,
	topK, steps, seed *int64,
) {
	applyCommonConfig(c, cfg)
	if cfg.Method != "" && !c.IsSet("method") {
		*method = cfg.Method
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") && !c.IsSet("temp") {
		*temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		*topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		*topP = *cfg.TopP
	}
	if cfg.Tau != nil && !c.IsSet("tau") {
		*tau = *cfg.Tau
	}
	if cfg.RepetitionPenalty != nil && !c.IsSet("repetition-penalty") {
		*repetitionPenalty = *cfg.RepetitionPenalty
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
