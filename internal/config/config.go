package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a fine-tuning run. It is resolved
// once in main (file, then CLI overrides, then Validate) and treated as
// read-only from that point on.
type Config struct {
	BaseModel         string  `yaml:"base_model"`
	DataDir           string  `yaml:"data_dir"`
	BatchSize         int     `yaml:"batch_size"`
	MaxEpochs         int     `yaml:"max_epochs"`
	UseGPU            bool    `yaml:"use_gpu"`
	OutputDir         string  `yaml:"output_dir"`
	EarlyStopPatience int     `yaml:"early_stopping_patience_epochs"`
	Precision         int     `yaml:"precision"`
	LearningRate      float64 `yaml:"lr"`
	NumWorkers        int     `yaml:"num_workers"`
	SaveOnlyLastEpoch bool    `yaml:"save_only_last_epoch"`
	MaxInputLength    int     `yaml:"max_input_length"`
	MaxOutputLength   int     `yaml:"max_output_length"`
	Seed              int64   `yaml:"seed"`
	LogEvery          int     `yaml:"log_every"`
}

// Overrides captures CLI supplied values. Zero values mean "keep the file's
// setting"; fields whose zero value is a meaningful override (the bools,
// patience, precision and seed) are pointers set only when the flag was
// given on the command line.
type Overrides struct {
	BaseModel         string
	DataDir           string
	BatchSize         int
	MaxEpochs         int
	UseGPU            *bool
	OutputDir         string
	EarlyStopPatience *int
	Precision         *int
	LearningRate      float64
	NumWorkers        int
	SaveOnlyLastEpoch *bool
	Seed              *int64
	LogEvery          int
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BaseModel:       "tiny-seq2seq",
		DataDir:         "data",
		BatchSize:       8,
		MaxEpochs:       5,
		OutputDir:       "outputs",
		Precision:       32,
		LearningRate:    1e-4,
		NumWorkers:      runtime.NumCPU(),
		MaxInputLength:  512,
		MaxOutputLength: 512,
		Seed:            42,
		LogEvery:        5,
	}
}

// Load reads a Config from YAML, filling unset fields from Default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.BaseModel != "" {
		c.BaseModel = o.BaseModel
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.MaxEpochs > 0 {
		c.MaxEpochs = o.MaxEpochs
	}
	if o.UseGPU != nil {
		c.UseGPU = *o.UseGPU
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.EarlyStopPatience != nil {
		c.EarlyStopPatience = *o.EarlyStopPatience
	}
	if o.Precision != nil {
		c.Precision = *o.Precision
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.SaveOnlyLastEpoch != nil {
		c.SaveOnlyLastEpoch = *o.SaveOnlyLastEpoch
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.BaseModel == "" {
		return errors.New("base_model must be set")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must be set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.MaxEpochs <= 0 {
		return fmt.Errorf("max_epochs must be > 0 (got %d)", c.MaxEpochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", c.LearningRate)
	}
	if c.EarlyStopPatience < 0 {
		return fmt.Errorf("early_stopping_patience_epochs must be >= 0 (got %d)", c.EarlyStopPatience)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.Precision != 16 && c.Precision != 32 {
		return fmt.Errorf("precision must be 16 or 32 (got %d)", c.Precision)
	}
	if c.MaxInputLength <= 0 || c.MaxOutputLength <= 0 {
		return errors.New("max_input_length and max_output_length must be > 0")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = runtime.NumCPU()
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 5
	}
	return nil
}
