package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.yaml")
	raw := strings.Join([]string{
		"base_model: tiny-seq2seq",
		"data_dir: /data/framenet",
		"batch_size: 4",
		"max_epochs: 3",
		"lr: 0.0002",
		"early_stopping_patience_epochs: 2",
		"save_only_last_epoch: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/data/framenet" || cfg.BatchSize != 4 || cfg.MaxEpochs != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LearningRate != 0.0002 {
		t.Fatalf("lr not applied: %g", cfg.LearningRate)
	}
	if !cfg.SaveOnlyLastEpoch {
		t.Fatal("save_only_last_epoch not applied")
	}
	if cfg.Precision != 32 {
		t.Fatalf("default precision lost: %d", cfg.Precision)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("batch_size: [nope"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	useGPU := true
	saveLast := false
	seed := int64(99)
	cfg.SaveOnlyLastEpoch = true
	cfg.ApplyOverrides(Overrides{
		BatchSize:         16,
		MaxEpochs:         7,
		UseGPU:            &useGPU,
		SaveOnlyLastEpoch: &saveLast,
		Seed:              &seed,
	})

	want := Default()
	want.BatchSize = 16
	want.MaxEpochs = 7
	want.UseGPU = true
	want.SaveOnlyLastEpoch = false
	want.Seed = 99
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("override mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyOverridesKeepsUnsetFields(t *testing.T) {
	cfg := Default()
	cfg.UseGPU = true
	cfg.EarlyStopPatience = 3
	cfg.Seed = 77
	cfg.ApplyOverrides(Overrides{BatchSize: 2})
	if !cfg.UseGPU {
		t.Fatal("nil bool override must not clear use_gpu")
	}
	if cfg.EarlyStopPatience != 3 || cfg.Seed != 77 {
		t.Fatalf("nil overrides must keep file values: patience=%d seed=%d",
			cfg.EarlyStopPatience, cfg.Seed)
	}
}

func TestApplyOverridesZeroDisablesPatience(t *testing.T) {
	cfg := Default()
	cfg.EarlyStopPatience = 3
	zero := 0
	zeroSeed := int64(0)
	cfg.ApplyOverrides(Overrides{EarlyStopPatience: &zero, Seed: &zeroSeed})
	if cfg.EarlyStopPatience != 0 {
		t.Fatalf("explicit patience 0 must disable early stopping, got %d", cfg.EarlyStopPatience)
	}
	if cfg.Seed != 0 {
		t.Fatalf("explicit seed 0 must override the file, got %d", cfg.Seed)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero epochs", func(c *Config) { c.MaxEpochs = 0 }},
		{"negative lr", func(c *Config) { c.LearningRate = -1 }},
		{"negative patience", func(c *Config) { c.EarlyStopPatience = -1 }},
		{"negative workers", func(c *Config) { c.NumWorkers = -2 }},
		{"bad precision", func(c *Config) { c.Precision = 8 }},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateDefaultsWorkerCount(t *testing.T) {
	cfg := Default()
	cfg.NumWorkers = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.NumWorkers <= 0 {
		t.Fatalf("worker count not defaulted: %d", cfg.NumWorkers)
	}
}
