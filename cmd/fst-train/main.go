package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/config"
	"github.com/striebel/frame-semantic-transformer-downstream/internal/device"
	"github.com/striebel/frame-semantic-transformer-downstream/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (optional)")
	baseModel := flag.String("base-model", "", "Pretrained model identifier or snapshot directory")
	dataDir := flag.String("data-dir", "", "Directory holding train.jsonl, dev.jsonl and optional test.jsonl")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	maxEpochs := flag.Int("max-epochs", 0, "Maximum number of epochs")
	useGPU := flag.Bool("use-gpu", false, "Request GPU execution")
	outputDir := flag.String("output-dir", "", "Directory for checkpoints and run metadata")
	patience := flag.Int("early-stopping-patience-epochs", 0, "Early stopping patience (0 disables)")
	precision := flag.Int("precision", 0, "Numeric precision in bits (16 or 32)")
	lr := flag.Float64("lr", 0, "Learning rate")
	numWorkers := flag.Int("num-workers", 0, "Number of batch loading workers (0 = all CPUs)")
	saveOnlyLast := flag.Bool("save-only-last-epoch", false, "Persist only the final epoch's checkpoint")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			logger.Error("failed to load config", slog.Any("error", err))
			os.Exit(1)
		}
		cfg = loaded
	}

	cfg.ApplyOverrides(config.Overrides{
		BaseModel:         *baseModel,
		DataDir:           *dataDir,
		BatchSize:         *batchSize,
		MaxEpochs:         *maxEpochs,
		UseGPU:            flagBool("use-gpu", *useGPU),
		OutputDir:         *outputDir,
		EarlyStopPatience: flagInt("early-stopping-patience-epochs", *patience),
		Precision:         flagInt("precision", *precision),
		LearningRate:      *lr,
		NumWorkers:        *numWorkers,
		SaveOnlyLastEpoch: flagBool("save-only-last-epoch", *saveOnlyLast),
		Seed:              flagInt64("seed", *seed),
		LogEvery:          *logEvery,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	sel, err := device.Resolve(cfg.UseGPU, cfg.Precision)
	if err != nil {
		logger.Error("device resolution failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("device resolved",
		slog.String("device", sel.Kind.String()),
		slog.String("precision", sel.Precision.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		BaseModel:         cfg.BaseModel,
		DataDir:           cfg.DataDir,
		OutputDir:         cfg.OutputDir,
		BatchSize:         cfg.BatchSize,
		MaxEpochs:         cfg.MaxEpochs,
		LearningRate:      cfg.LearningRate,
		Patience:          cfg.EarlyStopPatience,
		SaveOnlyLastEpoch: cfg.SaveOnlyLastEpoch,
		NumWorkers:        cfg.NumWorkers,
		MaxInputLength:    cfg.MaxInputLength,
		MaxOutputLength:   cfg.MaxOutputLength,
		Seed:              cfg.Seed,
		LogEvery:          cfg.LogEvery,
		Compute:           sel,
	}

	_, result, err := trainer.Run(ctx, runCfg, logger)
	if err != nil {
		logger.Error("training failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("training finished",
		slog.String("run_id", result.RunID),
		slog.String("stop_reason", result.Reason.String()),
		slog.Int("epochs", len(result.Summaries)),
		slog.Int("checkpoints", len(result.Checkpoints)),
		slog.Float64("test_loss", result.TestLoss),
	)
}

// flagProvided reports whether a flag was set on the command line, so a
// flag's zero value (patience 0, seed 0, use-gpu false) can still override
// the config file while an unset flag does not.
func flagProvided(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func flagBool(name string, value bool) *bool {
	if !flagProvided(name) {
		return nil
	}
	return &value
}

func flagInt(name string, value int) *int {
	if !flagProvided(name) {
		return nil
	}
	return &value
}

func flagInt64(name string, value int64) *int64 {
	if !flagProvided(name) {
		return nil
	}
	return &value
}
