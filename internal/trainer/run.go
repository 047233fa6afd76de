package trainer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/dataset"
	"github.com/striebel/frame-semantic-transformer-downstream/internal/model"
)

// Run wires the full pipeline for one fine-tuning run: corpus, model,
// batch providers, epoch controller, test evaluation and run metadata.
// It returns the fine-tuned model together with the run result.
func Run(ctx context.Context, cfg RunConfig, logger *slog.Logger) (model.Seq2Seq, *Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	corpus, err := dataset.LoadCorpus(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("corpus loaded",
		slog.Int("train", len(corpus.Train)),
		slog.Int("dev", len(corpus.Dev)),
		slog.Int("test", len(corpus.Test)),
	)

	m, err := resolveModel(cfg)
	if err != nil {
		return nil, nil, err
	}

	adapter := dataset.NewAdapter(m, cfg.MaxInputLength, cfg.MaxOutputLength)
	trainSrc := dataset.NewProvider(corpus.Train, adapter, dataset.ProviderOptions{
		Partition:  dataset.Train,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
	})
	valSrc := dataset.NewProvider(corpus.Dev, adapter, dataset.ProviderOptions{
		Partition:  dataset.Validation,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
	})
	testSrc := dataset.NewProvider(corpus.TestExamples(), adapter, dataset.ProviderOptions{
		Partition:  dataset.Test,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
	})

	ctrl := NewController(cfg, m, trainSrc, valSrc, logger)
	result, err := ctrl.Run(ctx)
	if err != nil {
		return nil, nil, err
	}

	testLoss, err := ctrl.EvaluateTest(ctx, testSrc)
	if err != nil {
		return nil, nil, err
	}
	result.TestLoss = testLoss
	logger.Info("test evaluation finished", slog.Float64("test_loss", testLoss))

	if err := writeRunMetadata(cfg, result); err != nil {
		return nil, nil, err
	}
	return m, result, nil
}

// resolveModel loads BaseModel when it names a saved snapshot directory and
// otherwise initializes a fresh model, so a previous run's checkpoint can
// serve as the continuation point.
func resolveModel(cfg RunConfig) (model.Seq2Seq, error) {
	if _, err := os.Stat(filepath.Join(cfg.BaseModel, "model.json")); err == nil {
		m, err := model.LoadTiny(cfg.BaseModel)
		if err != nil {
			return nil, err
		}
		m.SetLearningRate(cfg.LearningRate)
		m.SetCompute(cfg.Compute)
		return m, nil
	}
	return model.NewTiny(model.TinyConfig{
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
		Compute:      cfg.Compute,
	}), nil
}
