package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/device"
	"github.com/striebel/frame-semantic-transformer-downstream/internal/metrics"
	"github.com/striebel/frame-semantic-transformer-downstream/internal/model"
)

// ErrForwardPass marks a failed model forward computation. Fatal for the
// current run; never retried here.
var ErrForwardPass = errors.New("trainer: forward pass failed")

// ErrCheckpointWrite marks a failed checkpoint persist. Fatal: there is no
// skip-and-continue policy.
var ErrCheckpointWrite = errors.New("trainer: checkpoint write failed")

// RunConfig captures the knobs required by a fine-tuning run. Immutable once
// handed to a Controller.
type RunConfig struct {
	BaseModel         string
	DataDir           string
	OutputDir         string
	BatchSize         int
	MaxEpochs         int
	LearningRate      float64
	Patience          int // 0 disables early stopping
	SaveOnlyLastEpoch bool
	NumWorkers        int
	MaxInputLength    int
	MaxOutputLength   int
	Seed              int64
	LogEvery          int
	Compute           device.Selection
}

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// StopReason records why a stopped controller stopped.
type StopReason int

const (
	ReasonCompleted StopReason = iota
	ReasonEarlyStopped
)

func (r StopReason) String() string {
	if r == ReasonEarlyStopped {
		return "early_stopped"
	}
	return "completed"
}

// EpochSummary is the immutable per-epoch record consumed by the checkpoint
// and early-stopping decisions. Losses are means over batch losses, rounded
// to 4 decimal digits.
type EpochSummary struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Reason      StopReason
	Summaries   []EpochSummary
	Checkpoints []string
	TestLoss    float64
}

// BatchSource is a restartable sequence of batches; each Start call begins a
// fresh pass.
type BatchSource interface {
	Start(ctx context.Context) (<-chan model.Batch, <-chan error)
	NumBatches() int
}

// Progress is a diagnostic snapshot handed to a progress observer.
type Progress struct {
	Phase      string
	Epoch      int
	Step       int
	TotalSteps int
	Loss       float64
}

// ProgressFunc observes training progress. Purely diagnostic: failures are
// swallowed and never affect training outcomes.
type ProgressFunc func(Progress)

// Controller owns the epoch loop: train phase, validation phase, loss
// aggregation, checkpoint decision and early stopping. A controller runs
// once; continuing training requires a fresh instance over the same model.
type Controller struct {
	cfg      RunConfig
	model    model.Seq2Seq
	train    BatchSource
	val      BatchSource
	logger   *slog.Logger
	progress ProgressFunc

	runID   string
	state   State
	reason  StopReason
	summary []EpochSummary
}

// NewController builds an idle controller over the given model and sources.
func NewController(cfg RunConfig, m model.Seq2Seq, train, val BatchSource, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 5
	}
	runID := uuid.NewString()
	return &Controller{
		cfg:    cfg,
		model:  m,
		train:  train,
		val:    val,
		logger: logger.With(slog.String("run_id", runID)),
		runID:  runID,
	}
}

// WithProgress attaches an optional progress observer.
func (c *Controller) WithProgress(fn ProgressFunc) *Controller {
	c.progress = fn
	return c
}

// State returns the controller's lifecycle position.
func (c *Controller) State() State { return c.state }

// Reason returns why the controller stopped; meaningful only in StateStopped.
func (c *Controller) Reason() StopReason { return c.reason }

// Run executes the epoch loop until MaxEpochs complete or early stopping
// fires. The returned Result lists every epoch summary and checkpoint path.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if c.state != StateIdle {
		return nil, errors.New("trainer: controller already ran; create a fresh instance")
	}
	c.state = StateRunning
	c.logger.Info("run starting",
		slog.Int("max_epochs", c.cfg.MaxEpochs),
		slog.Int("patience", c.cfg.Patience),
		slog.String("device", c.cfg.Compute.Kind.String()),
		slog.String("precision", c.cfg.Compute.Precision.String()),
	)

	result := &Result{RunID: c.runID}
	bestVal := math.Inf(1)
	sinceImproved := 0

	for epoch := 0; epoch < c.cfg.MaxEpochs; epoch++ {
		trainLoss, err := c.runPhase(ctx, c.train, "train", epoch, true)
		if err != nil {
			return nil, err
		}
		valLoss, err := c.runPhase(ctx, c.val, "validation", epoch, false)
		if err != nil {
			return nil, err
		}

		summary := EpochSummary{
			Epoch:     epoch,
			TrainLoss: metrics.Round4(trainLoss),
			ValLoss:   metrics.Round4(valLoss),
		}
		c.summary = append(c.summary, summary)
		result.Summaries = append(result.Summaries, summary)
		c.logger.Info("epoch finished",
			slog.Int("epoch", summary.Epoch),
			slog.Float64("train_loss", summary.TrainLoss),
			slog.Float64("val_loss", summary.ValLoss),
		)

		if !c.cfg.SaveOnlyLastEpoch || epoch == c.cfg.MaxEpochs-1 {
			path, err := writeCheckpoint(c.cfg.OutputDir, summary, c.model)
			if err != nil {
				return nil, err
			}
			result.Checkpoints = append(result.Checkpoints, path)
			c.logger.Info("checkpoint saved", slog.String("path", path))
		}

		if c.cfg.Patience > 0 {
			if summary.ValLoss < bestVal {
				bestVal = summary.ValLoss
				sinceImproved = 0
			} else {
				sinceImproved++
			}
			if sinceImproved > c.cfg.Patience {
				c.state = StateStopped
				c.reason = ReasonEarlyStopped
				result.Reason = ReasonEarlyStopped
				c.logger.Info("early stopping",
					slog.Int("epoch", epoch),
					slog.Float64("best_val_loss", bestVal),
					slog.Int("epochs_without_improvement", sinceImproved),
				)
				return result, nil
			}
		}
	}

	c.state = StateStopped
	c.reason = ReasonCompleted
	result.Reason = ReasonCompleted
	return result, nil
}

// EvaluateTest runs one ordered pass over the test source with the same step
// logic used during training, without gradient updates.
func (c *Controller) EvaluateTest(ctx context.Context, test BatchSource) (float64, error) {
	loss, err := c.runPhase(ctx, test, "test", len(c.summary), false)
	if err != nil {
		return 0, err
	}
	return metrics.Round4(loss), nil
}

// step is the shared per-batch executor for all phases. Only update differs
// between train and evaluation.
func (c *Controller) step(batch model.Batch, update bool) (float64, error) {
	loss, err := c.model.Forward(batch, update)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrForwardPass, err)
	}
	return loss, nil
}

func (c *Controller) runPhase(parent context.Context, src BatchSource, phase string, epoch int, update bool) (float64, error) {
	// The pass gets its own context so an early return (step failure)
	// releases the source's producer instead of leaving it blocked on send.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	batches, errCh := src.Start(ctx)
	total := src.NumBatches()

	var mean metrics.Mean
	var window metrics.Window
	step := 0
	startData := time.Now()
	for batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("trainer: %s phase aborted: %w", phase, err)
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := c.step(batch, update)
		if err != nil {
			return 0, err
		}
		computeTime := time.Since(startCompute)

		mean.Add(loss)
		window.Record(batch.Rows(), dataTime, computeTime, loss)
		step++
		if step%c.cfg.LogEvery == 0 {
			snap := window.Snapshot()
			c.logger.Info("phase progress",
				slog.String("phase", phase),
				slog.Int("epoch", epoch),
				slog.Int("step", step),
				slog.Int("total_steps", total),
				slog.Float64("loss", snap.LastLoss),
				slog.Float64("samples_per_sec", snap.SamplesPerSec),
				slog.Float64("data_ms", snap.AvgDataMS),
				slog.Float64("compute_ms", snap.AvgComputeMS),
			)
			c.notifyProgress(Progress{Phase: phase, Epoch: epoch, Step: step, TotalSteps: total, Loss: snap.LastLoss})
		}
		startData = time.Now()
	}
	if err, ok := <-errCh; ok && err != nil {
		return 0, fmt.Errorf("trainer: %s phase: %w", phase, err)
	}
	c.notifyProgress(Progress{Phase: phase, Epoch: epoch, Step: step, TotalSteps: total, Loss: mean.Value()})
	return mean.Value(), nil
}

// notifyProgress shields the loop from observer failures.
func (c *Controller) notifyProgress(p Progress) {
	if c.progress == nil {
		return
	}
	defer func() { _ = recover() }()
	c.progress(p)
}
