package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/model"
)

// checkpointPath builds the snapshot directory name for one epoch.
func checkpointPath(outputDir string, s EpochSummary) string {
	name := fmt.Sprintf("epoch-%d-train-loss-%s-val-loss-%s",
		s.Epoch, formatLoss(s.TrainLoss), formatLoss(s.ValLoss))
	return filepath.Join(outputDir, name)
}

func formatLoss(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCheckpoint(outputDir string, s EpochSummary, m model.Seq2Seq) (string, error) {
	path := checkpointPath(outputDir, s)
	if err := m.Save(path); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCheckpointWrite, path, err)
	}
	return path, nil
}

// runMetadata is the auditable record of one run, written next to the
// checkpoints.
type runMetadata struct {
	RunID       string         `json:"run_id"`
	BaseModel   string         `json:"base_model"`
	Device      string         `json:"device"`
	Precision   int            `json:"precision"`
	StopReason  string         `json:"stop_reason"`
	Epochs      []EpochSummary `json:"epochs"`
	Checkpoints []string       `json:"checkpoints"`
	TestLoss    float64        `json:"test_loss"`
}

func writeRunMetadata(cfg RunConfig, res *Result) error {
	meta := runMetadata{
		RunID:       res.RunID,
		BaseModel:   cfg.BaseModel,
		Device:      cfg.Compute.Kind.String(),
		Precision:   int(cfg.Compute.Precision),
		StopReason:  res.Reason.String(),
		Epochs:      res.Summaries,
		Checkpoints: res.Checkpoints,
		TestLoss:    res.TestLoss,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutputDir, "run.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}
