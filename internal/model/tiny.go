package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/device"
)

const (
	padID     = 0
	charFirst = ' '
	charLast  = '~'
)

// TinyConfig configures the built-in reference model.
type TinyConfig struct {
	Dim          int
	LearningRate float64
	Seed         int64
	Compute      device.Selection
}

// Tiny is a small trainable sequence-to-sequence model over printable ASCII.
// Inputs are mean-pooled over a fixed embedding table and a learned linear
// head predicts each label token, so loss decreases under SGD while the
// whole model stays cheap enough to train in tests.
type Tiny struct {
	cfg       TinyConfig
	vocab     map[rune]int
	runes     []rune
	embedding *mat.Dense // vocabSize x dim, fixed after init
	head      *mat.Dense // dim x vocabSize, trained
	bias      *mat.VecDense
}

// NewTiny constructs the model with seeded random initialization.
func NewTiny(cfg TinyConfig) *Tiny {
	if cfg.Dim <= 0 {
		cfg.Dim = 32
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 1e-4
	}

	vocab := make(map[rune]int)
	runes := []rune{0} // id 0 is the pad slot
	for r := charFirst; r <= charLast; r++ {
		vocab[r] = len(runes)
		runes = append(runes, r)
	}
	for _, r := range []rune{'\n', '\t'} {
		vocab[r] = len(runes)
		runes = append(runes, r)
	}
	vocabSize := len(runes)

	rng := rand.New(rand.NewSource(cfg.Seed))
	embedding := mat.NewDense(vocabSize, cfg.Dim, randSlice(rng, vocabSize*cfg.Dim))
	head := mat.NewDense(cfg.Dim, vocabSize, randSlice(rng, cfg.Dim*vocabSize))

	return &Tiny{
		cfg:       cfg,
		vocab:     vocab,
		runes:     runes,
		embedding: embedding,
		head:      head,
		bias:      mat.NewVecDense(vocabSize, nil),
	}
}

func randSlice(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * 0.08
	}
	return out
}

// Encode maps text to token ids. Characters outside the model's vocabulary
// are an error rather than silently replaced.
func (m *Tiny) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		id, ok := m.vocab[r]
		if !ok {
			return nil, fmt.Errorf("encode: unsupported character %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode maps token ids back to text, skipping padding.
func (m *Tiny) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == padID || id < 0 || id >= len(m.runes) {
			continue
		}
		sb.WriteRune(m.runes[id])
	}
	return sb.String()
}

// Forward computes the mean cross-entropy over all non-pad label tokens in
// the batch. When update is set, an SGD step on the head follows each row's
// gradient computation.
func (m *Tiny) Forward(b Batch, update bool) (float64, error) {
	if b.Rows() == 0 {
		return 0, fmt.Errorf("forward: empty batch")
	}
	if len(b.AttentionMask) != b.Rows() || len(b.Labels) != b.Rows() {
		return 0, fmt.Errorf("forward: field row counts differ: ids=%d mask=%d labels=%d",
			b.Rows(), len(b.AttentionMask), len(b.Labels))
	}
	vocabSize := len(m.runes)

	totalLoss := 0.0
	totalTokens := 0
	for row := 0; row < b.Rows(); row++ {
		ids := b.InputIDs[row]
		mask := b.AttentionMask[row]
		if len(ids) != len(mask) {
			return 0, fmt.Errorf("forward: row %d: input length %d != mask length %d",
				row, len(ids), len(mask))
		}

		pooled, err := m.pool(ids, mask)
		if err != nil {
			return 0, fmt.Errorf("forward: row %d: %w", row, err)
		}

		logits := mat.NewVecDense(vocabSize, nil)
		logits.MulVec(m.head.T(), pooled)
		logits.AddVec(logits, m.bias)
		probs := softmax(logits.RawVector().Data)

		for _, label := range b.Labels[row] {
			if label == padID {
				continue
			}
			if label < 0 || label >= vocabSize {
				return 0, fmt.Errorf("forward: row %d: label id %d out of range", row, label)
			}
			totalLoss += -math.Log(math.Max(probs[label], 1e-12))
			totalTokens++

			if update {
				grad := make([]float64, vocabSize)
				copy(grad, probs)
				grad[label] -= 1
				gvec := mat.NewVecDense(vocabSize, grad)
				m.head.RankOne(m.head, -m.cfg.LearningRate, pooled, gvec)
				m.bias.AddScaledVec(m.bias, -m.cfg.LearningRate, gvec)
			}
		}
	}
	if totalTokens == 0 {
		return 0, fmt.Errorf("forward: batch has no label tokens")
	}
	return totalLoss / float64(totalTokens), nil
}

func (m *Tiny) pool(ids, mask []int) (*mat.VecDense, error) {
	pooled := mat.NewVecDense(m.cfg.Dim, nil)
	n := 0
	for i, id := range ids {
		if mask[i] == 0 {
			continue
		}
		if id < 0 || id >= len(m.runes) {
			return nil, fmt.Errorf("input id %d out of range", id)
		}
		pooled.AddVec(pooled, m.embedding.RowView(id))
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("attention mask is all zero")
	}
	pooled.ScaleVec(1/float64(n), pooled)
	return pooled, nil
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		out[i] = e
		sum += e
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

type tinyState struct {
	Dim          int       `json:"dim"`
	LearningRate float64   `json:"lr"`
	Seed         int64     `json:"seed"`
	Device       string    `json:"device"`
	Precision    int       `json:"precision"`
	Vocab        string    `json:"vocab"`
	Embedding    []float64 `json:"embedding"`
	Head         []float64 `json:"head"`
	Bias         []float64 `json:"bias"`
}

// Save serializes model and tokenizer state into dir, creating it if needed.
func (m *Tiny) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	state := tinyState{
		Dim:          m.cfg.Dim,
		LearningRate: m.cfg.LearningRate,
		Seed:         m.cfg.Seed,
		Device:       m.cfg.Compute.Kind.String(),
		Precision:    int(m.cfg.Compute.Precision),
		Vocab:        string(m.runes[1:]),
		Embedding:    m.embedding.RawMatrix().Data,
		Head:         m.head.RawMatrix().Data,
		Bias:         m.bias.RawVector().Data,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.json"), raw, 0o644); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// SetLearningRate overrides the step size, letting a run started from a
// checkpoint use its own configured rate.
func (m *Tiny) SetLearningRate(lr float64) {
	if lr > 0 {
		m.cfg.LearningRate = lr
	}
}

// SetCompute records the run's resolved device selection so snapshots
// written during this run carry it rather than the loading run's zero value.
func (m *Tiny) SetCompute(sel device.Selection) {
	m.cfg.Compute = sel
}

// LoadTiny restores a model saved by Save, for continuing from a checkpoint.
func LoadTiny(dir string) (*Tiny, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "model.json"))
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	var state tinyState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	m := NewTiny(TinyConfig{Dim: state.Dim, LearningRate: state.LearningRate, Seed: state.Seed})
	if len(state.Embedding) != len(m.embedding.RawMatrix().Data) ||
		len(state.Head) != len(m.head.RawMatrix().Data) ||
		len(state.Bias) != len(m.bias.RawVector().Data) {
		return nil, fmt.Errorf("load model: weight shapes do not match vocabulary")
	}
	copy(m.embedding.RawMatrix().Data, state.Embedding)
	copy(m.head.RawMatrix().Data, state.Head)
	copy(m.bias.RawVector().Data, state.Bias)
	return m, nil
}
