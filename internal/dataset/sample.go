package dataset

import (
	"errors"
	"fmt"
)

// LabeledExample is one (input, output) text pair from the corpus.
type LabeledExample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// EncodedSample holds a fixed-shape numeric encoding of one example.
// InputIDs and AttentionMask share the configured max input length;
// Labels has the configured max output length.
type EncodedSample struct {
	InputIDs      []int
	AttentionMask []int
	Labels        []int
}

// Codec is the text/token conversion surface the adapter needs from a model.
type Codec interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) string
}

// ErrEncoding marks input text the tokenizer cannot represent. The run fails
// fast on it: a silently skipped sample could hide a systemic data bug.
var ErrEncoding = errors.New("dataset: encoding failed")

// Adapter converts labeled examples into fixed-shape encoded samples.
// Deterministic for a fixed codec and length configuration.
type Adapter struct {
	codec     Codec
	maxInput  int
	maxOutput int
}

// NewAdapter builds an adapter that pads and truncates to the given lengths.
func NewAdapter(codec Codec, maxInput, maxOutput int) *Adapter {
	return &Adapter{codec: codec, maxInput: maxInput, maxOutput: maxOutput}
}

// Adapt encodes one example. Padding uses token id 0; the attention mask is
// 1 for real input tokens and 0 for padding.
func (a *Adapter) Adapt(ex LabeledExample) (EncodedSample, error) {
	inputIDs, err := a.codec.Encode(ex.Input)
	if err != nil {
		return EncodedSample{}, fmt.Errorf("%w: input %q: %v", ErrEncoding, truncateForLog(ex.Input), err)
	}
	labelIDs, err := a.codec.Encode(ex.Output)
	if err != nil {
		return EncodedSample{}, fmt.Errorf("%w: output %q: %v", ErrEncoding, truncateForLog(ex.Output), err)
	}

	inputIDs = clip(inputIDs, a.maxInput)
	mask := make([]int, a.maxInput)
	for i := range inputIDs {
		mask[i] = 1
	}
	return EncodedSample{
		InputIDs:      pad(inputIDs, a.maxInput),
		AttentionMask: mask,
		Labels:        pad(clip(labelIDs, a.maxOutput), a.maxOutput),
	}, nil
}

func clip(ids []int, max int) []int {
	if len(ids) > max {
		return ids[:max]
	}
	return ids
}

func pad(ids []int, length int) []int {
	out := make([]int, length)
	copy(out, ids)
	return out
}

func truncateForLog(s string) string {
	const limit = 40
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
