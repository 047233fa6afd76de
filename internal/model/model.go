package model

// Batch represents a minibatch of encoded samples. All rows share the same
// sequence lengths; the last batch of a partition may have fewer rows.
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	Labels        [][]int
}

// Rows returns the number of samples in the batch.
func (b Batch) Rows() int { return len(b.InputIDs) }

// Seq2Seq is the minimal contract a pretrained sequence-to-sequence model
// must satisfy for fine-tuning. Token id 0 is reserved for padding: Encode
// never emits it, Decode skips it, and Forward excludes it from the loss.
//
// Forward runs one forward pass over the batch and returns the scalar loss.
// When update is true it also applies the model's gradient update; the
// caller guarantees Forward is never invoked concurrently.
type Seq2Seq interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) string
	Forward(b Batch, update bool) (float64, error)
	Save(dir string) error
}
