package dataset

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/model"
)

// Partition identifies which split a provider serves. Train shuffles sample
// order afresh on every restart; Validation and Test always use the
// dataset's natural order so metrics stay comparable across epochs.
type Partition int

const (
	Train Partition = iota
	Validation
	Test
)

func (p Partition) String() string {
	switch p {
	case Train:
		return "train"
	case Validation:
		return "validation"
	default:
		return "test"
	}
}

// ProviderOptions configures a batch provider.
type ProviderOptions struct {
	Partition  Partition
	BatchSize  int
	NumWorkers int
	Seed       int64
}

// Provider turns labeled examples into a restartable sequence of batches.
// Each call to Start begins a fresh pass over the data; for the Train
// partition that pass uses a new permutation drawn from the provider's
// seeded source.
type Provider struct {
	examples []LabeledExample
	adapter  *Adapter
	opts     ProviderOptions
	rng      *rand.Rand
}

// NewProvider builds a provider over examples. The example slice is shared
// read-only; the provider never mutates it.
func NewProvider(examples []LabeledExample, adapter *Adapter, opts ProviderOptions) *Provider {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	p := &Provider{examples: examples, adapter: adapter, opts: opts}
	if opts.Partition == Train {
		p.rng = rand.New(rand.NewSource(opts.Seed))
	}
	return p
}

// NumBatches returns how many batches one full pass yields.
func (p *Provider) NumBatches() int {
	n := len(p.examples)
	return (n + p.opts.BatchSize - 1) / p.opts.BatchSize
}

// Start begins one pass and returns a batch stream plus an error channel.
// Both channels close when the pass completes; on failure a single error is
// delivered before close. Encoding fans out across NumWorkers, but batches
// are always delivered in the pass's defined order. A consumer abandoning
// the pass must cancel ctx so the producer goroutine can exit.
func (p *Provider) Start(ctx context.Context) (<-chan model.Batch, <-chan error) {
	order := p.passOrder()
	out := make(chan model.Batch, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		for lo := 0; lo < len(order); lo += p.opts.BatchSize {
			hi := lo + p.opts.BatchSize
			if hi > len(order) {
				hi = len(order)
			}
			batch, err := p.encodeBatch(ctx, order[lo:hi])
			if err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- batch:
			}
		}
	}()

	return out, errCh
}

// passOrder fixes the sample order for one pass before any worker runs, so
// worker parallelism can never affect it.
func (p *Provider) passOrder() []int {
	if p.opts.Partition == Train {
		return p.rng.Perm(len(p.examples))
	}
	order := make([]int, len(p.examples))
	for i := range order {
		order[i] = i
	}
	return order
}

func (p *Provider) encodeBatch(ctx context.Context, indices []int) (model.Batch, error) {
	samples := make([]EncodedSample, len(indices))
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.NumWorkers)
	for slot, idx := range indices {
		slot, idx := slot, idx
		eg.Go(func() error {
			sample, err := p.adapter.Adapt(p.examples[idx])
			if err != nil {
				return err
			}
			samples[slot] = sample
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return model.Batch{}, err
	}

	batch := model.Batch{
		InputIDs:      make([][]int, len(samples)),
		AttentionMask: make([][]int, len(samples)),
		Labels:        make([][]int, len(samples)),
	}
	for i, s := range samples {
		batch.InputIDs[i] = s.InputIDs
		batch.AttentionMask[i] = s.AttentionMask
		batch.Labels[i] = s.Labels
	}
	return batch, nil
}
