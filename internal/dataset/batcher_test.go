package dataset

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/striebel/frame-semantic-transformer-downstream/internal/model"
)

func corpusExamples(n int) []LabeledExample {
	out := make([]LabeledExample, n)
	for i := range out {
		out[i] = LabeledExample{
			Input:  fmt.Sprintf("TRIGGER: sentence number %02d", i),
			Output: fmt.Sprintf("Frame%02d", i),
		}
	}
	return out
}

func newTestProvider(t *testing.T, partition Partition, n int, opts ProviderOptions) *Provider {
	t.Helper()
	codec := model.NewTiny(model.TinyConfig{Seed: 7})
	adapter := NewAdapter(codec, 32, 16)
	opts.Partition = partition
	return NewProvider(corpusExamples(n), adapter, opts)
}

// collectPass drains one full pass and returns the first-row decode key of
// each sample, flattened in delivery order.
func collectPass(t *testing.T, p *Provider) []string {
	t.Helper()
	codec := model.NewTiny(model.TinyConfig{Seed: 7})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batches, errCh := p.Start(ctx)
	var keys []string
	for batch := range batches {
		for _, row := range batch.Labels {
			keys = append(keys, codec.Decode(row))
		}
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("provider error: %v", err)
	}
	return keys
}

func TestTrainShufflesEveryPass(t *testing.T) {
	p := newTestProvider(t, Train, 24, ProviderOptions{BatchSize: 4, NumWorkers: 2, Seed: 11})

	first := collectPass(t, p)
	second := collectPass(t, p)

	if cmp.Equal(first, second) {
		t.Fatal("expected a fresh permutation on restart")
	}
	sortedFirst := append([]string(nil), first...)
	sortedSecond := append([]string(nil), second...)
	sort.Strings(sortedFirst)
	sort.Strings(sortedSecond)
	if diff := cmp.Diff(sortedFirst, sortedSecond); diff != "" {
		t.Fatalf("passes must cover the same samples (-first +second):\n%s", diff)
	}
}

func TestTrainOrderDiffersAcrossSeeds(t *testing.T) {
	a := newTestProvider(t, Train, 24, ProviderOptions{BatchSize: 4, NumWorkers: 1, Seed: 1})
	b := newTestProvider(t, Train, 24, ProviderOptions{BatchSize: 4, NumWorkers: 1, Seed: 2})

	if cmp.Equal(collectPass(t, a), collectPass(t, b)) {
		t.Fatal("different seeds should give different orderings")
	}
}

func TestTrainOrderDeterministicForSeed(t *testing.T) {
	a := newTestProvider(t, Train, 24, ProviderOptions{BatchSize: 4, NumWorkers: 1, Seed: 5})
	b := newTestProvider(t, Train, 24, ProviderOptions{BatchSize: 4, NumWorkers: 4, Seed: 5})

	if diff := cmp.Diff(collectPass(t, a), collectPass(t, b)); diff != "" {
		t.Fatalf("same seed must reproduce the order regardless of workers (-a +b):\n%s", diff)
	}
}

func TestEvaluationOrderIsNaturalAndStable(t *testing.T) {
	p := newTestProvider(t, Validation, 10, ProviderOptions{BatchSize: 3, NumWorkers: 4})

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("Frame%02d", i)
	}
	if diff := cmp.Diff(want, collectPass(t, p)); diff != "" {
		t.Fatalf("validation order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, collectPass(t, p)); diff != "" {
		t.Fatalf("validation order changed on restart (-want +got):\n%s", diff)
	}
}

func TestRaggedFinalBatch(t *testing.T) {
	p := newTestProvider(t, Validation, 10, ProviderOptions{BatchSize: 4, NumWorkers: 2})
	if p.NumBatches() != 3 {
		t.Fatalf("expected 3 batches, got %d", p.NumBatches())
	}

	ctx := context.Background()
	batches, errCh := p.Start(ctx)
	var sizes []int
	for batch := range batches {
		sizes = append(sizes, batch.Rows())
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Fatalf("provider error: %v", err)
	}
	if diff := cmp.Diff([]int{4, 4, 2}, sizes); diff != "" {
		t.Fatalf("batch sizes (-want +got):\n%s", diff)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	p := newTestProvider(t, Validation, 50, ProviderOptions{BatchSize: 1, NumWorkers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	batches, errCh := p.Start(ctx)
	<-batches
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-batches:
			if !ok {
				if err, k := <-errCh; k && err == nil {
					t.Fatal("expected a cancellation error")
				}
				return
			}
		case <-deadline:
			t.Fatal("provider did not stop after cancel")
		}
	}
}

func TestAbandonedPassReleasesProducer(t *testing.T) {
	p := newTestProvider(t, Validation, 64, ProviderOptions{BatchSize: 1, NumWorkers: 1})
	before := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		batches, _ := p.Start(ctx)
		<-batches
		cancel()
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+1 {
		if time.Now().After(deadline) {
			t.Fatalf("leaked producer goroutines: before=%d after=%d", before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEncodingErrorSurfacesFromPass(t *testing.T) {
	codec := model.NewTiny(model.TinyConfig{Seed: 7})
	adapter := NewAdapter(codec, 16, 16)
	examples := []LabeledExample{
		{Input: "fine", Output: "ok"},
		{Input: "broken ☃", Output: "ok"},
	}
	p := NewProvider(examples, adapter, ProviderOptions{Partition: Validation, BatchSize: 2, NumWorkers: 2})

	batches, errCh := p.Start(context.Background())
	for range batches {
	}
	err, ok := <-errCh
	if !ok || err == nil {
		t.Fatal("expected encoding error from pass")
	}
}
