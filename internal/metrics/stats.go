package metrics

import (
	"math"
	"time"
)

// Round4 rounds to 4 decimal digits, the resolution used for epoch loss
// averages in checkpoint names and early-stopping comparisons.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Mean accumulates batch losses and reports their arithmetic mean. Ragged
// final batches count the same as full ones.
type Mean struct {
	sum float64
	n   int
}

// Add records one batch loss.
func (m *Mean) Add(loss float64) {
	m.sum += loss
	m.n++
}

// Count returns how many batches were recorded.
func (m *Mean) Count() int { return m.n }

// Value returns the mean of recorded losses, or 0 when none were recorded.
func (m *Mean) Value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Window accumulates throughput stats across steps between log lines.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	lastLoss float64
}

// Record adds a new step measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable throughput metrics.
type Snapshot struct {
	SamplesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastLoss      float64
}
