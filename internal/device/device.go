// Package device resolves the execution device and numeric precision for a
// training run. Resolution happens once, before the loop starts, and the
// resulting Selection is threaded through constructors rather than read from
// process-global state.
package device

import (
	"fmt"
	"os"

	"github.com/klauspost/cpuid/v2"
)

// Kind identifies the execution device.
type Kind int

const (
	CPU Kind = iota
	GPU
)

func (k Kind) String() string {
	if k == GPU {
		return "gpu"
	}
	return "cpu"
}

// Precision is the numeric bit-width used for computation.
type Precision int

const (
	Full32    Precision = 32
	Reduced16 Precision = 16
)

func (p Precision) String() string {
	return fmt.Sprintf("%d-bit", int(p))
}

// Selection is the immutable device/precision pair for one run.
type Selection struct {
	Kind      Kind
	Precision Precision
}

// Resolve picks the device and precision for a run. GPU is selected only when
// requested and present; reduced precision is honored only where the hardware
// supports it, otherwise the run falls back to full precision.
func Resolve(useGPU bool, precisionBits int) (Selection, error) {
	sel := Selection{Kind: CPU, Precision: Full32}

	switch precisionBits {
	case 32:
		sel.Precision = Full32
	case 16:
		sel.Precision = Reduced16
	default:
		return Selection{}, fmt.Errorf("device: unsupported precision %d", precisionBits)
	}

	if useGPU && gpuPresent() {
		sel.Kind = GPU
		return sel, nil
	}

	if sel.Precision == Reduced16 && !cpuSupportsHalf() {
		sel.Precision = Full32
	}
	return sel, nil
}

// cpuSupportsHalf reports whether the CPU can convert half-precision floats
// natively.
func cpuSupportsHalf() bool {
	return cpuid.CPU.Supports(cpuid.F16C) ||
		cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ)
}

func gpuPresent() bool {
	for _, p := range []string{"/dev/nvidia0", "/dev/dri/renderD128"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
