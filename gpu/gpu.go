// Package gpu selects a detector execution strategy from available
// accelerator memory, mirroring the VRAM-tier table the Python
// prototype's GPUManager used to pick batch sizes.
package gpu

import "context"

// Mode is the detector pool's execution mode for a strategy tier.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ModelSize names the model weight tier to load for a strategy.
type ModelSize string

const (
	ModelNano   ModelSize = "nano"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
)

// Strategy is the resolved execution profile for the detector pool.
type Strategy struct {
	Mode      Mode
	ModelSize ModelSize
	BatchSize int

	DeviceName string
	VRAMTotalMB int64
}

// Accelerator reports available accelerator memory and resolves it to
// a Strategy. Implementations probe real hardware; NoAccelerator is
// the CPU-only fallback used whenever no accelerator is present.
type Accelerator interface {
	Strategy(ctx context.Context) (Strategy, error)
}

// NoAccelerator always reports the <8GB / sequential / nano row from
// the detector strategy table. This environment has no cgo/CUDA probe
// wired in, so every deployment without a dedicated Accelerator
// implementation runs the safe sequential-nano path.
type NoAccelerator struct{}

func (NoAccelerator) Strategy(context.Context) (Strategy, error) {
	return strategyFor(0), nil
}

// FixedAccelerator reports a fixed VRAM total, for tests that want to
// exercise the parallel/medium/large tiers without real hardware.
type FixedAccelerator struct {
	DeviceName  string
	VRAMTotalMB int64
}

func (f FixedAccelerator) Strategy(context.Context) (Strategy, error) {
	s := strategyFor(f.VRAMTotalMB)
	s.DeviceName = f.DeviceName
	s.VRAMTotalMB = f.VRAMTotalMB
	return s, nil
}

// strategyFor implements the strategy-selection table from spec.md
// §4.3 given a VRAM total in megabytes.
func strategyFor(vramMB int64) Strategy {
	vramGB := float64(vramMB) / 1024

	switch {
	case vramGB < 8:
		return Strategy{Mode: ModeSequential, ModelSize: ModelNano, BatchSize: 8, DeviceName: "cpu", VRAMTotalMB: vramMB}
	case vramGB < 16:
		return Strategy{Mode: ModeParallel, ModelSize: ModelSmall, BatchSize: 32, VRAMTotalMB: vramMB}
	case vramGB < 32:
		return Strategy{Mode: ModeParallel, ModelSize: ModelMedium, BatchSize: 64, VRAMTotalMB: vramMB}
	default:
		batch := int(vramGB * 3)
		if batch > 128 {
			batch = 128
		}
		return Strategy{Mode: ModeParallel, ModelSize: ModelMedium, BatchSize: batch, VRAMTotalMB: vramMB}
	}
}
