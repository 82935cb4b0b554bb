package main

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file selects and configures a compute backend before any tensors are
// allocated. Training scripts call GenBackend once, up front, the same way
// they pick a dataset - everything downstream (layers, fit loop, evaluation)
// just calls MatMul and friends and gets whatever the backend installed.
//
// INTENTION:
// Make backend choice a one-line decision with graceful degradation. The
// "cpu" backend always works: pure Go, no CGO, runs anywhere. The "cuda"
// backend is compiled in only under the cuda build tag and probes for a
// device at runtime; if the probe fails, we warn and fall back to cpu
// rather than dying, because a laptop without a GPU should still run the
// MNIST tutorial.
//
// WHERE THIS SITS:
// Above compute.go (it installs the global ComputeConfig) and below the
// command layer (cmd_train.go etc. construct one from flags/config).
//
// ===========================================================================

// Backend describes the selected compute device and the execution
// configuration installed for it.
type Backend struct {
	// Name is the backend identifier: "cpu" or "cuda".
	Name string

	// BatchSize is the number of images processed per training step.
	// Layers don't read this directly - the batch iterator does - but it
	// lives here because backends size their workspaces off it.
	BatchSize int

	// Device is a human-readable description of the hardware in use.
	Device string

	// Compute is the parallelism configuration installed globally.
	Compute ComputeConfig

	// Strategy is the matmul implementation the backend selected.
	Strategy MatMulStrategy
}

// AvailableBackends lists the backends this binary can attempt, in
// preference order. "cuda" appears only when compiled in and a device
// responds to the probe.
func AvailableBackends() []string {
	names := []string{"cpu"}
	if _, err := probeCUDA(); err == nil {
		names = append(names, "cuda")
	}
	return names
}

// GenBackend selects a backend by name, configures it for the given batch
// size, and installs its compute configuration globally. An empty name
// selects "cpu". Requesting "cuda" when no device is available logs a
// warning and falls back to cpu.
func GenBackend(name string, batchSize int) (*Backend, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("backend: batch size must be positive, got %d", batchSize)
	}

	if name == "" {
		name = "cpu"
	}

	switch strings.ToLower(name) {
	case "cpu":
		return genCPUBackend(batchSize), nil

	case "cuda":
		props, err := probeCUDA()
		if err != nil {
			zlog.Warnw("cuda backend unavailable, falling back to cpu",
				"error", err)
			return genCPUBackend(batchSize), nil
		}
		b := &Backend{
			Name:      "cuda",
			BatchSize: batchSize,
			Device:    fmt.Sprintf("%s (%.1f GB)", props.Name, float64(props.TotalMem)/(1<<30)),
			Compute:   DefaultComputeConfig(),
			Strategy:  StrategyCacheBlockedParallel,
		}
		SetGlobalComputeConfig(b.Compute)
		SetGlobalMatMulStrategy(b.Strategy)
		zlog.Infow("backend ready", "name", b.Name, "device", b.Device, "batch_size", batchSize)
		return b, nil

	default:
		return nil, fmt.Errorf("backend: unknown backend %q (available: %s)",
			name, strings.Join(AvailableBackends(), ", "))
	}
}

func genCPUBackend(batchSize int) *Backend {
	cfg := DefaultComputeConfig()
	b := &Backend{
		Name:      "cpu",
		BatchSize: batchSize,
		Device:    describeCPU(),
		Compute:   cfg,
		Strategy:  StrategyCacheBlockedParallel,
	}
	SetGlobalComputeConfig(cfg)
	SetGlobalMatMulStrategy(b.Strategy)
	zlog.Infow("backend ready",
		"name", b.Name,
		"device", b.Device,
		"workers", cfg.numWorkers(),
		"batch_size", batchSize)
	return b
}

// describeCPU reports the processor the cpu backend will run on, including
// the SIMD features the Go compiler may use. Diagnostic only - the pure Go
// kernels don't branch on these.
func describeCPU() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = "unknown cpu"
	}

	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX512F, "avx512"},
		{cpuid.AVX2, "avx2"},
		{cpuid.AVX, "avx"},
		{cpuid.FMA3, "fma3"},
		{cpuid.SSE42, "sse4.2"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}

	desc := fmt.Sprintf("%s, %d cores (%d logical)",
		strings.TrimSpace(brand), cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
	if len(feats) > 0 {
		desc += " [" + strings.Join(feats, " ") + "]"
	}
	return desc
}
