package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file measures two things: raw matmul throughput across the execution
// strategies (naive, parallel, cache-blocked, both), and end-to-end model
// throughput (images/sec) for the canned architectures on synthetic batches.
//
// INTENTION:
// Answer the two questions people actually ask about a pure-Go trainer:
// "how fast is the matmul?" and "how long will an epoch take on MY machine?"
// The matmul numbers show the optimization continuum; the model numbers turn
// GFLOPS into something you can plan a training run around. Results go to
// stdout for reading and to JSON for comparing machines.
//
// WHERE THIS SITS:
// On top of matmul_optimized.go (strategies), compute.go (worker config) and
// models.go (canned recipes). cmd_benchmark.go drives it from flags.
//
// ===========================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
)

// BenchmarkResult is a single measurement: one matmul strategy at one size,
// or one model phase (forward / train) at one batch size.
type BenchmarkResult struct {
	Name           string        `json:"name"`
	Kind           string        `json:"kind"` // "matmul" or "model"
	Size           int           `json:"size,omitempty"`
	BatchSize      int           `json:"batch_size,omitempty"`
	Iterations     int           `json:"iterations"`
	TotalTime      time.Duration `json:"total_time_ns"`
	AvgTime        time.Duration `json:"avg_time_ns"`
	GFLOPS         float64       `json:"gflops,omitempty"`
	ImagesPerSec   float64       `json:"images_per_sec,omitempty"`
	SpeedupVsNaive float64       `json:"speedup_vs_naive,omitempty"`
}

// BenchmarkSuite is one full run on one machine.
type BenchmarkSuite struct {
	Timestamp time.Time         `json:"timestamp"`
	Hardware  HardwareInfo      `json:"hardware"`
	Results   []BenchmarkResult `json:"results"`

	// BaselineGFLOPS is the naive single-threaded throughput at the largest
	// matmul size benchmarked; suites from different machines compare on it.
	BaselineGFLOPS float64 `json:"baseline_gflops,omitempty"`
}

// HardwareInfo describes the machine a suite ran on.
type HardwareInfo struct {
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
	CPU           string   `json:"cpu"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	L1DataKB      int      `json:"l1_data_kb,omitempty"`
	L2KB          int      `json:"l2_kb,omitempty"`
	L3KB          int      `json:"l3_kb,omitempty"`
	Features      []string `json:"features,omitempty"`
}

// DetectHardware gathers CPU model, core counts, cache sizes and the SIMD
// features present. Diagnostic only: the kernels are pure Go and don't
// branch on any of this, but the numbers explain why the same code runs at
// different speeds on different machines.
func DetectHardware() HardwareInfo {
	info := HardwareInfo{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPU:           strings.TrimSpace(cpuid.CPU.BrandName),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		L1DataKB:      cacheKB(cpuid.CPU.Cache.L1D),
		L2KB:          cacheKB(cpuid.CPU.Cache.L2),
		L3KB:          cacheKB(cpuid.CPU.Cache.L3),
	}
	if info.CPU == "" {
		info.CPU = "unknown cpu"
	}

	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX512F, "avx512"},
		{cpuid.AVX2, "avx2"},
		{cpuid.AVX, "avx"},
		{cpuid.FMA3, "fma3"},
		{cpuid.SSE42, "sse4.2"},
		{cpuid.ASIMD, "neon"},
		{cpuid.SVE, "sve"},
	} {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}

	return info
}

// cacheKB converts a cpuid cache size to KB. cpuid reports -1 when a level
// is unknown; we report 0 and omit it from the JSON.
func cacheKB(bytes int) int {
	if bytes <= 0 {
		return 0
	}
	return bytes / 1024
}

// RunBenchmarkSuite runs the matmul benchmarks at the given square sizes and,
// when modelSteps > 0, the model throughput benchmarks. Passing no sizes
// skips the matmul half.
func RunBenchmarkSuite(sizes []int, matmulIters, modelSteps int) (*BenchmarkSuite, error) {
	suite := &BenchmarkSuite{
		Timestamp: time.Now(),
		Hardware:  DetectHardware(),
	}

	fmt.Println("=== Benchmark Suite ===")
	fmt.Printf("Hardware:  %s (%d cores, %d logical)\n",
		suite.Hardware.CPU, suite.Hardware.PhysicalCores, suite.Hardware.LogicalCores)
	if len(suite.Hardware.Features) > 0 {
		fmt.Printf("Features:  %s\n", strings.Join(suite.Hardware.Features, " "))
	}
	fmt.Printf("Timestamp: %s\n", suite.Timestamp.Format(time.RFC3339))
	fmt.Println()

	if len(sizes) > 0 {
		results, baseline := RunMatMulBenchmarks(sizes, matmulIters)
		suite.Results = append(suite.Results, results...)
		suite.BaselineGFLOPS = baseline
	}

	if modelSteps > 0 {
		results, err := RunModelBenchmarks(modelSteps)
		if err != nil {
			return nil, err
		}
		suite.Results = append(suite.Results, results...)
	}

	return suite, nil
}

// RunMatMulBenchmarks times every strategy on square matrices at each size.
// Returns the results and the naive GFLOPS at the largest size, which later
// becomes the suite baseline.
func RunMatMulBenchmarks(sizes []int, iterations int) ([]BenchmarkResult, float64) {
	strategies := []struct {
		name     string
		strategy MatMulStrategy
		cfg      ComputeConfig
	}{
		{"naive", StrategyNaive, SingleThreadedConfig()},
		{"parallel", StrategyParallel, DefaultComputeConfig()},
		{"cache-blocked", StrategyCacheBlocked, SingleThreadedConfig()},
		{"cache-blocked-parallel", StrategyCacheBlockedParallel, DefaultComputeConfig()},
	}

	var results []BenchmarkResult
	var lastNaive float64

	for _, size := range sizes {
		fmt.Printf("matmul %dx%d (%d iterations)\n", size, size, iterations)

		a := NewTensorRand(size, size)
		b := NewTensorRand(size, size)

		// 2*n^3 flops per multiply: n^3 multiplies, n^3 adds.
		totalOps := 2.0 * float64(size) * float64(size) * float64(size)

		var naiveGFLOPS float64
		for _, s := range strategies {
			start := time.Now()
			for i := 0; i < iterations; i++ {
				_ = MatMulWithStrategy(a, b, s.strategy, s.cfg)
			}
			total := time.Since(start)
			avg := total / time.Duration(iterations)
			gflops := totalOps / avg.Seconds() / 1e9

			if s.strategy == StrategyNaive {
				naiveGFLOPS = gflops
				lastNaive = gflops
			}

			r := BenchmarkResult{
				Name:       s.name,
				Kind:       "matmul",
				Size:       size,
				Iterations: iterations,
				TotalTime:  total,
				AvgTime:    avg,
				GFLOPS:     gflops,
			}
			if naiveGFLOPS > 0 {
				r.SpeedupVsNaive = gflops / naiveGFLOPS
			}
			results = append(results, r)

			fmt.Printf("  %-24s %10v  %7.2f GFLOPS  (%.2fx)\n", s.name, avg, gflops, r.SpeedupVsNaive)
		}

		fmt.Println()
	}

	return results, lastNaive
}

// RunModelBenchmarks times the canned architectures on synthetic batches:
// a forward-only pass (the inference path) and a full training step
// (forward, loss, backward, update). The conv nets get smaller batches so a
// suite run finishes in seconds rather than minutes.
func RunModelBenchmarks(steps int) ([]BenchmarkResult, error) {
	models := []struct {
		name      string
		inShape   []int
		batchSize int
	}{
		{"mlp", []int{1, 28, 28}, 128},
		{"convnet", []int{3, 32, 32}, 32},
		{"resnet", []int{3, 32, 32}, 16},
	}

	ResetMatMulStats()

	var results []BenchmarkResult
	for _, m := range models {
		fmt.Printf("model %s (batch %d, %d steps)\n", m.name, m.batchSize, steps)

		rs, err := benchmarkModel(m.name, m.inShape, m.batchSize, steps)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			fmt.Printf("  %-24s %10v  %7.1f images/sec\n", r.Name, r.AvgTime, r.ImagesPerSec)
		}
		results = append(results, rs...)

		fmt.Println()
	}

	stats := MatMulStats()
	fmt.Printf("matmul dispatches: %d (%d parallel, %d serial), %v total\n\n",
		stats.TotalOps, stats.ParallelOps, stats.SingleThreadedOps,
		time.Duration(stats.TotalTimeNs).Round(time.Millisecond))

	return results, nil
}

func benchmarkModel(name string, inShape []int, batchSize, steps int) ([]BenchmarkResult, error) {
	specs, err := BuildModel(name, 3)
	if err != nil {
		return nil, fmt.Errorf("benchmark: %w", err)
	}
	net, err := NewNetwork(inShape, specs, 42)
	if err != nil {
		return nil, fmt.Errorf("benchmark: building %s: %w", name, err)
	}

	x := NewTensorRand(append([]int{batchSize}, inShape...)...)
	labels := make([]int, batchSize)
	for i := range labels {
		labels[i] = i % net.Classes()
	}

	cost := SoftmaxCrossEntropy{}
	opt := NewGradientDescentMomentum(0.9, 0)
	params := net.Params()

	// Forward only: what serving pays per batch.
	start := time.Now()
	for i := 0; i < steps; i++ {
		_ = net.Forward(x, false)
	}
	fwd := time.Since(start)

	// Full step: what training pays per batch.
	start = time.Now()
	for i := 0; i < steps; i++ {
		net.ZeroGrad()
		logits := net.Forward(x, true)
		_, grad := cost.Loss(logits, labels)
		net.Backward(grad)
		opt.Step(params, 0.01)
	}
	trn := time.Since(start)

	images := float64(batchSize * steps)
	return []BenchmarkResult{
		{
			Name:         name + "/forward",
			Kind:         "model",
			BatchSize:    batchSize,
			Iterations:   steps,
			TotalTime:    fwd,
			AvgTime:      fwd / time.Duration(steps),
			ImagesPerSec: images / fwd.Seconds(),
		},
		{
			Name:         name + "/train",
			Kind:         "model",
			BatchSize:    batchSize,
			Iterations:   steps,
			TotalTime:    trn,
			AvgTime:      trn / time.Duration(steps),
			ImagesPerSec: images / trn.Seconds(),
		},
	}, nil
}

// SaveJSON writes the suite to a file for cross-machine comparison.
func (suite *BenchmarkSuite) SaveJSON(filename string) error {
	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fmt.Errorf("benchmark: failed to marshal suite: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("benchmark: failed to write %s: %w", filename, err)
	}
	return nil
}

// PrintSummary prints the whole suite as tables, matmul grouped by size.
func (suite *BenchmarkSuite) PrintSummary() {
	fmt.Println()
	fmt.Println("=== Benchmark Summary ===")
	fmt.Printf("Hardware: %s\n", suite.Hardware.CPU)
	if suite.BaselineGFLOPS > 0 {
		fmt.Printf("Baseline: %.2f GFLOPS (naive single-threaded)\n", suite.BaselineGFLOPS)
	}
	fmt.Println()

	// Group matmul results by size, preserving run order.
	var sizes []int
	bySize := make(map[int][]BenchmarkResult)
	var models []BenchmarkResult
	for _, r := range suite.Results {
		switch r.Kind {
		case "matmul":
			if _, seen := bySize[r.Size]; !seen {
				sizes = append(sizes, r.Size)
			}
			bySize[r.Size] = append(bySize[r.Size], r)
		case "model":
			models = append(models, r)
		}
	}

	for _, size := range sizes {
		fmt.Printf("matmul %dx%d:\n", size, size)
		fmt.Printf("  %-24s %12s %10s %9s\n", "strategy", "time/op", "GFLOPS", "speedup")
		for _, r := range bySize[size] {
			fmt.Printf("  %-24s %12v %10.2f %8.2fx\n", r.Name, r.AvgTime, r.GFLOPS, r.SpeedupVsNaive)
		}
		fmt.Println()
	}

	if len(models) > 0 {
		fmt.Println("models:")
		fmt.Printf("  %-24s %7s %12s %14s\n", "phase", "batch", "time/step", "images/sec")
		for _, r := range models {
			fmt.Printf("  %-24s %7d %12v %14.1f\n", r.Name, r.BatchSize, r.AvgTime, r.ImagesPerSec)
		}
		fmt.Println()
	}

	var best BenchmarkResult
	for _, r := range suite.Results {
		if r.Kind == "matmul" && r.SpeedupVsNaive > best.SpeedupVsNaive {
			best = r
		}
	}
	if best.Name != "" {
		fmt.Printf("Best matmul speedup: %.2fx (%s at %dx%d)\n",
			best.SpeedupVsNaive, best.Name, best.Size, best.Size)
	}
}
