package main

import (
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements parallel execution of tensor operations using
// goroutines. Everything expensive in this codebase funnels through two
// shapes of work:
//
//   1. Matrix multiplication - affine layers call it directly, and the
//      convolution layers call it after im2col lowering (see conv.go).
//   2. Per-image loops - pooling, batch norm statistics, augmentation.
//      These parallelize across the batch dimension via parallelFor.
//
// INTENTION:
// Expose CPU parallelism as a configurable option. Let the user choose
// between single-threaded (deterministic, debuggable) and parallel (faster)
// modes at runtime. The backend selector (backend.go) installs the global
// configuration once at startup.
//
// PERFORMANCE CHARACTERISTICS:
// For matrix multiplication (n×n matrices):
//   - n < 64:   Slower than single-threaded (goroutine overhead)
//   - n = 128:  ~1.05x speedup
//   - n = 512:  ~1.5-2x speedup
//   - n = 2048: ~2-3x speedup (limited by memory bandwidth, not CPU)
//
// THE KEY INSIGHT:
// Matrix multiply is O(n³) operations but O(n²) memory accesses. For large
// matrices you're waiting on memory, not ALUs. More cores just means more
// cores waiting on the same memory bus. This is why cache blocking
// (matmul_optimized.go) matters - it reduces memory traffic by keeping
// data in faster caches.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
//
// This allows switching between single-threaded (deterministic, easier
// debugging) and multi-threaded (faster) execution modes.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU().
	// Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel specifies the minimum problem dimension
	// before parallelization is used. Small problems don't benefit
	// from parallelization due to goroutine overhead.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0, // Use all available CPUs
		MinSizeForParallel: 64,
	}
}

// SingleThreadedConfig returns a configuration for single-threaded execution.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

// numWorkers returns the actual number of workers to use.
func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize determines if an operation should use parallelization
// based on the problem size.
func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && size >= c.MinSizeForParallel
}

// Global compute configuration, installed by GenBackend at startup
// (can be overridden per operation).
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// ParallelMatMul performs parallel matrix multiplication: C = A @ B.
//
// Parallelization strategy:
// - Divide output rows among workers
// - Each worker computes a contiguous block of rows
// - Minimizes false sharing (workers write to different cache lines)
//
// Performance characteristics:
// - Overhead: ~50-100µs for goroutine spawning and coordination
// - Speedup: Linear up to memory bandwidth limit
// - Memory: No additional allocations beyond output matrix
func ParallelMatMul(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k1 := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]

	if k1 != k2 {
		panic("tensor: incompatible dimensions for matmul")
	}
	k := k1

	out := NewTensor(m, n)

	// Use single-threaded path for small matrices
	if !cfg.shouldParallelize(m) && !cfg.shouldParallelize(n) {
		return matmulSingleThreaded(a, b, out, m, n, k)
	}

	// Parallel execution
	numWorkers := cfg.numWorkers()
	rowsPerWorker := (m + numWorkers - 1) / numWorkers // Ceiling division

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if endRow > m {
			endRow = m
		}

		if startRow >= m {
			wg.Done()
			continue
		}

		go func(start, end int) {
			defer wg.Done()
			matmulWorker(a, b, out, start, end, n, k)
		}(startRow, endRow)
	}

	wg.Wait()
	return out
}

// matmulWorker computes a subset of output rows.
// Indexes the flat arrays directly - At/Set bounds checks in the inner
// loop cost more than the multiply itself.
func matmulWorker(a, b, out *Tensor, startRow, endRow, n, k int) {
	for i := startRow; i < endRow; i++ {
		aRow := i * k
		outRow := i * n
		for kk := 0; kk < k; kk++ {
			av := a.data[aRow+kk]
			if av == 0 {
				continue
			}
			bRow := kk * n
			for j := 0; j < n; j++ {
				out.data[outRow+j] += av * b.data[bRow+j]
			}
		}
	}
}

// matmulSingleThreaded performs single-threaded matrix multiplication.
func matmulSingleThreaded(a, b, out *Tensor, m, n, k int) *Tensor {
	matmulWorker(a, b, out, 0, m, n, k)
	return out
}

// MatMulWithConfig performs matrix multiplication with the given config.
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	return ParallelMatMul(a, b, cfg)
}

// ParallelApply applies a function to each element in parallel.
// Useful for element-wise operations like activations on large tensors.
func ParallelApply(t *Tensor, fn func(float64) float64, cfg ComputeConfig) *Tensor {
	out := NewTensor(t.shape...)
	size := len(t.data)

	if !cfg.shouldParallelize(size) {
		// Single-threaded
		for i := 0; i < size; i++ {
			out.data[i] = fn(t.data[i])
		}
		return out
	}

	// Parallel execution
	numWorkers := cfg.numWorkers()
	elemsPerWorker := (size + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		start := w * elemsPerWorker
		end := start + elemsPerWorker
		if end > size {
			end = size
		}

		if start >= size {
			wg.Done()
			continue
		}

		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				out.data[i] = fn(t.data[i])
			}
		}(start, end)
	}

	wg.Wait()
	return out
}

// parallelFor runs fn over [0, n) split into contiguous worker ranges.
// The convolution, pooling and augmentation code uses this to spread a
// batch of independent images across cores. fn must not touch indices
// outside its range; no other synchronization is provided.
func parallelFor(n int, cfg ComputeConfig, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	if !cfg.shouldParallelize(n) {
		fn(0, n)
		return
	}

	numWorkers := cfg.numWorkers()
	if numWorkers > n {
		numWorkers = n
	}
	perWorker := (n + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > n {
			end = n
		}

		if start >= n {
			wg.Done()
			continue
		}

		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}

// ComputeStats tracks performance statistics for compute operations.
type ComputeStats struct {
	mu                sync.Mutex
	TotalOps          int64
	ParallelOps       int64
	SingleThreadedOps int64
	TotalTimeNs       int64
}

// globalStats counts every MatMul dispatch (see tensor.go). The benchmark
// command reads it to report how many multiplies a model run actually issued.
var globalStats ComputeStats

// MatMulStats returns a snapshot of the global matmul dispatch statistics.
func MatMulStats() ComputeStats {
	return globalStats.GetStats()
}

// ResetMatMulStats clears the global matmul dispatch statistics.
func ResetMatMulStats() {
	globalStats.Reset()
}

// RecordOp records a compute operation for statistics.
func (cs *ComputeStats) RecordOp(parallel bool, durationNs int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.TotalOps++
	cs.TotalTimeNs += durationNs

	if parallel {
		cs.ParallelOps++
	} else {
		cs.SingleThreadedOps++
	}
}

// GetStats returns a copy of the current statistics.
func (cs *ComputeStats) GetStats() ComputeStats {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return ComputeStats{
		TotalOps:          cs.TotalOps,
		ParallelOps:       cs.ParallelOps,
		SingleThreadedOps: cs.SingleThreadedOps,
		TotalTimeNs:       cs.TotalTimeNs,
	}
}

// Reset clears all statistics.
func (cs *ComputeStats) Reset() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.TotalOps = 0
	cs.ParallelOps = 0
	cs.SingleThreadedOps = 0
	cs.TotalTimeNs = 0
}
