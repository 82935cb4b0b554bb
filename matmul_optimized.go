package main

import (
	"sync"
)

// RECOMMENDED READING:
//
// Cache Optimization:
// - "Computer Architecture: A Quantitative Approach" by Hennessy & Patterson
//   Chapter 2: Memory Hierarchy Design
//
// - "What Every Programmer Should Know About Memory" by Ulrich Drepper
//   https://people.freebsd.org/~lstewart/articles/cpumemory.pdf

// MatMul Optimization Levels:
// - Level 0: Naive triple loop (baseline)
// - Level 1: Parallel (goroutines)
// - Level 2: Cache-blocked (tiled)
// - Level 3: Cache-blocked + parallel (what the cpu backend uses)

// MatMulStrategy represents different matrix multiplication implementations.
type MatMulStrategy int

const (
	StrategyNaive MatMulStrategy = iota
	StrategyParallel
	StrategyCacheBlocked
	StrategyCacheBlockedParallel
)

// String returns the human-readable strategy name used in logs and the
// benchmark table.
func (s MatMulStrategy) String() string {
	switch s {
	case StrategyNaive:
		return "naive"
	case StrategyParallel:
		return "parallel"
	case StrategyCacheBlocked:
		return "cache-blocked"
	case StrategyCacheBlockedParallel:
		return "cache-blocked-parallel"
	default:
		return "unknown"
	}
}

// Global matmul strategy, installed by GenBackend at startup alongside
// the global compute configuration.
var globalMatMulStrategy = StrategyCacheBlockedParallel

// SetGlobalMatMulStrategy sets the strategy MatMul dispatches to.
func SetGlobalMatMulStrategy(s MatMulStrategy) {
	globalMatMulStrategy = s
}

// GetGlobalMatMulStrategy returns the installed strategy.
func GetGlobalMatMulStrategy() MatMulStrategy {
	return globalMatMulStrategy
}

// MatMulCacheBlocked performs cache-optimized matrix multiplication.
//
// BLOCKING STRATEGY:
// Block size chosen to fit in a typical L1 data cache: 64x64 float64 = 32 KB.
// Three active blocks (A_block, B_block, C_block) = 96 KB.
//
// PERFORMANCE GAIN:
// - Reduces cache misses from O(n³) to O(n³/B) where B = block size
// - Improves temporal locality (reuse of loaded data)
// - Expected speedup: 2-4x over naive for n > 256
func MatMulCacheBlocked(a, b *Tensor, blockSize int) *Tensor {
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

	if blockSize == 0 {
		blockSize = 64
	}

	blockedRows(a, b, out, 0, m, n, k, blockSize)
	return out
}

// blockedRows runs the tiled triple loop over output rows [i0Start, i0End).
// Shared by the serial and parallel cache-blocked paths.
func blockedRows(a, b, out *Tensor, rowStart, rowEnd, n, k, blockSize int) {
	for i0 := rowStart; i0 < rowEnd; i0 += blockSize {
		iMax := min(i0+blockSize, rowEnd)

		for k0 := 0; k0 < k; k0 += blockSize {
			kMax := min(k0+blockSize, k)

			for j0 := 0; j0 < n; j0 += blockSize {
				jMax := min(j0+blockSize, n)

				// Inner loops work on a single block that fits in L1.
				for i := i0; i < iMax; i++ {
					aRow := i * k
					outRow := i * n
					for kk := k0; kk < kMax; kk++ {
						av := a.data[aRow+kk]
						if av == 0 {
							continue
						}
						bRow := kk * n
						for j := j0; j < jMax; j++ {
							out.data[outRow+j] += av * b.data[bRow+j]
						}
					}
				}
			}
		}
	}
}

// MatMulCacheBlockedParallel combines cache blocking with parallelism.
//
// STRATEGY:
// - Parallelize over output block rows (coarse-grained parallelism)
// - Each worker processes entire block rows to maximize cache locality
// - Minimal synchronization overhead
func MatMulCacheBlockedParallel(a, b *Tensor, blockSize int, cfg ComputeConfig) *Tensor {
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

	if blockSize == 0 {
		blockSize = 64
	}

	if !cfg.shouldParallelize(m) {
		blockedRows(a, b, out, 0, m, n, k, blockSize)
		return out
	}

	numBlockRows := (m + blockSize - 1) / blockSize
	numWorkers := cfg.numWorkers()
	blockRowsPerWorker := (numBlockRows + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startBlockRow := w * blockRowsPerWorker
		endBlockRow := min(startBlockRow+blockRowsPerWorker, numBlockRows)

		if startBlockRow >= numBlockRows {
			wg.Done()
			continue
		}

		go func(startBR, endBR int) {
			defer wg.Done()

			rowStart := startBR * blockSize
			rowEnd := min(endBR*blockSize, m)
			blockedRows(a, b, out, rowStart, rowEnd, n, k, blockSize)
		}(startBlockRow, endBlockRow)
	}

	wg.Wait()
	return out
}

// MatMulWithStrategy performs matrix multiplication using the given strategy.
// The benchmark subcommand drives this to compare the levels; normal training
// goes through MatMul, which uses the strategy the backend installed.
func MatMulWithStrategy(a, b *Tensor, strategy MatMulStrategy, cfg ComputeConfig) *Tensor {
	switch strategy {
	case StrategyNaive:
		if len(a.shape) != 2 || len(b.shape) != 2 {
			panic("tensor: MatMul requires 2D tensors")
		}
		if a.shape[1] != b.shape[0] {
			panic("tensor: incompatible dimensions for matmul")
		}
		return matmulSingleThreaded(a, b, NewTensor(a.shape[0], b.shape[1]),
			a.shape[0], b.shape[1], a.shape[1])

	case StrategyParallel:
		return ParallelMatMul(a, b, cfg)

	case StrategyCacheBlocked:
		return MatMulCacheBlocked(a, b, 64)

	case StrategyCacheBlockedParallel:
		return MatMulCacheBlockedParallel(a, b, 64, cfg)

	default:
		panic("unknown strategy")
	}
}

// Helper function
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
