package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestCacheKB(t *testing.T) {
	tests := []struct {
		bytes, want int
	}{
		{-1, 0}, // cpuid reports -1 for unknown levels
		{0, 0},
		{65536, 64},
		{32 * 1024, 32},
	}
	for _, tt := range tests {
		if got := cacheKB(tt.bytes); got != tt.want {
			t.Errorf("cacheKB(%d) = %d, want %d", tt.bytes, got, tt.want)
		}
	}
}

func TestDetectHardware(t *testing.T) {
	info := DetectHardware()
	if info.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", info.OS, runtime.GOOS)
	}
	if info.Arch != runtime.GOARCH {
		t.Errorf("Arch = %q, want %q", info.Arch, runtime.GOARCH)
	}
	if info.CPU == "" {
		t.Error("CPU description is empty")
	}
}

func TestRunMatMulBenchmarks(t *testing.T) {
	results, baseline := RunMatMulBenchmarks([]int{32}, 2)

	wantNames := []string{"naive", "parallel", "cache-blocked", "cache-blocked-parallel"}
	if len(results) != len(wantNames) {
		t.Fatalf("got %d results, want %d", len(results), len(wantNames))
	}
	for i, r := range results {
		if r.Name != wantNames[i] {
			t.Errorf("result %d name = %q, want %q", i, r.Name, wantNames[i])
		}
		if r.Kind != "matmul" || r.Size != 32 || r.Iterations != 2 {
			t.Errorf("result %d metadata = %s/%d/%d", i, r.Kind, r.Size, r.Iterations)
		}
		if r.GFLOPS <= 0 {
			t.Errorf("result %d GFLOPS = %f, want positive", i, r.GFLOPS)
		}
	}
	// The naive row is its own baseline.
	if results[0].SpeedupVsNaive != 1 {
		t.Errorf("naive speedup = %f, want 1", results[0].SpeedupVsNaive)
	}
	if baseline <= 0 {
		t.Errorf("baseline GFLOPS = %f, want positive", baseline)
	}
}

func TestBenchmarkModel(t *testing.T) {
	// A small input keeps the mlp recipe fast; the spec adapts to any
	// input shape through the Flatten layer.
	results, err := benchmarkModel("mlp", []int{1, 8, 8}, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Name != "mlp/forward" || results[1].Name != "mlp/train" {
		t.Errorf("names = %q, %q", results[0].Name, results[1].Name)
	}
	for _, r := range results {
		if r.Kind != "model" || r.BatchSize != 4 || r.Iterations != 1 {
			t.Errorf("%s metadata = %s/%d/%d", r.Name, r.Kind, r.BatchSize, r.Iterations)
		}
		if r.ImagesPerSec <= 0 {
			t.Errorf("%s images/sec = %f, want positive", r.Name, r.ImagesPerSec)
		}
	}
}

func TestBenchmarkModelUnknownName(t *testing.T) {
	_, err := benchmarkModel("transformer", []int{1, 8, 8}, 4, 1)
	if err == nil || !strings.Contains(err.Error(), "unknown model") {
		t.Errorf("expected an unknown model error, got %v", err)
	}
}

func TestBenchmarkSuiteSaveJSON(t *testing.T) {
	suite := &BenchmarkSuite{
		Timestamp: time.Now(),
		Hardware:  DetectHardware(),
		Results: []BenchmarkResult{
			{Name: "naive", Kind: "matmul", Size: 64, Iterations: 3, GFLOPS: 1.5, SpeedupVsNaive: 1},
			{Name: "mlp/train", Kind: "model", BatchSize: 32, Iterations: 3, ImagesPerSec: 250},
		},
		BaselineGFLOPS: 1.5,
	}

	path := filepath.Join(t.TempDir(), "bench.json")
	if err := suite.SaveJSON(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got BenchmarkSuite
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 2 || got.Results[0].Name != "naive" || got.Results[1].Kind != "model" {
		t.Errorf("roundtrip results = %+v", got.Results)
	}
	if got.BaselineGFLOPS != 1.5 {
		t.Errorf("baseline = %f, want 1.5", got.BaselineGFLOPS)
	}
	if got.Hardware.OS != runtime.GOOS {
		t.Errorf("hardware OS = %q, want %q", got.Hardware.OS, runtime.GOOS)
	}
}
