//go:build cuda && cgo

package main

import (
	"fmt"

	"gorgonia.org/cu"
)

// CUDADeviceProperties describes the device found by the probe.
type CUDADeviceProperties struct {
	Name     string
	TotalMem int64
}

// probeCUDA checks for a usable CUDA device. Compiled in only under the
// cuda build tag; the stub in backend_cuda_stub.go answers otherwise.
func probeCUDA() (*CUDADeviceProperties, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, fmt.Errorf("cuda probe: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("cuda probe: no devices found")
	}

	dev := cu.Device(0)
	name, err := dev.Name()
	if err != nil {
		return nil, fmt.Errorf("cuda probe: device name: %w", err)
	}
	mem, err := dev.TotalMem()
	if err != nil {
		return nil, fmt.Errorf("cuda probe: device memory: %w", err)
	}

	return &CUDADeviceProperties{Name: name, TotalMem: mem}, nil
}
