//go:build !cuda || !cgo

package main

import "errors"

// CUDADeviceProperties describes the device found by the probe.
// This build has no CUDA support compiled in.
type CUDADeviceProperties struct {
	Name     string
	TotalMem int64
}

// probeCUDA reports that CUDA is not compiled into this binary.
// Build with -tags cuda (CGO enabled, CUDA toolkit installed) to enable it.
func probeCUDA() (*CUDADeviceProperties, error) {
	return nil, errors.New("cuda support not compiled in (build with -tags cuda)")
}
