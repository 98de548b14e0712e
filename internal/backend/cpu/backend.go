// Package cpu implements the operator kernels used by the autograd function nodes.
package cpu

import (
	"github.com/born-ml/autograd/internal/parallel"
)

// CPUBackend runs convolution and normalization kernels on the CPU.
type CPUBackend struct {
	parallel parallel.Config
}

// New creates a new CPU backend using parallel.DefaultConfig.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallelism config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{parallel: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Parallel returns the kernel parallelism config.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.parallel
}
