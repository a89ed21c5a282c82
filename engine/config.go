package engine

import (
	"os"
	"strconv"

	"github.com/gomlx/devexec/streams"
	"k8s.io/klog/v2"
)

// Environment variables read by DefaultConfig.
const (
	// EnvCPUWorkers sets the number of CPU worker threads.
	EnvCPUWorkers = "DEVEXEC_CPU_WORKER_NTHREADS"

	// EnvGPUWorkers sets the number of compute worker threads per
	// accelerator device.
	EnvGPUWorkers = "DEVEXEC_GPU_WORKER_NTHREADS"

	// EnvGPUCopyWorkers sets the number of copy worker threads per
	// accelerator device.
	EnvGPUCopyWorkers = "DEVEXEC_GPU_COPY_NTHREADS"

	// EnvUseKernelLib, if set to anything non-empty, requests fused-kernel
	// library support on compute streams.
	EnvUseKernelLib = "DEVEXEC_USE_KERNEL_LIB"
)

// Config parametrizes an Engine. It is read once, at New.
type Config struct {
	// CPUWorkers is the number of workers in the (eagerly created) CPU
	// worker group.
	CPUWorkers int

	// GPUWorkers is the number of compute workers per accelerator device.
	GPUWorkers int

	// GPUCopyWorkers is the number of copy workers per accelerator device.
	GPUCopyWorkers int

	// KernelLibrary requests the platform's fused-kernel library support on
	// the streams allocated for compute workers.
	KernelLibrary bool

	// Allocator provides per-worker streams for accelerator devices.
	// Defaults to streams.Host().
	Allocator streams.Allocator

	// OnComplete, if set, is called after each block's payload returns --
	// on the executing worker, or on the dispatching thread for inline
	// execution. This is the dependency tracker's completion-bookkeeping
	// seam.
	OnComplete func(*OprBlock)
}

// DefaultConfig returns a Config with worker counts taken from the DEVEXEC_*
// environment variables, falling back to 2 CPU workers, 2 compute workers and
// 1 copy worker per device.
func DefaultConfig() Config {
	return Config{
		CPUWorkers:     intFromEnv(EnvCPUWorkers, 2),
		GPUWorkers:     intFromEnv(EnvGPUWorkers, 2),
		GPUCopyWorkers: intFromEnv(EnvGPUCopyWorkers, 1),
		KernelLibrary:  os.Getenv(EnvUseKernelLib) != "",
	}
}

// intFromEnv parses the environment variable name as a positive int,
// returning defaultValue if it is unset or invalid.
func intFromEnv(name string, defaultValue int) int {
	str := os.Getenv(name)
	if str == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(str)
	if err != nil || value < 1 {
		klog.Warningf("invalid value %q for $%s, using default %d", str, name, defaultValue)
		return defaultValue
	}
	return value
}
