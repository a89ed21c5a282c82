package engine

import "fmt"

// DeviceKind distinguishes the host CPU from accelerator devices (GPUs and
// the like).
type DeviceKind int

//go:generate go tool enumer -type=DeviceKind device.go

const (
	// CPU is the host processor. There is a single CPU worker group,
	// regardless of core count.
	CPU DeviceKind = iota

	// Accelerator is any device addressed by index: GPU, TPU, etc.
	Accelerator
)

// MaxDevices is the upper bound on addressable accelerator device indices.
// Worker-group tables are sized to it; dispatching to an index at or above
// it is a fatal contract violation.
const MaxDevices = 16

// Device identifies the execution target of an operation block.
// Index is only meaningful for Accelerator devices and must be in
// [0, MaxDevices).
type Device struct {
	Kind  DeviceKind
	Index int
}

// String implements fmt.Stringer.
func (d Device) String() string {
	if d.Kind == CPU {
		return "CPU"
	}
	return fmt.Sprintf("%s(#%d)", d.Kind, d.Index)
}
