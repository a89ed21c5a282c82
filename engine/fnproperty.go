package engine

// FnProperty tags an operation block with its scheduling category.
type FnProperty int

//go:generate go tool enumer -type=FnProperty fnproperty.go

const (
	// Async operations may run inline on the submitting thread if they
	// target the CPU -- they are expected to only trigger asynchronous work.
	Async FnProperty = iota

	// Normal operations are synchronous compute: they run on a worker with a
	// compute-capable stream (or no stream, on the CPU).
	Normal

	// CopyToDevice operations transfer data from the host to an accelerator.
	CopyToDevice

	// CopyFromDevice operations transfer data from an accelerator to the host.
	CopyFromDevice
)

// IsCopy reports whether the property is one of the device-copy categories.
// Copy operations get their own worker group per device, so a saturated
// compute stream never starves pending transfers.
func (p FnProperty) IsCopy() bool {
	return p == CopyToDevice || p == CopyFromDevice
}
