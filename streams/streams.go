// Package streams manages per-device execution contexts ("streams").
//
// A Stream is a device-side sequencing handle: operations issued against one
// stream execute in issue order on the device. In this engine a stream is
// always owned by exactly one worker thread, allocated when the worker starts
// and released when it exits, so streams never need cross-thread
// synchronization.
//
// Allocation goes through an Allocator. Real device platforms (CUDA, ROCm,
// Metal, ...) register their Allocator under a platform name; the built-in
// "host" allocator is always available and is used by default when no device
// platform is linked into the binary.
package streams

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is a device execution context bound to a single worker thread.
type Stream interface {
	// DeviceIndex returns the index of the device this stream was allocated on.
	DeviceIndex() int

	// ComputeCapable reports whether compute kernels may be issued on this
	// stream. Copy-only streams return false.
	ComputeCapable() bool

	// KernelLibrary reports whether the platform's fused-kernel library was
	// requested for this stream (only meaningful for compute-capable streams).
	KernelLibrary() bool

	// Synchronize blocks until all work issued on the stream has completed.
	Synchronize() error
}

// Allocator creates and destroys streams for one device platform.
type Allocator interface {
	// SelectActiveDevice makes deviceIndex the active device for the calling
	// thread. Workers call it once, before allocating their stream.
	SelectActiveDevice(deviceIndex int) error

	// Allocate creates a new stream on deviceIndex. computeCapable selects a
	// stream that can run compute kernels (as opposed to a copy-optimized,
	// non-blocking stream); kernelLibrary additionally requests the
	// platform's fused-kernel library support.
	Allocate(deviceIndex int, computeCapable, kernelLibrary bool) (Stream, error)

	// Release destroys a stream previously returned by Allocate.
	Release(s Stream) error
}

var (
	muAllocators sync.Mutex
	allocators   = make(map[string]Allocator)
)

// Register makes an Allocator available under the given platform name,
// e.g. "cuda". Registering the same name twice overwrites the previous entry.
func Register(platform string, alloc Allocator) {
	muAllocators.Lock()
	defer muAllocators.Unlock()
	if _, found := allocators[platform]; found {
		klog.Warningf("streams.Register: overwriting allocator for platform %q", platform)
	}
	allocators[platform] = alloc
}

// Get returns the Allocator registered for the platform name.
func Get(platform string) (Allocator, error) {
	muAllocators.Lock()
	defer muAllocators.Unlock()
	alloc, found := allocators[platform]
	if !found {
		return nil, errors.Errorf("no stream allocator registered for platform %q (registered: %v)",
			platform, registeredLocked())
	}
	return alloc, nil
}

func registeredLocked() []string {
	names := make([]string, 0, len(allocators))
	for name := range allocators {
		names = append(names, name)
	}
	return names
}

// HostPlatform is the name under which the built-in host allocator registers
// itself.
const HostPlatform = "host"

var hostSingleton = &HostAllocator{}

func init() {
	Register(HostPlatform, hostSingleton)
}

// Host returns the built-in host allocator.
//
// Host streams carry the device index and capability flags but execute
// nothing device-side: Synchronize is a no-op. They stand in for real device
// streams in tests and in binaries without a device platform linked in.
func Host() *HostAllocator {
	return hostSingleton
}

// HostAllocator implements Allocator with in-process streams.
type HostAllocator struct {
	mu   sync.Mutex
	live int
}

// SelectActiveDevice implements Allocator. The host has no per-thread device
// state, so this only validates the index.
func (a *HostAllocator) SelectActiveDevice(deviceIndex int) error {
	if deviceIndex < 0 {
		return errors.Errorf("invalid device index %d", deviceIndex)
	}
	return nil
}

// Allocate implements Allocator.
func (a *HostAllocator) Allocate(deviceIndex int, computeCapable, kernelLibrary bool) (Stream, error) {
	if deviceIndex < 0 {
		return nil, errors.Errorf("invalid device index %d", deviceIndex)
	}
	a.mu.Lock()
	a.live++
	a.mu.Unlock()
	s := &hostStream{
		deviceIndex:    deviceIndex,
		computeCapable: computeCapable,
		kernelLibrary:  kernelLibrary,
	}
	klog.V(1).Infof("streams: allocated %s", s)
	return s, nil
}

// Release implements Allocator.
func (a *HostAllocator) Release(s Stream) error {
	hs, ok := s.(*hostStream)
	if !ok {
		return errors.Errorf("stream %v was not allocated by the host allocator", s)
	}
	if hs.released {
		return errors.Errorf("stream %s released twice", hs)
	}
	hs.released = true
	a.mu.Lock()
	a.live--
	a.mu.Unlock()
	klog.V(1).Infof("streams: released %s", hs)
	return nil
}

// NumLive returns the number of streams allocated and not yet released.
func (a *HostAllocator) NumLive() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

type hostStream struct {
	deviceIndex    int
	computeCapable bool
	kernelLibrary  bool
	released       bool
}

func (s *hostStream) DeviceIndex() int     { return s.deviceIndex }
func (s *hostStream) ComputeCapable() bool { return s.computeCapable }
func (s *hostStream) KernelLibrary() bool  { return s.kernelLibrary }

// Synchronize implements Stream. Host streams execute work inline on the
// worker thread, so there is never anything pending.
func (s *hostStream) Synchronize() error { return nil }

// String implements fmt.Stringer.
func (s *hostStream) String() string {
	kind := "copy"
	if s.computeCapable {
		kind = "compute"
		if s.kernelLibrary {
			kind = "compute+kernellib"
		}
	}
	return fmt.Sprintf("hostStream(device=%d, %s)", s.deviceIndex, kind)
}
