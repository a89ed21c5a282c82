package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/gomlx/devexec/streams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// testConfig returns a small fixed config, independent of the environment.
func testConfig() Config {
	return Config{
		CPUWorkers:     2,
		GPUWorkers:     2,
		GPUCopyWorkers: 1,
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

// waitDone fails the test if ch isn't closed within a second.
func waitDone(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

func TestDispatchAsyncInline(t *testing.T) {
	e := newTestEngine(t, testConfig())

	executed := false
	blk := NewOprBlock(Device{Kind: CPU}, Async, func(runCtx RunContext) {
		require.Nil(t, runCtx.Stream, "inline execution must have no bound stream")
		executed = true
	})
	e.Dispatch(blk, true)
	// The fast path is synchronous: the payload has run by the time Dispatch
	// returns, on this same goroutine.
	require.True(t, executed)
}

func TestDispatchAsyncFromWorkerIsQueued(t *testing.T) {
	// An Async block dispatched with pusherThread=false takes the slow path.
	e := newTestEngine(t, testConfig())

	gate := make(chan struct{})
	done := make(chan struct{})
	blk := NewOprBlock(Device{Kind: CPU}, Async, func(runCtx RunContext) {
		<-gate
		close(done)
	})
	e.Dispatch(blk, false)
	// If this had run inline, Dispatch would have deadlocked on gate.
	close(gate)
	waitDone(t, done, "queued Async block never executed")
}

func TestDispatchAsyncInlineRequiresCPU(t *testing.T) {
	e := newTestEngine(t, testConfig())
	blk := NewOprBlock(Device{Kind: Accelerator, Index: 0}, Async, func(RunContext) {})
	require.Panics(t, func() { e.Dispatch(blk, true) },
		"inline fast path must reject accelerator targets")
}

func TestDispatchSlowPathRunsOffCaller(t *testing.T) {
	e := newTestEngine(t, testConfig())

	gate := make(chan struct{})
	done := make(chan struct{})
	blk := NewOprBlock(Device{Kind: CPU}, Normal, func(runCtx RunContext) {
		assert.Nil(t, runCtx.Stream)
		<-gate
		close(done)
	})
	e.Dispatch(blk, true)
	// Dispatch returned while the payload is still blocked on gate, so the
	// payload cannot be running on this goroutine.
	close(gate)
	waitDone(t, done, "queued block never executed")
}

func TestDeviceIndexBound(t *testing.T) {
	e := newTestEngine(t, testConfig())

	require.Panics(t, func() {
		e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: MaxDevices}, Normal, func(RunContext) {}), true)
	})
	require.Panics(t, func() {
		e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: -1}, Normal, func(RunContext) {}), true)
	})

	// The last valid index works.
	done := make(chan struct{})
	e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: MaxDevices - 1}, Normal, func(RunContext) {
		close(done)
	}), true)
	waitDone(t, done, "block on last valid device index never executed")
}

// countingAllocator wraps the host allocator and counts Allocate calls per
// device index.
type countingAllocator struct {
	*streams.HostAllocator
	mu     sync.Mutex
	allocs map[int]int
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{HostAllocator: streams.Host(), allocs: make(map[int]int)}
}

func (a *countingAllocator) Allocate(deviceIndex int, computeCapable, kernelLibrary bool) (streams.Stream, error) {
	a.mu.Lock()
	a.allocs[deviceIndex]++
	a.mu.Unlock()
	return a.HostAllocator.Allocate(deviceIndex, computeCapable, kernelLibrary)
}

func (a *countingAllocator) numAllocs(deviceIndex int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs[deviceIndex]
}

func TestLazyWorkerGroupCreationIsIdempotent(t *testing.T) {
	alloc := newCountingAllocator()
	cfg := testConfig()
	cfg.Allocator = alloc
	e := newTestEngine(t, cfg)

	// Hammer the same (device, category) slot from many goroutines at once.
	const numDispatchers = 32
	const deviceIndex = 3
	var executed sync.WaitGroup
	executed.Add(numDispatchers)
	var start sync.WaitGroup
	start.Add(numDispatchers)
	ready := make(chan struct{})
	for range numDispatchers {
		go func() {
			start.Done()
			<-ready
			e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: deviceIndex}, Normal, func(RunContext) {
				executed.Done()
			}), true)
		}()
	}
	start.Wait()
	close(ready)
	executed.Wait()

	// Exactly one group was created: one stream per configured worker, no
	// duplicate pools.
	require.NotNil(t, e.gpuNormalWorkers[deviceIndex].Load())
	require.Nil(t, e.gpuCopyWorkers[deviceIndex].Load())
	require.Equal(t, cfg.GPUWorkers, alloc.numAllocs(deviceIndex))

	// A copy dispatch to the same device creates the separate copy group.
	done := make(chan struct{})
	e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: deviceIndex}, CopyToDevice, func(RunContext) {
		close(done)
	}), true)
	waitDone(t, done, "copy block never executed")
	require.NotNil(t, e.gpuCopyWorkers[deviceIndex].Load())
	require.Equal(t, cfg.GPUWorkers+cfg.GPUCopyWorkers, alloc.numAllocs(deviceIndex))
}

func TestWorkerStreamBinding(t *testing.T) {
	cfg := testConfig()
	cfg.KernelLibrary = true
	e := newTestEngine(t, cfg)

	computeDone := make(chan struct{})
	e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: 2}, Normal, func(runCtx RunContext) {
		defer close(computeDone)
		assert.NotNil(t, runCtx.Stream)
		assert.Equal(t, 2, runCtx.Stream.DeviceIndex())
		assert.True(t, runCtx.Stream.ComputeCapable())
		assert.True(t, runCtx.Stream.KernelLibrary())
	}), true)
	waitDone(t, computeDone, "compute block never executed")

	copyDone := make(chan struct{})
	e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: 2}, CopyFromDevice, func(runCtx RunContext) {
		defer close(copyDone)
		assert.NotNil(t, runCtx.Stream)
		assert.Equal(t, 2, runCtx.Stream.DeviceIndex())
		assert.False(t, runCtx.Stream.ComputeCapable())
		assert.False(t, runCtx.Stream.KernelLibrary())
	}), true)
	waitDone(t, copyDone, "copy block never executed")
}

func TestStreamsReleasedOnShutdown(t *testing.T) {
	base := streams.Host().NumLive()
	e, err := New(testConfig())
	require.NoError(t, err)

	done := make(chan struct{})
	e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: 1}, Normal, func(RunContext) {
		close(done)
	}), true)
	waitDone(t, done, "block never executed")
	require.Greater(t, streams.Host().NumLive(), base)

	e.Shutdown()
	require.Equal(t, base, streams.Host().NumLive(),
		"every worker must release its stream on exit")
}

func TestFIFOWithinWorkerGroup(t *testing.T) {
	// A single CPU worker makes the FIFO dequeue order observable directly.
	cfg := testConfig()
	cfg.CPUWorkers = 1
	e := newTestEngine(t, cfg)

	const numBlocks = 100
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(numBlocks)
	for i := range numBlocks {
		e.Dispatch(NewOprBlock(Device{Kind: CPU}, Normal, func(RunContext) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}), true)
	}
	wg.Wait()

	require.Len(t, order, numBlocks)
	for i, got := range order {
		require.Equalf(t, i, got, "block %d dequeued out of submission order", got)
	}
}

func TestCopyComputeIsolation(t *testing.T) {
	// Saturate device 0's compute group and check a copy block still runs:
	// the two categories use disjoint queues and workers.
	cfg := testConfig()
	cfg.GPUWorkers = 1
	e := newTestEngine(t, cfg)

	computeGate := make(chan struct{})
	// First compute block occupies the only compute worker; the rest pile up
	// in the compute queue.
	for range 5 {
		e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: 0}, Normal, func(RunContext) {
			<-computeGate
		}), true)
	}

	copyDone := make(chan struct{})
	e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: 0}, CopyToDevice, func(RunContext) {
		close(copyDone)
	}), true)
	waitDone(t, copyDone, "copy block starved by saturated compute group")
	close(computeGate)
}

func TestShutdownWakesIdleWorkers(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)

	// Create accelerator groups, then let their queues drain to empty so
	// every worker is blocked in Pop.
	done := make(chan struct{})
	var once sync.Once
	for _, prop := range []FnProperty{Normal, CopyToDevice} {
		e.Dispatch(NewOprBlock(Device{Kind: Accelerator, Index: 0}, prop, func(RunContext) {
			once.Do(func() { close(done) })
		}), true)
	}
	waitDone(t, done, "setup blocks never executed")

	finished := make(chan struct{})
	go func() {
		e.Shutdown()
		close(finished)
	}()
	waitDone(t, finished, "Shutdown did not join workers blocked on empty queues")

	// Idempotent, and dispatching afterwards only drops the block.
	e.Shutdown()
	e.Dispatch(NewOprBlock(Device{Kind: CPU}, Normal, func(RunContext) {
		t.Error("block executed after shutdown")
	}), true)
}

func TestEndToEndCPU(t *testing.T) {
	var completed sync.Mutex
	var completions int
	cfg := testConfig()
	cfg.CPUWorkers = 2
	cfg.OnComplete = func(*OprBlock) {
		completed.Lock()
		completions++
		completed.Unlock()
	}
	e := newTestEngine(t, cfg)

	const numBlocks = 10
	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	wg.Add(numBlocks)
	for i := range numBlocks {
		e.Dispatch(NewOprBlock(Device{Kind: CPU}, Normal, func(RunContext) {
			mu.Lock()
			seen[i]++
			mu.Unlock()
			wg.Done()
		}), true)
	}
	wg.Wait()

	require.Len(t, seen, numBlocks)
	for i, count := range seen {
		require.Equalf(t, 1, count, "block %d executed %d times", i, count)
	}
	completed.Lock()
	defer completed.Unlock()
	require.Equal(t, numBlocks, completions)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{CPUWorkers: 0, GPUWorkers: 2, GPUCopyWorkers: 1})
	require.Error(t, err)
	_, err = New(Config{CPUWorkers: 2, GPUWorkers: -1, GPUCopyWorkers: 1})
	require.Error(t, err)
}

func BenchmarkDispatchQueuedCPU(b *testing.B) {
	e, err := New(testConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer e.Shutdown()

	var wg sync.WaitGroup
	wg.Add(b.N)
	blkFn := func(RunContext) { wg.Done() }
	b.ResetTimer()
	for range b.N {
		e.Dispatch(NewOprBlock(Device{Kind: CPU}, Normal, blkFn), true)
	}
	wg.Wait()
}

func BenchmarkDispatchInline(b *testing.B) {
	e, err := New(testConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer e.Shutdown()

	blkFn := func(RunContext) {}
	b.ResetTimer()
	for range b.N {
		e.Dispatch(NewOprBlock(Device{Kind: CPU}, Async, blkFn), true)
	}
}
