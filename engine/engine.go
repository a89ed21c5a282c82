// Package engine implements the dispatch layer of an asynchronous per-device
// execution engine.
//
// The Engine decides where a ready operation block actually runs: inline on
// the submitting thread (for Async CPU blocks), or on one of a set of worker
// groups partitioned by device and by category. Each accelerator device gets
// two lazily created groups -- one for compute operations and one for copy
// operations -- so transfers are never queued behind compute. Every
// accelerator worker binds one stream for its whole lifetime (see the streams
// package), which makes stream use single-threaded by construction.
//
// The policy of the engine:
//   - Execute Async operations immediately when pushed from the submitting
//     thread.
//   - Use a fixed number of workers for each device.
//   - Use dedicated workers for copy operations.
//   - Allocate one stream per worker, bound for the worker's lifetime.
//
// Ordering: blocks pushed to the same worker group are dequeued FIFO. There
// is no ordering across groups; dependency ordering belongs to the tracker
// that calls Dispatch, not to this layer.
package engine

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gomlx/devexec/cqueue"
	"github.com/gomlx/devexec/streams"
	"github.com/gomlx/devexec/threadpool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine routes ready operation blocks onto per-(device, category) worker
// groups. Create one with New; it must be shut down with Shutdown to join
// its workers.
//
// Engine is safe for concurrent use by multiple dispatching threads.
type Engine struct {
	cfg   Config
	alloc streams.Allocator

	// cpuWorker is created eagerly at New; accelerator groups are created on
	// first dispatch.
	cpuWorker *workerGroup

	gpuNormalWorkers [MaxDevices]atomic.Pointer[workerGroup]
	gpuCopyWorkers   [MaxDevices]atomic.Pointer[workerGroup]

	// muCreate serializes worker-group creation only: the dispatch fast
	// paths (inline, CPU, already-created slot) never take it.
	muCreate sync.Mutex

	shutdownOnce sync.Once
}

// workerGroup pairs one task queue with the pool of workers draining it --
// all the workers dedicated to one (device, category) slot.
type workerGroup struct {
	queue *cqueue.Queue[*OprBlock]
	pool  *threadpool.Pool
}

func newWorkerGroup(numWorkers int, loop func(*cqueue.Queue[*OprBlock])) *workerGroup {
	g := &workerGroup{queue: cqueue.New[*OprBlock]()}
	g.pool = threadpool.New(numWorkers, func() { loop(g.queue) })
	return g
}

// shutdown closes the queue first, so workers blocked in Pop wake and exit,
// and only then joins the pool. The order matters: joining first would
// deadlock on an empty queue.
func (g *workerGroup) shutdown() {
	g.queue.Close()
	g.pool.Join()
}

// New creates an Engine with the given Config. The CPU worker group starts
// immediately; accelerator groups start on first use.
func New(cfg Config) (*Engine, error) {
	if cfg.CPUWorkers < 1 || cfg.GPUWorkers < 1 || cfg.GPUCopyWorkers < 1 {
		return nil, errors.Errorf(
			"engine.New: worker counts must be >= 1, got CPUWorkers=%d, GPUWorkers=%d, GPUCopyWorkers=%d",
			cfg.CPUWorkers, cfg.GPUWorkers, cfg.GPUCopyWorkers)
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = streams.Host()
	}
	e := &Engine{cfg: cfg, alloc: alloc}
	e.cpuWorker = newWorkerGroup(cfg.CPUWorkers, e.cpuWorkerLoop)
	klog.V(1).Infof("engine: created with %d CPU workers, %d+%d (compute+copy) workers per accelerator",
		cfg.CPUWorkers, cfg.GPUWorkers, cfg.GPUCopyWorkers)
	return e, nil
}

// Dispatch routes a ready block to its execution site. pusherThread tells
// whether the caller is the thread that originally submitted the work, as
// opposed to an internal re-dispatch.
//
// Async blocks dispatched from the pusher thread run inline, synchronously,
// before Dispatch returns; they must target the CPU -- an accelerator target
// on this path panics, since the calling thread has no bound stream. All
// other blocks are enqueued to the worker group matching their device and
// category, and Dispatch returns without waiting for execution.
func (e *Engine) Dispatch(blk *OprBlock, pusherThread bool) {
	if blk.Prop == Async && pusherThread {
		if blk.Device.Kind != CPU {
			panic(errors.Errorf(
				"engine.Dispatch: inline execution of Async block %s requires a CPU target, got %s",
				blk.ID, blk.Device))
		}
		dispatchInlineTotal.Inc()
		e.executeOprBlock(RunContext{}, blk)
		return
	}

	var group *workerGroup
	switch blk.Device.Kind {
	case CPU:
		group = e.cpuWorker
	case Accelerator:
		group = e.acceleratorWorkerGroup(blk.Device.Index, blk.Prop)
	default:
		panic(errors.Errorf("engine.Dispatch: unknown device kind %d in block %s", blk.Device.Kind, blk.ID))
	}
	if !group.queue.Push(blk) {
		klog.Warningf("engine: dropping block %s, dispatched after shutdown", blk.ID)
		return
	}
	dispatchQueuedTotal.WithLabelValues(blk.Device.Kind.String(), categoryLabel(blk.Prop)).Inc()
}

// acceleratorWorkerGroup returns the worker group for (deviceIndex, copy
// vs compute), creating it on first use.
//
// Creation uses double-checked locking: the populated-slot path is a single
// atomic load, and the coarse muCreate is only contended during the handful
// of first dispatches per slot over the process lifetime. Once populated, a
// slot is never replaced until Shutdown.
func (e *Engine) acceleratorWorkerGroup(deviceIndex int, prop FnProperty) *workerGroup {
	if deviceIndex < 0 || deviceIndex >= MaxDevices {
		panic(errors.Errorf("engine: accelerator device index %d exceeds bound %d", deviceIndex, MaxDevices))
	}
	isCopy := prop.IsCopy()
	slots := &e.gpuNormalWorkers
	if isCopy {
		slots = &e.gpuCopyWorkers
	}
	if g := slots[deviceIndex].Load(); g != nil {
		return g
	}

	e.muCreate.Lock()
	defer e.muCreate.Unlock()
	// Double-check: another dispatcher may have created the group while we
	// waited on the lock.
	if g := slots[deviceIndex].Load(); g != nil {
		return g
	}
	numWorkers := e.cfg.GPUWorkers
	if isCopy {
		numWorkers = e.cfg.GPUCopyWorkers
	}
	klog.V(1).Infof("engine: creating %s worker group for accelerator #%d with %d workers",
		categoryLabel(prop), deviceIndex, numWorkers)
	g := newWorkerGroup(numWorkers, func(q *cqueue.Queue[*OprBlock]) {
		e.acceleratorWorkerLoop(deviceIndex, isCopy, q)
	})
	slots[deviceIndex].Store(g)
	workerGroupsTotal.WithLabelValues(categoryLabel(prop)).Inc()
	return g
}

// cpuWorkerLoop drains the queue, executing each block with no bound stream,
// and exits when the queue is closed.
func (e *Engine) cpuWorkerLoop(q *cqueue.Queue[*OprBlock]) {
	for {
		blk, ok := q.Pop()
		if !ok {
			return
		}
		e.executeOprBlock(RunContext{}, blk)
	}
}

// acceleratorWorkerLoop is the loop run by every accelerator worker: select
// the device, allocate the one stream this worker will use for its whole
// lifetime, drain the queue, release the stream.
func (e *Engine) acceleratorWorkerLoop(deviceIndex int, isCopy bool, q *cqueue.Queue[*OprBlock]) {
	// Device APIs key the active device on the OS thread, and the stream is
	// private to this worker, so pin the goroutine to its thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := e.alloc.SelectActiveDevice(deviceIndex); err != nil {
		klog.Fatalf("engine: worker for accelerator #%d failed to select device: %+v", deviceIndex, err)
	}
	// Copy workers get a non-blocking, non-compute stream; compute workers
	// get a compute-capable one, with kernel-library support if configured.
	stream, err := e.alloc.Allocate(deviceIndex, !isCopy, !isCopy && e.cfg.KernelLibrary)
	if err != nil {
		klog.Fatalf("engine: worker for accelerator #%d failed to allocate stream: %+v", deviceIndex, err)
	}

	runCtx := RunContext{Stream: stream}
	for {
		blk, ok := q.Pop()
		if !ok {
			break
		}
		e.executeOprBlock(runCtx, blk)
	}

	if err := e.alloc.Release(stream); err != nil {
		klog.Errorf("engine: worker for accelerator #%d failed to release its stream: %+v", deviceIndex, err)
	}
}

// executeOprBlock runs the block's payload against runCtx and hands the
// block back through the OnComplete hook. Payload failures are the caller's
// concern; this layer neither catches nor wraps them.
func (e *Engine) executeOprBlock(runCtx RunContext, blk *OprBlock) {
	if klog.V(2).Enabled() {
		klog.Infof("engine: executing %s", blk)
	}
	blk.Fn(runCtx)
	executedTotal.WithLabelValues(blk.Device.Kind.String()).Inc()
	if e.cfg.OnComplete != nil {
		e.cfg.OnComplete(blk)
	}
}

// Shutdown closes every worker group's queue and waits for all workers to
// observe the close and exit. Blocks already queued are still executed;
// blocks dispatched after Shutdown are dropped with a warning. Shutdown is
// idempotent.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		klog.V(1).Infof("engine: shutting down")
		e.cpuWorker.shutdown()
		for deviceIndex := range MaxDevices {
			if g := e.gpuNormalWorkers[deviceIndex].Load(); g != nil {
				g.shutdown()
			}
			if g := e.gpuCopyWorkers[deviceIndex].Load(); g != nil {
				g.shutdown()
			}
		}
	})
}
