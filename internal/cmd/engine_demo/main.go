// engine_demo exercises the dispatch engine end-to-end with a simulated
// accelerator workload: stage half-precision inputs to each device, run a
// vector-norm kernel, and copy results back -- all through the per-device
// worker groups.
//
// Ordering across worker groups is the dispatcher's job, not the engine's,
// so each stage dispatches the next one when it completes (with
// pusherThread=false, as a dependency tracker would).
package main

import (
	"flag"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gomlx/devexec/engine"
	"github.com/janpfeifer/must"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	flagNumDevices = flag.Int("devices", 2, "Number of simulated accelerator devices to use")
	flagNumBatches = flag.Int("batches", 8, "Number of batches to push per device")
	flagBatchSize  = flag.Int("batch_size", 1024, "Elements per batch")
)

// batch is the unit of work shuttled through the engine: float32 data on the
// host, staged as float16 for the (simulated) device transfer.
type batch struct {
	device engine.Device
	host   []float32
	staged []float16.Float16
	norm   float32
}

func main() {
	klog.InitFlags(flag.CommandLine)
	flag.Parse()
	if *flagNumDevices < 1 || *flagNumDevices > engine.MaxDevices {
		klog.Fatalf("-devices must be in [1, %d], got %d", engine.MaxDevices, *flagNumDevices)
	}

	e := must.M1(engine.New(engine.DefaultConfig()))
	defer e.Shutdown()

	var wg sync.WaitGroup
	batches := make([]*batch, 0, *flagNumDevices**flagNumBatches)
	for deviceIndex := range *flagNumDevices {
		for range *flagNumBatches {
			b := &batch{
				device: engine.Device{Kind: engine.Accelerator, Index: deviceIndex},
				host:   make([]float32, *flagBatchSize),
			}
			for i := range b.host {
				b.host[i] = float32(i%100) / 100
			}
			batches = append(batches, b)
			wg.Add(1)
			e.Dispatch(stageBlock(e, b, &wg), true)
		}
	}
	wg.Wait()

	for deviceIndex := range *flagNumDevices {
		var total float32
		var count int
		for _, b := range batches {
			if b.device.Index != deviceIndex {
				continue
			}
			total += b.norm
			count++
		}
		fmt.Printf("device #%d: %d batches, sum of L2 norms = %.3f\n", deviceIndex, count, total)
	}
}

// stageBlock copies a batch to the device in half precision, then hands off
// to the compute stage.
func stageBlock(e *engine.Engine, b *batch, wg *sync.WaitGroup) *engine.OprBlock {
	return engine.NewOprBlock(b.device, engine.CopyToDevice, func(runCtx engine.RunContext) {
		b.staged = make([]float16.Float16, len(b.host))
		for i, v := range b.host {
			b.staged[i] = float16.Fromfloat32(v)
		}
		e.Dispatch(computeBlock(e, b, wg), false)
	})
}

// computeBlock computes the L2 norm of the staged batch, then hands off to
// the copy-back stage.
func computeBlock(e *engine.Engine, b *batch, wg *sync.WaitGroup) *engine.OprBlock {
	return engine.NewOprBlock(b.device, engine.Normal, func(runCtx engine.RunContext) {
		var sum float32
		for _, v := range b.staged {
			f := v.Float32()
			sum += f * f
		}
		b.norm = math32.Sqrt(sum)
		e.Dispatch(copyBackBlock(b, wg), false)
	})
}

// copyBackBlock copies the result off the device and marks the batch done.
func copyBackBlock(b *batch, wg *sync.WaitGroup) *engine.OprBlock {
	return engine.NewOprBlock(b.device, engine.CopyFromDevice, func(runCtx engine.RunContext) {
		must.M(runCtx.Stream.Synchronize())
		b.staged = nil
		wg.Done()
	})
}
