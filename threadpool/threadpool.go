// Package threadpool provides a fixed-size pool of workers that all run the
// same loop function until it returns.
//
// The pool is deliberately minimal: it owns no queue and no task type. The
// loop function supplied at construction is expected to block on some
// external work source (see the cqueue package) and return when that source
// is closed. Join then waits for every worker to finish.
package threadpool

import (
	"sync"

	"k8s.io/klog/v2"
)

// Pool runs numWorkers copies of a loop function concurrently.
type Pool struct {
	numWorkers int
	wg         sync.WaitGroup
}

// New starts numWorkers goroutines, each running loop, and returns the Pool.
// numWorkers must be >= 1. The workers start immediately.
func New(numWorkers int, loop func()) *Pool {
	if numWorkers < 1 {
		klog.Warningf("threadpool.New called with numWorkers=%d, using 1 instead", numWorkers)
		numWorkers = 1
	}
	p := &Pool{numWorkers: numWorkers}
	p.wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer p.wg.Done()
			loop()
		}()
	}
	return p
}

// NumWorkers returns the number of workers the pool was started with.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Join blocks until every worker's loop function has returned.
// It does not itself signal the workers to stop; the owner must close the
// workers' work source first.
func (p *Pool) Join() {
	p.wg.Wait()
}
