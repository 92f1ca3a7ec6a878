// Package worker provides a bounded goroutine pool for executing independent
// jobs with controlled concurrency.
package worker

import (
	"sync"
)

// WorkerPool manages a fixed number of goroutines that drain a shared job
// queue.
//
// Design choices:
//   - workerCount goroutines are started once and reused.
//   - jobQueue is buffered (capacity workerCount*4); Submit blocks only when the
//     buffer is full, applying back-pressure to producers.
//   - Stop closes the channel and waits for every in-flight job to finish.
type WorkerPool struct {
	workerCount int
	jobQueue    chan func()
	wg          sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with workerCount goroutines ready to
// receive jobs.  A non-positive count falls back to one worker.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
		jobQueue:    make(chan func(), workerCount*4),
	}
}

// Start launches the worker goroutines.  It must be called exactly once before
// any jobs are submitted.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			for job := range wp.jobQueue {
				job()
			}
		}()
	}
}

// Submit enqueues job.  It must not be called after Stop.
func (wp *WorkerPool) Submit(job func()) {
	wp.jobQueue <- job
}

// Stop waits for queued jobs to finish and for all workers to exit.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
}

// Map runs fn over items on a temporary pool of workers goroutines and
// returns the results in input order.  fn must be safe for concurrent use.
func Map[T, R any](items []T, workers int, fn func(T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	if workers > len(items) {
		workers = len(items)
	}
	wp := NewWorkerPool(workers)
	wp.Start()
	for i := range items {
		i := i
		wp.Submit(func() { out[i] = fn(items[i]) })
	}
	wp.Stop()
	return out
}
