// Package dispatcher fans durable jobs out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"sync"

	"github.com/JakeFAU/customs-regdocs/internal/worker"
)

// Dispatcher runs a fixed set of workers against one queue.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over workers.
func New(workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// NewPool builds n workers with build. n below 1 is treated as 1.
func NewPool(n int, build func(idx int) *worker.Worker) *Dispatcher {
	n = max(n, 1)
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, build(i))
	}
	return New(workers)
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts all workers and blocks until the context finishes and every
// worker has settled its current job.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
