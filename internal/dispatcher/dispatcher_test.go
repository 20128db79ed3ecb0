package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/customs-regdocs/internal/clock/system"
	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/worker"
)

// countingQueue is always empty and counts reserve calls.
type countingQueue struct {
	crawler.JobQueue
	reserves atomic.Int64
}

func (q *countingQueue) Reserve(ctx context.Context) (crawler.Delivery, error) {
	q.reserves.Add(1)
	if err := ctx.Err(); err != nil {
		return crawler.Delivery{}, err
	}
	return crawler.Delivery{}, crawler.ErrQueueEmpty
}

func TestDispatcherRunsWorkersUntilCanceled(t *testing.T) {
	t.Parallel()

	queue := &countingQueue{}
	d := NewPool(0, func(int) *worker.Worker {
		return worker.New(queue, nil, nil, nil, system.New(), worker.Config{PollInterval: time.Millisecond}, nil)
	})
	require.Equal(t, 1, d.Size())

	d = NewPool(3, func(int) *worker.Worker {
		return worker.New(queue, nil, nil, nil, system.New(), worker.Config{PollInterval: time.Millisecond}, nil)
	})
	require.Equal(t, 3, d.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return queue.reserves.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
