// Package memory provides an in-process job queue for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/customs-regdocs/internal/backoff"
	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

type entry struct {
	item     crawler.QueueItem
	policy   crawler.RetryPolicy
	attempts int
}

// Queue is a bounded in-memory crawler.JobQueue. Failed deliveries are
// re-enqueued after an exponential delay until the policy's attempts run out.
type Queue struct {
	ch   chan string
	done chan struct{}

	mu        sync.Mutex
	entries   map[string]*entry
	completed []string
	failed    []string
	closed    bool
	timers    map[*time.Timer]struct{}

	afterFunc func(time.Duration, func()) *time.Timer
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:        make(chan string, capacity),
		done:      make(chan struct{}),
		entries:   make(map[string]*entry),
		timers:    make(map[*time.Timer]struct{}),
		afterFunc: time.AfterFunc,
	}
}

// Enqueue registers item under policy and blocks until there is room or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem, policy crawler.RetryPolicy) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, exists := q.entries[item.JobID]; exists {
		q.mu.Unlock()
		return crawler.ErrDuplicate
	}
	q.entries[item.JobID] = &entry{item: item, policy: policy}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.forget(item.JobID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item.JobID:
		return nil
	}
}

// Reserve blocks for the next job, respecting context cancellation.
func (q *Queue) Reserve(ctx context.Context) (crawler.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return crawler.Delivery{}, fmt.Errorf("reserve canceled: %w", ctx.Err())
		case <-q.done:
			return crawler.Delivery{}, ErrClosed
		case id := <-q.ch:
			q.mu.Lock()
			e, ok := q.entries[id]
			if !ok {
				q.mu.Unlock()
				continue
			}
			e.attempts++
			d := crawler.Delivery{Item: e.item, Attempt: e.attempts, MaxAttempts: e.policy.Attempts}
			q.mu.Unlock()
			return d, nil
		}
	}
}

// Ack settles a delivery as completed.
func (q *Queue) Ack(_ context.Context, d crawler.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[d.Item.JobID]
	if !ok {
		return crawler.ErrNotFound
	}
	delete(q.entries, d.Item.JobID)
	q.completed = keepLast(append(q.completed, d.Item.JobID), e.policy.KeepCompleted)
	return nil
}

// Fail schedules a retry or settles the job as failed once attempts are used up.
func (q *Queue) Fail(_ context.Context, d crawler.Delivery, _ error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[d.Item.JobID]
	if !ok {
		return false, crawler.ErrNotFound
	}
	if e.attempts >= e.policy.Attempts || q.closed {
		delete(q.entries, d.Item.JobID)
		q.failed = keepLast(append(q.failed, d.Item.JobID), e.policy.KeepFailed)
		return true, nil
	}
	delay := backoff.Exponential{Base: e.policy.Backoff}.Delay(e.attempts - 1)
	var timer *time.Timer
	timer = q.afterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		select {
		case q.ch <- d.Item.JobID:
		case <-q.done:
		}
	})
	q.timers[timer] = struct{}{}
	return false, nil
}

// Ping reports whether the queue still accepts work.
func (q *Queue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

// Completed returns the retained ids of completed jobs, oldest first.
func (q *Queue) Completed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.completed...)
}

// Failed returns the retained ids of failed jobs, oldest first.
func (q *Queue) Failed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.failed...)
}

// Close stops pending retries and unblocks waiting callers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	close(q.done)
}

func (q *Queue) forget(id string) {
	q.mu.Lock()
	delete(q.entries, id)
	q.mu.Unlock()
}

func keepLast(ids []string, keep int) []string {
	if keep <= 0 {
		return nil
	}
	if len(ids) > keep {
		return append([]string(nil), ids[len(ids)-keep:]...)
	}
	return ids
}
