package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

func testPolicy(attempts int) crawler.RetryPolicy {
	return crawler.RetryPolicy{Attempts: attempts, Backoff: time.Millisecond, KeepCompleted: 10, KeepFailed: 10}
}

func reserve(t *testing.T, q *Queue) crawler.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := q.Reserve(ctx)
	require.NoError(t, err)
	return d
}

func TestQueueEnqueueReserveAck(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	defer q.Close()
	ctx := context.Background()
	item := crawler.QueueItem{JobID: "job-1", Type: crawler.JobTypeExtract, Payload: crawler.JobPayload{DocumentID: 4}}

	require.NoError(t, q.Enqueue(ctx, item, testPolicy(3)))
	require.ErrorIs(t, q.Enqueue(ctx, item, testPolicy(3)), crawler.ErrDuplicate)

	d := reserve(t, q)
	require.Equal(t, "job-1", d.Item.JobID)
	require.EqualValues(t, 4, d.Item.Payload.DocumentID)
	require.Equal(t, 1, d.Attempt)
	require.Equal(t, 3, d.MaxAttempts)

	require.NoError(t, q.Ack(ctx, d))
	require.Equal(t, []string{"job-1"}, q.Completed())
	require.ErrorIs(t, q.Ack(ctx, d), crawler.ErrNotFound)
}

func TestQueueRetriesUntilAttemptsExhausted(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	defer q.Close()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "job-2"}, testPolicy(2)))

	first := reserve(t, q)
	final, err := q.Fail(ctx, first, errors.New("download failed"))
	require.NoError(t, err)
	require.False(t, final)

	second := reserve(t, q)
	require.Equal(t, 2, second.Attempt)
	final, err = q.Fail(ctx, second, errors.New("download failed"))
	require.NoError(t, err)
	require.True(t, final)
	require.Equal(t, []string{"job-2"}, q.Failed())
	require.Empty(t, q.Completed())
}

func TestQueueRetryDelayDoublesPerAttempt(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	defer q.Close()
	var delays []time.Duration
	q.afterFunc = func(d time.Duration, f func()) *time.Timer {
		delays = append(delays, d)
		return time.AfterFunc(0, f)
	}
	ctx := context.Background()
	policy := crawler.RetryPolicy{Attempts: 3, Backoff: 30 * time.Second}
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "job-3"}, policy))

	for i := 0; i < 2; i++ {
		d := reserve(t, q)
		_, err := q.Fail(ctx, d, errors.New("boom"))
		require.NoError(t, err)
	}
	require.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, delays)
}

func TestQueueRetentionTrimsOldest(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	defer q.Close()
	ctx := context.Background()
	policy := crawler.RetryPolicy{Attempts: 1, KeepCompleted: 2}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: id}, policy))
		require.NoError(t, q.Ack(ctx, reserve(t, q)))
	}
	require.Equal(t, []string{"b", "c"}, q.Completed())
}

func TestQueueContextAndClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Reserve(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "fill"}, testPolicy(1)))
	err = q.Enqueue(ctx, crawler.QueueItem{JobID: "blocked"}, testPolicy(1))
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Ping(context.Background()))
	q.Close()
	q.Close()
	require.ErrorIs(t, q.Ping(context.Background()), ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "late"}, testPolicy(1)), ErrClosed)
}
