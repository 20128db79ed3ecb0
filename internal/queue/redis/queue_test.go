package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

type harness struct {
	mr  *miniredis.Miniredis
	q   *Queue
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	h := &harness{mr: mr, now: time.Unix(1700000000, 0)}
	h.q = New(client, Config{Prefix: "test:", Visibility: time.Minute})
	h.q.now = func() time.Time { return h.now }
	return h
}

func item(id string) crawler.QueueItem {
	return crawler.QueueItem{
		JobID:   id,
		Type:    crawler.JobTypeExtract,
		Payload: crawler.JobPayload{JobID: id, DocumentID: 42, AttachmentURL: "https://files.example.org/a.pdf"},
	}
}

func TestEnqueueReserveAck(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	policy := crawler.DefaultRetryPolicy()

	_, err := h.q.Reserve(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueEmpty)

	require.NoError(t, h.q.Enqueue(ctx, item("job-1"), policy))
	require.ErrorIs(t, h.q.Enqueue(ctx, item("job-1"), policy), crawler.ErrDuplicate)

	d, err := h.q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", d.Item.JobID)
	require.EqualValues(t, 42, d.Item.Payload.DocumentID)
	require.Equal(t, 1, d.Attempt)
	require.Equal(t, 3, d.MaxAttempts)

	score, err := h.mr.ZScore("test:active", "job-1")
	require.NoError(t, err)
	require.Equal(t, float64(h.now.Add(time.Minute).UnixMilli()), score)

	require.NoError(t, h.q.Ack(ctx, d))
	completed, err := h.mr.List("test:completed")
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, completed)
	require.False(t, h.mr.Exists("test:job:job-1"))
	require.ErrorIs(t, h.q.Ack(ctx, d), crawler.ErrNotFound)
}

func TestFailBacksOffExponentiallyThenSettles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	policy := crawler.RetryPolicy{Attempts: 3, Backoff: 30 * time.Second, KeepFailed: 10}
	require.NoError(t, h.q.Enqueue(ctx, item("job-2"), policy))

	for attempt, wait := range []time.Duration{30 * time.Second, 60 * time.Second} {
		d, err := h.q.Reserve(ctx)
		require.NoError(t, err)
		require.Equal(t, attempt+1, d.Attempt)

		final, err := h.q.Fail(ctx, d, errors.New("download failed"))
		require.NoError(t, err)
		require.False(t, final)

		score, err := h.mr.ZScore("test:delayed", "job-2")
		require.NoError(t, err)
		require.Equal(t, float64(h.now.Add(wait).UnixMilli()), score)

		_, err = h.q.Reserve(ctx)
		require.ErrorIs(t, err, crawler.ErrQueueEmpty, "not due yet")
		h.now = h.now.Add(wait)
	}

	d, err := h.q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, d.Attempt)
	require.Equal(t, "download failed", h.mr.HGet("test:job:job-2", "last_error"))

	final, err := h.q.Fail(ctx, d, errors.New("still failing"))
	require.NoError(t, err)
	require.True(t, final)
	failed, err := h.mr.List("test:failed")
	require.NoError(t, err)
	require.Equal(t, []string{"job-2"}, failed)

	_, err = h.q.Fail(ctx, d, nil)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestExpiredReservationIsRedelivered(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.q.Enqueue(ctx, item("job-3"), crawler.RetryPolicy{Attempts: 2}))

	first, err := h.q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Attempt)

	_, err = h.q.Reserve(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueEmpty)

	h.now = h.now.Add(2 * time.Minute)
	second, err := h.q.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-3", second.Item.JobID)
	require.Equal(t, 2, second.Attempt)

	stalled, err := h.q.Stalled(ctx)
	require.NoError(t, err)
	require.Empty(t, stalled)

	// Expiring on the last attempt settles the job and reports it as stalled.
	h.now = h.now.Add(2 * time.Minute)
	_, err = h.q.Reserve(ctx)
	require.ErrorIs(t, err, crawler.ErrQueueEmpty)
	require.False(t, h.mr.Exists("test:job:job-3"))

	stalled, err = h.q.Stalled(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	require.Equal(t, "job-3", stalled[0].JobID)
	require.EqualValues(t, 42, stalled[0].Payload.DocumentID)

	stalled, err = h.q.Stalled(ctx)
	require.NoError(t, err)
	require.Empty(t, stalled, "drained once")
}

func TestRetentionAndStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	policy := crawler.RetryPolicy{Attempts: 1, KeepCompleted: 2}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.q.Enqueue(ctx, item(id), policy))
		d, err := h.q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, h.q.Ack(ctx, d))
	}
	completed, err := h.mr.List("test:completed")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, completed)

	require.NoError(t, h.q.Enqueue(ctx, item("d"), policy))
	require.NoError(t, h.q.Enqueue(ctx, item("e"), policy))
	_, err = h.q.Reserve(ctx)
	require.NoError(t, err)

	stats, err := h.q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Waiting: 1, Active: 1, Completed: 2}, stats)
	require.NoError(t, h.q.Ping(ctx))
}
