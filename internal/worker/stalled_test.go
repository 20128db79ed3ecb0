package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/clock/system"
	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/jobs"
	pubmem "github.com/JakeFAU/customs-regdocs/internal/publisher/memory"
	queueredis "github.com/JakeFAU/customs-regdocs/internal/queue/redis"
	"github.com/JakeFAU/customs-regdocs/internal/storage/memory"
)

func TestWorkerFailsJobStalledOnLastAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := queueredis.New(client, queueredis.Config{Prefix: "stalled-test", Visibility: time.Millisecond})

	jobLog := memory.NewJobStore()
	require.NoError(t, jobLog.CreateJob(ctx, crawler.JobRecord{JobID: "job-lost", DocumentID: 11, Type: crawler.JobTypeExtract}))
	item := crawler.QueueItem{JobID: "job-lost", Type: crawler.JobTypeExtract, Payload: crawler.JobPayload{JobID: "job-lost", DocumentID: 11}}
	require.NoError(t, queue.Enqueue(ctx, item, crawler.RetryPolicy{Attempts: 1, KeepFailed: 10}))

	// A worker reserves the only attempt and dies without settling it.
	d, err := queue.Reserve(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, d.MaxAttempts)
	require.NoError(t, jobLog.MarkProcessing(ctx, "job-lost", 0, time.Now()))
	time.Sleep(5 * time.Millisecond)

	runner := &scriptedRunner{}
	publisher := pubmem.New()
	w := New(queue, jobLog, runner, publisher, system.New(),
		Config{Topic: "documents", PollInterval: 5 * time.Millisecond}, zap.NewNop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		rec, err := jobLog.GetJob(ctx, "job-lost")
		return err == nil && rec.Status == crawler.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	rec, err := jobLog.GetJob(ctx, "job-lost")
	require.NoError(t, err)
	require.Equal(t, "stalled: attempts exhausted", rec.ErrorMessage)
	require.NotNil(t, rec.FinishedAt)

	require.Eventually(t, func() bool { return len(publisher.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	event := publisher.Messages()[0].Payload.(jobs.CompletionEvent)
	require.Equal(t, "failed", event.Status)
	require.EqualValues(t, 11, event.DocumentID)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Zero(t, runner.calls, "exhausted job is not run again")
}
