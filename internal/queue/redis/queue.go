// Package redis implements the durable job backend on Redis. The backend owns
// persistence, retry with exponential backoff, redelivery of expired
// reservations and retention of finished job ids.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

const (
	defaultPrefix = "regdocs:jobs"
	stalledBatch  = 100
)

// Config describes the Redis connection and key layout.
type Config struct {
	URL        string
	Prefix     string
	Visibility time.Duration
}

// Stats reports queue depth per state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a crawler.JobQueue backed by Redis lists and sorted sets.
type Queue struct {
	client     goredis.UniversalClient
	prefix     string
	visibility time.Duration
	now        func() time.Time
}

// Open parses cfg.URL, connects and returns a queue that owns the client.
func Open(ctx context.Context, cfg Config) (*Queue, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("queue.url is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	q := New(client, cfg)
	if err := q.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// New wraps an existing client.
func New(client goredis.UniversalClient, cfg Config) *Queue {
	prefix := strings.TrimSuffix(cfg.Prefix, ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	visibility := cfg.Visibility
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &Queue{client: client, prefix: prefix, visibility: visibility, now: time.Now}
}

func (q *Queue) key(name string) string { return q.prefix + ":" + name }
func (q *Queue) jobKey(id string) string { return q.prefix + ":job:" + id }

// Enqueue stores item with its retry policy and appends it to the wait list.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem, policy crawler.RetryPolicy) error {
	if item.JobID == "" {
		return fmt.Errorf("enqueue: job id is required")
	}
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", item.JobID, err)
	}
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.key("wait"), q.jobKey(item.JobID)},
		item.JobID, data, policy.Attempts, policy.Backoff.Milliseconds(), policy.KeepCompleted, policy.KeepFailed,
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", item.JobID, err)
	}
	if added == 0 {
		return crawler.ErrDuplicate
	}
	return nil
}

// Reserve pops the next ready job without blocking. It returns crawler.ErrQueueEmpty
// when nothing is ready.
func (q *Queue) Reserve(ctx context.Context) (crawler.Delivery, error) {
	res, err := reserveScript.Run(ctx, q.client,
		[]string{q.key("wait"), q.key("delayed"), q.key("active"), q.key("failed"), q.key("stalled")},
		q.now().UnixMilli(), q.visibility.Milliseconds(), q.prefix+":job:",
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return crawler.Delivery{}, crawler.ErrQueueEmpty
	}
	if err != nil {
		return crawler.Delivery{}, fmt.Errorf("reserve job: %w", err)
	}
	if len(res) != 4 {
		return crawler.Delivery{}, fmt.Errorf("reserve job: unexpected reply %v", res)
	}
	raw, _ := res[1].(string)
	var item crawler.QueueItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return crawler.Delivery{}, fmt.Errorf("decode job %v: %w", res[0], err)
	}
	attempt, _ := res[2].(int64)
	maxAttempts, _ := res[3].(int64)
	return crawler.Delivery{Item: item, Attempt: int(attempt), MaxAttempts: int(maxAttempts)}, nil
}

// Stalled drains jobs whose reservation expired on their last attempt. The queue has
// already settled them as failed; callers record the outcome.
func (q *Queue) Stalled(ctx context.Context) ([]crawler.QueueItem, error) {
	var items []crawler.QueueItem
	for range stalledBatch {
		raw, err := q.client.LPop(ctx, q.key("stalled")).Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return items, fmt.Errorf("drain stalled jobs: %w", err)
		}
		var item crawler.QueueItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return items, fmt.Errorf("decode stalled job: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Ack settles a delivery as completed.
func (q *Queue) Ack(ctx context.Context, d crawler.Delivery) error {
	id := d.Item.JobID
	ok, err := ackScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("completed"), q.jobKey(id)}, id,
	).Int()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	if ok == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// Fail schedules a retry after backoff*2^(attempt-1) or settles the job as failed.
func (q *Queue) Fail(ctx context.Context, d crawler.Delivery, cause error) (bool, error) {
	id := d.Item.JobID
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := failScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("delayed"), q.key("failed"), q.jobKey(id)},
		id, q.now().UnixMilli(), msg,
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if res < 0 {
		return false, crawler.ErrNotFound
	}
	return res == 1, nil
}

// Ping checks the connection.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Stats returns the depth of each queue state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.LLen(ctx, q.key("completed"))
	failed := pipe.LLen(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Close releases the client.
func (q *Queue) Close() error {
	return q.client.Close()
}
