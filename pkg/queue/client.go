// Package queue provides the transports that carry library tasks to the workers.
//
// The Redis Client is the primary transport. It supports:
//   - Deduplicated submission keyed on the task unique id
//   - Atomic task dequeuing with BLMove
//   - Exponential backoff retry mechanism
//   - Dead Letter Queue (DLQ) for permanently failed tasks
//   - Delayed task scheduling via Lua scripts
//
// NATSPublisher is a submit-only alternative that leaves deduplication to JetStream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/guido-cesarano/librarytasks/pkg/logger"
	"github.com/guido-cesarano/librarytasks/pkg/metrics"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTaskQueue = "queue:tasks"
	DefaultDedupTTL  = time.Hour

	ProcessingQueue = "processing_queue"
	CompletedQueue  = "completed_queue"
	DelayedQueue    = "delayed_queue"
	DeadLetterQueue = "dead_letter_queue"

	uniqueKeyPrefix = "unique:"
)

// ErrNoTask is returned by Dequeue when no task became available before the poll timeout.
var ErrNoTask = errors.New("queue: no task available")

// submitScript claims the unique key of a task and pushes it only if the claim succeeded.
// KEYS[1]: unique key, KEYS[2]: task queue
// ARGV[1]: message id, ARGV[2]: claim ttl in milliseconds, ARGV[3]: envelope
var submitScript = redis.NewScript(`
	local claimed = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', tonumber(ARGV[2]))
	if not claimed then
		return 0
	end
	redis.call('RPUSH', KEYS[2], ARGV[3])
	return 1
`)

// releaseScript deletes a unique id claim only if it is still held by the given message.
// KEYS[1]: unique key, ARGV[1]: message id
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// promoteScript moves one delayed task back to the task queue, claiming its unique id again.
// A task whose unique id is held by another pending message is dropped: that message
// already describes the work.
// KEYS[1]: delayed queue, KEYS[2]: task queue, KEYS[3]: unique key
// ARGV[1]: delayed member, ARGV[2]: message id ('' when the task has no unique id),
// ARGV[3]: claim ttl in milliseconds
// Returns 1 when pushed, 0 when coalesced, -1 when another scheduler already took it.
var promoteScript = redis.NewScript(`
	if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
		return -1
	end
	if ARGV[2] ~= '' then
		local owner = redis.call('GET', KEYS[3])
		if owner and owner ~= ARGV[2] then
			return 0
		end
		redis.call('SET', KEYS[3], ARGV[2], 'PX', tonumber(ARGV[3]))
	end
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
`)

// allowScript is a token bucket.
// KEYS[1]: bucket key
// ARGV[1]: rate (tokens/sec), ARGV[2]: burst, ARGV[3]: now (seconds), ARGV[4]: tokens requested
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if not tokens then
		tokens = burst
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local new_tokens = math.min(burst, tokens + (delta * rate))

	if new_tokens >= requested then
		redis.call('HSET', key, 'tokens', new_tokens - requested, 'last_refill', now)
		return 1
	end
	redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
	return 0
`)

// Options configures a Client.
type Options struct {
	// Addr is the Redis address in the format "host:port".
	Addr string
	// Queue is the list tasks are pushed to. Defaults to DefaultTaskQueue.
	Queue string
	// DedupTTL bounds how long a unique id stays claimed when its task is never dequeued.
	// Defaults to DefaultDedupTTL.
	DedupTTL time.Duration
	// PollTimeout is how long Dequeue blocks waiting for a task. Redis blocks in whole
	// seconds, so values below one second are raised to one second.
	PollTimeout time.Duration
}

// Client manages the connection to Redis and provides methods for task queue operations.
// All operations are context-aware and support graceful cancellation.
//
// Queue Architecture:
//   - queue:tasks: tasks ready to be processed
//   - unique:<id>: claim held by a pending task, used to coalesce duplicate submissions
//   - processing_queue: tasks currently being processed
//   - delayed_queue: sorted set storing tasks scheduled for a later attempt
//   - dead_letter_queue: tasks that have exceeded max retry attempts
//   - completed_queue: the last completed tasks, kept for inspection
type Client struct {
	rdb         *redis.Client
	queue       string
	dedupTTL    time.Duration
	pollTimeout time.Duration
}

// NewClient creates a new queue client connected to the Redis server in opts.
//
// Example:
//
//	client := queue.NewClient(queue.Options{Addr: "localhost:6379"})
func NewClient(opts Options) *Client {
	if opts.Queue == "" {
		opts.Queue = DefaultTaskQueue
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = DefaultDedupTTL
	}
	if opts.PollTimeout < time.Second {
		opts.PollTimeout = time.Second
	}
	return &Client{
		rdb:         redis.NewClient(&redis.Options{Addr: opts.Addr}),
		queue:       opts.Queue,
		dedupTTL:    opts.DedupTTL,
		pollTimeout: opts.PollTimeout,
	}
}

// Queue returns the name of the list tasks are pushed to.
func (c *Client) Queue() string {
	return c.queue
}

// Ping checks the connection to Redis.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Submit pushes task onto the task queue unless a task with the same unique id is
// already pending. A coalesced duplicate is not an error: the pending task already
// describes the requested work.
//
// The claim on routing.UniqueID is taken and the envelope pushed in one Lua script,
// so concurrent producers can not both enqueue the same work.
func (c *Client) Submit(ctx context.Context, task tasks.Task, routing tasks.Routing) error {
	kind := string(task.Kind())

	env, err := tasks.NewEnvelope(task, routing)
	if err != nil {
		metrics.TasksSubmitted.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.TasksSubmitted.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return err
	}

	pushed, err := submitScript.Run(ctx, c.rdb,
		[]string{uniqueKey(routing.UniqueID), c.queue},
		env.ID, c.dedupTTL.Milliseconds(), data,
	).Int()
	if err != nil {
		metrics.TasksSubmitted.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return err
	}

	if pushed == 0 {
		metrics.TasksSubmitted.WithLabelValues(kind, metrics.OutcomeDuplicate).Inc()
		logger.Log.Debug().Str("unique_id", routing.UniqueID).Msg("Task already pending, submission coalesced")
		return nil
	}

	metrics.TasksSubmitted.WithLabelValues(kind, metrics.OutcomeEnqueued).Inc()
	return nil
}

// Dequeue atomically moves the next task to the processing queue and returns it with
// its raw JSON, which identifies it in Complete, Retry, Delay and Fail.
//
// The unique id claim is released once the task is taken, so a request arriving
// while the task runs enqueues new work instead of being coalesced into a task that
// may already have read stale state. Only a claim held by this message is released;
// a newer submission of the same work keeps its claim.
//
// It blocks up to the poll timeout and returns ErrNoTask if nothing arrived.
func (c *Client) Dequeue(ctx context.Context) (*tasks.Envelope, string, error) {
	raw, err := c.rdb.BLMove(ctx, c.queue, ProcessingQueue, "LEFT", "RIGHT", c.pollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNoTask
	}
	if err != nil {
		return nil, "", err
	}

	var env tasks.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, raw, err
	}

	if env.UniqueID != "" {
		if err := releaseScript.Run(ctx, c.rdb, []string{uniqueKey(env.UniqueID)}, env.ID).Err(); err != nil {
			logger.Log.Warn().Err(err).Str("unique_id", env.UniqueID).Msg("Failed to release unique id")
		}
	}

	return &env, raw, nil
}

// Complete acknowledges successful completion of a task by moving it to the completed_queue.
// It keeps the last 100 completed tasks for history.
func (c *Client) Complete(ctx context.Context, rawTask string) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, ProcessingQueue, 1, rawTask)
	pipe.RPush(ctx, CompletedQueue, rawTask)
	pipe.LTrim(ctx, CompletedQueue, -100, -1)
	_, err := pipe.Exec(ctx)
	return err
}

// Discard removes a task from the processing queue without keeping it anywhere.
// It is used for messages that can not be decoded.
func (c *Client) Discard(ctx context.Context, rawTask string) error {
	return c.rdb.LRem(ctx, ProcessingQueue, 1, rawTask).Err()
}

// Retry schedules a failed task for retry with exponential backoff.
// The retry count is incremented, and the task is added to the delayed queue
// with a delay of 2^retryCount * 100ms.
func (c *Client) Retry(ctx context.Context, env tasks.Envelope, rawTask string) error {
	env.RetryCount++
	backoff := time.Duration(1<<env.RetryCount) * 100 * time.Millisecond
	return c.schedule(ctx, env, rawTask, backoff)
}

// Delay puts a task back into the delayed queue without consuming a retry.
func (c *Client) Delay(ctx context.Context, env tasks.Envelope, rawTask string, delay time.Duration) error {
	return c.schedule(ctx, env, rawTask, delay)
}

func (c *Client) schedule(ctx context.Context, env tasks.Envelope, rawTask string, delay time.Duration) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	processAt := time.Now().Add(delay)

	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, DelayedQueue, redis.Z{
		Score:  float64(processAt.UnixNano()),
		Member: data,
	})
	pipe.LRem(ctx, ProcessingQueue, 1, rawTask)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail moves a permanently failed task to the Dead Letter Queue (DLQ).
// Tasks in the DLQ can be inspected for debugging or manually replayed.
func (c *Client) Fail(ctx context.Context, env tasks.Envelope, rawTask string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, DeadLetterQueue, data)
	pipe.LRem(ctx, ProcessingQueue, 1, rawTask)
	_, err = pipe.Exec(ctx)
	return err
}

// StartScheduler periodically moves delayed tasks whose time has come back to the task queue.
// It runs until ctx is cancelled. The promotion runs in a Lua script, so several
// scheduler instances can run concurrently without promoting a task twice.
//
// Usage:
//
//	go client.StartScheduler(ctx)
func (c *Client) StartScheduler(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.PromoteDelayed(ctx, time.Now()); err != nil && ctx.Err() == nil {
				logger.Log.Error().Err(err).Msg("Scheduler error")
			}
		}
	}
}

// PromoteDelayed moves the delayed tasks due at now to the task queue and returns how many moved.
//
// A promoted task claims its unique id again. When a newer submission of the same work
// is already pending, the delayed copy is dropped instead of queueing the work twice.
func (c *Client) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	due, err := c.rdb.ZRangeByScore(ctx, DelayedQueue, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, raw := range due {
		var env tasks.Envelope
		owner := ""
		if err := json.Unmarshal([]byte(raw), &env); err == nil && env.UniqueID != "" {
			owner = env.ID
		}

		n, err := promoteScript.Run(ctx, c.rdb,
			[]string{DelayedQueue, c.queue, uniqueKey(env.UniqueID)},
			raw, owner, c.dedupTTL.Milliseconds(),
		).Int()
		if err != nil {
			return moved, err
		}
		switch n {
		case 1:
			moved++
		case 0:
			metrics.TasksSubmitted.WithLabelValues(string(env.Kind), metrics.OutcomeDuplicate).Inc()
			logger.Log.Debug().Str("unique_id", env.UniqueID).Msg("Delayed task already pending, promotion coalesced")
		}
	}
	return moved, nil
}

// Allow checks if a task is allowed to proceed based on a token bucket rate limit.
//
// Parameters:
//   - key: Unique key for the rate limit (e.g., "ratelimit:scan_library")
//   - limit: Number of tokens added per second (rate)
//   - burst: Maximum number of tokens in the bucket (capacity)
func (c *Client) Allow(ctx context.Context, key string, limit int, burst int) (bool, error) {
	result, err := allowScript.Run(ctx, c.rdb,
		[]string{key},
		limit,
		burst,
		time.Now().Unix(),
		1,
	).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// GetQueueDepths returns the current number of items for all queues.
func (c *Client) GetQueueDepths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)

	for _, q := range []string{c.queue, ProcessingQueue, DeadLetterQueue, CompletedQueue} {
		if n, err := c.rdb.LLen(ctx, q).Result(); err == nil {
			depths[q] = n
		}
	}

	if n, err := c.rdb.ZCard(ctx, DelayedQueue).Result(); err == nil {
		depths[DelayedQueue] = n
	}

	return depths
}

// InspectQueue retrieves the first n tasks from a queue without removing them.
// It handles both standard lists and the delayed queue (sorted set).
func (c *Client) InspectQueue(ctx context.Context, queueName string, limit int64) ([]*tasks.Envelope, error) {
	var (
		rawTasks []string
		err      error
	)

	if queueName == DelayedQueue {
		rawTasks, err = c.rdb.ZRange(ctx, queueName, 0, limit-1).Result()
	} else {
		rawTasks, err = c.rdb.LRange(ctx, queueName, 0, limit-1).Result()
	}
	if err != nil {
		return nil, err
	}

	envelopes := make([]*tasks.Envelope, 0, len(rawTasks))
	for _, raw := range rawTasks {
		var env tasks.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Skip malformed entries, inspection is best effort
			continue
		}
		envelopes = append(envelopes, &env)
	}

	return envelopes, nil
}

// Pending reports whether a task with the given unique id is currently waiting in the queue.
func (c *Client) Pending(ctx context.Context, uniqueID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, uniqueKey(uniqueID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func uniqueKey(uniqueID string) string {
	return uniqueKeyPrefix + uniqueID
}
