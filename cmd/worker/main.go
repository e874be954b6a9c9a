// Package main implements the library tasks worker process.
// The worker continuously dequeues tasks from Redis, routes them by kind, and tracks metrics.
//
// Features:
//   - Graceful shutdown on SIGINT/SIGTERM
//   - Prometheus metrics exposed on /metrics
//   - Per-kind rate limiting
//   - Automatic retry with exponential backoff
//   - Dead Letter Queue for failed tasks
//   - Background scheduler for delayed task processing
//
// The handlers only acknowledge tasks: scanning, analysis and metadata work are
// performed by the library services that register real handlers.
//
// Usage:
//
//	go run ./cmd/worker -config configs/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/guido-cesarano/librarytasks/pkg/app"
	"github.com/guido-cesarano/librarytasks/pkg/config"
	"github.com/guido-cesarano/librarytasks/pkg/logger"
	"github.com/guido-cesarano/librarytasks/pkg/metrics"
	"github.com/guido-cesarano/librarytasks/pkg/queue"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler executes one kind of task.
type Handler func(ctx context.Context, task tasks.Task) error

// Worker dequeues tasks and runs the handler registered for their kind.
type Worker struct {
	client     *queue.Client
	maxRetries int
	rateLimit  int
	rateBurst  int

	errorBackoff time.Duration // pause after a failed processing attempt

	mu       sync.RWMutex
	handlers map[tasks.Kind]Handler
}

// NewWorker creates a worker with a logging handler for every task kind.
func NewWorker(client *queue.Client, cfg config.WorkerConfig) *Worker {
	w := &Worker{
		client:     client,
		handlers:   make(map[tasks.Kind]Handler),
		maxRetries: cfg.MaxRetries,
		rateLimit:  cfg.RateLimit,
		rateBurst:  cfg.RateBurst,

		errorBackoff: time.Second,
	}
	for _, kind := range tasks.Kinds() {
		w.handlers[kind] = logTask
	}
	return w
}

// Handle registers h for kind, replacing the previous handler.
// It is safe to call while Run is processing tasks.
func (w *Worker) Handle(kind tasks.Kind, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind tasks.Kind) Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handlers[kind]
}

// Run processes tasks until ctx is cancelled.
// It also starts the background scheduler for handling delayed tasks.
//
// Task Processing Flow:
//  1. Dequeue task atomically from the task queue to processing_queue
//  2. Decode the envelope into a typed task; undecodable messages go to the DLQ
//  3. Check the rate limit of the kind; over the limit, delay without consuming a retry
//  4. Run the handler
//  5. On success: Complete and increment success metric
//  6. On failure: Retry with backoff while retries remain, otherwise move to the DLQ
func (w *Worker) Run(ctx context.Context) {
	go w.client.StartScheduler(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := w.processNext(ctx); err != nil && !errors.Is(err, queue.ErrNoTask) && ctx.Err() == nil {
				logger.Log.Error().Err(err).Msg("Failed to process task")
				select {
				case <-ctx.Done():
				case <-time.After(w.errorBackoff):
				}
			}
		}
	}
}

func (w *Worker) processNext(ctx context.Context) error {
	env, raw, err := w.client.Dequeue(ctx)
	if err != nil {
		if env == nil && raw != "" {
			logger.Log.Error().Err(err).Msg("Discarding unreadable message")
			return w.client.Discard(ctx, raw)
		}
		return err
	}

	task, err := tasks.Decode(*env)
	if err != nil {
		logger.Log.Error().Err(err).Str("task_id", env.ID).Msg("Invalid task")
		metrics.TasksProcessed.WithLabelValues("invalid", string(env.Kind)).Inc()
		return w.client.Fail(ctx, *env, raw)
	}
	kind := string(task.Kind())

	allowed, err := w.client.Allow(ctx, fmt.Sprintf("ratelimit:%s", kind), w.rateLimit, w.rateBurst)
	if err != nil {
		// Fail open so tasks don't get stuck behind a broken limiter
		logger.Log.Error().Err(err).Msg("Rate limit check failed")
	} else if !allowed {
		logger.Log.Warn().Str("kind", kind).Msg("Rate limit exceeded, delaying task")
		return w.client.Delay(ctx, *env, raw, 5*time.Second)
	}

	start := time.Now()
	metrics.QueueLatency.WithLabelValues(kind).Observe(start.Sub(env.CreatedAt).Seconds())

	err = w.handler(task.Kind())(ctx, task)
	metrics.TaskDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Log.Error().Err(err).Str("task_id", env.ID).Str("unique_id", env.UniqueID).Msg("Task failed")
		if env.RetryCount < w.maxRetries {
			metrics.TasksProcessed.WithLabelValues("retry", kind).Inc()
			return w.client.Retry(ctx, *env, raw)
		}
		metrics.TasksProcessed.WithLabelValues("failed", kind).Inc()
		return w.client.Fail(ctx, *env, raw)
	}

	metrics.TasksProcessed.WithLabelValues("success", kind).Inc()
	return w.client.Complete(ctx, raw)
}

// logTask acknowledges a task without doing any work.
func logTask(_ context.Context, task tasks.Task) error {
	logger.Log.Info().
		Str("kind", string(task.Kind())).
		Str("unique_id", task.UniqueID()).
		Stringer("task", task).
		Msg("Processing task")
	return nil
}

// collectQueueMetrics periodically queries Redis to get queue depths and updates Prometheus gauges.
func collectQueueMetrics(ctx context.Context, client *queue.Client) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range client.GetQueueDepths(ctx) {
				metrics.QueueDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "", "Path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid log level")
	}
	if cfg.Transport != config.TransportRedis {
		logger.Log.Fatal().Str("transport", cfg.Transport).Msg("The worker consumes the Redis transport only")
	}

	client := app.NewQueueClient(cfg)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("Metrics server listening")
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go collectQueueMetrics(ctx, client)

	logger.Log.Info().Msg("Worker started. Waiting for tasks...")
	NewWorker(client, cfg.Worker).Run(ctx)
	logger.Log.Info().Msg("Worker stopped")
}
