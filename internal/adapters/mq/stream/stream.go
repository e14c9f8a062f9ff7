// Package stream runs the worker pool that drains the ingress queue, applies
// validation and caching, persists events, and fans them out to subscribers.
package stream

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/internal/domain/validate"
	"github.com/scorepipe/scorepipe/pkg/logger"
	"github.com/scorepipe/scorepipe/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	defaultPersistRetries   = 3
	defaultPersistTimeout   = 2 * time.Second
	defaultPersistBackoff   = 100 * time.Millisecond
	defaultCacheTTL         = 30 * time.Second
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.DecodedEvent

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Persister is the durable store collaborator. A persist failure never stops
// the pipeline; after retries are exhausted the event is dropped from the
// persistence path only and continues to the broadcast path.
type Persister interface {
	UpsertEvent(ctx context.Context, e model.DecodedEvent) error
	RecordRecognitionChange(ctx context.Context, entry model.RecognitionHistoryEntry) error
}

// SnapshotCache receives per-scope snapshots of the latest events.
type SnapshotCache interface {
	Put(ctx context.Context, scope, key string, value model.DecodedEvent, ttl time.Duration)
	InvalidateScope(ctx context.Context, scope string) int
}

// Publisher fans processed events out to subscribers.
type Publisher interface {
	Publish(e model.DecodedEvent)
}

// Worker processes events from the queue until stopped.
type Worker struct {
	queue     Queue
	validator *validate.Validator
	store     Persister
	cache     SnapshotCache
	publisher Publisher
	name      string

	persistRetries int
	persistTimeout time.Duration
	persistBackoff time.Duration
	cacheTTL       time.Duration

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewWorker creates a new worker with configuration options.
func NewWorker(queue Queue, validator *validate.Validator, store Persister, cache SnapshotCache, publisher Publisher, opts ...Option) *Worker {
	w := &Worker{
		queue:          queue,
		validator:      validator,
		store:          store,
		cache:          cache,
		publisher:      publisher,
		name:           "worker",
		persistRetries: defaultPersistRetries,
		persistTimeout: defaultPersistTimeout,
		persistBackoff: defaultPersistBackoff,
		cacheTTL:       defaultCacheTTL,
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		logger:         logger.Get().Named("stream"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}
			w.processEvent(ctx, event)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent runs one event through validate, cache, persist and broadcast.
// Nothing here fails the pipeline: issues downgrade, log or drop a single
// event and the worker moves on.
func (w *Worker) processEvent(ctx context.Context, event Event) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	status, issues := w.validator.Check(&event)
	if status != event.Status {
		entry := model.RecognitionHistoryEntry{
			EventID:    event.ID,
			PriorState: event.Status,
			NewState:   status,
			Reason:     validate.Reasons(issues),
			At:         time.Now(),
		}
		event.Status = status
		event.StatusReason = entry.Reason
		metrics.RecordRecognitionChange()

		if err := w.persistWithRetry(ctx, func(pctx context.Context) error {
			return w.store.RecordRecognitionChange(pctx, entry)
		}); err != nil {
			w.logger.Error(ctx, "recording recognition change failed",
				logger.String("event_id", event.ID),
				logger.Error(err),
			)
		}
	}

	// Data inconsistencies are surfaced but never block processing.
	for _, issue := range issues {
		if issue.Kind == validate.KindData {
			w.logger.Warn(ctx, "data inconsistency in event",
				logger.String("event_id", event.ID),
				logger.String("reason", issue.Reason),
			)
		}
	}

	w.updateCache(ctx, event)

	if err := w.persistWithRetry(ctx, func(pctx context.Context) error {
		return w.store.UpsertEvent(pctx, event)
	}); err != nil {
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "persisting event failed",
			logger.String("event_id", event.ID),
			logger.String("type", string(event.Type)),
			logger.Error(err),
		)
	}

	if w.publisher != nil {
		w.publisher.Publish(event)
	}
	metrics.RecordEventProcessed()
}

// updateCache writes the latest snapshot for the event's scope and drops the
// whole match scope when the match is decided.
func (w *Worker) updateCache(ctx context.Context, event Event) {
	if w.cache == nil {
		return
	}

	if event.Type == model.EventMatchWinner {
		// The match is over; snapshots under it are stale by definition.
		w.cache.InvalidateScope(ctx, event.MatchScope())
		return
	}

	w.cache.Put(ctx, event.Scope(), string(event.Type), event, w.cacheTTL)
}

// persistWithRetry runs op with a per-attempt timeout, doubling the backoff
// between attempts. Returns ErrPersistExhausted after the final failure.
func (w *Worker) persistWithRetry(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.RecordPersistLatency(float64(time.Since(start).Milliseconds()))
	}()

	backoff := w.persistBackoff
	var lastErr error
	for attempt := 0; attempt < w.persistRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordPersistRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, w.persistTimeout)
		lastErr = op(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}

	metrics.RecordPersistFailure()
	return fmt.Errorf("%w: %w", ErrPersistExhausted, lastErr)
}

// Pool manages multiple workers draining the same queue.
type Pool struct {
	workers []*Worker
	queue   Queue

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive workerCount scales with
// the number of CPUs.
func NewPool(workerCount int, queue Queue, validator *validate.Validator, store Persister, cache SnapshotCache, publisher Publisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*Worker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("stream-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewWorker(queue, validator, store, cache, publisher, workerOpts...)
	}

	metrics.UpdateWorkerActiveCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Shutdown gracefully shuts down the entire worker pool. The queue is closed
// first so workers drain what is already buffered and finish their in-flight
// persistence calls before stopping. Workers that outlive the drain window
// are forced to stop via their shutdown channel.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-drainCtx.Done():
			p.logger.Warn(ctx, "drain window expired, forcing worker stop", logger.Int("worker_id", i))
			forceCtx, forceCancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
			if err := worker.Shutdown(forceCtx); err != nil {
				p.logger.Error(ctx, "worker shutdown failed", logger.Int("worker_id", i), logger.Error(err))
			}
			forceCancel()
		}
	}

	return nil
}
