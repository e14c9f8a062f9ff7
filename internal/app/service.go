// Package service wires the scoring pipeline: listener nodes, distributor,
// ingress queue, stream workers, cache, analytics, and persistence.
package service

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/scorepipe/scorepipe/internal/adapters/balancer"
	"github.com/scorepipe/scorepipe/internal/adapters/cache"
	"github.com/scorepipe/scorepipe/internal/adapters/mq/queue"
	"github.com/scorepipe/scorepipe/internal/adapters/mq/stream"
	"github.com/scorepipe/scorepipe/internal/adapters/natsbridge"
	"github.com/scorepipe/scorepipe/internal/adapters/persistence"
	"github.com/scorepipe/scorepipe/internal/adapters/udp"
	"github.com/scorepipe/scorepipe/internal/analytics"
	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/internal/domain/validate"
	"github.com/scorepipe/scorepipe/pkg/logger"
)

// Service owns the pipeline components and their lifecycle.
type Service struct {
	mu sync.RWMutex

	// Configuration
	listenerAddrs    []string
	weights          []int
	strategy         string
	queueSize        int
	workerCount      int
	cacheCapacity    int
	cacheTTL         time.Duration
	cacheSweep       time.Duration
	analyticsTick    time.Duration
	analyticsHistory int
	persistDSN       string
	persistTimeout   time.Duration
	persistRetries   int
	persistBackoff   time.Duration
	natsURL          string
	subscriberBuffer int
	athletes         map[string]bool

	// Core components
	distributor *balancer.Distributor
	listeners   []*udp.Listener
	ingress     *queue.InMemoryQueue
	snapshots   *cache.Cache[model.DecodedEvent]
	broadcaster *stream.Broadcaster
	pool        *stream.Pool
	engine      *analytics.Engine
	store       persistence.Store
	bridge      *natsbridge.Bridge

	// State
	started      bool
	runCancel    context.CancelFunc
	ingestCancel context.CancelFunc
	udpDone      chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithListeners sets the UDP bind addresses, one listener node each.
func WithListeners(addrs []string) Option {
	return func(s *Service) {
		if len(addrs) > 0 {
			s.listenerAddrs = addrs
		}
	}
}

// WithWeights sets per-listener capacity hints, aligned by index.
func WithWeights(weights []int) Option {
	return func(s *Service) {
		s.weights = weights
	}
}

// WithStrategy selects the distributor strategy by name.
func WithStrategy(name string) Option {
	return func(s *Service) {
		s.strategy = name
	}
}

// WithQueueSize sets the maximum size of the ingress queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of stream workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithCachePolicy sets snapshot cache capacity, TTL and sweep interval.
func WithCachePolicy(capacity int, ttl, sweep time.Duration) Option {
	return func(s *Service) {
		if capacity > 0 {
			s.cacheCapacity = capacity
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
		if sweep > 0 {
			s.cacheSweep = sweep
		}
	}
}

// WithAnalytics sets the snapshot tick and per-scope history capacity.
func WithAnalytics(tick time.Duration, history int) Option {
	return func(s *Service) {
		if tick > 0 {
			s.analyticsTick = tick
		}
		if history > 0 {
			s.analyticsHistory = history
		}
	}
}

// WithPersistDSN selects the Postgres store. Empty keeps the in-memory store.
func WithPersistDSN(dsn string) Option {
	return func(s *Service) {
		s.persistDSN = dsn
	}
}

// WithStore injects a persistence implementation directly, overriding the DSN.
func WithStore(store persistence.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPersistPolicy sets timeout, attempt count and initial backoff for
// persistence calls.
func WithPersistPolicy(timeout time.Duration, retries int, backoff time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.persistTimeout = timeout
		}
		if retries > 0 {
			s.persistRetries = retries
		}
		if backoff > 0 {
			s.persistBackoff = backoff
		}
	}
}

// WithNATSURL enables the outbound NATS bridge.
func WithNATSURL(url string) Option {
	return func(s *Service) {
		s.natsURL = url
	}
}

// WithSubscriberBuffer sets the per-subscriber broadcast buffer size.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithAthleteRegistry supplies the known athlete ids for reference checks.
func WithAthleteRegistry(ids map[string]bool) Option {
	return func(s *Service) {
		s.athletes = ids
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		listenerAddrs:    []string{"127.0.0.1:6000"},
		strategy:         balancer.StrategyRoundRobin,
		queueSize:        100_000,
		workerCount:      runtime.NumCPU() * 4,
		cacheCapacity:    10_000,
		cacheTTL:         30 * time.Second,
		cacheSweep:       5 * time.Second,
		analyticsTick:    2 * time.Second,
		analyticsHistory: 64,
		persistTimeout:   2 * time.Second,
		persistRetries:   3,
		persistBackoff:   100 * time.Millisecond,
		subscriberBuffer: 1024,
		udpDone:          make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the pipeline components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting scoring pipeline...")

	// Components shut down through runCancel, not the caller's context.
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel

	// Persistence collaborator.
	if s.store == nil {
		if s.persistDSN != "" {
			store, err := persistence.NewPostgresStore(ctx, s.persistDSN)
			if err != nil {
				cancel()
				return fmt.Errorf("persistence: %w", err)
			}
			s.store = store
			s.logger.Info(ctx, "using postgres store")
		} else {
			s.store = persistence.NewMemoryStore()
			s.logger.Info(ctx, "using in-memory store")
		}
	}

	// Snapshot cache with background sweep.
	s.snapshots = cache.New[model.DecodedEvent](
		cache.WithCapacity[model.DecodedEvent](s.cacheCapacity),
		cache.WithDefaultTTL[model.DecodedEvent](s.cacheTTL),
		cache.WithSweepInterval[model.DecodedEvent](s.cacheSweep),
	)
	s.snapshots.Start(runCtx)

	// Broadcast fan-out and its subscribers.
	s.broadcaster = stream.NewBroadcaster(stream.WithSubscriberBuffer(s.subscriberBuffer))
	s.engine = analytics.New(s.broadcaster,
		analytics.WithTick(s.analyticsTick),
		analytics.WithHistoryCapacity(s.analyticsHistory),
	)
	s.engine.Start(runCtx)

	if s.natsURL != "" {
		cfg := natsbridge.DefaultConfig()
		cfg.URL = s.natsURL
		bridge, err := natsbridge.New(cfg, s.broadcaster)
		if err != nil {
			cancel()
			return fmt.Errorf("nats bridge: %w", err)
		}
		s.bridge = bridge
		s.bridge.Start(runCtx)
		s.logger.Info(ctx, "nats bridge enabled")
	}

	// Distributor and listener nodes.
	strategy, err := balancer.NewStrategy(s.strategy)
	if err != nil {
		cancel()
		return fmt.Errorf("strategy: %w", err)
	}
	s.distributor = balancer.New(balancer.WithStrategy(strategy))

	s.ingress = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))

	s.listeners = s.listeners[:0]
	for i, addr := range s.listenerAddrs {
		id := balancer.NodeID("node-" + strconv.Itoa(i))
		node, err := s.distributor.AddNode(ctx, id, addr, s.nodeWeight(i))
		if err != nil {
			cancel()
			return fmt.Errorf("add node: %w", err)
		}
		s.listeners = append(s.listeners, udp.NewListener(node, s.ingress, s.distributor))
	}

	// Listeners get their own cancel so ingest can stop while the workers
	// keep their context and drain the queue.
	ingestCtx, ingestCancel := context.WithCancel(runCtx)
	s.ingestCancel = ingestCancel

	supervisor := udp.NewSupervisor(s.listeners)
	s.udpDone = make(chan struct{})
	go func() {
		defer close(s.udpDone)
		if err := supervisor.Run(ingestCtx); err != nil {
			s.logger.Error(context.Background(), "listener supervisor failed", logger.Error(err))
		}
	}()

	// Stream workers.
	validator := validate.New(validate.WithAthleteRegistry(s.athletes))
	s.pool = stream.NewPool(s.workerCount, s.ingress, validator, s.store, s.snapshots, s.broadcaster,
		stream.WithPersistTimeout(s.persistTimeout),
		stream.WithPersistRetries(s.persistRetries),
		stream.WithPersistBackoff(s.persistBackoff),
		stream.WithCacheTTL(s.cacheTTL),
	)
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "scoring pipeline started",
		logger.Int("listeners", len(s.listeners)),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.String("strategy", s.strategy),
	)
	return nil
}

// Stop gracefully shuts down the pipeline: listeners first, then workers
// drain the queue, then the subscribers and stores.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping scoring pipeline...")

	// Stop ingest first so no new events arrive while draining. The run
	// context stays alive until the workers have drained the queue and
	// finished their in-flight persistence calls.
	s.ingestCancel()
	select {
	case <-s.udpDone:
	case <-time.After(5 * time.Second):
		s.logger.Warn(ctx, "listener shutdown timed out")
	}

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
	}

	s.engine.Stop()
	if s.bridge != nil {
		s.bridge.Stop()
	}
	s.broadcaster.Close()
	s.snapshots.Stop()
	s.runCancel()
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "scoring pipeline stopped")
}

// nodeWeight returns the weight for the i-th listener, defaulting to 1.
func (s *Service) nodeWeight(i int) int {
	if i < len(s.weights) && s.weights[i] > 0 {
		return s.weights[i]
	}
	return 1
}

// Enqueue pushes a decoded event onto the ingress queue, bypassing the UDP
// listeners. Returns false on backpressure.
func (s *Service) Enqueue(ctx context.Context, e model.DecodedEvent) bool {
	return s.ingress.Enqueue(ctx, e)
}

// Subscribe registers a broadcast subscriber, e.g. an external overlay feed.
func (s *Service) Subscribe(name string) (<-chan model.DecodedEvent, func()) {
	return s.broadcaster.Subscribe(name)
}

// Distributor exposes the node control surface.
func (s *Service) Distributor() *balancer.Distributor {
	return s.distributor
}

// Store exposes the persistence collaborator for queries.
func (s *Service) Store() persistence.Store {
	return s.store
}

// CacheGet returns the cached snapshot under (scope, key) if present and live.
func (s *Service) CacheGet(ctx context.Context, scope, key string) (model.DecodedEvent, bool) {
	return s.snapshots.Get(ctx, scope, key)
}

// CacheInvalidateScope drops every cache entry at or under the scope.
func (s *Service) CacheInvalidateScope(ctx context.Context, scope string) int {
	return s.snapshots.InvalidateScope(ctx, scope)
}

// CacheStats returns cache hit/miss/eviction counters.
func (s *Service) CacheStats() cache.Stats {
	return s.snapshots.Stats()
}

// Latest returns the most recent analytics snapshot for a scope.
func (s *Service) Latest(scope string) (analytics.Snapshot, bool) {
	return s.engine.Latest(scope)
}

// History returns up to limit snapshots for a scope, most recent first.
func (s *Service) History(scope string, limit int) []analytics.Snapshot {
	return s.engine.History(scope, limit)
}

// Scopes returns every scope with at least one retained snapshot.
func (s *Service) Scopes() []string {
	return s.engine.Scopes()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"worker_count": s.workerCount,
		"queue_size":   s.queueSize,
	}

	if s.started {
		stats["queue_length"] = s.ingress.Len(ctx)
		stats["cache"] = s.snapshots.Stats()
		stats["distributor"] = s.distributor.Stats()
		stats["subscribers"] = s.broadcaster.SubscriberCount()
		stats["events_stored"] = s.store.Count(ctx)
	}

	return stats
}
