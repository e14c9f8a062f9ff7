// Package analytics folds the broadcast stream into rolling per-scope
// snapshots on a fixed tick, keeping a bounded history ring per scope.
package analytics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/scorepipe/scorepipe/internal/domain/model"
	"github.com/scorepipe/scorepipe/pkg/logger"
	"github.com/scorepipe/scorepipe/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultTick            = 2 * time.Second
	defaultHistoryCapacity = 64
	subscriberName         = "analytics"
)

// ScopeSystem is the root scope every event contributes to.
const ScopeSystem = "system"

// Snapshot is an immutable per-scope aggregate emitted on each tick where the
// scope changed. Maps are copies; callers may retain snapshots indefinitely.
type Snapshot struct {
	Scope       string         `json:"scope"`
	GeneratedAt time.Time      `json:"generated_at"`
	TotalEvents uint64         `json:"total_events"`
	TickEvents  uint64         `json:"tick_events"`
	Throughput  float64        `json:"throughput"` // events/sec over the last tick
	ErrorRate   float64        `json:"error_rate"` // share of non-recognized events, cumulative
	Points      map[string]int `json:"points"`     // athlete id -> cumulative point total
	Warnings    map[string]int `json:"warnings"`   // athlete id -> cumulative warning count
	HitLevels   map[string]int `json:"hit_levels"` // athlete id -> highest hit level seen
}

// accumulator is the rolling state for one scope. Owned exclusively by the
// engine loop; never read concurrently.
type accumulator struct {
	totalEvents uint64
	errorEvents uint64
	tickEvents  uint64
	points      map[string]int
	warnings    map[string]int
	hitLevels   map[string]int
	dirty       bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		points:    make(map[string]int),
		warnings:  make(map[string]int),
		hitLevels: make(map[string]int),
	}
}

// ring is a bounded most-recent-first snapshot history.
type ring struct {
	snapshots []Snapshot
	next      int
	size      int
}

func newRing(capacity int) *ring {
	return &ring{snapshots: make([]Snapshot, capacity)}
}

func (r *ring) push(s Snapshot) {
	r.snapshots[r.next] = s
	r.next = (r.next + 1) % len(r.snapshots)
	if r.size < len(r.snapshots) {
		r.size++
	}
}

func (r *ring) latest() (Snapshot, bool) {
	if r.size == 0 {
		return Snapshot{}, false
	}
	idx := (r.next - 1 + len(r.snapshots)) % len(r.snapshots)
	return r.snapshots[idx], true
}

// recent returns up to limit snapshots, most recent first.
func (r *ring) recent(limit int) []Snapshot {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]Snapshot, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.snapshots)) % len(r.snapshots)
		out = append(out, r.snapshots[idx])
	}
	return out
}

// Source is where the engine gets its events, typically the stream broadcaster.
type Source interface {
	Subscribe(name string) (<-chan model.DecodedEvent, func())
}

// Engine aggregates broadcast events into per-scope snapshot history.
type Engine struct {
	source     Source
	tick       time.Duration
	historyCap int

	// Accumulators are touched only by the run loop. Rings are shared with
	// query callers and guarded by mu.
	accumulators map[string]*accumulator
	mu           sync.RWMutex
	rings        map[string]*ring

	cancelSub func()
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	logger logger.Logger
}

// New creates an engine reading from the given source.
func New(source Source, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		tick:         defaultTick,
		historyCap:   defaultHistoryCapacity,
		accumulators: make(map[string]*accumulator),
		rings:        make(map[string]*ring),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger.Get().Named("analytics"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start subscribes to the source and runs the tick loop until ctx is canceled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	events, cancel := e.source.Subscribe(subscriberName)
	e.cancelSub = cancel
	e.logger.Debug(ctx, "analytics engine started", logger.Duration("tick", e.tick))
	go e.run(ctx, events)
}

// Stop terminates the tick loop and unsubscribes. A final tick flushes any
// pending aggregates so nothing consumed is lost. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		<-e.done
		if e.cancelSub != nil {
			e.cancelSub()
		}
	})
}

func (e *Engine) run(ctx context.Context, events <-chan model.DecodedEvent) {
	defer close(e.done)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.emit(time.Since(lastTick))
			return
		case <-e.stop:
			e.emit(time.Since(lastTick))
			return
		case ev, ok := <-events:
			if !ok {
				e.emit(time.Since(lastTick))
				return
			}
			e.fold(ev)
		case <-ticker.C:
			e.emit(time.Since(lastTick))
			lastTick = time.Now()
		}
	}
}

// fold applies one event to every scope it belongs to, from the system root
// down to the athlete.
func (e *Engine) fold(ev model.DecodedEvent) {
	for _, scope := range eventScopes(&ev) {
		acc, ok := e.accumulators[scope]
		if !ok {
			acc = newAccumulator()
			e.accumulators[scope] = acc
		}
		acc.totalEvents++
		acc.tickEvents++
		acc.dirty = true
		if ev.Status != model.StatusRecognized {
			acc.errorEvents++
		}

		if ev.AthleteID == "" {
			continue
		}
		switch ev.Type {
		case model.EventPoint:
			if v, err := strconv.Atoi(ev.Fields["v"]); err == nil {
				acc.points[ev.AthleteID] += v
			}
		case model.EventWarning:
			acc.warnings[ev.AthleteID]++
		case model.EventHitLevel:
			if v, err := strconv.Atoi(ev.Fields["v"]); err == nil && v > acc.hitLevels[ev.AthleteID] {
				acc.hitLevels[ev.AthleteID] = v
			}
		}
	}
}

// emit produces a snapshot for every scope that changed since the last tick.
func (e *Engine) emit(elapsed time.Duration) {
	start := time.Now()
	now := time.Now()

	e.mu.Lock()
	for scope, acc := range e.accumulators {
		if !acc.dirty {
			continue
		}

		s := Snapshot{
			Scope:       scope,
			GeneratedAt: now,
			TotalEvents: acc.totalEvents,
			TickEvents:  acc.tickEvents,
			Points:      copyCounts(acc.points),
			Warnings:    copyCounts(acc.warnings),
			HitLevels:   copyCounts(acc.hitLevels),
		}
		if secs := elapsed.Seconds(); secs > 0 {
			s.Throughput = float64(acc.tickEvents) / secs
		}
		if acc.totalEvents > 0 {
			s.ErrorRate = float64(acc.errorEvents) / float64(acc.totalEvents)
		}

		r, ok := e.rings[scope]
		if !ok {
			r = newRing(e.historyCap)
			e.rings[scope] = r
		}
		r.push(s)

		acc.tickEvents = 0
		acc.dirty = false
		metrics.RecordAnalyticsSnapshot()
	}
	e.mu.Unlock()

	metrics.RecordAnalyticsTickDuration(float64(time.Since(start).Milliseconds()))
}

// Latest returns the most recent snapshot for a scope, if any.
func (e *Engine) Latest(scope string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rings[scope]
	if !ok {
		return Snapshot{}, false
	}
	return r.latest()
}

// History returns up to limit snapshots for a scope, most recent first. A
// non-positive limit returns the full retained history.
func (e *Engine) History(scope string, limit int) []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rings[scope]
	if !ok {
		return nil
	}
	return r.recent(limit)
}

// Scopes returns every scope with at least one retained snapshot.
func (e *Engine) Scopes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	scopes := make([]string, 0, len(e.rings))
	for scope := range e.rings {
		scopes = append(scopes, scope)
	}
	return scopes
}

// eventScopes expands an event into the scope chain it contributes to:
// system, tournament, match, athlete.
func eventScopes(ev *model.DecodedEvent) []string {
	scopes := []string{ScopeSystem}
	s := ""
	if ev.TournamentID != "" {
		s = "tournament/" + ev.TournamentID
		scopes = append(scopes, s)
	}
	if ev.MatchID != "" {
		if s != "" {
			s += "/"
		}
		s += "match/" + ev.MatchID
		scopes = append(scopes, s)
	}
	if ev.AthleteID != "" {
		if s != "" {
			s += "/"
		}
		s += "athlete/" + ev.AthleteID
		scopes = append(scopes, s)
	}
	return scopes
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
