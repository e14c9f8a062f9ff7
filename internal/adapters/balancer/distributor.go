package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scorepipe/scorepipe/pkg/logger"
	"github.com/scorepipe/scorepipe/pkg/metrics"
)

// Default distributor configuration constants.
const (
	defaultDrainTimeout  = 10 * time.Second
	defaultDrainInterval = 50 * time.Millisecond
)

// Outcome reports how a node handled assigned work.
type Outcome int

// Outcomes for RecordResult.
const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Distributor owns the ordered set of listener nodes and assigns new traffic
// to them via the configured strategy. Unhealthy nodes are excluded from
// selection but retained, and restored on the next successful heartbeat.
type Distributor struct {
	mu       sync.RWMutex
	nodes    []*Node
	strategy Strategy

	drainTimeout time.Duration

	logger logger.Logger
}

// Option applies a configuration option to the Distributor.
type Option func(*Distributor)

// WithStrategy sets the selection strategy.
func WithStrategy(s Strategy) Option {
	return func(d *Distributor) {
		if s != nil {
			d.strategy = s
		}
	}
}

// WithDrainTimeout bounds how long RemoveNode waits for in-flight work.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Distributor) {
		if timeout > 0 {
			d.drainTimeout = timeout
		}
	}
}

// WithLogger sets a custom logger for the distributor.
func WithLogger(l logger.Logger) Option {
	return func(d *Distributor) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Distributor with the given options.
func New(opts ...Option) *Distributor {
	d := &Distributor{
		strategy:     NewRoundRobin(),
		drainTimeout: defaultDrainTimeout,
		logger:       logger.Get().Named("distributor"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// AddNode registers a new listener node. The node starts healthy.
func (d *Distributor) AddNode(ctx context.Context, id NodeID, addr string, weight int) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range d.nodes {
		if n.ID() == id {
			return nil, fmt.Errorf("add node %s: %w", id, ErrNodeExists)
		}
	}

	n := NewNode(id, addr, weight)
	d.nodes = append(d.nodes, n)
	metrics.UpdateNodeHealthy(string(id), true)

	d.logger.Info(ctx, "node registered",
		logger.String("node", string(id)),
		logger.String("addr", addr),
		logger.Int("weight", weight),
	)
	return n, nil
}

// RemoveNode gracefully removes a node: it is excluded from selection at once,
// then the call waits for in-flight work to drain before unregistering. On
// drain timeout the node is removed anyway and ErrDrainTimeout returned.
func (d *Distributor) RemoveNode(ctx context.Context, id NodeID) error {
	n, err := d.Node(id)
	if err != nil {
		return err
	}

	// Exclude from selection while draining.
	n.SetHealthy(false)
	metrics.UpdateNodeHealthy(string(id), false)

	drainErr := d.waitDrained(ctx, n)

	d.mu.Lock()
	for i, cur := range d.nodes {
		if cur.ID() == id {
			d.nodes = append(d.nodes[:i], d.nodes[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	d.logger.Info(ctx, "node removed", logger.String("node", string(id)))
	return drainErr
}

// waitDrained polls until the node has no open work, the drain timeout
// expires, or ctx is canceled.
func (d *Distributor) waitDrained(ctx context.Context, n *Node) error {
	deadline := time.NewTimer(d.drainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(defaultDrainInterval)
	defer tick.Stop()

	for {
		if n.OpenConns() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain node %s: %w", n.ID(), ctx.Err())
		case <-deadline.C:
			d.logger.Warn(ctx, "node drain timed out",
				logger.String("node", string(n.ID())),
				logger.Int64("open_conns", n.OpenConns()),
			)
			return fmt.Errorf("drain node %s: %w", n.ID(), ErrDrainTimeout)
		case <-tick.C:
		}
	}
}

// Select picks a healthy node for the routing key and opens one unit of work
// on it. Callers must pair every successful Select with a RecordResult.
// Returns ErrNoAvailableNode when every node is unhealthy; it never blocks.
func (d *Distributor) Select(ctx context.Context, key string) (*Node, error) {
	d.mu.RLock()
	healthy := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		if n.Healthy() {
			healthy = append(healthy, n)
		}
	}
	strategy := d.strategy
	d.mu.RUnlock()

	if len(healthy) == 0 {
		metrics.RecordBalancerNoNode()
		return nil, ErrNoAvailableNode
	}

	n, err := strategy.Select(healthy, key)
	if err != nil {
		metrics.RecordBalancerNoNode()
		return nil, err
	}

	n.openConns.Add(1)
	metrics.RecordBalancerSelection(strategy.Name())
	return n, nil
}

// RecordResult closes one unit of work opened by Select and records its
// outcome on the node's counters.
func (d *Distributor) RecordResult(id NodeID, outcome Outcome) {
	n, err := d.Node(id)
	if err != nil {
		return
	}

	n.openConns.Add(-1)
	switch outcome {
	case OutcomeSuccess:
		n.processed.Add(1)
		metrics.RecordNodeProcessed(string(id))
	case OutcomeFailure:
		n.failures.Add(1)
	}
}

// Heartbeat reports a health probe result for a node. A successful heartbeat
// restores an unhealthy node to the selectable set immediately.
func (d *Distributor) Heartbeat(ctx context.Context, id NodeID, ok bool) error {
	n, err := d.Node(id)
	if err != nil {
		return err
	}

	was := n.Healthy()
	n.SetHealthy(ok)
	metrics.UpdateNodeHealthy(string(id), ok)

	if was != ok {
		d.logger.Warn(ctx, "node health changed",
			logger.String("node", string(id)),
			logger.Any("healthy", ok),
		)
	}
	return nil
}

// SetStrategy swaps the selection strategy at runtime.
func (d *Distributor) SetStrategy(s Strategy) {
	if s == nil {
		return
	}
	d.mu.Lock()
	d.strategy = s
	d.mu.Unlock()
}

// Node returns the registered node with the given id.
func (d *Distributor) Node(id NodeID) (*Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, n := range d.nodes {
		if n.ID() == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
}

// Stats reports the control-surface view of the distributor.
type Stats struct {
	Strategy string      `json:"strategy"`
	Nodes    []NodeStats `json:"nodes"`
}

// Stats returns per-node and aggregate statistics.
func (d *Distributor) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{Strategy: d.strategy.Name()}
	for _, n := range d.nodes {
		s.Nodes = append(s.Nodes, n.stats())
	}
	return s
}
