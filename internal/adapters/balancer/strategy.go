package balancer

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Strategy selects one node from a set of healthy candidates. Implementations
// must be safe for concurrent use. The candidate slice is never empty and
// preserves the distributor's registration order.
type Strategy interface {
	// Name identifies the strategy for configuration and metrics.
	Name() string

	// Select picks a node for the given routing key (may be empty for
	// key-agnostic strategies).
	Select(nodes []*Node, key string) (*Node, error)
}

// Strategy names accepted by configuration.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyLeastConnections = "least_connections"
	StrategyWeightedRR       = "weighted_round_robin"
	StrategyConsistentHash   = "consistent_hash"
)

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case StrategyLeastConnections:
		return NewLeastConnections(), nil
	case StrategyWeightedRR:
		return NewWeightedRoundRobin(), nil
	case StrategyConsistentHash:
		return NewConsistentHash(), nil
	default:
		return nil, ErrUnknownStrategy
	}
}

// RoundRobin cycles over the candidate set. O(1) and fair under uniform load.
type RoundRobin struct {
	next atomic.Uint64
}

// NewRoundRobin creates a RoundRobin strategy.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

// Name implements Strategy.
func (r *RoundRobin) Name() string { return StrategyRoundRobin }

// Select implements Strategy.
func (r *RoundRobin) Select(nodes []*Node, _ string) (*Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoAvailableNode
	}
	idx := (r.next.Add(1) - 1) % uint64(len(nodes))
	return nodes[idx], nil
}

// LeastConnections picks the candidate with the fewest open connections. Ties
// are broken by cyclic order over the candidate set so repeated ties spread
// deterministically instead of pinning the first node.
type LeastConnections struct {
	cursor atomic.Uint64
}

// NewLeastConnections creates a LeastConnections strategy.
func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

// Name implements Strategy.
func (l *LeastConnections) Name() string { return StrategyLeastConnections }

// Select implements Strategy.
func (l *LeastConnections) Select(nodes []*Node, _ string) (*Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoAvailableNode
	}

	start := int((l.cursor.Add(1) - 1) % uint64(len(nodes)))
	best := nodes[start]
	bestConns := best.OpenConns()
	for i := 1; i < len(nodes); i++ {
		candidate := nodes[(start+i)%len(nodes)]
		if conns := candidate.OpenConns(); conns < bestConns {
			best = candidate
			bestConns = conns
		}
	}
	return best, nil
}

// WeightedRoundRobin gives each node selection slots proportional to its
// static weight via a repeating expanded sequence (no randomization, so any
// window of sum-of-weights selections is exactly proportional).
type WeightedRoundRobin struct {
	mu        sync.Mutex
	signature string
	sequence  []int // indexes into the candidate slice
	pos       int
}

// NewWeightedRoundRobin creates a WeightedRoundRobin strategy.
func NewWeightedRoundRobin() *WeightedRoundRobin { return &WeightedRoundRobin{} }

// Name implements Strategy.
func (w *WeightedRoundRobin) Name() string { return StrategyWeightedRR }

// Select implements Strategy.
func (w *WeightedRoundRobin) Select(nodes []*Node, _ string) (*Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoAvailableNode
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if sig := nodeSignature(nodes); sig != w.signature {
		w.rebuildLocked(nodes, sig)
	}

	idx := w.sequence[w.pos]
	w.pos = (w.pos + 1) % len(w.sequence)
	return nodes[idx], nil
}

// rebuildLocked expands the weighted sequence for a new candidate set and
// restarts the cycle.
func (w *WeightedRoundRobin) rebuildLocked(nodes []*Node, sig string) {
	total := 0
	for _, n := range nodes {
		total += n.Weight()
	}
	seq := make([]int, 0, total)
	for i, n := range nodes {
		for s := 0; s < n.Weight(); s++ {
			seq = append(seq, i)
		}
	}
	w.signature = sig
	w.sequence = seq
	w.pos = 0
}

// ConsistentHash places nodes and routing keys on a hash ring; a key routes to
// the first node at or after its position. Adding or removing a node remaps
// only the adjacent arc, keeping in-flight matches pinned.
type ConsistentHash struct {
	mu        sync.Mutex
	signature string
	ring      *hashRing
}

// NewConsistentHash creates a ConsistentHash strategy.
func NewConsistentHash() *ConsistentHash { return &ConsistentHash{} }

// Name implements Strategy.
func (c *ConsistentHash) Name() string { return StrategyConsistentHash }

// Select implements Strategy.
func (c *ConsistentHash) Select(nodes []*Node, key string) (*Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoAvailableNode
	}

	c.mu.Lock()
	if sig := nodeSignature(nodes); sig != c.signature {
		c.ring = newHashRing(nodes)
		c.signature = sig
	}
	ring := c.ring
	c.mu.Unlock()

	return ring.lookup(key), nil
}

// nodeSignature fingerprints a candidate set (ids and weights in order) so
// stateful strategies can detect membership changes.
func nodeSignature(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(string(n.ID()))
		b.WriteByte('#')
		b.WriteString(strconv.Itoa(n.Weight()))
		b.WriteByte(';')
	}
	return b.String()
}
