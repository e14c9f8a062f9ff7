// Package balancer distributes inbound traffic across listener nodes.
package balancer

import (
	"sync/atomic"
)

// NodeID identifies a listener node.
type NodeID string

// Node wraps one listener endpoint with health and load bookkeeping. Counters
// are atomics: the owning listener and the distributor update them without a
// shared lock.
type Node struct {
	id     NodeID
	addr   string
	weight int

	healthy   atomic.Bool
	openConns atomic.Int64
	processed atomic.Uint64
	failures  atomic.Uint64
}

// NewNode creates a node for the given bind address. Weight is a static
// capacity hint; values below 1 are clamped to 1.
func NewNode(id NodeID, addr string, weight int) *Node {
	if weight < 1 {
		weight = 1
	}
	n := &Node{
		id:     id,
		addr:   addr,
		weight: weight,
	}
	n.healthy.Store(true)
	return n
}

// ID returns the node identity.
func (n *Node) ID() NodeID { return n.id }

// Addr returns the node bind address.
func (n *Node) Addr() string { return n.addr }

// Weight returns the static capacity hint.
func (n *Node) Weight() int { return n.weight }

// Healthy reports the rolling health flag.
func (n *Node) Healthy() bool { return n.healthy.Load() }

// SetHealthy updates the rolling health flag.
func (n *Node) SetHealthy(ok bool) { n.healthy.Store(ok) }

// OpenConns returns the current open-connection count.
func (n *Node) OpenConns() int64 { return n.openConns.Load() }

// Processed returns the cumulative processed-event counter.
func (n *Node) Processed() uint64 { return n.processed.Load() }

// Failures returns the cumulative failed-outcome counter.
func (n *Node) Failures() uint64 { return n.failures.Load() }

// RecordProcessed increments the processed-event counter. Called by the node's
// own processing loop.
func (n *Node) RecordProcessed() { n.processed.Add(1) }

// RecordFailure increments the failed-outcome counter. Called by the node's
// own processing loop when a datagram is dropped.
func (n *Node) RecordFailure() { n.failures.Add(1) }

// NodeStats is a read-only snapshot of one node, for the control surface.
type NodeStats struct {
	ID        NodeID `json:"id"`
	Addr      string `json:"addr"`
	Weight    int    `json:"weight"`
	Healthy   bool   `json:"healthy"`
	OpenConns int64  `json:"open_conns"`
	Processed uint64 `json:"processed"`
	Failures  uint64 `json:"failures"`
}

// stats captures the node counters.
func (n *Node) stats() NodeStats {
	return NodeStats{
		ID:        n.id,
		Addr:      n.addr,
		Weight:    n.weight,
		Healthy:   n.healthy.Load(),
		OpenConns: n.openConns.Load(),
		Processed: n.processed.Load(),
		Failures:  n.failures.Load(),
	}
}
