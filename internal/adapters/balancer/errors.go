package balancer

import "errors"

// Sentinel kinds for distributor errors.
var (
	// ErrNoAvailableNode is returned when every node is unhealthy or the node
	// set is empty. Callers must queue or drop per policy, never block.
	ErrNoAvailableNode = errors.New("no available node")
	ErrNodeExists      = errors.New("node already registered")
	ErrNodeNotFound    = errors.New("node not found")
	ErrDrainTimeout    = errors.New("node drain timed out")
	ErrUnknownStrategy = errors.New("unknown balancing strategy")
)
