package balancer

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// virtualNodesPerWeight controls ring granularity: each node contributes this
// many points per weight unit, which keeps arcs small enough that removing a
// node spreads its keys across the survivors roughly evenly.
const virtualNodesPerWeight = 100

// hashRing is an immutable consistent-hash ring over a node set. Rebuilt
// whenever membership changes; lookups are lock-free.
type hashRing struct {
	points []uint64
	owners map[uint64]*Node
}

// newHashRing builds a ring for the given candidate set.
func newHashRing(nodes []*Node) *hashRing {
	r := &hashRing{
		owners: make(map[uint64]*Node),
	}
	for _, n := range nodes {
		replicas := virtualNodesPerWeight * n.Weight()
		for v := 0; v < replicas; v++ {
			h := xxhash.Sum64String(string(n.ID()) + "#" + strconv.Itoa(v))
			// Hash collisions between virtual nodes are resolved first-wins;
			// with 64-bit hashes they are effectively nonexistent.
			if _, taken := r.owners[h]; taken {
				continue
			}
			r.owners[h] = n
			r.points = append(r.points, h)
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	return r
}

// lookup routes a key to the first node at or after its hash position,
// wrapping around at the end of the ring.
func (r *hashRing) lookup(key string) *Node {
	if len(r.points) == 0 {
		return nil
	}
	h := xxhash.Sum64String(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.owners[r.points[i]]
}
