package lineage

import (
	"github.com/segmentio/fasthash/fnv1a"
)

// Fingerprint computes a deterministic hash of the subgraph reachable from
// target. Two submissions share a fingerprint exactly when they would compute
// the same data, so it identifies stages and shuffle output across jobs.
//
// Node names take part in the hash: callers that want cached shuffle output
// reused must keep transformation names stable between submissions.
func (g *Graph) Fingerprint(target NodeID) uint64 {
	memo := make(map[NodeID]uint64, len(g.nodes))
	return g.fingerprint(target, memo)
}

func (g *Graph) fingerprint(id NodeID, memo map[NodeID]uint64) uint64 {
	if !g.contains(id) {
		return 0
	}
	if h, ok := memo[id]; ok {
		return h
	}
	n := &g.nodes[id]

	h := fnv1a.HashString64(n.Name)
	h = fnv1a.AddUint64(h, uint64(n.NumPartitions))
	for _, d := range n.Deps {
		h = fnv1a.AddUint64(h, uint64(d.Kind))
		h = fnv1a.AddUint64(h, g.fingerprint(d.Parent, memo))
	}
	memo[id] = h
	return h
}
