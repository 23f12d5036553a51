package lineage

import (
	"github.com/pkg/errors"
)

// Malformed graphs are fatal configuration errors: they are rejected before
// any stage executes and are never retried.
var (
	ErrCycle              = errors.New("lineage graph contains a cycle")
	ErrUnknownNode        = errors.New("dependency references unknown node")
	ErrMissingPartitioner = errors.New("shuffle-dependency node has no partitioner")
	ErrNoPartitions       = errors.New("node must have at least one partition")
	ErrNoComputation      = errors.New("node has neither transform nor source")
)

// Validate checks the subgraph reachable from target. It is called once at
// submission; a passing graph can be planned and executed without further
// structural checks.
func (g *Graph) Validate(target NodeID) error {
	if !g.contains(target) {
		return errors.Wrapf(ErrUnknownNode, "target %d", target)
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]uint8, len(g.nodes))

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return errors.Wrapf(ErrCycle, "through node %q", g.nodes[id].Name)
		}
		state[id] = visiting

		n := &g.nodes[id]
		if n.NumPartitions <= 0 {
			return errors.Wrapf(ErrNoPartitions, "node %q", n.Name)
		}
		if n.Transform == nil && n.Source == nil {
			return errors.Wrapf(ErrNoComputation, "node %q", n.Name)
		}
		if n.HasShuffleDep() && n.Partitioner == nil {
			return errors.Wrapf(ErrMissingPartitioner, "node %q", n.Name)
		}
		for _, d := range n.Deps {
			if !g.contains(d.Parent) {
				return errors.Wrapf(ErrUnknownNode, "node %q depends on %d", n.Name, d.Parent)
			}
			if err := visit(d.Parent); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	return visit(target)
}
