package planner

import (
	"github.com/driftlab/cascade/lineage"
	"github.com/pkg/errors"
	"github.com/segmentio/fasthash/fnv1a"
)

// ShuffleLookup answers whether materialized shuffle output is still fully
// registered. The planner uses it to mark reusable map stages on
// resubmission instead of re-executing them.
type ShuffleLookup interface {
	HasCompleteOutput(shuffleID string) bool
}

// Planner cuts a lineage graph into an ordered list of executable stages.
type Planner struct {
	shuffles ShuffleLookup
}

func New(shuffles ShuffleLookup) *Planner {
	return &Planner{shuffles: shuffles}
}

// Plan walks parents depth-first from target, cutting the graph at every
// shuffle dependency. Narrow dependencies are folded into the current
// stage's node set; each shuffle dependency seeds an earlier map stage.
// The returned slice is topologically ordered with the result stage last.
//
// Stages reached through multiple downstream paths are planned once and
// shared, keyed by lineage fingerprint.
func (p *Planner) Plan(g *lineage.Graph, target lineage.NodeID) ([]*Stage, error) {
	if err := g.Validate(target); err != nil {
		return nil, errors.Wrap(err, "malformed lineage graph")
	}

	b := &builder{g: g, planner: p, stages: map[string]*Stage{}}
	b.build(target, nil, ResultStage)
	return b.order, nil
}

type builder struct {
	g       *lineage.Graph
	planner *Planner
	stages  map[string]*Stage
	order   []*Stage
}

// boundary is one shuffle edge found at the frontier of a stage.
type boundary struct {
	consumer lineage.NodeID
	parent   lineage.NodeID
}

func (b *builder) build(seed lineage.NodeID, consumer *lineage.Node, kind StageKind) *Stage {
	fp := b.g.Fingerprint(seed)
	if kind == MapStage {
		// A map stage exists per shuffle edge: the same parent feeding two
		// differently-partitioned consumers materializes twice.
		fp = fnv1a.AddString64(fp, consumer.Name)
		fp = fnv1a.AddUint64(fp, uint64(consumer.NumPartitions))
	}
	id := stageID(b.g.Node(seed).Name, fp)
	if st, ok := b.stages[id]; ok {
		return st
	}

	nodes, boundaries := b.collect(seed)
	st := &Stage{
		ID:            id,
		Kind:          kind,
		Nodes:         nodes,
		NumPartitions: b.g.Node(seed).NumPartitions,
		Fingerprint:   fp,
	}
	for _, bd := range boundaries {
		parent := b.build(bd.parent, b.g.Node(bd.consumer), MapStage)
		if !contains(st.Parents, parent.ID) {
			st.Parents = append(st.Parents, parent.ID)
		}
	}
	if kind == MapStage {
		st.ShuffleID = st.ID
		st.OutputPartitions = consumer.NumPartitions
		st.OutputPartitioner = consumer.Partitioner
		st.OutputCombiner = consumer.Combiner
		if b.planner.shuffles != nil && b.planner.shuffles.HasCompleteOutput(st.ShuffleID) {
			st.CachedOutput = true
		}
	}
	b.stages[id] = st
	b.order = append(b.order, st)
	return st
}

// collect gathers the narrow-dependency chain ending at seed in topological
// order, stopping at shuffle edges.
func (b *builder) collect(seed lineage.NodeID) ([]lineage.NodeID, []boundary) {
	var (
		nodes      []lineage.NodeID
		boundaries []boundary
		visited    = map[lineage.NodeID]bool{}
	)
	var walk func(id lineage.NodeID)
	walk = func(id lineage.NodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, d := range b.g.Node(id).Deps {
			switch d.Kind {
			case lineage.Narrow:
				walk(d.Parent)
			case lineage.Shuffle:
				boundaries = append(boundaries, boundary{consumer: id, parent: d.Parent})
			}
		}
		nodes = append(nodes, id)
	}
	walk(seed)
	return nodes, boundaries
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
