package lineage

// NodeID addresses a node inside a Graph's arena.
type NodeID int32

// InvalidNode is returned by lookups that found nothing.
const InvalidNode NodeID = -1

// DepKind is a closed set of dependency kinds. Exhaustive switches over it
// are what keeps stage cutting correct, so it is deliberately not an
// open interface.
type DepKind uint8

const (
	// Narrow dependency: each child partition reads exactly one parent
	// partition. Pipelined without materialization.
	Narrow DepKind = iota

	// Shuffle dependency: each child partition may read from every parent
	// partition. Requires redistributing rows by key.
	Shuffle
)

func (k DepKind) String() string {
	switch k {
	case Narrow:
		return "narrow"
	case Shuffle:
		return "shuffle"
	}
	return "unknown"
}

// Dependency is an edge from a node to one of its parents.
// Parents are referenced by ID, never owned; multiple downstream nodes may
// share the same parent.
type Dependency struct {
	Parent NodeID  `json:"parent"`
	Kind   DepKind `json:"kind"`
}

// Node is a single transformation in the lineage graph. Its partition count
// and partitioner are fixed at construction.
type Node struct {
	ID   NodeID `json:"id"`
	Name string `json:"name"`

	Deps []Dependency `json:"deps"`

	// NumPartitions is the number of output partitions the node produces.
	NumPartitions int `json:"numPartitions"`

	// Partitioner routes rows into this node's input partitions. It is set
	// only on nodes with a Shuffle dependency, and consulted by the map side
	// of the shuffle feeding them.
	Partitioner Partitioner `json:"-"`

	// Combiner optionally pre-aggregates rows sharing a key before they cross
	// the shuffle. It must be associative and commutative; partial merges can
	// happen map-side, in flight, or reduce-side in any order.
	Combiner Combiner `json:"-"`

	Transform Transform `json:"-"`
	Source    Source    `json:"-"`
}

// HasShuffleDep reports whether any of the node's dependencies is wide.
func (n *Node) HasShuffleDep() bool {
	for _, d := range n.Deps {
		if d.Kind == Shuffle {
			return true
		}
	}
	return false
}

// Graph is an immutable-once-submitted DAG of transformations. Nodes live in
// an arena indexed by NodeID; children refer to parents by ID so subgraphs
// can be shared across jobs without ownership ambiguity.
type Graph struct {
	nodes []Node
}

func NewGraph() *Graph {
	return &Graph{}
}

// AddSource adds a leaf node reading external input split into numPartitions.
func (g *Graph) AddSource(name string, src Source, numPartitions int) NodeID {
	return g.add(Node{
		Name:          name,
		NumPartitions: numPartitions,
		Source:        src,
	})
}

// AddTransform adds a narrow transformation over the given parents.
// Its partition count follows the first parent; each output partition is
// computed from the matching parent partitions only.
func (g *Graph) AddTransform(name string, fn Transform, parents ...NodeID) NodeID {
	n := Node{
		Name:      name,
		Transform: fn,
	}
	for _, p := range parents {
		n.Deps = append(n.Deps, Dependency{Parent: p, Kind: Narrow})
	}
	if len(parents) > 0 && g.contains(parents[0]) {
		n.NumPartitions = g.nodes[parents[0]].NumPartitions
	}
	return g.add(n)
}

// AddShuffle adds a transformation behind a shuffle boundary. Rows from all
// parents are redistributed into numPartitions buckets by the partitioner
// before fn runs.
func (g *Graph) AddShuffle(name string, fn Transform, numPartitions int, p Partitioner, parents ...NodeID) NodeID {
	n := Node{
		Name:          name,
		Transform:     fn,
		NumPartitions: numPartitions,
		Partitioner:   p,
	}
	for _, parent := range parents {
		n.Deps = append(n.Deps, Dependency{Parent: parent, Kind: Shuffle})
	}
	return g.add(n)
}

// WithCombiner sets a map-side pre-aggregation on a shuffle node.
func (g *Graph) WithCombiner(id NodeID, c Combiner) {
	if g.contains(id) {
		g.nodes[id].Combiner = c
	}
}

func (g *Graph) add(n Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return n.ID
}

// Node returns the node stored under id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if !g.contains(id) {
		return nil
	}
	return &g.nodes[id]
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) contains(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}
