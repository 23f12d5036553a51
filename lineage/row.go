package lineage

import "context"

// Row is a single keyed record flowing through the engine.
type Row struct {
	Key   string
	Value []byte
}

// Transform computes one output partition of a node from its narrow inputs.
// It must be deterministic: recomputation after data loss replays the same
// lineage chain and is expected to reproduce bit-identical output.
type Transform interface {
	Apply(ctx context.Context, partition int, in []Row) ([]Row, error)
}

// TransformFunc adapts a plain function to Transform.
type TransformFunc func(ctx context.Context, partition int, in []Row) ([]Row, error)

func (f TransformFunc) Apply(ctx context.Context, partition int, in []Row) ([]Row, error) {
	return f(ctx, partition, in)
}

// Source provides the input rows of a leaf node, split into partitions.
type Source interface {
	Read(ctx context.Context, partition int) ([]Row, error)
}

// SliceSource serves pre-partitioned in-memory rows. Mostly for tests and
// small inline inputs.
type SliceSource [][]Row

func (s SliceSource) Read(_ context.Context, partition int) ([]Row, error) {
	if partition < 0 || partition >= len(s) {
		return nil, nil
	}
	return s[partition], nil
}

// Combiner merges two values sharing a key. Implementations must be
// associative and commutative.
type Combiner interface {
	Combine(a, b []byte) []byte
}

// CombinerFunc adapts a plain function to Combiner.
type CombinerFunc func(a, b []byte) []byte

func (f CombinerFunc) Combine(a, b []byte) []byte { return f(a, b) }
