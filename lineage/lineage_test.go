package lineage

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func identity() Transform {
	return TransformFunc(func(_ context.Context, _ int, in []Row) ([]Row, error) {
		return in, nil
	})
}

func TestGraph_Build(t *testing.T) {
	g := NewGraph()
	src := g.AddSource("numbers", SliceSource{{{Key: "a"}}}, 4)
	mapped := g.AddTransform("double", identity(), src)
	reduced := g.AddShuffle("sum", identity(), 2, NewHashKeyPartitioner(), mapped)

	require.Equal(t, 3, g.Len())
	require.Equal(t, 4, g.Node(src).NumPartitions)

	// narrow nodes inherit the first parent's partition count
	require.Equal(t, 4, g.Node(mapped).NumPartitions)
	require.False(t, g.Node(mapped).HasShuffleDep())

	require.Equal(t, 2, g.Node(reduced).NumPartitions)
	require.True(t, g.Node(reduced).HasShuffleDep())
	require.Equal(t, []Dependency{{Parent: mapped, Kind: Shuffle}}, g.Node(reduced).Deps)

	require.Nil(t, g.Node(InvalidNode))
	require.Nil(t, g.Node(NodeID(99)))
}

func TestGraph_Validate(t *testing.T) {
	t.Run("ValidGraph", func(t *testing.T) {
		g := NewGraph()
		src := g.AddSource("src", SliceSource{}, 2)
		out := g.AddShuffle("agg", identity(), 2, NewHashKeyPartitioner(), src)
		require.NoError(t, g.Validate(out))
	})

	t.Run("UnknownTarget", func(t *testing.T) {
		g := NewGraph()
		require.ErrorIs(t, g.Validate(NodeID(3)), ErrUnknownNode)
	})

	t.Run("MissingPartitioner", func(t *testing.T) {
		g := NewGraph()
		src := g.AddSource("src", SliceSource{}, 2)
		out := g.AddShuffle("agg", identity(), 2, nil, src)
		require.ErrorIs(t, g.Validate(out), ErrMissingPartitioner)
	})

	t.Run("NoPartitions", func(t *testing.T) {
		g := NewGraph()
		out := g.AddSource("src", SliceSource{}, 0)
		require.ErrorIs(t, g.Validate(out), ErrNoPartitions)
	})

	t.Run("NoComputation", func(t *testing.T) {
		g := NewGraph()
		src := g.AddSource("src", SliceSource{}, 2)
		out := g.AddTransform("noop", nil, src)
		require.ErrorIs(t, g.Validate(out), ErrNoComputation)
	})

	t.Run("ErrorsAreFatal", func(t *testing.T) {
		g := NewGraph()
		out := g.AddSource("src", SliceSource{}, 0)
		err := g.Validate(out)
		require.True(t, errors.Is(err, ErrNoPartitions))
		require.Contains(t, err.Error(), "src")
	})
}

func TestGraph_Fingerprint(t *testing.T) {
	build := func(name string, numPartitions int) (*Graph, NodeID) {
		g := NewGraph()
		src := g.AddSource("src", SliceSource{}, 4)
		mapped := g.AddTransform(name, identity(), src)
		out := g.AddShuffle("agg", identity(), numPartitions, NewHashKeyPartitioner(), mapped)
		return g, out
	}

	g1, t1 := build("double", 2)
	g2, t2 := build("double", 2)
	require.Equal(t, g1.Fingerprint(t1), g2.Fingerprint(t2),
		"identical lineage must share a fingerprint across submissions")

	g3, t3 := build("triple", 2)
	require.NotEqual(t, g1.Fingerprint(t1), g3.Fingerprint(t3),
		"node names take part in the fingerprint")

	g4, t4 := build("double", 3)
	require.NotEqual(t, g1.Fingerprint(t1), g4.Fingerprint(t4),
		"partition counts take part in the fingerprint")

	// the fingerprint of an inner node ignores everything downstream of it
	require.Equal(t, g1.Fingerprint(NodeID(0)), g4.Fingerprint(NodeID(0)))
}
