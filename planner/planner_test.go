package planner

import (
	"context"
	"testing"

	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/shuffle"
	"github.com/stretchr/testify/require"
)

func identity() lineage.Transform {
	return lineage.TransformFunc(func(_ context.Context, _ int, in []lineage.Row) ([]lineage.Row, error) {
		return in, nil
	})
}

func TestPlan_NarrowChainIsOneStage(t *testing.T) {
	g := lineage.NewGraph()
	src := g.AddSource("src", lineage.SliceSource{}, 4)
	a := g.AddTransform("a", identity(), src)
	b := g.AddTransform("b", identity(), a)

	stages, err := New(nil).Plan(g, b)
	require.NoError(t, err)
	require.Len(t, stages, 1)

	st := stages[0]
	require.Equal(t, ResultStage, st.Kind)
	require.Equal(t, []lineage.NodeID{src, a, b}, st.Nodes)
	require.Equal(t, 4, st.NumPartitions)
	require.Empty(t, st.Parents)
	require.Equal(t, b, st.OutputNode())
	require.Equal(t, "b", st.Name())
}

func TestPlan_CutsAtShuffleBoundaries(t *testing.T) {
	// src -> map -> [shuffle] -> reduce -> [shuffle] -> top
	g := lineage.NewGraph()
	src := g.AddSource("src", lineage.SliceSource{}, 4)
	mapped := g.AddTransform("map", identity(), src)
	reduced := g.AddShuffle("reduce", identity(), 3, lineage.NewHashKeyPartitioner(), mapped)
	top := g.AddShuffle("top", identity(), 1, lineage.NewHashKeyPartitioner(), reduced)

	stages, err := New(nil).Plan(g, top)
	require.NoError(t, err)
	require.Len(t, stages, 3)

	first, second, result := stages[0], stages[1], stages[2]

	require.Equal(t, MapStage, first.Kind)
	require.Equal(t, []lineage.NodeID{src, mapped}, first.Nodes)
	require.Equal(t, 4, first.NumPartitions)
	require.Equal(t, 3, first.OutputPartitions)
	require.NotEmpty(t, first.ShuffleID)

	require.Equal(t, MapStage, second.Kind)
	require.Equal(t, []lineage.NodeID{reduced}, second.Nodes)
	require.Equal(t, 3, second.NumPartitions)
	require.Equal(t, 1, second.OutputPartitions)
	require.Equal(t, []string{first.ID}, second.Parents)

	require.Equal(t, ResultStage, result.Kind)
	require.Equal(t, []lineage.NodeID{top}, result.Nodes)
	require.Equal(t, 1, result.NumPartitions)
	require.Equal(t, []string{second.ID}, result.Parents)
}

func TestPlan_NarrowWorkFoldsIntoMapStage(t *testing.T) {
	// a source and two pipelined transforms feed one shuffle consumer; the
	// narrow chain stays in the 4-partition map stage, the consumer becomes
	// a 2-partition result stage.
	g := lineage.NewGraph()
	src := g.AddSource("src", lineage.SliceSource{}, 4)
	parsed := g.AddTransform("parse", identity(), src)
	keyed := g.AddTransform("key", identity(), parsed)
	agg := g.AddShuffle("agg", identity(), 2, lineage.NewHashKeyPartitioner(), keyed)

	stages, err := New(nil).Plan(g, agg)
	require.NoError(t, err)
	require.Len(t, stages, 2)

	mapStage, result := stages[0], stages[1]
	require.Equal(t, MapStage, mapStage.Kind)
	require.Equal(t, []lineage.NodeID{src, parsed, keyed}, mapStage.Nodes)
	require.Equal(t, 4, mapStage.NumPartitions)
	require.Equal(t, 2, mapStage.OutputPartitions)

	require.Equal(t, ResultStage, result.Kind)
	require.Equal(t, []lineage.NodeID{agg}, result.Nodes)
	require.Equal(t, 2, result.NumPartitions)
	require.Equal(t, []string{mapStage.ID}, result.Parents)
}

func TestPlan_SharedParentPlannedOnce(t *testing.T) {
	// two narrow branches of the same shuffled parent re-join in the result
	// stage; the shared map stage must appear exactly once.
	g := lineage.NewGraph()
	src := g.AddSource("src", lineage.SliceSource{}, 4)
	grouped := g.AddShuffle("group", identity(), 2, lineage.NewHashKeyPartitioner(), src)
	left := g.AddTransform("left", identity(), grouped)
	right := g.AddTransform("right", identity(), grouped)
	joined := g.AddTransform("join", identity(), left, right)

	stages, err := New(nil).Plan(g, joined)
	require.NoError(t, err)
	require.Len(t, stages, 2)

	require.Equal(t, MapStage, stages[0].Kind)
	result := stages[1]
	require.Equal(t, ResultStage, result.Kind)
	require.Equal(t, []string{stages[0].ID}, result.Parents,
		"a parent reached through two paths is planned and listed once")
	require.Contains(t, result.Nodes, left)
	require.Contains(t, result.Nodes, right)
	require.Contains(t, result.Nodes, joined)
}

func TestPlan_RejectsMalformedGraph(t *testing.T) {
	g := lineage.NewGraph()
	src := g.AddSource("src", lineage.SliceSource{}, 2)
	out := g.AddShuffle("agg", identity(), 2, nil, src)

	_, err := New(nil).Plan(g, out)
	require.ErrorIs(t, err, lineage.ErrMissingPartitioner)
}

func TestPlan_MarksCachedOutputOnResubmission(t *testing.T) {
	build := func() (*lineage.Graph, lineage.NodeID) {
		g := lineage.NewGraph()
		src := g.AddSource("src", lineage.SliceSource{}, 2)
		out := g.AddShuffle("agg", identity(), 2, lineage.NewHashKeyPartitioner(), src)
		return g, out
	}

	registry := shuffle.NewRegistry()
	g1, t1 := build()
	stages, err := New(registry).Plan(g1, t1)
	require.NoError(t, err)
	require.False(t, stages[0].CachedOutput)

	// simulate the map stage finishing
	registry.CreateOrGet(stages[0].ShuffleID, 2, 2)
	for mapIndex := 0; mapIndex < 2; mapIndex++ {
		require.NoError(t, registry.RegisterOutput(stages[0].ShuffleID, mapIndex,
			[]shuffle.BlockMeta{{Host: "w1", Size: 1}, {Host: "w1", Size: 1}}))
	}

	g2, t2 := build()
	replanned, err := New(registry).Plan(g2, t2)
	require.NoError(t, err)
	require.Equal(t, stages[0].ID, replanned[0].ID,
		"identical lineage must produce identical stage ids")
	require.True(t, replanned[0].CachedOutput)
}
