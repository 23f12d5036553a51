package shuffle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("s1", 2, 3)

	require.False(t, r.HasCompleteOutput("s1"))
	require.Equal(t, []int{0, 1}, r.MissingMapOutputs("s1"))

	require.NoError(t, r.RegisterOutput("s1", 0, []BlockMeta{
		{Host: "w1", Size: 10}, {Host: "w1", Size: 20}, {Host: "w1", Size: 30},
	}))
	require.False(t, r.HasCompleteOutput("s1"))
	require.Equal(t, []int{1}, r.MissingMapOutputs("s1"))

	require.NoError(t, r.RegisterOutput("s1", 1, []BlockMeta{
		{Host: "w2", Size: 1}, {Host: "w2", Size: 2}, {Host: "w2", Size: 3},
	}))
	require.True(t, r.HasCompleteOutput("s1"))
	require.Empty(t, r.MissingMapOutputs("s1"))

	refs, err := r.BlocksForPartition("s1", 1)
	require.NoError(t, err)
	require.Equal(t, []BlockRef{
		{MapIndex: 0, Host: "w1", Size: 20},
		{MapIndex: 1, Host: "w2", Size: 2},
	}, refs)
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()

	require.ErrorIs(t, r.RegisterOutput("nope", 0, nil), ErrUnknownShuffle)
	_, err := r.BlocksForPartition("nope", 0)
	require.ErrorIs(t, err, ErrUnknownShuffle)

	r.CreateOrGet("s1", 2, 2)
	require.Error(t, r.RegisterOutput("s1", 5, []BlockMeta{{Host: "w1"}, {Host: "w1"}}))
	require.Error(t, r.RegisterOutput("s1", 0, []BlockMeta{{Host: "w1"}}),
		"registration must cover every destination partition")

	_, err = r.BlocksForPartition("s1", 0)
	require.Error(t, err, "incomplete output must not resolve")
}

func TestRegistry_CreateOrGetKeepsExistingOutput(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("s1", 1, 1)
	require.NoError(t, r.RegisterOutput("s1", 0, []BlockMeta{{Host: "w1", Size: 5}}))

	// a resubmitted job opening the same shuffle must see the old output
	r.CreateOrGet("s1", 1, 1)
	require.True(t, r.HasCompleteOutput("s1"))
}

func TestRegistry_InvalidateHost(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("s1", 2, 2)
	require.NoError(t, r.RegisterOutput("s1", 0, []BlockMeta{{Host: "w1", Size: 1}, {Host: "w1", Size: 1}}))
	require.NoError(t, r.RegisterOutput("s1", 1, []BlockMeta{{Host: "w2", Size: 1}, {Host: "w2", Size: 1}}))
	r.CreateOrGet("s2", 1, 1)
	require.NoError(t, r.RegisterOutput("s2", 0, []BlockMeta{{Host: "w2", Size: 1}}))

	lost := r.InvalidateHost("w2")
	require.Equal(t, map[string][]int{"s1": {1}, "s2": {0}}, lost)

	require.Equal(t, []int{1}, r.MissingMapOutputs("s1"),
		"only the map tasks whose output lived on the lost host are missing")
	require.False(t, r.HasCompleteOutput("s1"))
	require.False(t, r.HasCompleteOutput("s2"))

	require.Empty(t, r.InvalidateHost("w3"), "unknown host holds nothing")
}

func TestRegistry_UnregisterMapOutput(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("s1", 2, 1)
	require.NoError(t, r.RegisterOutput("s1", 0, []BlockMeta{{Host: "w1", Size: 1}}))
	require.NoError(t, r.RegisterOutput("s1", 1, []BlockMeta{{Host: "w2", Size: 1}}))

	r.UnregisterMapOutput("s1", 1)
	require.Equal(t, []int{1}, r.MissingMapOutputs("s1"))

	// unknowns are ignored
	r.UnregisterMapOutput("nope", 0)
	r.UnregisterMapOutput("s1", 9)
}

func TestRegistry_Drop(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("s1", 1, 1)
	r.Drop("s1")
	require.False(t, r.HasCompleteOutput("s1"))
	require.ErrorIs(t, r.RegisterOutput("s1", 0, nil), ErrUnknownShuffle)
}
