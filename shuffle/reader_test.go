package shuffle

import (
	"context"
	"testing"

	"github.com/driftlab/cascade/lineage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeFetcher serves blocks from per-host stores, standing in for the gRPC
// block transfer.
type fakeFetcher struct {
	stores map[string]*MemoryStore
}

func (f *fakeFetcher) FetchBlock(ctx context.Context, host string, id BlockID) ([]lineage.Row, error) {
	store, ok := f.stores[host]
	if !ok {
		return nil, errors.Errorf("host %s unreachable", host)
	}
	return store.Get(ctx, id)
}

func TestReader_ConcatenatesBlocksInMapOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := NewMemoryStore()
	remote := NewMemoryStore()
	_, err := local.Put(context.Background(),
		BlockID{ShuffleID: "s1", MapIndex: 0, Partition: 0},
		[]lineage.Row{{Key: "a", Value: []byte("1")}})
	require.NoError(t, err)
	_, err = remote.Put(context.Background(),
		BlockID{ShuffleID: "s1", MapIndex: 1, Partition: 0},
		[]lineage.Row{{Key: "b", Value: []byte("2")}})
	require.NoError(t, err)

	r := NewReader("w1", local, &fakeFetcher{stores: map[string]*MemoryStore{"w2": remote}},
		DefaultReaderOptions())

	rows, err := r.Read(context.Background(), "s1", 0, []BlockRef{
		{MapIndex: 0, Host: "w1"},
		{MapIndex: 1, Host: "w2"},
	})
	require.NoError(t, err)
	require.Equal(t, []lineage.Row{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}, rows, "rows are concatenated in map task order regardless of fetch completion order")
}

func TestReader_FetchErrorNamesProducingMapTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	local := NewMemoryStore()
	_, err := local.Put(context.Background(),
		BlockID{ShuffleID: "s1", MapIndex: 0, Partition: 0}, nil)
	require.NoError(t, err)

	r := NewReader("w1", local, &fakeFetcher{stores: map[string]*MemoryStore{}},
		DefaultReaderOptions())

	_, err = r.Read(context.Background(), "s1", 0, []BlockRef{
		{MapIndex: 0, Host: "w1"},
		{MapIndex: 1, Host: "gone"},
	})
	require.Error(t, err)

	fe, ok := AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, "s1", fe.ShuffleID)
	require.Equal(t, 1, fe.MapIndex)
	require.Equal(t, "gone", fe.Host)
}

func TestReader_MissingLocalBlockIsFetchError(t *testing.T) {
	r := NewReader("w1", NewMemoryStore(), nil, DefaultReaderOptions())

	_, err := r.Read(context.Background(), "s1", 0, []BlockRef{{MapIndex: 0, Host: "w1"}})
	fe, ok := AsFetchError(err)
	require.True(t, ok)
	require.ErrorIs(t, fe.Cause, ErrBlockNotFound)
}
