package shuffle

import (
	"context"

	"github.com/creasty/defaults"
	"github.com/driftlab/cascade/internal/errgroup"
	"github.com/driftlab/cascade/lineage"
	"github.com/pkg/errors"
)

// Fetcher retrieves a block from a remote worker.
type Fetcher interface {
	FetchBlock(ctx context.Context, host string, id BlockID) ([]lineage.Row, error)
}

// ReaderOptions bound the read side's resource usage.
type ReaderOptions struct {
	// MaxInflightFetches caps concurrent block fetches, which also bounds
	// the memory held by not-yet-consumed fetched blocks.
	MaxInflightFetches int `default:"4"`
}

func DefaultReaderOptions() (o ReaderOptions) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return o
}

// Reader is the read side of a shuffle: it fetches the blocks addressed to
// one reduce partition across all map tasks, local-first.
type Reader struct {
	localHost string
	store     BlockStore
	fetcher   Fetcher
	opt       ReaderOptions
}

func NewReader(localHost string, store BlockStore, fetcher Fetcher, opt ReaderOptions) *Reader {
	if opt.MaxInflightFetches <= 0 {
		opt = DefaultReaderOptions()
	}
	return &Reader{
		localHost: localHost,
		store:     store,
		fetcher:   fetcher,
		opt:       opt,
	}
}

// Read fetches every referenced block of a reduce partition and concatenates
// them in map task order. Ordering between rows of different map tasks
// carries no semantic meaning; the fixed order only keeps re-executions
// deterministic. A missing or unreachable block fails with a FetchError
// naming the producing map task.
func (r *Reader) Read(ctx context.Context, shuffleID string, partition int, blocks []BlockRef) ([]lineage.Row, error) {
	fetched := make([][]lineage.Row, len(blocks))
	sem := make(chan struct{}, r.opt.MaxInflightFetches)

	wg, wctx := errgroup.WithContext(ctx)
	for i, ref := range blocks {
		i, ref := i, ref
		wg.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-wctx.Done():
				return wctx.Err()
			}

			id := BlockID{ShuffleID: shuffleID, MapIndex: ref.MapIndex, Partition: partition}
			rows, err := r.fetch(wctx, ref.Host, id)
			if err != nil {
				return &FetchError{
					ShuffleID: shuffleID,
					MapIndex:  ref.MapIndex,
					Host:      ref.Host,
					Cause:     err,
				}
			}
			fetched[i] = rows
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}

	var out []lineage.Row
	for _, rows := range fetched {
		out = append(out, rows...)
	}
	return out, nil
}

func (r *Reader) fetch(ctx context.Context, host string, id BlockID) ([]lineage.Row, error) {
	if host == r.localHost {
		return r.store.Get(ctx, id)
	}
	if r.fetcher == nil {
		return nil, errors.Errorf("no fetcher configured for remote host %s", host)
	}
	return r.fetcher.FetchBlock(ctx, host, id)
}
