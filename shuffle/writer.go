package shuffle

import (
	"context"
	"sort"

	"github.com/driftlab/cascade/lineage"
	"github.com/pkg/errors"
)

// Writer is the write side of a shuffle: it routes each row of one map
// task's output to a destination partition, optionally pre-aggregates rows
// sharing a key, and persists one block per destination partition.
type Writer struct {
	shuffleID     string
	mapIndex      int
	numPartitions int
	partitioner   lineage.Partitioner
	combiner      lineage.Combiner
	store         BlockStore

	buckets  [][]lineage.Row
	combined []map[string][]byte
}

func NewWriter(shuffleID string, mapIndex, numPartitions int,
	p lineage.Partitioner, c lineage.Combiner, store BlockStore) *Writer {
	w := &Writer{
		shuffleID:     shuffleID,
		mapIndex:      mapIndex,
		numPartitions: numPartitions,
		partitioner:   p,
		combiner:      c,
		store:         store,
	}
	if c != nil {
		w.combined = make([]map[string][]byte, numPartitions)
		for i := range w.combined {
			w.combined[i] = make(map[string][]byte)
		}
	} else {
		w.buckets = make([][]lineage.Row, numPartitions)
	}
	return w
}

// Write routes rows into per-partition buckets.
func (w *Writer) Write(rows []lineage.Row) error {
	for _, r := range rows {
		p, err := w.partitioner.Partition(r.Key, w.numPartitions)
		if err != nil {
			return errors.Wrapf(err, "partition row %q", r.Key)
		}
		if p < 0 || p >= w.numPartitions {
			return errors.Errorf("partitioner returned %d for %d partitions", p, w.numPartitions)
		}
		if w.combiner != nil {
			if prev, ok := w.combined[p][r.Key]; ok {
				w.combined[p][r.Key] = w.combiner.Combine(prev, r.Value)
			} else {
				w.combined[p][r.Key] = r.Value
			}
			continue
		}
		w.buckets[p] = append(w.buckets[p], r)
	}
	return nil
}

// Flush persists each partition's bucket as a block and returns the metadata
// to register, with Host filled in by the caller. Combined buckets are
// emitted in key order so recomputation stays bit-identical.
func (w *Writer) Flush(ctx context.Context, host string) ([]BlockMeta, error) {
	metas := make([]BlockMeta, w.numPartitions)
	for p := 0; p < w.numPartitions; p++ {
		rows := w.bucket(p)
		id := BlockID{ShuffleID: w.shuffleID, MapIndex: w.mapIndex, Partition: p}
		size, err := w.store.Put(ctx, id, rows)
		if err != nil {
			return nil, errors.Wrapf(err, "persist block %s", id)
		}
		metas[p] = BlockMeta{Host: host, Size: size}
	}
	return metas, nil
}

func (w *Writer) bucket(p int) []lineage.Row {
	if w.combiner == nil {
		return w.buckets[p]
	}
	keys := make([]string, 0, len(w.combined[p]))
	for k := range w.combined[p] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]lineage.Row, len(keys))
	for i, k := range keys {
		rows[i] = lineage.Row{Key: k, Value: w.combined[p][k]}
	}
	return rows
}
