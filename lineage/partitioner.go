package lineage

import (
	"github.com/pkg/errors"
	"github.com/segmentio/fasthash/fnv1a"
)

// ErrNoPartition is returned by a Partitioner when no partition corresponds
// to the key of a given row.
var ErrNoPartition = errors.New("no partition for key")

// Partitioner deterministically maps a row key to an output partition index.
// The same key must always land on the same partition for a fixed
// numPartitions, or recomputation after data loss would diverge.
type Partitioner interface {
	Partition(key string, numPartitions int) (int, error)
}

type hashKeyPartitioner struct{}

// NewHashKeyPartitioner partitions by Fowler–Noll–Vo hash of the row key.
func NewHashKeyPartitioner() Partitioner {
	return hashKeyPartitioner{}
}

func (hashKeyPartitioner) Partition(key string, numPartitions int) (int, error) {
	return int(fnv1a.HashString64(key) % uint64(numPartitions)), nil
}

// FiniteKeyPartitioner assigns a predefined set of keys to partitions in
// declaration order. Rows with unknown keys are rejected. Slots is exported
// so the partitioner survives being shipped to workers.
type FiniteKeyPartitioner struct {
	Slots map[string]int `json:"slots"`
}

func NewFiniteKeyPartitioner(keys []string) *FiniteKeyPartitioner {
	slots := make(map[string]int, len(keys))
	for i, k := range keys {
		slots[k] = i
	}
	return &FiniteKeyPartitioner{Slots: slots}
}

func (f *FiniteKeyPartitioner) Partition(key string, numPartitions int) (int, error) {
	slot, ok := f.Slots[key]
	if !ok {
		return 0, errors.Wrapf(ErrNoPartition, "key %q", key)
	}
	return slot % numPartitions, nil
}

// PartitionerFunc adapts a plain function to Partitioner.
type PartitionerFunc func(key string, numPartitions int) (int, error)

func (f PartitionerFunc) Partition(key string, numPartitions int) (int, error) {
	return f(key, numPartitions)
}
