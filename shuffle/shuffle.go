// Package shuffle exchanges partitioned intermediate data between stages.
//
// The write side persists one addressable block per destination partition of
// each map task; the read side fetches, for a reduce partition, the blocks
// addressed to it across all map tasks. A registry maps shuffle id to block
// locations and is the source of truth for what output is still valid.
package shuffle

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrBlockNotFound is returned when a requested block is not in the store.
var ErrBlockNotFound = errors.New("shuffle block not found")

// BlockID addresses the output of one map task for one destination partition.
type BlockID struct {
	ShuffleID string `json:"shuffleId"`
	MapIndex  int    `json:"mapIndex"`
	Partition int    `json:"partition"`
}

func (b BlockID) String() string {
	return fmt.Sprintf("%s/%d/%d", b.ShuffleID, b.MapIndex, b.Partition)
}

// BlockMeta records where one block lives and how big it is.
type BlockMeta struct {
	Host string `json:"host"`
	Size int64  `json:"size"`
}

// BlockRef is a fetchable reference to one map task's block for a partition.
type BlockRef struct {
	MapIndex int    `json:"mapIndex"`
	Host     string `json:"host"`
	Size     int64  `json:"size"`
}

// FetchError reports a missing or unreachable shuffle block. It names the
// producing map task so recovery can recompute exactly that task instead of
// the whole stage.
type FetchError struct {
	ShuffleID string
	MapIndex  int
	Host      string
	Cause     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("shuffle %s: block of map task %d on %s unavailable: %v",
		e.ShuffleID, e.MapIndex, e.Host, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// AsFetchError unwraps err to a FetchError if there is one.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
