package planner

import (
	"fmt"
	"strings"

	"github.com/driftlab/cascade/lineage"
)

// StageKind tells whether a stage materializes shuffle output or produces
// the job's final rows.
type StageKind uint8

const (
	// MapStage writes partitioned shuffle blocks consumed by child stages.
	MapStage StageKind = iota

	// ResultStage streams its output back to the submitter.
	ResultStage
)

func (k StageKind) String() string {
	if k == MapStage {
		return "map"
	}
	return "result"
}

// Stage is a maximal run of pipelined narrow-dependency nodes bounded by
// shuffle boundaries. Stages are identified by a lineage fingerprint, so a
// resubmitted job that recomputes the same data reuses the same stage (and
// its shuffle output, if still registered).
type Stage struct {
	ID   string    `json:"id"`
	Kind StageKind `json:"kind"`

	// Nodes the stage executes, in topological order. The last node is the
	// stage's output node.
	Nodes []lineage.NodeID `json:"nodes"`

	// Parents are map stages whose shuffle output this stage reads.
	// All of them must be Completed before this stage may run.
	Parents []string `json:"parents"`

	// NumPartitions is the stage's task count: one task per output partition.
	NumPartitions int `json:"numPartitions"`

	Fingerprint uint64 `json:"fingerprint"`

	// Shuffle output description. Set only on map stages: the consuming
	// node's partitioner and partition count drive the write side.
	ShuffleID         string              `json:"shuffleId,omitempty"`
	OutputPartitions  int                 `json:"outputPartitions,omitempty"`
	OutputPartitioner lineage.Partitioner `json:"-"`
	OutputCombiner    lineage.Combiner    `json:"-"`

	// CachedOutput marks a map stage whose shuffle output was already fully
	// registered at planning time. The scheduler completes it without
	// launching tasks.
	CachedOutput bool `json:"cachedOutput,omitempty"`
}

// OutputNode returns the last node of the stage.
func (s *Stage) OutputNode() lineage.NodeID {
	return s.Nodes[len(s.Nodes)-1]
}

// Name returns the human-readable part of the stage's ID, without the
// fingerprint suffix.
func (s *Stage) Name() string {
	if i := strings.IndexByte(s.ID, '@'); i >= 0 {
		return s.ID[:i]
	}
	return s.ID
}

func stageID(name string, fingerprint uint64) string {
	return fmt.Sprintf("%s@%016x", name, fingerprint)
}
