package rpc

import (
	"github.com/driftlab/cascade/lineage"
)

// NodeSpec is a serialized lineage node. Computation structs are encoded
// with internal/serialization and resolved by type name on the worker.
type NodeSpec struct {
	Name          string `json:"name"`
	NumPartitions int    `json:"numPartitions"`

	// Transform is set for transform nodes, Source for source nodes.
	Transform []byte `json:"transform,omitempty"`
	Source    []byte `json:"source,omitempty"`
}

// InputKind tells a task where its input rows come from.
type InputKind string

const (
	// SourceInput reads the task's partition from the stage's source node.
	SourceInput InputKind = "source"

	// ShuffleInput fetches the task's partition from a parent stage's
	// map outputs.
	ShuffleInput InputKind = "shuffle"
)

// BlockAddr locates one map task's output block for a shuffle read.
type BlockAddr struct {
	MapIndex int    `json:"mapIndex"`
	Host     string `json:"host"`
	Size     int64  `json:"size"`
}

// InputSpec describes one input of a task. A task with multiple shuffle
// parents carries one InputSpec per parent; their rows are concatenated
// in spec order.
type InputSpec struct {
	Kind InputKind `json:"kind"`

	// Shuffle input fields.
	ShuffleID     string      `json:"shuffleId,omitempty"`
	NumMapTasks   int         `json:"numMapTasks,omitempty"`
	NumPartitions int         `json:"numPartitions,omitempty"`
	Blocks        []BlockAddr `json:"blocks,omitempty"`
}

// OutputSpec describes where a map task writes its rows. Result tasks
// have no OutputSpec; their rows are kept as a local result block until
// the driver collects them.
type OutputSpec struct {
	ShuffleID     string `json:"shuffleId"`
	NumMapTasks   int    `json:"numMapTasks"`
	NumPartitions int    `json:"numPartitions"`
	Partitioner   []byte `json:"partitioner"`
	Combiner      []byte `json:"combiner,omitempty"`
}

// TaskAssignment carries everything a worker needs to run one task.
type TaskAssignment struct {
	JobID     string `json:"jobId"`
	StageID   string `json:"stageId"`
	Partition int    `json:"partition"`
	Attempt   int    `json:"attempt"`

	// Nodes is the stage's narrow chain in execution order.
	Nodes  []NodeSpec  `json:"nodes"`
	Inputs []InputSpec `json:"inputs"`

	// Output is nil for result-stage tasks.
	Output *OutputSpec `json:"output,omitempty"`
}

type Ack struct{}

type CancelTaskRequest struct {
	JobID     string `json:"jobId"`
	StageID   string `json:"stageId"`
	Partition int    `json:"partition"`
	Attempt   int    `json:"attempt"`
}

type CancelJobRequest struct {
	JobID string `json:"jobId"`
}

// FetchBlockRequest asks for one shuffle (or result) block stored on the
// serving worker.
type FetchBlockRequest struct {
	ShuffleID string `json:"shuffleId"`
	MapIndex  int    `json:"mapIndex"`
	Partition int    `json:"partition"`
}

// BlockChunk is one frame of a streamed block.
type BlockChunk struct {
	Rows []lineage.Row `json:"rows"`
}

// MaxChunkRows bounds frame size when streaming blocks.
const MaxChunkRows = 1024
