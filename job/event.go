package job

import (
	"fmt"
	"path"

	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/shuffle"
)

const (
	taskStatusNs = "status/tasks"
	taskAssignNs = "status/assignments"
)

// TaskOutcome classifies how a task attempt ended. The scheduler maps
// outcomes to retry decisions, so the classification is part of the
// worker/scheduler contract.
type TaskOutcome string

const (
	// TaskSucceeded means the attempt completed and its outputs are
	// available at the reporting host.
	TaskSucceeded TaskOutcome = "succeeded"

	// TaskFailed means user code or the executor returned an error.
	// Failed attempts count against the stage's retry budget.
	TaskFailed TaskOutcome = "failed"

	// TaskFetchFailed means the attempt could not read a parent shuffle
	// block. It indicts the producing map output, not this task.
	TaskFetchFailed TaskOutcome = "fetchFailed"
)

// TaskStatusEvent is published by a worker through the coordinator when a
// task attempt finishes. The scheduler loop is the only consumer.
type TaskStatusEvent struct {
	TaskID  TaskID      `json:"taskId"`
	Outcome TaskOutcome `json:"outcome"`
	Host    string      `json:"host"`
	Error   string      `json:"error,omitempty"`

	// Blocks holds per-partition output block metadata of a succeeded
	// map task, indexed by reduce partition.
	Blocks []shuffle.BlockMeta `json:"blocks,omitempty"`

	// ResultRows is the row count of a succeeded result task. The rows
	// themselves stay on the worker until the driver collects them.
	ResultRows int `json:"resultRows,omitempty"`

	// Fetch failure details, set when Outcome is TaskFetchFailed.
	FetchShuffleID string `json:"fetchShuffleId,omitempty"`
	FetchMapIndex  int    `json:"fetchMapIndex,omitempty"`
	FetchHost      string `json:"fetchHost,omitempty"`

	// Metrics collected while running the attempt, merged into the job's
	// metrics by the scheduler.
	Metrics cascademetric.Metrics `json:"metrics,omitempty"`

	DurationMs int64 `json:"durationMs"`
}

// TaskStatusKey returns the coordinator key a worker publishes the given
// attempt's final status under.
func TaskStatusKey(id TaskID) string {
	return path.Join(taskStatusNs, id.JobID, id.StageID,
		fmt.Sprintf("%d-%d", id.Partition, id.Attempt))
}

// TaskStatusPrefix returns the watch prefix covering all task status
// events of a job.
func TaskStatusPrefix(jobID string) string {
	return path.Join(taskStatusNs, jobID)
}

// TaskAssignmentKey returns the coordinator key the scheduler publishes an
// attempt's Task record under once a worker accepted it. The records back
// the status query surface; the scheduler never reads them.
func TaskAssignmentKey(id TaskID) string {
	return path.Join(taskAssignNs, id.JobID, id.StageID,
		fmt.Sprintf("%d-%d", id.Partition, id.Attempt))
}

// TaskAssignmentPrefix returns the scan prefix covering all assignment
// records of a job.
func TaskAssignmentPrefix(jobID string) string {
	return path.Join(taskAssignNs, jobID)
}
