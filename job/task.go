package job

import (
	"fmt"
	"time"
)

// TaskID identifies one attempt at computing a (stage, partition) pair.
type TaskID struct {
	JobID     string `json:"jobId"`
	StageID   string `json:"stageId"`
	Partition int    `json:"partition"`
	Attempt   int    `json:"attempt"`
}

func (t TaskID) String() string {
	return fmt.Sprintf("%s/%s/%d#%d", t.JobID, t.StageID, t.Partition, t.Attempt)
}

// Task is a unit of execution: one output partition of one stage, assigned
// to a worker. The scheduler owns task state; workers only report outcomes.
type Task struct {
	TaskID

	// WorkerHost the attempt was assigned to.
	WorkerHost string `json:"workerHost"`

	// Preferred hosts derived from where the task's input already resides.
	// Empty means no preference.
	PreferredHosts []string `json:"preferredHosts,omitempty"`

	SubmittedAt time.Time `json:"submittedAt"`
}

func NewTask(id TaskID, workerHost string, preferred []string) *Task {
	return &Task{
		TaskID:         id,
		WorkerHost:     workerHost,
		PreferredHosts: preferred,
		SubmittedAt:    time.Now(),
	}
}
