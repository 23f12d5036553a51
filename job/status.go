package job

import "time"

// State is a lifecycle state shared by jobs, stages and tasks.
// Scheduled and Lost apply to tasks only.
type State string

const (
	Pending   State = "pending"
	Scheduled State = "scheduled"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Lost      State = "lost"
	Cancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
// Lost is not terminal: a lost task goes back to Scheduled.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled:
		return true
	}
	return false
}

type baseStatus struct {
	State       State      `json:"state"`
	SubmittedAt time.Time  `json:"submittedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func newBaseStatus() baseStatus {
	return baseStatus{
		State:       Pending,
		SubmittedAt: time.Now(),
	}
}

func (s *baseStatus) Complete(state State) {
	now := time.Now()
	s.State = state
	s.CompletedAt = &now
}

// Status is the externally visible status of a job.
type Status struct {
	baseStatus
	Failure *FailureReport `json:"failure,omitempty"`
}

func newStatus() *Status {
	return &Status{baseStatus: newBaseStatus()}
}

// StageStatus tracks one stage's state together with per-state task counts
// for progress reporting.
type StageStatus struct {
	baseStatus
	TaskCounts map[State]int `json:"taskCounts"`
}

func newStageStatus() *StageStatus {
	return &StageStatus{
		baseStatus: newBaseStatus(),
		TaskCounts: make(map[State]int),
	}
}
