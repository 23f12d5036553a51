package job

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker is the bookkeeping structure for a single job's lifecycle.
// All writes come from the scheduler's coordinator loop (single writer);
// status queries and callback registration may happen from any goroutine.
type Tracker struct {
	job       *Job
	jobStatus *Status
	stages    map[string]*StageStatus

	jobSubs   []func(*Status)
	stageSubs []func(stageID string, status *StageStatus)
	taskSubs  []func(stageID string, doneCountInStage int)
	doneTasks map[string]int

	mu sync.RWMutex
}

func NewTracker(j *Job) *Tracker {
	stages := make(map[string]*StageStatus, len(j.Stages))
	for _, s := range j.Stages {
		stages[s.ID] = newStageStatus()
	}
	return &Tracker{
		job:       j,
		jobStatus: newStatus(),
		stages:    stages,
		doneTasks: make(map[string]int),
	}
}

func (t *Tracker) Job() *Job {
	return t.job
}

// Status returns a snapshot of the job's status.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *t.jobStatus
}

// StageProgress returns a snapshot of a stage's status including per-state
// task counts.
func (t *Tracker) StageProgress(stageID string) (StageStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.stages[stageID]
	if !ok {
		return StageStatus{}, false
	}
	snapshot := *st
	snapshot.TaskCounts = make(map[State]int, len(st.TaskCounts))
	for k, v := range st.TaskCounts {
		snapshot.TaskCounts[k] = v
	}
	return snapshot, true
}

// MarkJobRunning transitions the job out of Pending.
func (t *Tracker) MarkJobRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobStatus.State == Pending {
		t.jobStatus.State = Running
	}
}

// MarkStageRunning transitions a stage into Running. Re-entry of an already
// completed stage is allowed: recovery may roll a map stage back when all
// copies of its shuffle output were lost.
func (t *Tracker) MarkStageRunning(stageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.stages[stageID]
	if !ok {
		return
	}
	st.State = Running
	st.CompletedAt = nil
}

// MarkStageCompleted finishes a stage and notifies stage subscribers.
func (t *Tracker) MarkStageCompleted(stageID string, state State) {
	t.mu.Lock()
	st, ok := t.stages[stageID]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.Complete(state)
	snapshot := *st
	subs := t.stageSubs
	t.mu.Unlock()

	log.Debug().Str("job_id", t.job.ID).Str("stage_id", stageID).
		Str("state", string(state)).Msg("stage completed")
	for _, cb := range subs {
		go cb(stageID, &snapshot)
	}
}

// SetTaskCounts replaces a stage's per-state task counts.
func (t *Tracker) SetTaskCounts(stageID string, counts map[State]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.stages[stageID]; ok {
		st.TaskCounts = counts
	}
}

// TaskDone records one finished task in a stage and notifies task
// subscribers with the running total.
func (t *Tracker) TaskDone(stageID string) {
	t.mu.Lock()
	t.doneTasks[stageID]++
	done := t.doneTasks[stageID]
	subs := t.taskSubs
	t.mu.Unlock()

	for _, cb := range subs {
		go cb(stageID, done)
	}
}

// CompleteJob finishes the job exactly once; later calls are ignored.
func (t *Tracker) CompleteJob(state State, failure *FailureReport) {
	t.mu.Lock()
	if t.jobStatus.State.Terminal() {
		t.mu.Unlock()
		return
	}
	t.jobStatus.Complete(state)
	t.jobStatus.Failure = failure
	snapshot := *t.jobStatus
	subs := t.jobSubs
	t.mu.Unlock()

	log.Info().Str("job_id", t.job.ID).Str("state", string(state)).Msg("job completed")
	for _, cb := range subs {
		go cb(&snapshot)
	}
}

// OnJobCompletion registers a callback fired when the job terminates.
// Registering after termination fires immediately.
func (t *Tracker) OnJobCompletion(cb func(*Status)) {
	t.mu.Lock()
	if t.jobStatus.State.Terminal() {
		snapshot := *t.jobStatus
		t.mu.Unlock()
		go cb(&snapshot)
		return
	}
	t.jobSubs = append(t.jobSubs, cb)
	t.mu.Unlock()
}

// OnStageCompletion registers a callback for stage completion events.
func (t *Tracker) OnStageCompletion(cb func(stageID string, status *StageStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stageSubs = append(t.stageSubs, cb)
}

// OnTaskCompletion registers a callback for task completion events.
// Only the number of finished tasks in the stage is passed, matching the
// granularity scheduling decisions need.
func (t *Tracker) OnTaskCompletion(cb func(stageID string, doneCountInStage int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskSubs = append(t.taskSubs, cb)
}
