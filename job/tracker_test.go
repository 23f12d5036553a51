package job

import (
	"testing"
	"time"

	"github.com/driftlab/cascade/planner"
	"github.com/stretchr/testify/require"
)

func newTestJob() *Job {
	stages := []*planner.Stage{
		{ID: "map@01", Kind: planner.MapStage, NumPartitions: 2, ShuffleID: "map@01"},
		{ID: "reduce@02", Kind: planner.ResultStage, NumPartitions: 1, Parents: []string{"map@01"}},
	}
	return New("J1", nil, 0, stages)
}

func TestTracker_JobLifecycle(t *testing.T) {
	tr := NewTracker(newTestJob())
	require.Equal(t, Pending, tr.Status().State)

	tr.MarkJobRunning()
	require.Equal(t, Running, tr.Status().State)

	tr.CompleteJob(Succeeded, nil)
	st := tr.Status()
	require.Equal(t, Succeeded, st.State)
	require.NotNil(t, st.CompletedAt)

	// completion is idempotent; a later failure report must not overwrite it
	tr.CompleteJob(Failed, &FailureReport{StageID: "map@01"})
	require.Equal(t, Succeeded, tr.Status().State)
	require.Nil(t, tr.Status().Failure)
}

func TestTracker_StageProgress(t *testing.T) {
	tr := NewTracker(newTestJob())

	tr.MarkStageRunning("map@01")
	tr.SetTaskCounts("map@01", map[State]int{Running: 1, Pending: 1})

	st, ok := tr.StageProgress("map@01")
	require.True(t, ok)
	require.Equal(t, Running, st.State)
	require.Equal(t, 1, st.TaskCounts[Running])
	require.Equal(t, 1, st.TaskCounts[Pending])

	_, ok = tr.StageProgress("unknown")
	require.False(t, ok)

	tr.MarkStageCompleted("map@01", Succeeded)
	st, _ = tr.StageProgress("map@01")
	require.Equal(t, Succeeded, st.State)
	require.NotNil(t, st.CompletedAt)

	// recovery may reopen a completed map stage
	tr.MarkStageRunning("map@01")
	st, _ = tr.StageProgress("map@01")
	require.Equal(t, Running, st.State)
	require.Nil(t, st.CompletedAt)
}

func TestTracker_Callbacks(t *testing.T) {
	tr := NewTracker(newTestJob())

	jobDone := make(chan *Status, 1)
	stageDone := make(chan string, 1)
	taskDone := make(chan int, 2)

	tr.OnJobCompletion(func(s *Status) { jobDone <- s })
	tr.OnStageCompletion(func(stageID string, _ *StageStatus) { stageDone <- stageID })
	tr.OnTaskCompletion(func(_ string, done int) { taskDone <- done })

	tr.TaskDone("map@01")
	tr.TaskDone("map@01")
	// callbacks run on their own goroutines; delivery order is not guaranteed
	require.ElementsMatch(t, []int{1, 2}, []int{<-taskDone, <-taskDone})

	tr.MarkStageCompleted("map@01", Succeeded)
	require.Equal(t, "map@01", <-stageDone)

	report := &FailureReport{StageID: "map@01", Partition: 1, Attempts: 3, Message: "boom"}
	tr.CompleteJob(Failed, report)

	status := <-jobDone
	require.Equal(t, Failed, status.State)
	require.Equal(t, report, status.Failure)
}

func TestTracker_LateSubscriberFiresImmediately(t *testing.T) {
	tr := NewTracker(newTestJob())
	tr.CompleteJob(Cancelled, nil)

	done := make(chan *Status, 1)
	tr.OnJobCompletion(func(s *Status) { done <- s })

	select {
	case s := <-done:
		require.Equal(t, Cancelled, s.State)
	case <-time.After(time.Second):
		t.Fatal("completion callback did not fire for an already terminal job")
	}
}

func TestState_Terminal(t *testing.T) {
	require.True(t, Succeeded.Terminal())
	require.True(t, Failed.Terminal())
	require.True(t, Cancelled.Terminal())
	require.False(t, Pending.Terminal())
	require.False(t, Running.Terminal())
	require.False(t, Lost.Terminal(), "a lost task goes back to scheduled")
}
