package scheduler

import (
	"testing"
	"time"

	"github.com/driftlab/cascade/cluster/node"
	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/planner"
	"github.com/driftlab/cascade/shuffle"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// newSingleStageScheduler builds a scheduler over two idle workers with a
// one-partition result stage, ready for assignPending.
func newSingleStageScheduler(t *testing.T) (*Scheduler, *taskSet) {
	t.Helper()

	g := lineage.NewGraph()
	src := g.AddSource("numbers", lineage.SliceSource{}, 1)

	stage := &planner.Stage{
		ID:            "numbers@0000000000000002",
		Kind:          planner.ResultStage,
		Nodes:         []lineage.NodeID{src},
		NumPartitions: 1,
	}
	j := job.New("J2", g, src, []*planner.Stage{stage})
	tracker := job.NewTracker(j)
	s := New(offlineCluster{}, shuffle.NewRegistry(), tracker, DefaultOptions())

	tracker.MarkJobRunning()
	tracker.MarkStageRunning(stage.ID)

	ts := newTaskSet(stage, []int{0}, time.Now())
	s.sets[stage.ID] = ts

	s.workers["a"] = &workerState{node: &node.Node{Host: "a", Slots: 4}, freeSlots: 4}
	s.workers["b"] = &workerState{node: &node.Node{Host: "b", Slots: 2}, freeSlots: 2}
	return s, ts
}

func TestRetryPrefersDifferentWorker(t *testing.T) {
	s, ts := newSingleStageScheduler(t)

	s.assignPending(ts, time.Now())
	t0 := ts.tasks[0]
	require.Len(t, t0.runs, 1)
	require.Equal(t, "a", t0.runs[0].host)

	s.handleTaskStatus(&job.TaskStatusEvent{
		TaskID: job.TaskID{
			JobID:     s.j.ID,
			StageID:   ts.stage.ID,
			Partition: 0,
			Attempt:   t0.runs[0].attempt,
		},
		Outcome: job.TaskFailed,
		Host:    "a",
		Error:   "boom",
	})
	require.Equal(t, 1, t0.failures)
	require.Empty(t, t0.runs)

	s.reconcile(time.Now())
	require.Len(t, t0.runs, 1)
	require.Equal(t, "b", t0.runs[0].host,
		"a relaunch after an execution error must avoid the failing host while another worker has capacity")
}

func TestAssignFailureDoesNotConsumeRetryBudget(t *testing.T) {
	s, ts := newSingleStageScheduler(t)

	s.assignPending(ts, time.Now())
	t0 := ts.tasks[0]
	require.Len(t, t0.runs, 1)
	attempt := t0.runs[0].attempt

	s.handleAssignFailed(assignFailedEvent{
		id: job.TaskID{
			JobID:     s.j.ID,
			StageID:   ts.stage.ID,
			Partition: 0,
			Attempt:   attempt,
		},
		host: "a",
		err:  errors.New("connection refused"),
	})

	require.Zero(t, t0.failures, "an RPC that never reached the worker is a substrate failure")
	require.Empty(t, t0.runs)
	require.Equal(t, job.Running, s.tracker.Status().State)

	s.reconcile(time.Now())
	require.Len(t, t0.runs, 1)
	require.Equal(t, "b", t0.runs[0].host)
}
