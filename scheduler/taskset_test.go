package scheduler

import (
	"testing"
	"time"

	"github.com/driftlab/cascade/planner"
	"github.com/driftlab/cascade/shuffle"
	"github.com/stretchr/testify/require"
)

func testStage(numPartitions int) *planner.Stage {
	return &planner.Stage{ID: "s@01", Kind: planner.MapStage, NumPartitions: numPartitions}
}

func TestTaskSet_PendingIsDeterministic(t *testing.T) {
	ts := newTaskSet(testStage(4), []int{3, 1, 0, 2}, time.Now())

	var order []int
	for _, ta := range ts.pending() {
		order = append(order, ta.partition)
	}
	require.Equal(t, []int{0, 1, 2, 3}, order)

	ts.tasks[1].runs = append(ts.tasks[1].runs, attemptRun{attempt: 1, host: "w1"})
	ts.tasks[2].done = true

	order = nil
	for _, ta := range ts.pending() {
		order = append(order, ta.partition)
	}
	require.Equal(t, []int{0, 3}, order, "running and done partitions are not pending")
}

func TestTaskSet_AttemptBookkeeping(t *testing.T) {
	ts := newTaskSet(testStage(1), []int{0}, time.Now())
	ta := ts.tasks[0]

	ta.runs = append(ta.runs,
		attemptRun{attempt: 1, host: "w1"},
		attemptRun{attempt: 2, host: "w2", speculative: true},
	)
	require.True(t, ta.running())
	require.True(t, ta.hasSpeculative())

	run, ok := ta.run(2)
	require.True(t, ok)
	require.Equal(t, "w2", run.host)

	ta.removeRun(1)
	require.Len(t, ta.runs, 1)
	_, ok = ta.run(1)
	require.False(t, ok, "a finished or abandoned attempt is no longer live")
}

func TestTaskSet_AddPartitionReopens(t *testing.T) {
	ts := newTaskSet(testStage(2), []int{0, 1}, time.Now())
	ts.tasks[0].done = true
	ts.tasks[1].done = true
	require.True(t, ts.allDone())

	ts.addPartition(1)
	require.False(t, ts.allDone())
	require.Equal(t, 1, ts.numDone())
	require.Len(t, ts.tasks, 2, "reopening must not duplicate the task state")

	// a partition unknown to the set is added fresh
	ts.addPartition(5)
	require.Len(t, ts.tasks, 3)
}

func TestTaskSet_MedianDuration(t *testing.T) {
	ts := newTaskSet(testStage(1), []int{0}, time.Now())
	require.Zero(t, ts.medianDuration())

	ts.durations = []time.Duration{
		3 * time.Second, 1 * time.Second, 2 * time.Second,
	}
	require.Equal(t, 2*time.Second, ts.medianDuration())
}

func TestTaskSet_Stragglers(t *testing.T) {
	now := time.Now()
	ts := newTaskSet(testStage(4), []int{0, 1, 2, 3}, now)

	ts.tasks[0].runs = []attemptRun{{attempt: 1, host: "w1", startedAt: now.Add(-10 * time.Second)}}
	ts.tasks[1].runs = []attemptRun{{attempt: 1, host: "w1", startedAt: now.Add(-1 * time.Second)}}
	ts.tasks[2].runs = []attemptRun{
		{attempt: 1, host: "w1", startedAt: now.Add(-10 * time.Second)},
		{attempt: 2, host: "w2", startedAt: now, speculative: true},
	}
	ts.tasks[3].done = true

	stragglers := ts.stragglers(now, 5*time.Second)
	require.Len(t, stragglers, 1)
	require.Equal(t, 0, stragglers[0].partition,
		"already-speculated, fast and done tasks are not stragglers")
}

func TestTaskSet_LocalityEscalation(t *testing.T) {
	start := time.Now()
	ts := newTaskSet(testStage(1), []int{0}, start)
	require.Equal(t, localityHost, ts.level)

	ts.escalate(start.Add(time.Second), 3*time.Second, 3*time.Second)
	require.Equal(t, localityHost, ts.level, "no escalation before the wait elapses")

	ts.escalate(start.Add(4*time.Second), 3*time.Second, 3*time.Second)
	require.Equal(t, localityRack, ts.level)

	ts.escalate(start.Add(5*time.Second), 3*time.Second, 3*time.Second)
	require.Equal(t, localityRack, ts.level, "the rack wait restarts at escalation")

	ts.escalate(start.Add(8*time.Second), 3*time.Second, 3*time.Second)
	require.Equal(t, localityAny, ts.level)
}

func TestMissingPartitions(t *testing.T) {
	registry := shuffle.NewRegistry()
	registry.CreateOrGet("s@01", 3, 2)
	require.NoError(t, registry.RegisterOutput("s@01", 1,
		[]shuffle.BlockMeta{{Host: "w1", Size: 1}, {Host: "w1", Size: 1}}))

	stage := testStage(3)
	stage.ShuffleID = "s@01"
	require.Equal(t, []int{0, 2}, missingPartitions(stage, registry))

	// result stages have no shuffle output; every partition must run
	result := &planner.Stage{ID: "r@02", Kind: planner.ResultStage, NumPartitions: 2}
	require.Equal(t, []int{0, 1}, missingPartitions(result, registry))
}
