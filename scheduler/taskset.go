package scheduler

import (
	"sort"
	"time"

	"github.com/driftlab/cascade/planner"
	"github.com/driftlab/cascade/shuffle"
)

// localityLevel is how far from its input a task is allowed to run.
type localityLevel int

const (
	localityHost localityLevel = iota
	localityRack
	localityAny
)

func (l localityLevel) String() string {
	switch l {
	case localityHost:
		return "host"
	case localityRack:
		return "rack"
	default:
		return "any"
	}
}

// attemptRun is one launched attempt of a task.
type attemptRun struct {
	attempt     int
	host        string
	startedAt   time.Time
	speculative bool
}

// taskState tracks one partition of a running stage.
type taskState struct {
	partition int

	// failures is the number of attempts that ended in an execution error.
	// Worker losses do not increment it.
	failures int

	// attemptSeq numbers every launch of this partition, including retries,
	// speculative duplicates and relaunches after worker loss.
	attemptSeq int

	runs []attemptRun
	done bool

	// lastFailedHost is where the most recent attempt came to grief.
	// Relaunches avoid it while another worker has capacity.
	lastFailedHost string

	preferredHosts []string
}

func (t *taskState) running() bool { return !t.done && len(t.runs) > 0 }

func (t *taskState) run(attempt int) (attemptRun, bool) {
	for _, r := range t.runs {
		if r.attempt == attempt {
			return r, true
		}
	}
	return attemptRun{}, false
}

func (t *taskState) removeRun(attempt int) {
	for i, r := range t.runs {
		if r.attempt == attempt {
			t.runs = append(t.runs[:i], t.runs[i+1:]...)
			return
		}
	}
}

func (t *taskState) hasSpeculative() bool {
	for _, r := range t.runs {
		if r.speculative {
			return true
		}
	}
	return false
}

// taskSet tracks one execution of a stage: which partitions still need
// computing, their attempts, and locality escalation state. A stage that is
// rolled back after data loss gets its taskSet extended with the lost
// partitions, not replaced.
type taskSet struct {
	stage *planner.Stage
	tasks map[int]*taskState

	// durations of finished tasks, for the speculation median.
	durations []time.Duration

	level          localityLevel
	levelChangedAt time.Time
}

func newTaskSet(stage *planner.Stage, partitions []int, now time.Time) *taskSet {
	ts := &taskSet{
		stage:          stage,
		tasks:          make(map[int]*taskState, len(partitions)),
		level:          localityHost,
		levelChangedAt: now,
	}
	for _, p := range partitions {
		ts.tasks[p] = &taskState{partition: p}
	}
	return ts
}

// addPartition puts a partition (back) into the set. Used when a computed
// output is invalidated after the stage already ran.
func (ts *taskSet) addPartition(p int) *taskState {
	if t, ok := ts.tasks[p]; ok {
		t.done = false
		return t
	}
	t := &taskState{partition: p}
	ts.tasks[p] = t
	return t
}

// pending returns partitions with no live attempt, in partition order so
// scheduling stays deterministic.
func (ts *taskSet) pending() []*taskState {
	var out []*taskState
	for _, t := range ts.tasks {
		if !t.done && len(t.runs) == 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].partition < out[j].partition })
	return out
}

func (ts *taskSet) numDone() (n int) {
	for _, t := range ts.tasks {
		if t.done {
			n++
		}
	}
	return
}

func (ts *taskSet) allDone() bool {
	return ts.numDone() == len(ts.tasks)
}

// medianDuration is the median of finished task durations. Zero until at
// least one task finished.
func (ts *taskSet) medianDuration() time.Duration {
	if len(ts.durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ts.durations))
	copy(sorted, ts.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// stragglers returns running, non-speculated tasks whose oldest attempt has
// been running longer than the threshold.
func (ts *taskSet) stragglers(now time.Time, threshold time.Duration) []*taskState {
	var out []*taskState
	for _, t := range ts.tasks {
		if t.done || len(t.runs) == 0 || t.hasSpeculative() {
			continue
		}
		if now.Sub(t.runs[0].startedAt) > threshold {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].partition < out[j].partition })
	return out
}

// escalate moves the locality level up once the configured wait at the
// current level has elapsed.
func (ts *taskSet) escalate(now time.Time, waitHost, waitRack time.Duration) {
	switch ts.level {
	case localityHost:
		if now.Sub(ts.levelChangedAt) > waitHost {
			ts.level = localityRack
			ts.levelChangedAt = now
		}
	case localityRack:
		if now.Sub(ts.levelChangedAt) > waitRack {
			ts.level = localityAny
			ts.levelChangedAt = now
		}
	}
}

// missingPartitions lists what a rolled-back map stage must recompute.
func missingPartitions(stage *planner.Stage, registry *shuffle.Registry) []int {
	if stage.ShuffleID == "" {
		all := make([]int, stage.NumPartitions)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return registry.MissingMapOutputs(stage.ShuffleID)
}
