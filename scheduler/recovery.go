package scheduler

import (
	"time"

	"github.com/driftlab/cascade/job"
	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/planner"
	"github.com/rs/zerolog/log"
)

// handleWorkerLost reacts to a node registration disappearing: live
// attempts on the host are abandoned, its shuffle blocks are invalidated,
// and exactly the map tasks whose output lived there are recomputed.
// Lost attempts never count against the retry budget.
func (s *Scheduler) handleWorkerLost(host string) {
	delete(s.workers, host)
	log.Warn().Str("job_id", s.j.ID).Str("host", host).Msg("worker lost")

	for _, ts := range s.sets {
		for _, t := range ts.tasks {
			changed := false
			for i := len(t.runs) - 1; i >= 0; i-- {
				if t.runs[i].host == host {
					t.runs = append(t.runs[:i], t.runs[i+1:]...)
					changed = true
				}
			}
			if changed {
				s.updateTaskCounts(ts)
			}
		}
	}

	s.rollbackLostOutputs(s.registry.InvalidateHost(host))

	// result rows held on the lost worker are gone too
	s.mu.Lock()
	var lostResults []int
	for p, h := range s.resultHosts {
		if h == host {
			delete(s.resultHosts, p)
			lostResults = append(lostResults, p)
		}
	}
	s.mu.Unlock()
	if len(lostResults) > 0 && !s.tracker.Status().State.Terminal() {
		s.reopenStage(s.j.ResultStage(), lostResults)
	}

	s.reconcile(time.Now())
}

// handleFetchFailure indicts the producing map output named by the failed
// read, not the reading task: the output is deregistered and its map task
// recomputed, while the reader's partition simply waits for the parent to
// become complete again.
func (s *Scheduler) handleFetchFailure(ts *taskSet, t *taskState, ev *job.TaskStatusEvent) {
	log.Warn().Str("stage_id", ts.stage.ID).Int("partition", t.partition).
		Str("shuffle_id", ev.FetchShuffleID).Int("map_index", ev.FetchMapIndex).
		Str("block_host", ev.FetchHost).Msg("shuffle fetch failed; recomputing map output")

	s.registry.UnregisterMapOutput(ev.FetchShuffleID, ev.FetchMapIndex)
	s.rollbackLostOutputs(map[string][]int{ev.FetchShuffleID: {ev.FetchMapIndex}})
	s.reconcile(time.Now())
}

// rollbackLostOutputs reopens, per affected shuffle, only the map tasks
// whose output was lost. Unaffected partitions of the same stage keep
// their registered blocks.
func (s *Scheduler) rollbackLostOutputs(lost map[string][]int) {
	for shuffleID, mapIndices := range lost {
		stage := s.stageByShuffleID(shuffleID)
		if stage == nil {
			// output of another job; its own scheduler deals with it
			continue
		}
		s.reopenStage(stage, mapIndices)
		cascademetric.RecomputedPartitionsCounter.Add(float64(len(mapIndices)))
	}
}

// reopenStage puts partitions of a possibly-completed stage back into
// computation. Downstream stages stay untouched: parentsReady blocks their
// pending tasks until this stage completes again.
func (s *Scheduler) reopenStage(stage *planner.Stage, partitions []int) {
	if s.completed[stage.ID] {
		s.completed[stage.ID] = false
		s.tracker.MarkStageRunning(stage.ID)
	}
	ts := s.sets[stage.ID]
	if ts == nil {
		ts = newTaskSet(stage, partitions, time.Now())
		s.sets[stage.ID] = ts
		s.tracker.MarkStageRunning(stage.ID)
	} else {
		for _, p := range partitions {
			ts.addPartition(p)
		}
	}
	log.Info().Str("job_id", s.j.ID).Str("stage_id", stage.ID).
		Ints("partitions", partitions).Msg("recomputing lost partitions")
	s.updateTaskCounts(ts)
}

func (s *Scheduler) stageByShuffleID(shuffleID string) *planner.Stage {
	for _, stage := range s.j.Stages {
		if stage.ShuffleID == shuffleID {
			return stage
		}
	}
	return nil
}
