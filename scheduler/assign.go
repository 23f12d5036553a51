package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/driftlab/cascade/internal/serialization"
	"github.com/driftlab/cascade/job"
	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/planner"
	"github.com/driftlab/cascade/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// reconcile walks the stages in dependency order, completes stages whose
// shuffle output is already fully registered, opens taskSets for stages
// that just became ready, and assigns pending tasks to free slots.
func (s *Scheduler) reconcile(now time.Time) {
	for _, stage := range s.j.Stages {
		if s.completed[stage.ID] {
			continue
		}
		if stage.Kind == planner.MapStage {
			s.registry.CreateOrGet(stage.ShuffleID, stage.NumPartitions, stage.OutputPartitions)
			if s.registry.HasCompleteOutput(stage.ShuffleID) {
				// reused from an earlier run with the same lineage fingerprint
				s.completeStage(stage)
				continue
			}
		}
		if !s.parentsReady(stage) {
			continue
		}

		ts := s.sets[stage.ID]
		if ts == nil {
			ts = newTaskSet(stage, s.partitionsToRun(stage), now)
			s.sets[stage.ID] = ts
			s.tracker.MarkStageRunning(stage.ID)
			s.updateTaskCounts(ts)

			log.Debug().Str("job_id", s.j.ID).Str("stage_id", stage.ID).
				Int("tasks", len(ts.tasks)).Msg("stage started")

			if ts.allDone() {
				// rolled back stage whose missing outputs got re-registered
				s.completeStage(stage)
				continue
			}
		}
		ts.escalate(now, s.opt.LocalityWaitHost, s.opt.LocalityWaitRack)
		s.assignPending(ts, now)
	}
}

func (s *Scheduler) parentsReady(stage *planner.Stage) bool {
	for _, pid := range stage.Parents {
		if !s.completed[pid] {
			return false
		}
	}
	return true
}

// partitionsToRun lists the partitions a newly opened stage must compute.
// Map stages skip partitions whose output is still registered from an
// earlier run.
func (s *Scheduler) partitionsToRun(stage *planner.Stage) []int {
	if stage.Kind == planner.MapStage {
		return missingPartitions(stage, s.registry)
	}
	var out []int
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p := 0; p < stage.NumPartitions; p++ {
		if _, done := s.resultHosts[p]; !done {
			out = append(out, p)
		}
	}
	return out
}

func (s *Scheduler) assignPending(ts *taskSet, now time.Time) {
	for _, t := range ts.pending() {
		t.preferredHosts = s.preferredHostsFor(ts.stage, t.partition)
		w := s.pickWorker(t.preferredHosts, ts.level, t.lastFailedHost)
		if w == nil {
			continue
		}
		s.launch(ts, t, w, false, now)
	}
	s.updateTaskCounts(ts)
}

// preferredHostsFor ranks hosts by how much of the task's shuffle input
// they already hold. Source-only stages have no preference.
func (s *Scheduler) preferredHostsFor(stage *planner.Stage, partition int) []string {
	bytesByHost := make(map[string]int64)
	for _, pid := range stage.Parents {
		parent := s.j.GetStage(pid)
		if parent == nil {
			continue
		}
		refs, err := s.registry.BlocksForPartition(parent.ShuffleID, partition)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			bytesByHost[ref.Host] += ref.Size
		}
	}
	hosts := lo.Keys(bytesByHost)
	sort.Slice(hosts, func(i, j int) bool {
		if bytesByHost[hosts[i]] != bytesByHost[hosts[j]] {
			return bytesByHost[hosts[i]] > bytesByHost[hosts[j]]
		}
		return hosts[i] < hosts[j]
	})
	if len(hosts) > 2 {
		hosts = hosts[:2]
	}
	return hosts
}

// pickWorker selects a worker with a free slot honoring the taskSet's
// current locality level. Tasks without preference run anywhere. The host
// named in avoid is skipped while any other worker has capacity, so a
// relaunch after a failure lands on a different worker when possible.
func (s *Scheduler) pickWorker(preferred []string, level localityLevel, avoid string) *workerState {
	free := lo.Filter(lo.Values(s.workers), func(w *workerState, _ int) bool {
		return w.freeSlots > 0
	})
	if avoid != "" {
		elsewhere := lo.Filter(free, func(w *workerState, _ int) bool {
			return w.node.Host != avoid
		})
		if len(elsewhere) > 0 {
			free = elsewhere
		}
	}
	if len(free) == 0 {
		return nil
	}
	freeByHost := make(map[string]*workerState, len(free))
	for _, w := range free {
		freeByHost[w.node.Host] = w
	}
	if len(preferred) == 0 {
		return mostFree(free)
	}

	switch level {
	case localityHost:
		for _, h := range preferred {
			if w, ok := freeByHost[h]; ok {
				return w
			}
		}
		return nil

	case localityRack:
		racks := make(map[string]bool)
		for _, h := range preferred {
			if w, ok := s.workers[h]; ok && w.node.Rack() != "" {
				racks[w.node.Rack()] = true
			}
		}
		if len(racks) == 0 {
			// preferred hosts are gone or untagged; no rack to wait for
			return mostFree(free)
		}
		inRack := lo.Filter(free, func(w *workerState, _ int) bool {
			return racks[w.node.Rack()]
		})
		if len(inRack) == 0 {
			return nil
		}
		return mostFree(inRack)

	default:
		return mostFree(free)
	}
}

// pickWorkerExcluding selects a free worker on a different host than any of
// the task's live attempts; speculation on the same host is pointless.
func (s *Scheduler) pickWorkerExcluding(t *taskState) *workerState {
	used := make(map[string]bool, len(t.runs))
	for _, r := range t.runs {
		used[r.host] = true
	}
	free := lo.Filter(lo.Values(s.workers), func(w *workerState, _ int) bool {
		return w.freeSlots > 0 && !used[w.node.Host]
	})
	if len(free) == 0 {
		return nil
	}
	return mostFree(free)
}

func mostFree(ws []*workerState) *workerState {
	return lo.MaxBy(ws, func(a, b *workerState) bool {
		if a.freeSlots != b.freeSlots {
			return a.freeSlots > b.freeSlots
		}
		// tie-break on host so scheduling stays deterministic
		return a.node.Host < b.node.Host
	})
}

func (s *Scheduler) launch(ts *taskSet, t *taskState, w *workerState, speculative bool, now time.Time) {
	t.attemptSeq++
	id := job.TaskID{
		JobID:     s.j.ID,
		StageID:   ts.stage.ID,
		Partition: t.partition,
		Attempt:   t.attemptSeq,
	}

	assignment, err := s.buildAssignment(ts.stage, t.partition, id.Attempt)
	if err != nil {
		// nothing was launched; report through the normal failure path
		s.handleTaskFailure(ts, t, err.Error())
		return
	}

	t.runs = append(t.runs, attemptRun{
		attempt:     id.Attempt,
		host:        w.node.Host,
		startedAt:   now,
		speculative: speculative,
	})
	w.freeSlots--
	if speculative {
		cascademetric.SpeculativeLaunchesCounter.Inc()
		log.Info().Str("task", id.String()).Str("host", w.node.Host).
			Msg("launching speculative duplicate")
	}

	host := w.node.Host
	preferred := append([]string(nil), t.preferredHosts...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn, err := s.clu.Connect(ctx, host)
		if err == nil {
			_, err = rpc.NewWorkerClient(conn).AssignTask(ctx, assignment)
		}
		if err != nil {
			s.sendEvent(ctx, assignFailedEvent{id: id, host: host, err: err})
			return
		}
		if states := s.clu.States(); states != nil {
			rec := job.NewTask(id, host, preferred)
			if err := states.Put(ctx, job.TaskAssignmentKey(id), rec); err != nil {
				log.Warn().Err(err).Str("task", id.String()).
					Msg("failed to publish assignment record")
			}
		}
	}()
}

// buildAssignment materializes everything the worker needs: the stage's
// serialized node chain, where to read each input, and where to write.
func (s *Scheduler) buildAssignment(stage *planner.Stage, partition, attempt int) (*rpc.TaskAssignment, error) {
	nodes, err := s.stageNodeSpecs(stage)
	if err != nil {
		return nil, err
	}

	var inputs []rpc.InputSpec
	for _, nid := range stage.Nodes {
		if s.j.Graph.Node(nid).Source != nil {
			inputs = append(inputs, rpc.InputSpec{Kind: rpc.SourceInput})
			break
		}
	}
	for _, pid := range stage.Parents {
		parent := s.j.GetStage(pid)
		refs, err := s.registry.BlocksForPartition(parent.ShuffleID, partition)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve input of %s[%d]", stage.ID, partition)
		}
		blocks := make([]rpc.BlockAddr, len(refs))
		for i, ref := range refs {
			blocks[i] = rpc.BlockAddr{MapIndex: ref.MapIndex, Host: ref.Host, Size: ref.Size}
		}
		inputs = append(inputs, rpc.InputSpec{
			Kind:          rpc.ShuffleInput,
			ShuffleID:     parent.ShuffleID,
			NumMapTasks:   parent.NumPartitions,
			NumPartitions: parent.OutputPartitions,
			Blocks:        blocks,
		})
	}

	assignment := &rpc.TaskAssignment{
		JobID:     s.j.ID,
		StageID:   stage.ID,
		Partition: partition,
		Attempt:   attempt,
		Nodes:     nodes,
		Inputs:    inputs,
	}

	if stage.Kind == planner.MapStage {
		partitioner, err := serialization.SerializeStruct(stage.OutputPartitioner)
		if err != nil {
			return nil, errors.Wrapf(err, "serialize partitioner of %s", stage.ID)
		}
		out := &rpc.OutputSpec{
			ShuffleID:     stage.ShuffleID,
			NumMapTasks:   stage.NumPartitions,
			NumPartitions: stage.OutputPartitions,
			Partitioner:   partitioner,
		}
		if stage.OutputCombiner != nil {
			out.Combiner, err = serialization.SerializeStruct(stage.OutputCombiner)
			if err != nil {
				return nil, errors.Wrapf(err, "serialize combiner of %s", stage.ID)
			}
		}
		assignment.Output = out
	}
	return assignment, nil
}

// stageNodeSpecs serializes a stage's node chain once and caches it; every
// attempt of every partition ships the same bytes.
func (s *Scheduler) stageNodeSpecs(stage *planner.Stage) ([]rpc.NodeSpec, error) {
	if specs, ok := s.nodeSpecs[stage.ID]; ok {
		return specs, nil
	}
	specs := make([]rpc.NodeSpec, 0, len(stage.Nodes))
	for _, nid := range stage.Nodes {
		n := s.j.Graph.Node(nid)
		spec := rpc.NodeSpec{Name: n.Name, NumPartitions: n.NumPartitions}

		var err error
		if n.Source != nil {
			spec.Source, err = serialization.SerializeStruct(n.Source)
		} else {
			spec.Transform, err = serialization.SerializeStruct(n.Transform)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "serialize node %s", n.Name)
		}
		specs = append(specs, spec)
	}
	s.nodeSpecs[stage.ID] = specs
	return specs, nil
}

// speculate launches duplicates of stragglers in stages that are mostly
// done. The first attempt to report success wins; the loser is cancelled
// and its output discarded.
func (s *Scheduler) speculate(now time.Time) {
	for _, ts := range s.sets {
		if s.completed[ts.stage.ID] || len(ts.tasks) == 0 {
			continue
		}
		if float64(ts.numDone()) < s.opt.SpeculationQuantile*float64(len(ts.tasks)) {
			continue
		}
		median := ts.medianDuration()
		if median == 0 {
			continue
		}
		threshold := time.Duration(float64(median) * s.opt.SpeculationMultiplier)
		for _, t := range ts.stragglers(now, threshold) {
			w := s.pickWorkerExcluding(t)
			if w == nil {
				continue
			}
			s.launch(ts, t, w, true, now)
		}
	}
}
