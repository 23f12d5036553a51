// Package scheduler turns a planned job into running tasks. A single
// goroutine per job owns all scheduling state and consumes a serialized
// event stream: task outcomes, worker membership changes and timer ticks.
// Workers never mutate this state; they only report.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/driftlab/cascade/cluster"
	"github.com/driftlab/cascade/cluster/node"
	"github.com/driftlab/cascade/job"
	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/planner"
	"github.com/driftlab/cascade/rpc"
	"github.com/driftlab/cascade/shuffle"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// workerState is the scheduler's view of one live worker.
type workerState struct {
	node      *node.Node
	freeSlots int
}

type Scheduler struct {
	clu      cluster.Cluster
	registry *shuffle.Registry
	tracker  *job.Tracker
	j        *job.Job
	opt      Options

	events chan event

	// owned by the scheduling loop
	workers   map[string]*workerState
	sets      map[string]*taskSet
	completed map[string]bool
	nodeSpecs map[string][]rpc.NodeSpec

	// read by the driver after the loop ends, hence the lock
	mu           sync.RWMutex
	resultHosts  map[int]string
	stageMetrics map[string]cascademetric.Metrics
}

func New(clu cluster.Cluster, registry *shuffle.Registry, tracker *job.Tracker, opt Options) *Scheduler {
	if opt.MaxTaskAttempts <= 0 {
		opt = DefaultOptions()
	}
	return &Scheduler{
		clu:          clu,
		registry:     registry,
		tracker:      tracker,
		j:            tracker.Job(),
		opt:          opt,
		events:       make(chan event, 256),
		workers:      make(map[string]*workerState),
		sets:         make(map[string]*taskSet),
		completed:    make(map[string]bool),
		nodeSpecs:    make(map[string][]rpc.NodeSpec),
		resultHosts:  make(map[int]string),
		stageMetrics: make(map[string]cascademetric.Metrics),
	}
}

// Run drives the job to a terminal state. It returns when the job
// succeeds, fails, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodes, err := s.clu.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list workers")
	}
	for _, n := range nodes {
		s.workers[n.Host] = &workerState{node: n, freeSlots: n.Slots}
	}

	go s.watchWorkers(ctx)
	go s.watchTaskStatus(ctx)

	s.tracker.MarkJobRunning()
	cascademetric.RunningJobsGauge.Inc()
	started := time.Now()
	defer func() {
		cascademetric.RunningJobsGauge.Dec()
		cascademetric.JobDurationSummary.Observe(time.Since(started).Seconds())
	}()

	log.Info().Str("job_id", s.j.ID).Int("stages", len(s.j.Stages)).
		Int("workers", len(s.workers)).Msg("job scheduling started")

	s.reconcile(time.Now())

	ticker := time.NewTicker(s.opt.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.broadcastCancel()
			s.markStagesCancelled()
			s.tracker.CompleteJob(job.Cancelled, nil)
			return ctx.Err()

		case <-ticker.C:
			now := time.Now()
			s.speculate(now)
			s.reconcile(now)

		case ev := <-s.events:
			s.handle(ctx, ev)
		}

		if s.tracker.Status().State.Terminal() {
			return nil
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case workerJoinedEvent:
		if _, known := s.workers[ev.node.Host]; !known {
			s.workers[ev.node.Host] = &workerState{node: ev.node, freeSlots: ev.node.Slots}
			log.Info().Str("host", ev.node.Host).Msg("worker joined")
		}
		s.reconcile(time.Now())

	case workerLostEvent:
		s.handleWorkerLost(ev.host)

	case taskStatusEvent:
		s.handleTaskStatus(ev.status)

	case assignFailedEvent:
		s.handleAssignFailed(ev)
	}
}

func (s *Scheduler) handleTaskStatus(ev *job.TaskStatusEvent) {
	ts := s.sets[ev.TaskID.StageID]
	if ts == nil {
		return
	}
	t, ok := ts.tasks[ev.TaskID.Partition]
	if !ok {
		return
	}
	run, live := t.run(ev.TaskID.Attempt)
	if !live {
		// attempt was abandoned (worker loss or rollback); outcome is stale
		return
	}
	t.removeRun(ev.TaskID.Attempt)
	s.releaseSlot(run.host)

	switch ev.Outcome {
	case job.TaskSucceeded:
		s.handleTaskSuccess(ts, t, ev)

	case job.TaskFetchFailed:
		if t.done {
			return
		}
		s.handleFetchFailure(ts, t, ev)

	case job.TaskFailed:
		if t.done {
			return
		}
		t.lastFailedHost = ev.Host
		s.handleTaskFailure(ts, t, ev.Error)
	}
	s.updateTaskCounts(ts)
}

func (s *Scheduler) handleTaskSuccess(ts *taskSet, t *taskState, ev *job.TaskStatusEvent) {
	if t.done {
		// a speculative duplicate finished after the winner; drop it
		return
	}
	t.done = true
	ts.durations = append(ts.durations, time.Duration(ev.DurationMs)*time.Millisecond)
	s.cancelRemainingRuns(ts.stage.ID, t)

	s.mu.Lock()
	sm := s.stageMetrics[ts.stage.Name()]
	if sm == nil {
		sm = make(cascademetric.Metrics)
		s.stageMetrics[ts.stage.Name()] = sm
	}
	sm.Add(ev.Metrics)
	s.mu.Unlock()

	stage := ts.stage
	if stage.Kind == planner.MapStage {
		if err := s.registry.RegisterOutput(stage.ShuffleID, t.partition, ev.Blocks); err != nil {
			log.Error().Err(err).Str("stage_id", stage.ID).Int("partition", t.partition).
				Msg("failed to register shuffle output")
		}
	} else {
		s.mu.Lock()
		s.resultHosts[t.partition] = ev.Host
		s.mu.Unlock()
	}
	s.tracker.TaskDone(stage.ID)

	if ts.allDone() {
		s.completeStage(stage)
	}
	s.reconcile(time.Now())
}

func (s *Scheduler) handleTaskFailure(ts *taskSet, t *taskState, msg string) {
	t.failures++
	log.Warn().Str("stage_id", ts.stage.ID).Int("partition", t.partition).
		Int("failures", t.failures).Str("error", msg).Msg("task attempt failed")

	if t.failures >= s.opt.MaxTaskAttempts {
		s.failJob(&job.FailureReport{
			StageID:   ts.stage.ID,
			Partition: t.partition,
			Attempts:  t.failures,
			Message:   msg,
		})
		return
	}
	cascademetric.TaskRetriesCounter.Inc()
	// the partition is pending again; the next tick relaunches it
}

// handleAssignFailed reschedules an attempt whose AssignTask RPC never
// reached the worker. The substrate failed, not the task, so the attempt
// does not consume the execution-error retry budget.
func (s *Scheduler) handleAssignFailed(ev assignFailedEvent) {
	ts := s.sets[ev.id.StageID]
	if ts == nil {
		return
	}
	t, ok := ts.tasks[ev.id.Partition]
	if !ok || t.done {
		return
	}
	if run, live := t.run(ev.id.Attempt); live {
		t.removeRun(ev.id.Attempt)
		s.releaseSlot(run.host)
	}
	t.lastFailedHost = ev.host
	log.Warn().Str("task", ev.id.String()).Str("host", ev.host).Err(ev.err).
		Msg("task assignment failed; rescheduling")
	s.updateTaskCounts(ts)
	// the partition is pending again; the next tick relaunches it elsewhere
}

// completeStage finishes a stage. For map stages the shuffle output must be
// fully registered; a partially reused output keeps the stage running.
func (s *Scheduler) completeStage(stage *planner.Stage) {
	if stage.Kind == planner.MapStage && !s.registry.HasCompleteOutput(stage.ShuffleID) {
		return
	}
	s.completed[stage.ID] = true
	s.tracker.MarkStageCompleted(stage.ID, job.Succeeded)

	if stage.Kind == planner.ResultStage {
		s.tracker.CompleteJob(job.Succeeded, nil)
	}
}

// markStagesCancelled settles the bookkeeping of stages still in flight
// when the job is cancelled. Tasks that already finished stay Succeeded;
// everything else becomes Cancelled.
func (s *Scheduler) markStagesCancelled() {
	for _, stage := range s.j.Stages {
		if s.completed[stage.ID] {
			continue
		}
		if ts := s.sets[stage.ID]; ts != nil {
			counts := map[job.State]int{}
			for _, t := range ts.tasks {
				if t.done {
					counts[job.Succeeded]++
				} else {
					counts[job.Cancelled]++
				}
			}
			s.tracker.SetTaskCounts(stage.ID, counts)
		}
		s.tracker.MarkStageCompleted(stage.ID, job.Cancelled)
	}
}

func (s *Scheduler) failJob(report *job.FailureReport) {
	log.Error().Str("job_id", s.j.ID).Str("stage_id", report.StageID).
		Int("partition", report.Partition).Str("error", report.Message).
		Msg("job failed; retry budget exhausted")

	s.broadcastCancel()
	s.tracker.CompleteJob(job.Failed, report)
}

// cancelRemainingRuns tells workers to stop an attempt's leftover
// duplicates and frees their slots immediately; cancelled attempts never
// report back.
func (s *Scheduler) cancelRemainingRuns(stageID string, t *taskState) {
	for _, r := range t.runs {
		s.releaseSlot(r.host)
		s.cancelAttempt(job.TaskID{
			JobID:     s.j.ID,
			StageID:   stageID,
			Partition: t.partition,
			Attempt:   r.attempt,
		}, r.host)
	}
	t.runs = nil
}

func (s *Scheduler) cancelAttempt(id job.TaskID, host string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, err := s.clu.Connect(ctx, host)
		if err != nil {
			return
		}
		_, _ = rpc.NewWorkerClient(conn).CancelTask(ctx, &rpc.CancelTaskRequest{
			JobID:     id.JobID,
			StageID:   id.StageID,
			Partition: id.Partition,
			Attempt:   id.Attempt,
		})
	}()
}

func (s *Scheduler) broadcastCancel() {
	for host := range s.workers {
		host := host
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := s.clu.Connect(ctx, host)
			if err != nil {
				return
			}
			_, _ = rpc.NewWorkerClient(conn).CancelJob(ctx, &rpc.CancelJobRequest{JobID: s.j.ID})
		}()
	}
}

func (s *Scheduler) releaseSlot(host string) {
	if w, ok := s.workers[host]; ok {
		w.freeSlots++
	}
}

func (s *Scheduler) updateTaskCounts(ts *taskSet) {
	counts := map[job.State]int{}
	for _, t := range ts.tasks {
		switch {
		case t.done:
			counts[job.Succeeded]++
		case len(t.runs) > 0:
			counts[job.Running]++
		default:
			counts[job.Pending]++
		}
	}
	s.tracker.SetTaskCounts(ts.stage.ID, counts)
}

// ResultLocations returns, per result partition, the host holding its rows.
// Only meaningful once the job succeeded.
func (s *Scheduler) ResultLocations() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]string, len(s.resultHosts))
	for p, h := range s.resultHosts {
		out[p] = h
	}
	return out
}

// Metrics returns the job's task metrics so far, keyed per stage as
// "<stageName>/<metric>".
func (s *Scheduler) Metrics() cascademetric.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := make(cascademetric.Metrics)
	for name, m := range s.stageMetrics {
		total.Add(m.AddPrefix(name + "/"))
	}
	return total
}
