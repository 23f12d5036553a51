package scheduler

import (
	"context"
	"path"

	"github.com/driftlab/cascade/cluster/node"
	"github.com/driftlab/cascade/coordinator"
	"github.com/driftlab/cascade/job"
	"github.com/rs/zerolog/log"
)

// event is a message into the scheduling loop. Everything that mutates
// scheduling state arrives here; the loop is the single writer.
type event interface{}

type taskStatusEvent struct {
	status *job.TaskStatusEvent
}

type workerJoinedEvent struct {
	node *node.Node
}

type workerLostEvent struct {
	host string
}

// assignFailedEvent reports that an AssignTask RPC never reached the
// worker. It is handled like a lost attempt: the partition goes back to
// pending without consuming the retry budget.
type assignFailedEvent struct {
	id   job.TaskID
	host string
	err  error
}

func (s *Scheduler) sendEvent(ctx context.Context, ev event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// watchWorkers turns node registry changes into join/loss events. A node
// key disappearing means its liveness lease expired.
func (s *Scheduler) watchWorkers(ctx context.Context) {
	for ev := range s.clu.States().Watch(ctx, "nodes") {
		switch ev.Type {
		case coordinator.PutEvent:
			n := new(node.Node)
			if err := ev.Item.Unmarshal(n); err != nil {
				log.Warn().Err(err).Str("key", ev.Item.Key).Msg("malformed node registration")
				continue
			}
			s.sendEvent(ctx, workerJoinedEvent{node: n})

		case coordinator.DeleteEvent:
			s.sendEvent(ctx, workerLostEvent{host: path.Base(ev.Item.Key)})
		}
	}
}

// watchTaskStatus forwards workers' task outcome reports for this job.
func (s *Scheduler) watchTaskStatus(ctx context.Context) {
	for ev := range s.clu.States().Watch(ctx, job.TaskStatusPrefix(s.j.ID)) {
		if ev.Type != coordinator.PutEvent {
			continue
		}
		status := new(job.TaskStatusEvent)
		if err := ev.Item.Unmarshal(status); err != nil {
			log.Warn().Err(err).Str("key", ev.Item.Key).Msg("malformed task status event")
			continue
		}
		s.sendEvent(ctx, taskStatusEvent{status: status})
	}
}
