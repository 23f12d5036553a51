package cascade

import (
	"context"
	"sync"

	"github.com/driftlab/cascade/internal/errchannel"
	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/lineage"
	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/scheduler"
	"github.com/driftlab/cascade/shuffle"
	"github.com/driftlab/cascade/worker"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrCancelled is returned by Wait when the job was cancelled.
var ErrCancelled = errors.New("job cancelled")

// RunningJob is the driver-side handle of a submitted job.
type RunningJob struct {
	Job *job.Job

	engine  *Engine
	tracker *job.Tracker
	sch     *scheduler.Scheduler
	cancel  context.CancelFunc

	collectOnce sync.Once
	collectErr  *multierror.Error
	collectMu   sync.Mutex
}

// Status returns a snapshot of the job's status.
func (r *RunningJob) Status() job.Status {
	return r.tracker.Status()
}

// StageProgress returns per-state task counts of a stage.
func (r *RunningJob) StageProgress(stageID string) (job.StageStatus, bool) {
	return r.tracker.StageProgress(stageID)
}

// Metrics returns the job's task metrics so far, keyed per stage as
// "<stageName>/<metric>".
func (r *RunningJob) Metrics() cascademetric.Metrics {
	return r.sch.Metrics()
}

// Cancel stops the job. Running tasks are cancelled best-effort.
func (r *RunningJob) Cancel() {
	r.cancel()
}

// Wait blocks until the job reaches a terminal state. It returns nil on
// success, the job's failure report on failure, ErrCancelled on
// cancellation, and ctx.Err when ctx ends first.
func (r *RunningJob) Wait(ctx context.Context) error {
	done := errchannel.New()
	defer done.Close()

	r.tracker.OnJobCompletion(func(status *job.Status) {
		switch status.State {
		case job.Succeeded:
			done.Send(nil)
		case job.Cancelled:
			done.Send(ErrCancelled)
		default:
			if status.Failure != nil {
				done.Send(status.Failure)
			} else {
				done.Send(errors.Errorf("job %s failed", r.Job.ID))
			}
		}
	})

	select {
	case err := <-done.Recv():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results waits for the job to succeed, then collects the result
// partitions from the workers holding them, in partition order. The
// channel is finite and can only be consumed once.
func (r *RunningJob) Results(ctx context.Context) (<-chan lineage.Row, error) {
	if err := r.Wait(ctx); err != nil {
		return nil, err
	}
	var started bool
	r.collectOnce.Do(func() { started = true })
	if !started {
		return nil, errors.New("results already collected")
	}

	var (
		out     = make(chan lineage.Row, 256)
		locs    = r.sch.ResultLocations()
		fetcher = worker.NewFetcher(r.engine.clu)
		numPart = r.Job.ResultStage().NumPartitions
	)
	go func() {
		defer close(out)
		for p := 0; p < numPart; p++ {
			host, ok := locs[p]
			if !ok {
				r.addCollectErr(errors.Errorf("result partition %d has no location", p))
				return
			}
			id := shuffle.BlockID{
				ShuffleID: job.ResultShuffleID(r.Job.ID),
				MapIndex:  p,
				Partition: 0,
			}
			rows, err := fetcher.FetchBlock(ctx, host, id)
			if err != nil {
				r.addCollectErr(errors.Wrapf(err, "collect result partition %d from %s", p, host))
				return
			}
			for _, row := range rows {
				select {
				case out <- row:
				case <-ctx.Done():
					r.addCollectErr(ctx.Err())
					return
				}
			}
		}
	}()
	return out, nil
}

// Err returns errors that occurred while collecting results. Call it after
// draining the Results channel.
func (r *RunningJob) Err() error {
	r.collectMu.Lock()
	defer r.collectMu.Unlock()
	return r.collectErr.ErrorOrNil()
}

func (r *RunningJob) addCollectErr(err error) {
	r.collectMu.Lock()
	defer r.collectMu.Unlock()
	r.collectErr = multierror.Append(r.collectErr, err)
}
