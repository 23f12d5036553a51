package worker

import (
	"context"
	"time"

	"github.com/driftlab/cascade/internal/logutils"
	"github.com/driftlab/cascade/internal/serialization"
	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/lineage"
	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/rpc"
	"github.com/driftlab/cascade/shuffle"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const statusReportTimeout = 10 * time.Second

// taskExecutor runs a single task attempt: read inputs, apply the stage's
// narrow chain, write outputs, report the outcome. Outcome classification
// matters: fetch failures indict the producing map output and must not be
// folded into plain execution errors.
type taskExecutor struct {
	worker *Worker
	task   job.TaskID
	req    *rpc.TaskAssignment

	transforms  []lineage.Transform
	source      lineage.Source
	partitioner lineage.Partitioner
	combiner    lineage.Combiner

	ctx     context.Context
	cancel  context.CancelFunc
	metrics cascademetric.Repository

	blocks     []shuffle.BlockMeta
	resultRows int
}

func newTaskExecutor(w *Worker, req *rpc.TaskAssignment) (*taskExecutor, error) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &taskExecutor{
		worker: w,
		task: job.TaskID{
			JobID:     req.JobID,
			StageID:   req.StageID,
			Partition: req.Partition,
			Attempt:   req.Attempt,
		},
		req:     req,
		ctx:     ctx,
		cancel:  cancel,
		metrics: cascademetric.NewRepository(),
	}
	if err := exec.decode(); err != nil {
		cancel()
		return nil, err
	}
	return exec, nil
}

func (e *taskExecutor) decode() error {
	for _, n := range e.req.Nodes {
		if len(n.Source) > 0 {
			v, err := serialization.DeserializeStruct(n.Source)
			if err != nil {
				return errors.Wrapf(err, "decode source of %s", n.Name)
			}
			src, ok := v.(lineage.Source)
			if !ok {
				return errors.Errorf("node %s: %T is not a source", n.Name, v)
			}
			e.source = src
			continue
		}
		v, err := serialization.DeserializeStruct(n.Transform)
		if err != nil {
			return errors.Wrapf(err, "decode transform of %s", n.Name)
		}
		tf, ok := v.(lineage.Transform)
		if !ok {
			return errors.Errorf("node %s: %T is not a transform", n.Name, v)
		}
		e.transforms = append(e.transforms, tf)
	}

	if out := e.req.Output; out != nil {
		v, err := serialization.DeserializeStruct(out.Partitioner)
		if err != nil {
			return errors.Wrap(err, "decode partitioner")
		}
		p, ok := v.(lineage.Partitioner)
		if !ok {
			return errors.Errorf("%T is not a partitioner", v)
		}
		e.partitioner = p

		if len(out.Combiner) > 0 {
			v, err := serialization.DeserializeStruct(out.Combiner)
			if err != nil {
				return errors.Wrap(err, "decode combiner")
			}
			c, ok := v.(lineage.Combiner)
			if !ok {
				return errors.Errorf("%T is not a combiner", v)
			}
			e.combiner = c
		}
	}
	return nil
}

func (e *taskExecutor) Cancel() {
	e.cancel()
}

func (e *taskExecutor) Run() {
	started := time.Now()
	defer e.cancel()

	var taskErr error
	func() {
		defer func() {
			if perr := logutils.WrapRecover(recover()); perr != nil {
				log.Error().Str("task", e.task.String()).Msg(perr.Pretty())
				taskErr = perr
			}
		}()
		taskErr = e.execute(e.ctx)
	}()

	if e.ctx.Err() != nil {
		// cancelled by the scheduler; the outcome is no longer wanted
		return
	}
	e.report(taskErr, time.Since(started))
}

func (e *taskExecutor) execute(ctx context.Context) error {
	rows, err := e.readInputs(ctx)
	if err != nil {
		return err
	}
	e.metrics.AddMetric("rowsRead", int64(len(rows)))

	for i, tf := range e.transforms {
		rows, err = tf.Apply(ctx, e.task.Partition, rows)
		if err != nil {
			return errors.Wrapf(err, "apply %s", e.req.Nodes[i].Name)
		}
	}
	e.metrics.AddMetric("rowsWritten", int64(len(rows)))

	return e.writeOutput(ctx, rows)
}

func (e *taskExecutor) readInputs(ctx context.Context) ([]lineage.Row, error) {
	var rows []lineage.Row
	for _, in := range e.req.Inputs {
		switch in.Kind {
		case rpc.SourceInput:
			if e.source == nil {
				return nil, errors.New("source input without a source node")
			}
			read, err := e.source.Read(ctx, e.task.Partition)
			if err != nil {
				return nil, errors.Wrap(err, "read source")
			}
			rows = append(rows, read...)

		case rpc.ShuffleInput:
			refs := make([]shuffle.BlockRef, len(in.Blocks))
			for i, b := range in.Blocks {
				refs[i] = shuffle.BlockRef{MapIndex: b.MapIndex, Host: b.Host, Size: b.Size}
			}
			read, err := e.worker.reader.Read(ctx, in.ShuffleID, e.task.Partition, refs)
			if err != nil {
				return nil, err
			}
			rows = append(rows, read...)

		default:
			return nil, errors.Errorf("unknown input kind %q", in.Kind)
		}
	}
	return rows, nil
}

func (e *taskExecutor) writeOutput(ctx context.Context, rows []lineage.Row) error {
	host := e.worker.Node.Info().Host

	out := e.req.Output
	if out == nil {
		// result task: keep rows as a local block until the driver collects them
		id := shuffle.BlockID{
			ShuffleID: job.ResultShuffleID(e.task.JobID),
			MapIndex:  e.task.Partition,
			Partition: 0,
		}
		if _, err := e.worker.store.Put(ctx, id, rows); err != nil {
			return errors.Wrap(err, "store result block")
		}
		e.resultRows = len(rows)
		return nil
	}

	w := shuffle.NewWriter(out.ShuffleID, e.task.Partition, out.NumPartitions,
		e.partitioner, e.combiner, e.worker.store)
	if err := w.Write(rows); err != nil {
		return err
	}
	metas, err := w.Flush(ctx, host)
	if err != nil {
		return err
	}
	e.blocks = metas

	var written int64
	for _, m := range metas {
		written += m.Size
	}
	cascademetric.ShuffleWrittenBytesCounter.
		With(cascademetric.WorkerLabelValuesFrom(e.worker.Node.Info())).
		Add(float64(written))
	return nil
}

func (e *taskExecutor) report(taskErr error, elapsed time.Duration) {
	event := &job.TaskStatusEvent{
		TaskID:     e.task,
		Host:       e.worker.Node.Info().Host,
		Metrics:    e.metrics.Collect(),
		DurationMs: elapsed.Milliseconds(),
	}
	switch {
	case taskErr == nil:
		event.Outcome = job.TaskSucceeded
		event.Blocks = e.blocks
		event.ResultRows = e.resultRows

	default:
		if fe, ok := shuffle.AsFetchError(taskErr); ok {
			event.Outcome = job.TaskFetchFailed
			event.FetchShuffleID = fe.ShuffleID
			event.FetchMapIndex = fe.MapIndex
			event.FetchHost = fe.Host
		} else {
			event.Outcome = job.TaskFailed
		}
		event.Error = taskErr.Error()
	}

	// the task context may already be gone; reporting must still go out
	ctx, cancel := context.WithTimeout(context.Background(), statusReportTimeout)
	defer cancel()

	if err := e.worker.Cluster.States().Put(ctx, job.TaskStatusKey(e.task), event); err != nil {
		log.Error().Err(err).Str("task", e.task.String()).Msg("failed to report task status")
	}
}
