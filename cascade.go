// Package cascade is a distributed data processing engine. A computation is
// declared as a lineage graph of deterministic transforms, planned into
// stages at shuffle boundaries, and executed on a cluster of workers.
// When outputs are lost to worker failure, the engine recomputes exactly
// the lineage that produced them instead of restarting the job.
package cascade

import (
	"context"

	"github.com/driftlab/cascade/cluster"
	"github.com/driftlab/cascade/coordinator"
	"github.com/driftlab/cascade/internal/serialization"
	"github.com/driftlab/cascade/internal/util"
	"github.com/driftlab/cascade/job"
	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/pkg/encoding/lz4"
	"github.com/driftlab/cascade/planner"
	"github.com/driftlab/cascade/scheduler"
	"github.com/driftlab/cascade/shuffle"
	"github.com/driftlab/cascade/worker"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// RegisterTypes forces the given computation types into the serialization
// cache so workers can resolve them by name even when nothing else in the
// binary references them. Call it from a package-level var declaration:
//
//	var _ = cascade.RegisterTypes(&WordSource{}, SumByKey{})
func RegisterTypes(vs ...interface{}) interface{} {
	for _, v := range vs {
		serialization.RegisterType(v)
	}
	return nil
}

// Engine plans and schedules jobs against a cluster. One Engine may run
// many jobs; they share the worker pool and the shuffle registry, which is
// what lets a resubmitted computation reuse still-valid shuffle output.
type Engine struct {
	clu      cluster.Cluster
	crd      coordinator.Coordinator
	registry *shuffle.Registry
	opt      Options

	ownsCoordinator bool
}

// NewEngine creates an engine on an existing coordinator. Closing the
// engine does not close the coordinator.
func NewEngine(crd coordinator.Coordinator, opts ...Option) (*Engine, error) {
	opt := buildOptions(opts)
	if opt.Cluster.Compressor == "" {
		opt.Cluster.Compressor = lz4.Name
	}
	clu, err := cluster.Open(crd, opt.Cluster)
	if err != nil {
		return nil, errors.Wrap(err, "open cluster")
	}
	return &Engine{
		clu:      clu,
		crd:      crd,
		registry: shuffle.NewRegistry(),
		opt:      opt,
	}, nil
}

// ConnectEngine connects to etcd and creates an engine on it.
func ConnectEngine(opts ...Option) (*Engine, error) {
	opt := buildOptions(opts)
	etcd, err := coordinator.NewEtcd(opt.EtcdEndpoints, opt.EtcdNamespace, opt.EtcdOptions)
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	e, err := NewEngine(etcd, opts...)
	if err != nil {
		etcd.Close()
		return nil, err
	}
	e.ownsCoordinator = true
	return e, nil
}

// Cluster exposes the engine's cluster handle.
func (e *Engine) Cluster() cluster.Cluster {
	return e.clu
}

// Submit plans the lineage graph and starts executing it. Validation and
// planning errors are returned synchronously; everything after that is
// reported through the returned RunningJob.
func (e *Engine) Submit(ctx context.Context, g *lineage.Graph, target lineage.NodeID) (*RunningJob, error) {
	stages, err := planner.New(e.registry).Plan(g, target)
	if err != nil {
		return nil, err
	}
	j := job.New(util.GenerateID("J"), g, target, stages)
	tracker := job.NewTracker(j)
	sch := scheduler.New(e.clu, e.registry, tracker, e.opt.Scheduler)

	jobCtx, cancel := context.WithCancel(context.Background())
	rj := &RunningJob{
		Job:     j,
		engine:  e,
		tracker: tracker,
		sch:     sch,
		cancel:  cancel,
	}
	go func() {
		defer cancel()
		_ = sch.Run(jobCtx)
	}()
	return rj, nil
}

// DropShuffleOutput forgets all registered shuffle output. Subsequent jobs
// recompute everything from sources.
func (e *Engine) DropShuffleOutput(shuffleIDs ...string) {
	for _, id := range shuffleIDs {
		e.registry.Drop(id)
	}
}

func (e *Engine) Close() error {
	var errs *multierror.Error
	if err := e.clu.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if e.ownsCoordinator {
		if err := e.crd.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// NewWorker registers a worker daemon on the engine's cluster using the
// engine's worker options. Mostly for single-process setups and tests;
// production workers run through RunWorker.
func (e *Engine) NewWorker() (*worker.Worker, error) {
	return worker.New(e.clu, shuffle.NewMemoryStore(), e.opt.Worker)
}
