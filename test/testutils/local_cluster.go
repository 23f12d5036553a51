package testutils

import (
	"context"
	"time"

	"github.com/driftlab/cascade"
	"github.com/driftlab/cascade/coordinator"
	"github.com/driftlab/cascade/worker"
	. "github.com/smartystreets/goconvey/convey"
)

// LocalCluster is an engine plus workers running in-process on an
// in-memory coordinator, with real gRPC between them.
type LocalCluster struct {
	Engine      *cascade.Engine
	Coordinator coordinator.Coordinator
	Workers     []*worker.Worker
}

// StartLocalCluster runs a local cluster with numWorkers workers and
// returns it with a stopper tearing everything down.
func StartLocalCluster(c C, numWorkers int) (*LocalCluster, func()) {
	crd := coordinator.NewLocalMemory()

	wopt := worker.DefaultOptions()
	wopt.ListenHost = "127.0.0.1:"
	wopt.AdvertisedHost = "127.0.0.1:"
	wopt.Slots = 2

	engine, err := cascade.NewEngine(crd, cascade.WithWorkerOptions(wopt))
	So(err, ShouldBeNil)

	cluster := &LocalCluster{
		Engine:      engine,
		Coordinator: crd,
		Workers:     make([]*worker.Worker, numWorkers),
	}
	for i := 0; i < numWorkers; i++ {
		w, err := engine.NewWorker()
		So(err, ShouldBeNil)

		go func() { _ = w.Start() }()
		cluster.Workers[i] = w
	}

	// wait for workers to register themselves
	time.Sleep(200 * time.Millisecond)

	return cluster, func() {
		for _, w := range cluster.Workers {
			c.So(w.Close(), ShouldBeNil)
		}
		c.So(engine.Close(), ShouldBeNil)
		c.So(crd.Close(), ShouldBeNil)
	}
}

// StopWorker shuts one worker down mid-test and removes its registration,
// simulating a worker loss. The stopper skips it afterwards.
func (lc *LocalCluster) StopWorker(ctx context.Context, w *worker.Worker) error {
	host := w.Node.Info().Host
	if err := w.Close(); err != nil {
		return err
	}
	for i, other := range lc.Workers {
		if other == w {
			lc.Workers = append(lc.Workers[:i], lc.Workers[i+1:]...)
			break
		}
	}
	_, err := lc.Coordinator.Delete(ctx, "nodes/"+host)
	return err
}

// ContextWithTimeout returns a context usable inside a convey suite. The
// timeout defaults to 30 seconds.
func ContextWithTimeout(overrideTimeout ...time.Duration) context.Context {
	timeout := 30 * time.Second
	if len(overrideTimeout) > 0 {
		timeout = overrideTimeout[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	Reset(cancel)
	return ctx
}
