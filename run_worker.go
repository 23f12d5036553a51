package cascade

import (
	"context"

	"github.com/driftlab/cascade/cluster"
	"github.com/driftlab/cascade/coordinator"
	"github.com/driftlab/cascade/pkg/encoding/lz4"
	"github.com/driftlab/cascade/shuffle"
	"github.com/driftlab/cascade/worker"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RunWorker starts a worker daemon and serves until ctx is cancelled.
func RunWorker(ctx context.Context, opts ...Option) error {
	opt := buildOptions(opts)
	if opt.Cluster.Compressor == "" {
		opt.Cluster.Compressor = lz4.Name
	}

	etcd, err := coordinator.NewEtcd(opt.EtcdEndpoints, opt.EtcdNamespace, opt.EtcdOptions)
	if err != nil {
		return errors.Wrap(err, "connect etcd")
	}
	defer etcd.Close()

	clu, err := cluster.Open(etcd, opt.Cluster)
	if err != nil {
		return errors.Wrap(err, "open cluster")
	}
	defer clu.Close()

	w, err := worker.New(clu, shuffle.NewMemoryStore(), opt.Worker)
	if err != nil {
		return errors.Wrap(err, "init worker")
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start()
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	if err := w.Close(); err != nil {
		log.Error().Err(err).Msg("failed to shut down worker")
	}
	log.Info().Msg("worker stopped")
	return nil
}
