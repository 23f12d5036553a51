package worker

import (
	"context"
	"io"

	"github.com/driftlab/cascade/cluster"
	"github.com/driftlab/cascade/lineage"
	"github.com/driftlab/cascade/rpc"
	"github.com/driftlab/cascade/shuffle"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fetcher pulls blocks from other workers over the cluster's pooled gRPC
// connections. It is used by workers for shuffle reads and by the driver
// for result collection.
type fetcher struct {
	cluster cluster.Cluster
}

func NewFetcher(c cluster.Cluster) shuffle.Fetcher {
	return &fetcher{cluster: c}
}

func (f *fetcher) FetchBlock(ctx context.Context, host string, id shuffle.BlockID) ([]lineage.Row, error) {
	conn, err := f.cluster.Connect(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", host)
	}
	stream, err := rpc.NewWorkerClient(conn).FetchBlock(ctx, &rpc.FetchBlockRequest{
		ShuffleID: id.ShuffleID,
		MapIndex:  id.MapIndex,
		Partition: id.Partition,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open block stream to %s", host)
	}

	var rows []lineage.Row
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, shuffle.ErrBlockNotFound
			}
			return nil, errors.Wrapf(err, "receive block %s from %s", id, host)
		}
		rows = append(rows, chunk.Rows...)
	}
}
