// Package worker runs tasks assigned by the scheduler and serves the
// shuffle blocks they produce. A worker is deliberately dumb: it executes
// whatever it is told to, reports the outcome through the coordinator, and
// never mutates scheduling state itself.
package worker

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/driftlab/cascade/cluster"
	"github.com/driftlab/cascade/cluster/node"
	"github.com/driftlab/cascade/job"
	cascademetric "github.com/driftlab/cascade/metric"
	"github.com/driftlab/cascade/rpc"
	"github.com/driftlab/cascade/shuffle"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Worker struct {
	Cluster   cluster.Cluster
	Node      node.Registration
	RPCServer *grpc.Server

	serverLis    net.Listener
	store        shuffle.BlockStore
	reader       *shuffle.Reader
	runningTasks sync.Map
	slots        chan struct{}
	opt          Options
}

func New(c cluster.Cluster, store shuffle.BlockStore, opt Options) (*Worker, error) {
	w := &Worker{
		Cluster: c,
		store:   store,
		opt:     opt,
	}
	if w.opt.Slots <= 0 {
		w.opt = DefaultOptions()
	}
	w.slots = make(chan struct{}, w.opt.Slots)

	w.RPCServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(w.opt.MaxMessageSize),
		grpc.MaxSendMsgSize(w.opt.MaxMessageSize),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			errorLogUnaryMiddleware,
			recoverUnaryMiddleware,
		)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			errorLogStreamMiddleware,
			recoverStreamMiddleware,
		)),
	)

	if err := w.register(); err != nil {
		return nil, errors.WithMessage(err, "register worker")
	}
	w.reader = shuffle.NewReader(w.Node.Info().Host, store, NewFetcher(c), w.opt.Shuffle)
	return w, nil
}

func (w *Worker) register() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rpc.RegisterWorkerServer(w.RPCServer, w)

	if w.serverLis == nil {
		// if port is not specified on ListenHost, it must be automatically
		// assigned with any available port in system by net.Listen.
		lis, err := net.Listen("tcp", w.opt.ListenHost)
		if err != nil {
			return errors.Wrapf(err, "listen %s", w.opt.ListenHost)
		}
		w.serverLis = lis
	}

	advHost := w.opt.AdvertisedHost
	if strings.HasSuffix(advHost, ":") {
		// port is assigned automatically
		_, actualPort, _ := net.SplitHostPort(w.serverLis.Addr().String())
		advHost += actualPort
	}
	n := node.New(advHost)
	n.Tag = w.opt.NodeTags
	n.Slots = w.opt.Slots

	nr, err := w.Cluster.Register(ctx, n)
	if err != nil {
		return err
	}
	w.Node = nr
	return nil
}

func (w *Worker) Start() error {
	return w.RPCServer.Serve(w.serverLis)
}

// Slots returns the number of tasks this worker runs concurrently.
func (w *Worker) Slots() int {
	return w.opt.Slots
}

func (w *Worker) NumRunningTasks() (count int) {
	w.runningTasks.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return
}

func (w *Worker) State() node.State {
	return w.Node.States()
}

func (w *Worker) AssignTask(_ context.Context, req *rpc.TaskAssignment) (*rpc.Ack, error) {
	exec, err := newTaskExecutor(w, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key := exec.task.String()
	if _, exists := w.runningTasks.LoadOrStore(key, exec); exists {
		return nil, status.Errorf(codes.AlreadyExists, "task %s already assigned to %s",
			key, w.Node.Info().Host)
	}

	go w.startTask(exec)
	return &rpc.Ack{}, nil
}

func (w *Worker) startTask(exec *taskExecutor) {
	defer w.runningTasks.Delete(exec.task.String())

	select {
	case w.slots <- struct{}{}:
		defer func() { <-w.slots }()
	case <-exec.ctx.Done():
		// cancelled while queued for a slot; nothing to report
		return
	}

	runningTasksGauge := cascademetric.RunningTasksGauge.
		With(cascademetric.WorkerLabelValuesFrom(w.Node.Info()))
	runningTasksGauge.Inc()
	defer runningTasksGauge.Dec()

	exec.Run()
}

func (w *Worker) CancelTask(_ context.Context, req *rpc.CancelTaskRequest) (*rpc.Ack, error) {
	id := job.TaskID{
		JobID:     req.JobID,
		StageID:   req.StageID,
		Partition: req.Partition,
		Attempt:   req.Attempt,
	}
	if v, ok := w.runningTasks.Load(id.String()); ok {
		v.(*taskExecutor).Cancel()
	}
	return &rpc.Ack{}, nil
}

func (w *Worker) CancelJob(_ context.Context, req *rpc.CancelJobRequest) (*rpc.Ack, error) {
	w.runningTasks.Range(func(_, v interface{}) bool {
		exec := v.(*taskExecutor)
		if exec.task.JobID == req.JobID {
			exec.Cancel()
		}
		return true
	})
	return &rpc.Ack{}, nil
}

func (w *Worker) FetchBlock(req *rpc.FetchBlockRequest, stream rpc.Worker_FetchBlockServer) error {
	id := shuffle.BlockID{
		ShuffleID: req.ShuffleID,
		MapIndex:  req.MapIndex,
		Partition: req.Partition,
	}
	rows, err := w.store.Get(stream.Context(), id)
	if err != nil {
		if errors.Is(err, shuffle.ErrBlockNotFound) {
			return status.Errorf(codes.NotFound, "block %s not found on %s", id, w.Node.Info().Host)
		}
		return err
	}
	for len(rows) > 0 {
		n := len(rows)
		if n > rpc.MaxChunkRows {
			n = rpc.MaxChunkRows
		}
		if err := stream.Send(&rpc.BlockChunk{Rows: rows[:n]}); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

// DropShuffle drops locally stored blocks of the shuffle. Called by the
// driver after a job's blocks are no longer referenced.
func (w *Worker) DropShuffle(shuffleID string) {
	w.store.DropShuffle(shuffleID)
}

func (w *Worker) Close() error {
	w.runningTasks.Range(func(_, v interface{}) bool {
		v.(*taskExecutor).Cancel()
		return true
	})
	w.Node.Unregister()
	w.RPCServer.GracefulStop()
	return nil
}

func errorLogUnaryMiddleware(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) { //nolint:lll
	resp, err := handler(ctx, req)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("method", info.FullMethod).Msg("rpc failed")
	}
	return resp, err
}

func errorLogStreamMiddleware(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error { //nolint:lll
	if err := handler(srv, ss); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		log.Error().Err(err).Str("method", info.FullMethod).Msg("stream rpc failed")
		return err
	}
	return nil
}

// Worker implements rpc.WorkerServer.
var _ rpc.WorkerServer = (*Worker)(nil)
