// Package cluster tracks worker membership and maintains gRPC connections
// between nodes. Registrations are ephemeral: a node's entry is attached to
// a coordinator lease and disappears when the node stops renewing it, which
// is how the scheduler learns about lost workers.
package cluster

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/driftlab/cascade/cluster/node"
	"github.com/driftlab/cascade/coordinator"
	"github.com/driftlab/cascade/pkg/retry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const nodeNs = "nodes"

// ErrNotFound is returned when a node with given host is not found.
var ErrNotFound = errors.New("node not found")

// State is cluster-wide state kept in the coordinator.
type State coordinator.Coordinator

type Cluster interface {
	// Register registers a node to the coordinator and makes it
	// discoverable. The registration is dropped when the cluster's context
	// is cancelled.
	Register(context.Context, *node.Node) (node.Registration, error)

	// Connect returns a pooled gRPC connection to the host.
	Connect(ctx context.Context, host string) (*grpc.ClientConn, error)

	// List returns available nodes.
	List(context.Context, ...ListOption) ([]*node.Node, error)

	// Get returns the node registered under the host, or ErrNotFound.
	Get(ctx context.Context, host string) (*node.Node, error)

	// States returns the cluster-wide state store.
	States() State

	// Close unregisters nodes registered through this handle and closes
	// all pooled connections.
	Close() error
}

type cluster struct {
	ctx    context.Context
	cancel context.CancelFunc

	clusterState State
	grpcOptions  []grpc.DialOption
	grpcConns    map[string]*grpc.ClientConn
	grpcConnsMu  sync.Mutex
	options      Options
}

func Open(clusterState coordinator.Coordinator, opt Options) (Cluster, error) {
	defaultCallOptions := []grpc.CallOption{
		grpc.MaxCallRecvMsgSize(opt.MaxMessageSize),
		grpc.MaxCallSendMsgSize(opt.MaxMessageSize),
	}
	if opt.Compressor != "" {
		defaultCallOptions = append(defaultCallOptions, grpc.UseCompressor(opt.Compressor))
	}

	grpcOpts := []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(defaultCallOptions...),
	}
	if opt.TLSCertPath != "" {
		cert, err := credentials.NewClientTLSFromFile(opt.TLSCertPath, opt.TLSCertServerName)
		if err != nil {
			return nil, errors.Wrapf(err, "load TLS cert in %s", opt.TLSCertPath)
		}
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(cert))
	} else {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &cluster{
		ctx:          ctx,
		cancel:       cancel,
		grpcOptions:  grpcOpts,
		grpcConns:    make(map[string]*grpc.ClientConn),
		clusterState: clusterState,
		options:      opt,
	}, nil
}

func (c *cluster) Register(ctx context.Context, n *node.Node) (node.Registration, error) {
	return newNodeRegistration(ctx, n, c)
}

func (c *cluster) Connect(ctx context.Context, host string) (*grpc.ClientConn, error) {
	c.grpcConnsMu.Lock()
	conn, ok := c.grpcConns[host]
	c.grpcConnsMu.Unlock()

	if ok && conn.GetState() == connectivity.Ready {
		return conn, nil
	}
	return c.establishNewConnection(ctx, host)
}

// establishNewConnection dials the host. The context only covers dialing;
// cancelling it later does not close the connection.
func (c *cluster) establishNewConnection(ctx context.Context, host string) (*grpc.ClientConn, error) {
	log.Info().Str("host", host).Msg("establish new connection")

	return retry.DoWithResult(
		func() (*grpc.ClientConn, error) {
			dialCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
			defer cancel()

			newConn, err := grpc.DialContext(dialCtx, host, c.grpcOptions...)
			if err != nil {
				return nil, err
			}

			c.grpcConnsMu.Lock()
			defer c.grpcConnsMu.Unlock()

			oldConn, ok := c.grpcConns[host]
			if ok && oldConn.GetState() == connectivity.Ready {
				if err := newConn.Close(); err != nil {
					log.Warn().Err(err).Str("host", host).Msg("failed to close connection")
				}
				return oldConn, nil
			}
			c.grpcConns[host] = newConn
			return newConn, nil
		},
		retry.WithAttempts(c.options.ConnectRetryCount),
		retry.WithDelay(c.options.ConnectRetryDelay),
		retry.WithBackoff(1.5),
	)
}

func (c *cluster) List(ctx context.Context, option ...ListOption) ([]*node.Node, error) {
	var opt ListOption
	if len(option) > 0 {
		opt = option[0]
	}
	items, err := c.clusterState.Scan(ctx, nodeNs)
	if err != nil {
		return nil, errors.Wrap(err, "scan nodes")
	}

	var nodes []*node.Node
	for _, item := range items {
		n := new(node.Node)
		if err := item.Unmarshal(n); err != nil {
			return nil, errors.Wrapf(err, "unmarshal item %s", item.Key)
		}
		if opt.Tag != nil && !n.TagMatches(opt.Tag) {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (c *cluster) Get(ctx context.Context, host string) (*node.Node, error) {
	n := new(node.Node)
	if err := c.clusterState.Get(ctx, path.Join(nodeNs, host), n); err != nil {
		if err == coordinator.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get node")
	}
	return n, nil
}

func (c *cluster) States() State {
	return c.clusterState
}

func (c *cluster) Close() (err error) {
	c.cancel()
	c.grpcConnsMu.Lock()
	defer c.grpcConnsMu.Unlock()

	for host, conn := range c.grpcConns {
		if closeErr := conn.Close(); err == nil && closeErr != nil {
			if status.Code(closeErr) == codes.Canceled {
				continue
			}
			err = errors.Wrapf(closeErr, "close connection to %s", host)
		}
	}
	return err
}

// nodeRegistration implements node.Registration.
type nodeRegistration struct {
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	node          *node.Node
	cluster       *cluster
	livenessLease clientv3.LeaseID
	sig           <-chan struct{}
}

func newNodeRegistration(ctx context.Context, n *node.Node, c *cluster) (*nodeRegistration, error) {
	nodeCtx, cancel := context.WithCancel(c.ctx)
	nodeReg := &nodeRegistration{
		ctx:     nodeCtx,
		cancel:  cancel,
		node:    n,
		cluster: c,
	}

	lease, err := c.clusterState.GrantLease(ctx, c.options.LivenessProbeInterval)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "grant liveness lease")
	}
	nodeReg.livenessLease = lease

	sig, err := c.clusterState.KeepAlive(nodeCtx, lease)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "start liveness probe")
	}
	nodeReg.sig = sig

	if err := nodeReg.States().Put(ctx, path.Join(nodeNs, n.Host), n); err != nil {
		cancel()
		return nil, errors.Wrap(err, "register node info")
	}

	log.Info().Str("host", n.Host).Interface("tag", n.Tag).Msg("worker node registered")

	go nodeReg.keepRegistered()
	return nodeReg, nil
}

// keepRegistered re-registers the node whenever its keep-alive stream is
// lost, e.g. after a transient coordinator outage.
func (n *nodeRegistration) keepRegistered() {
	interval := n.cluster.options.LivenessProbeInterval
	for n.ctx.Err() == nil {
		select {
		case <-n.ctx.Done():
			return
		case <-n.sig:
		}

		timeoutCtx, cancel := context.WithTimeout(n.ctx, interval)
		func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			log.Info().Str("host", n.node.Host).Msg("re-register node")

			lease, err := n.cluster.States().GrantLease(timeoutCtx, interval)
			if err != nil {
				log.Warn().Err(err).Msg("failed to grant liveness lease")
				return
			}
			n.livenessLease = lease

			sig, err := n.cluster.States().KeepAlive(n.ctx, n.livenessLease)
			if err != nil {
				log.Warn().Err(err).Msg("failed to keep alive")
				return
			}
			n.sig = sig

			if err := n.states().Put(timeoutCtx, path.Join(nodeNs, n.node.Host), n.node); err != nil {
				log.Warn().Err(err).Msg("failed to put node")
			}
		}()
		cancel()

		// avoid hammering the coordinator when re-registration keeps failing
		time.Sleep(100 * time.Millisecond)
	}
}

func (n *nodeRegistration) Info() *node.Node {
	return n.node
}

func (n *nodeRegistration) states() node.State {
	return n.cluster.States().WithOptions(coordinator.WithLease(n.livenessLease))
}

func (n *nodeRegistration) States() node.State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.states()
}

func (n *nodeRegistration) Unregister() {
	n.cancel()
}
