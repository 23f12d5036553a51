// Package coordinator provides the cluster-wide key-value state shared by
// the engine's control plane: worker registrations, task status events and
// counters. An etcd-backed implementation serves real clusters; an
// in-memory one serves tests and single-process runs.
package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrNotCounter = errors.New("key is not a counter")
)

// KV is the data-plane subset of Coordinator. Values are JSON-encoded.
type KV interface {
	Get(ctx context.Context, key string, valuePtr interface{}) error
	Scan(ctx context.Context, prefix string) (results []RawItem, err error)
	Put(ctx context.Context, key string, value interface{}, opts ...WriteOption) error

	// Commit applies a transaction atomically.
	Commit(ctx context.Context, txn *Txn, opts ...WriteOption) ([]TxnResult, error)

	// IncrementCounter atomically increases the counter stored in key and
	// returns the new value.
	IncrementCounter(ctx context.Context, key string) (count int64, err error)
	ReadCounter(ctx context.Context, key string) (count int64, err error)

	// Delete removes all keys starting with prefix.
	Delete(ctx context.Context, prefix string) (deleted int64, err error)

	// WithOptions returns a KV applying the given write options to every
	// write. Used to scope ephemeral state to a lease.
	WithOptions(opts ...WriteOption) KV
}

// Coordinator adds watching and lease management on top of KV.
type Coordinator interface {
	KV

	// Watch subscribes to modification events of keys under prefix.
	Watch(ctx context.Context, prefix string) chan WatchEvent

	// GrantLease creates a lease expiring after ttl unless kept alive.
	GrantLease(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, error)

	// KeepAlive refreshes the lease until ctx is done. The returned channel
	// closes when refreshing stops, signalling the holder to re-register.
	KeepAlive(ctx context.Context, lease clientv3.LeaseID) (<-chan struct{}, error)

	Close() error
}
