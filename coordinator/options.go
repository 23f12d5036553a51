package coordinator

import clientv3 "go.etcd.io/etcd/client/v3"

type writeOptions struct {
	Lease clientv3.LeaseID
}

// WriteOption modifies how values are written.
type WriteOption func(*writeOptions)

// WithLease attaches written keys to a lease so they expire with it.
func WithLease(lease clientv3.LeaseID) WriteOption {
	return func(o *writeOptions) {
		o.Lease = lease
	}
}

func buildWriteOptions(opts []WriteOption) (o writeOptions) {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
