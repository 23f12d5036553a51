package coordinator

import (
	"context"
	"time"

	"github.com/creasty/defaults"
	"github.com/driftlab/cascade/internal/logutils"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// counterMark is the value stored under counter keys. The key's etcd version
// is used as the counter value, so increments are single cheap puts.
const counterMark = "__counter"

type Etcd struct {
	Client  *clientv3.Client
	KV      clientv3.KV
	Watcher clientv3.Watcher
	Lease   clientv3.Lease

	option      EtcdOptions
	optsApplied []WriteOption
}

type EtcdOptions struct {
	DialTimeout  time.Duration `default:"5s"`
	OpTimeout    time.Duration `default:"3s"`
	WriteOptions []WriteOption
}

func defaultEtcdOptions() (o EtcdOptions) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}

// NewEtcd connects to an etcd cluster, scoping all keys under nsPrefix.
func NewEtcd(endpoints []string, nsPrefix string, opts ...EtcdOptions) (Coordinator, error) {
	option := defaultEtcdOptions()
	if len(opts) > 0 {
		option = opts[0]
	}

	etcdLogger, err := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return nil, err
	}
	cfg := clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: option.DialTimeout,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
		Logger:      etcdLogger,
	}
	cli, err := clientv3.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Etcd{
		Client:  cli,
		KV:      namespace.NewKV(cli, nsPrefix),
		Watcher: namespace.NewWatcher(cli, nsPrefix),
		Lease:   namespace.NewLease(cli, nsPrefix),
		option:  option,
	}, nil
}

func (e *Etcd) Get(ctx context.Context, key string, valuePtr interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	resp, err := e.KV.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return ErrNotFound
	}
	return jsoniter.Unmarshal(resp.Kvs[0].Value, valuePtr)
}

func (e *Etcd) Scan(ctx context.Context, prefix string) (results []RawItem, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	resp, err := e.KV.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return
	}
	for _, kv := range resp.Kvs {
		results = append(results, RawItem{
			Key:   string(kv.Key),
			Value: kv.Value,
		})
	}
	return
}

func (e *Etcd) Watch(ctx context.Context, prefix string) chan WatchEvent {
	watchChan := make(chan WatchEvent)

	wc := e.Watcher.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer func() {
			if err := logutils.WrapRecover(recover()); err != nil {
				log.Error().Str("prefix", prefix).Str("stack", err.Pretty()).
					Msg("panic while watching prefix")
			}
		}()
		defer close(watchChan)
		for wr := range wc {
			if err := wr.Err(); err != nil {
				log.Error().Err(err).Str("prefix", prefix).Msg("watch error")
				continue
			}
			for _, ev := range wr.Events {
				switch ev.Type {
				case mvccpb.PUT:
					if string(ev.Kv.Value) == counterMark {
						watchChan <- WatchEvent{
							Type:    CounterEvent,
							Item:    RawItem{Key: string(ev.Kv.Key)},
							Counter: ev.Kv.Version,
						}
						continue
					}
					watchChan <- WatchEvent{
						Type: PutEvent,
						Item: RawItem{
							Key:   string(ev.Kv.Key),
							Value: ev.Kv.Value,
						},
					}

				case mvccpb.DELETE:
					watchChan <- WatchEvent{
						Type: DeleteEvent,
						Item: RawItem{Key: string(ev.Kv.Key)},
					}
				}
			}
		}
	}()
	return watchChan
}

func (e *Etcd) Put(ctx context.Context, key string, value interface{}, opts ...WriteOption) error {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	jsonVal, err := jsoniter.MarshalToString(value)
	if err != nil {
		return err
	}
	var etcdOpts []clientv3.OpOption
	opt := buildWriteOptions(append(e.optsApplied, opts...))
	if opt.Lease != clientv3.NoLease {
		etcdOpts = append(etcdOpts, clientv3.WithLease(opt.Lease))
	}
	_, err = e.KV.Put(ctx, key, jsonVal, etcdOpts...)
	return err
}

func (e *Etcd) Commit(ctx context.Context, txn *Txn, opts ...WriteOption) ([]TxnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	var etcdOpts []clientv3.OpOption
	opt := buildWriteOptions(append(e.optsApplied, opts...))
	if opt.Lease != clientv3.NoLease {
		etcdOpts = append(etcdOpts, clientv3.WithLease(opt.Lease))
	}

	var txOps []clientv3.Op
	for _, op := range txn.Ops {
		switch op.Type {
		case PutEvent:
			jsonVal, err := jsoniter.MarshalToString(op.Value)
			if err != nil {
				return nil, err
			}
			txOps = append(txOps, clientv3.OpPut(op.Key, jsonVal, append(etcdOpts, op.Options...)...))

		case CounterEvent:
			countOpts := append(etcdOpts, clientv3.WithPrevKV())
			txOps = append(txOps, clientv3.OpPut(op.Key, counterMark, append(countOpts, op.Options...)...))

		case DeleteEvent:
			txOps = append(txOps, clientv3.OpDelete(op.Key, clientv3.WithPrefix()))
		}
	}
	etcdTxnResults, err := e.KV.Txn(ctx).Then(txOps...).Commit()
	if err != nil {
		return nil, err
	}
	results := make([]TxnResult, len(etcdTxnResults.Responses))
	for i, res := range etcdTxnResults.Responses {
		results[i].Type = txn.Ops[i].Type

		switch txn.Ops[i].Type {
		case CounterEvent:
			prevKv := res.GetResponsePut().PrevKv
			if prevKv == nil {
				results[i].Counter = 1
			} else {
				results[i].Counter = prevKv.Version + 1
			}
		case DeleteEvent:
			results[i].Deleted = res.GetResponseDeleteRange().Deleted
		}
	}
	return results, nil
}

// IncrementCounter atomically increases the counter in the given key.
func (e *Etcd) IncrementCounter(ctx context.Context, key string) (counter int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	result, err := e.KV.Put(ctx, key, counterMark, clientv3.WithPrevKV())
	if err != nil {
		return
	}
	if result.PrevKv == nil {
		return 1, nil
	}
	return result.PrevKv.Version + 1, nil
}

func (e *Etcd) ReadCounter(ctx context.Context, key string) (counter int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	resp, err := e.KV.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	if string(resp.Kvs[0].Value) != counterMark {
		return 0, ErrNotCounter
	}
	return resp.Kvs[0].Version, nil
}

func (e *Etcd) Delete(ctx context.Context, prefix string) (deleted int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	resp, err := e.KV.Delete(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (e *Etcd) GrantLease(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, error) {
	lease, err := e.Lease.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return clientv3.NoLease, err
	}
	return lease.ID, nil
}

func (e *Etcd) KeepAlive(ctx context.Context, lease clientv3.LeaseID) (<-chan struct{}, error) {
	resp, err := e.Lease.KeepAlive(ctx, lease)
	if err != nil {
		return nil, err
	}
	sig := make(chan struct{})
	go func() {
		defer close(sig)
		for range resp {
			// drain keep-alive responses; closing resp means the lease
			// can no longer be refreshed
		}
	}()
	return sig, nil
}

func (e *Etcd) WithOptions(opts ...WriteOption) KV {
	applied := make([]WriteOption, 0, len(e.optsApplied)+len(opts))
	applied = append(applied, e.optsApplied...)
	applied = append(applied, opts...)

	scoped := *e
	scoped.optsApplied = applied
	return &scoped
}

func (e *Etcd) Close() error {
	return e.Client.Close()
}
