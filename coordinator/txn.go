package coordinator

import clientv3 "go.etcd.io/etcd/client/v3"

// Txn is a batch of operations applied atomically with Commit.
type Txn struct {
	Ops []BatchOp
}

func NewTxn() *Txn {
	return &Txn{}
}

// Put sets the value of a key within the transaction.
func (t *Txn) Put(key string, value interface{}, opts ...clientv3.OpOption) *Txn {
	t.Ops = append(t.Ops, BatchOp{
		Type:    PutEvent,
		Key:     key,
		Value:   value,
		Options: opts,
	})
	return t
}

// IncrementCounter increments the counter of a key within the transaction.
func (t *Txn) IncrementCounter(key string, opts ...clientv3.OpOption) *Txn {
	t.Ops = append(t.Ops, BatchOp{
		Type:    CounterEvent,
		Key:     key,
		Options: opts,
	})
	return t
}

// Delete removes all keys starting with prefix within the transaction.
func (t *Txn) Delete(keyPrefix string) *Txn {
	t.Ops = append(t.Ops, BatchOp{
		Type: DeleteEvent,
		Key:  keyPrefix,
	})
	return t
}
