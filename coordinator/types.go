package coordinator

import (
	jsoniter "github.com/json-iterator/go"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EventType is the type of the events from watching keys.
type EventType int

const (
	PutEvent EventType = iota
	DeleteEvent
	CounterEvent
)

type WatchEvent struct {
	Type EventType
	Item RawItem

	// Counter is the new value of the counter when the event is CounterEvent.
	Counter int64
}

// RawItem is an item whose value has not been unmarshalled yet.
type RawItem struct {
	Key   string
	Value []byte
}

func (r RawItem) Unmarshal(valuePtr interface{}) error {
	return jsoniter.Unmarshal(r.Value, valuePtr)
}

type BatchOp struct {
	Type    EventType
	Key     string
	Value   interface{}
	Options []clientv3.OpOption
}

// TxnResult is the per-operation result of a committed transaction.
type TxnResult struct {
	Type    EventType
	Counter int64
	Deleted int64
}
