package node

import (
	"runtime"

	"github.com/driftlab/cascade/coordinator"
)

// Node describes one worker process in the cluster.
type Node struct {
	Host string `json:"host"`

	// Slots is how many tasks the worker runs concurrently.
	Slots int `json:"slots"`

	// Tag carries placement attributes. The "rack" tag groups workers for
	// the middle locality level of task placement.
	Tag map[string]string `json:"tag,omitempty"`
}

func New(host string) *Node {
	return &Node{
		Host:  host,
		Slots: runtime.NumCPU(),
	}
}

// Rack returns the node's rack-equivalent grouping, if tagged.
func (n *Node) Rack() string {
	return n.Tag["rack"]
}

func (n *Node) TagMatches(selector map[string]string) bool {
	for k, v := range selector {
		if n.Tag[k] != v {
			return false
		}
	}
	return true
}

// State is an ephemeral per-node state in the coordinator, attached to the
// node's liveness lease. It vanishes when the node stops.
type State coordinator.KV

// Registration represents a node registered to the cluster.
type Registration interface {
	// Info returns the node's information.
	Info() *Node

	// States returns the node's ephemeral state.
	States() State

	// Unregister removes the node from the cluster's node list and clears
	// its ephemeral state.
	Unregister()
}
