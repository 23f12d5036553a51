package shuffle

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrUnknownShuffle is returned when a shuffle id was never created or has
// been dropped.
var ErrUnknownShuffle = errors.New("unknown shuffle")

// Descriptor tracks the block locations of one shuffle. It is created when
// the producing map stage starts, populated as map tasks finish, and
// consulted by every downstream task reading that shuffle. Entries for a
// worker are removed when the worker is declared lost, which forces
// recomputation of the affected map tasks.
type Descriptor struct {
	ShuffleID     string `json:"shuffleId"`
	NumMapTasks   int    `json:"numMapTasks"`
	NumPartitions int    `json:"numPartitions"`

	// blocks[mapIndex][partition]; a zero Host means unregistered.
	blocks [][]BlockMeta
}

func newDescriptor(id string, numMapTasks, numPartitions int) *Descriptor {
	blocks := make([][]BlockMeta, numMapTasks)
	for i := range blocks {
		blocks[i] = make([]BlockMeta, numPartitions)
	}
	return &Descriptor{
		ShuffleID:     id,
		NumMapTasks:   numMapTasks,
		NumPartitions: numPartitions,
		blocks:        blocks,
	}
}

func (d *Descriptor) registered(mapIndex int) bool {
	for _, m := range d.blocks[mapIndex] {
		if m.Host != "" {
			return true
		}
	}
	return false
}

// Registry maps shuffle ids to descriptors. All mutations flow through the
// scheduler's coordinator loop; reads may come from result collection and
// planning, so access is still lock-protected.
type Registry struct {
	mu       sync.RWMutex
	shuffles map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{shuffles: make(map[string]*Descriptor)}
}

// CreateOrGet registers a descriptor for the shuffle if none exists.
// Keeping an existing descriptor is what lets a resubmitted job reuse
// still-valid output.
func (r *Registry) CreateOrGet(id string, numMapTasks, numPartitions int) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.shuffles[id]; ok {
		return d
	}
	d := newDescriptor(id, numMapTasks, numPartitions)
	r.shuffles[id] = d
	return d
}

// RegisterOutput records the blocks one finished map task wrote.
func (r *Registry) RegisterOutput(id string, mapIndex int, metas []BlockMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.shuffles[id]
	if !ok {
		return errors.Wrap(ErrUnknownShuffle, id)
	}
	if mapIndex < 0 || mapIndex >= d.NumMapTasks || len(metas) != d.NumPartitions {
		return errors.Errorf("shuffle %s: invalid output registration for map task %d", id, mapIndex)
	}
	copy(d.blocks[mapIndex], metas)
	return nil
}

// UnregisterMapOutput drops one map task's entries, forcing recomputation.
func (r *Registry) UnregisterMapOutput(id string, mapIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.shuffles[id]
	if !ok || mapIndex < 0 || mapIndex >= d.NumMapTasks {
		return
	}
	for p := range d.blocks[mapIndex] {
		d.blocks[mapIndex][p] = BlockMeta{}
	}
}

// HasCompleteOutput reports whether every map task of the shuffle has
// registered output. Implements planner.ShuffleLookup.
func (r *Registry) HasCompleteOutput(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.shuffles[id]
	if !ok {
		return false
	}
	for i := 0; i < d.NumMapTasks; i++ {
		if !d.registered(i) {
			return false
		}
	}
	return true
}

// MissingMapOutputs lists map task indices with no registered output.
func (r *Registry) MissingMapOutputs(id string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.shuffles[id]
	if !ok {
		return nil
	}
	var missing []int
	for i := 0; i < d.NumMapTasks; i++ {
		if !d.registered(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// BlocksForPartition returns, for a reduce partition, the block of every map
// task of the shuffle. It fails unless the shuffle output is complete.
func (r *Registry) BlocksForPartition(id string, partition int) ([]BlockRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.shuffles[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownShuffle, id)
	}
	if partition < 0 || partition >= d.NumPartitions {
		return nil, errors.Errorf("shuffle %s: partition %d out of range", id, partition)
	}
	refs := make([]BlockRef, 0, d.NumMapTasks)
	for i := 0; i < d.NumMapTasks; i++ {
		m := d.blocks[i][partition]
		if m.Host == "" {
			return nil, errors.Errorf("shuffle %s: map task %d output not registered", id, i)
		}
		refs = append(refs, BlockRef{MapIndex: i, Host: m.Host, Size: m.Size})
	}
	return refs, nil
}

// InvalidateHost removes every block entry stored on the given host and
// returns, per shuffle, the map task indices whose output was lost.
func (r *Registry) InvalidateHost(host string) map[string][]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	lost := make(map[string][]int)
	for id, d := range r.shuffles {
		for i := range d.blocks {
			invalidated := false
			for p, m := range d.blocks[i] {
				if m.Host == host {
					d.blocks[i][p] = BlockMeta{}
					invalidated = true
				}
			}
			if invalidated && !d.registered(i) {
				lost[id] = append(lost[id], i)
			}
		}
	}
	if len(lost) > 0 {
		log.Warn().Str("host", host).Int("shuffles", len(lost)).
			Msg("invalidated shuffle output of lost worker")
	}
	return lost
}

// Drop removes a shuffle's descriptor entirely.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shuffles, id)
}
