package shuffle

import (
	"context"
	"strings"
	"sync"

	"github.com/driftlab/cascade/lineage"
	"github.com/pkg/errors"
)

// BlockStore is the per-worker storage for shuffle blocks. Blocks are
// write-once: a task attempt overwriting its own block is harmless because
// deterministic tasks produce identical output.
type BlockStore interface {
	Put(ctx context.Context, id BlockID, rows []lineage.Row) (size int64, err error)
	Get(ctx context.Context, id BlockID) ([]lineage.Row, error)

	// DropShuffle removes all blocks belonging to a shuffle.
	DropShuffle(shuffleID string)
}

// MemoryStore keeps blocks in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string][]lineage.Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[string][]lineage.Row)}
}

func (s *MemoryStore) Put(_ context.Context, id BlockID, rows []lineage.Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[id.String()] = rows
	var size int64
	for _, r := range rows {
		size += int64(len(r.Key) + len(r.Value))
	}
	return size, nil
}

func (s *MemoryStore) Get(_ context.Context, id BlockID) ([]lineage.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.blocks[id.String()]
	if !ok {
		return nil, errors.Wrap(ErrBlockNotFound, id.String())
	}
	return rows, nil
}

func (s *MemoryStore) DropShuffle(shuffleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := shuffleID + "/"
	for k := range s.blocks {
		if strings.HasPrefix(k, prefix) {
			delete(s.blocks, k)
		}
	}
}
