package store

import (
	"sync"

	"github.com/tesseradb/tessera/storage-node/internal/model"
)

// MemTruncationStore keeps truncation records in memory, the way the system
// keyspace exposes them to a single node.
type MemTruncationStore struct {
	mu      sync.RWMutex
	records map[model.TableID][]model.ReplayPosition
}

// NewMemTruncationStore returns an empty store.
func NewMemTruncationStore() *MemTruncationStore {
	return &MemTruncationStore{records: make(map[model.TableID][]model.ReplayPosition)}
}

// RecordTruncation marks all data of the table up to pos as intentionally
// discarded.
func (s *MemTruncationStore) RecordTruncation(id model.TableID, pos model.ReplayPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = append(s.records[id], pos)
}

// TruncatedPositions returns every truncation marker recorded for the table.
func (s *MemTruncationStore) TruncatedPositions(id model.TableID) ([]model.ReplayPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ReplayPosition(nil), s.records[id]...), nil
}
