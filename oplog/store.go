package oplog

import (
	"context"
	"errors"
	"sync"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

// ErrConflict is returned by Store.Append when the log head moved since the
// caller read it.
var ErrConflict = errors.New("op log head moved")

// Store persists one document's op log and the snapshot at its head.
type Store interface {
	// Head returns the version of the newest operation, -1 for an empty log.
	Head(ctx context.Context) (int, error)
	Read(ctx context.Context, version, limit int) ([]ops.Operation, error)
	Has(ctx context.Context, id string) (bool, error)
	// Snapshot returns the document value at the head and the head version.
	Snapshot(ctx context.Context) (changes.Value, int, error)
	// Append stores batch and the snapshot after it, provided the head is
	// still expectHead.
	Append(ctx context.Context, expectHead int, batch []ops.Operation, snapshot changes.Value) error
}

// MemoryStore is a Store kept in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	ops      []ops.Operation
	ids      map[string]int
	snapshot changes.Value
}

func NewMemoryStore(initial changes.Value) *MemoryStore {
	if initial == nil {
		initial = changes.Null{}
	}
	return &MemoryStore{ids: map[string]int{}, snapshot: initial.Clone()}
}

func (s *MemoryStore) Head(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops) - 1, nil
}

func (s *MemoryStore) Read(_ context.Context, version, limit int) ([]ops.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version = max(version, 0)
	if version >= len(s.ops) {
		return nil, nil
	}
	end := len(s.ops)
	if limit > 0 {
		end = min(end, version+limit)
	}
	return append([]ops.Operation(nil), s.ops[version:end]...), nil
}

func (s *MemoryStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}

func (s *MemoryStore) Snapshot(context.Context) (changes.Value, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone(), len(s.ops) - 1, nil
}

func (s *MemoryStore) Append(_ context.Context, expectHead int, batch []ops.Operation, snapshot changes.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops)-1 != expectHead {
		return ErrConflict
	}
	for _, op := range batch {
		s.ids[op.ID] = op.Version
		s.ops = append(s.ops, op)
	}
	s.snapshot = snapshot.Clone()
	return nil
}
