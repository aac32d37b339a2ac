package ops

import (
	"context"
	"sync"
)

// Log is an ordered op log.
type Log interface {
	// Read returns up to limit operations starting at version, in version
	// order. A limit of zero or less means no limit.
	Read(ctx context.Context, version, limit int) ([]Operation, error)
	// Write submits operations for acceptance.
	Write(ctx context.Context, ops []Operation) error
}

// MemoryLog is a Log kept in memory. Written operations get the next free
// version; an id that was already written is skipped.
type MemoryLog struct {
	mu  sync.RWMutex
	ops []Operation
	ids map[string]struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{ids: map[string]struct{}{}}
}

func (l *MemoryLog) Read(_ context.Context, version, limit int) ([]Operation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return window(l.ops, version, limit), nil
}

func (l *MemoryLog) Write(_ context.Context, ops []Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range ops {
		if _, ok := l.ids[op.ID]; ok {
			continue
		}
		op.Version = len(l.ops)
		l.ops = append(l.ops, op)
		l.ids[op.ID] = struct{}{}
	}
	return nil
}

// Len returns the number of accepted operations.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// window returns a copy of ops[version:version+limit] clamped to the slice.
func window(ops []Operation, version, limit int) []Operation {
	version = max(version, 0)
	if version >= len(ops) {
		return nil
	}
	end := len(ops)
	if limit > 0 {
		end = min(end, version+limit)
	}
	return append([]Operation(nil), ops[version:end]...)
}
