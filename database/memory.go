package database

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/oplog"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

// Memory is a Catalog that keeps everything in process memory.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	stores map[string]*oplog.MemoryStore
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]Document{}, stores: map[string]*oplog.MemoryStore{}}
}

func (m *Memory) Documents(context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Document(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *Memory) CreateDocument(_ context.Context, name, author string, initial changes.Value) (Document, error) {
	doc := Document{ID: uuid.NewString(), Name: name, Author: author}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	m.stores[doc.ID] = oplog.NewMemoryStore(initial)
	return doc, nil
}

func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	delete(m.stores, id)
	return nil
}

// Store returns the document's store. An unknown id gets a store that
// reports ErrNotFound.
func (m *Memory) Store(id string) oplog.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stores[id]; ok {
		return s
	}
	return missing{}
}

type missing struct{}

func (missing) Head(context.Context) (int, error) { return 0, ErrNotFound }
func (missing) Read(context.Context, int, int) ([]ops.Operation, error) {
	return nil, ErrNotFound
}
func (missing) Has(context.Context, string) (bool, error) { return false, ErrNotFound }
func (missing) Snapshot(context.Context) (changes.Value, int, error) {
	return nil, 0, ErrNotFound
}
func (missing) Append(context.Context, int, []ops.Operation, changes.Value) error {
	return ErrNotFound
}
