package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/oplog"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

// server holds one op log per open document. Writes to a document are
// serialized by its Log.
type server struct {
	catalog database.Catalog

	mu   sync.Mutex
	logs map[string]*oplog.Log
}

func newServer(catalog database.Catalog) *server {
	return &server{catalog: catalog, logs: map[string]*oplog.Log{}}
}

func (s *server) opLog(id string) *oplog.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		l = oplog.New(s.catalog.Store(id))
		s.logs[id] = l
	}
	return l
}

func (s *server) closeLog(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, id)
}

// readOps reads from version, first waiting up to wait for the log to reach
// it. An empty result after the wait is not an error.
func readOps(ctx context.Context, l *oplog.Log, version, limit int, wait time.Duration) ([]ops.Operation, error) {
	if wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, wait)
		err := l.Wait(wctx, version)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return l.Read(ctx, version, limit)
}
