// Package session keeps a local document stream in sync with a shared op
// log. Local edits are appended to the stream by the application; Push
// turns them into operations and writes them, Pull reads operations accepted
// by the log and folds them into the stream.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/ops"
	"github.com/ssau-fiit/cloudocs-sync/streams"
)

// pending is a written or unwritten local operation that the log has not
// acknowledged yet. residual is the same operation with its change
// expressed against the newest server version this session has seen, plus
// the residuals before it.
type pending struct {
	op       ops.Operation
	residual ops.Operation
}

type Session struct {
	log   ops.Log
	ids   ops.IDSource
	limit int

	mu      sync.Mutex
	version int
	node    *streams.Stream
	pending []pending
	unsent  []ops.Operation

	flight singleflight.Group
}

type Option func(*Session)

// WithIDs sets the operation id source. ULIDs are used by default.
func WithIDs(ids ops.IDSource) Option {
	return func(s *Session) { s.ids = ids }
}

// WithReadLimit caps the number of operations fetched by one Pull.
func WithReadLimit(n int) Option {
	return func(s *Session) { s.limit = n }
}

// New starts a session at node, which must hold the document as of the
// given log version. l should return rebased operations, as ops.Transformer
// does.
func New(l ops.Log, node *streams.Stream, version int, opts ...Option) *Session {
	s := &Session{log: l, ids: ops.ULIDs, version: version, node: node}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Version returns the newest log version folded into the stream.
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Pending returns the number of local operations not yet acknowledged.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Unsent returns the number of local operations not yet written.
func (s *Session) Unsent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unsent)
}

// Pull reads the operations after Version and folds them into the stream.
// A call made while a read is in flight shares its result.
func (s *Session) Pull(ctx context.Context) error {
	s.mu.Lock()
	s.drain()
	s.mu.Unlock()

	_, err, _ := s.flight.Do("read", func() (any, error) {
		s.mu.Lock()
		from := s.version + 1
		s.mu.Unlock()

		batch, err := s.log.Read(ctx, from, s.limit)
		if err != nil {
			if ops.IsDesync(err) {
				return nil, err
			}
			return nil, &ops.TransportError{Op: "read", Err: err}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.receive(batch)
	})
	return err
}

// Push writes local edits that have not been written yet. A call made while
// a write is in flight shares its result.
func (s *Session) Push(ctx context.Context) error {
	s.mu.Lock()
	s.drain()
	s.mu.Unlock()

	_, err, _ := s.flight.Do("write", func() (any, error) {
		s.mu.Lock()
		batch := append([]ops.Operation(nil), s.unsent...)
		s.mu.Unlock()
		if len(batch) == 0 {
			return nil, nil
		}

		err := s.log.Write(ctx, batch)
		switch {
		case ops.IsDesync(err):
			log.Error().Err(err).Str("first", batch[0].ID).Int("ops", len(batch)).Msg("write rejected, dropping batch")
			s.mu.Lock()
			defer s.mu.Unlock()
			s.forget(batch, true)
			return nil, nil
		case err != nil:
			return nil, &ops.TransportError{Op: "write", Err: err}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.forget(batch, false)
		return nil, nil
	})
	return err
}

// Sync pushes local edits and then pulls.
func (s *Session) Sync(ctx context.Context) error {
	if err := s.Push(ctx); err != nil {
		return err
	}
	return s.Pull(ctx)
}

// drain turns stream links after the cursor into operations.
func (s *Session) drain() {
	for {
		c, next, ok := s.node.Next()
		if !ok {
			return
		}
		s.node = next
		s.enqueue(c)
	}
}

func (s *Session) enqueue(c changes.Change) {
	if c == nil {
		return
	}
	op := ops.Operation{
		ID:      s.ids.NewID(),
		Version: ops.Unacknowledged,
		Basis:   s.version,
		Change:  c,
	}
	if n := len(s.pending); n > 0 {
		op.ParentID = s.pending[n-1].op.ID
	}
	s.pending = append(s.pending, pending{op: op, residual: op})
	s.unsent = append(s.unsent, op)
}

func (s *Session) receive(batch []ops.Operation) error {
	for _, op := range batch {
		if op.Version <= s.version {
			continue
		}
		if op.Version != s.version+1 {
			return &ops.ProtocolDesyncError{ID: op.ID, Reason: "read skipped versions"}
		}

		if len(s.pending) > 0 && s.pending[0].op.ID == op.ID {
			s.pending = s.pending[1:]
			if len(s.unsent) > 0 && s.unsent[0].ID == op.ID {
				s.unsent = s.unsent[1:]
			}
			s.version = op.Version
			continue
		}
		for _, p := range s.pending[min(1, len(s.pending)):] {
			if p.op.ID == op.ID {
				return &ops.ProtocolDesyncError{ID: op.ID, Reason: "acknowledged out of order"}
			}
		}

		remote := op
		for i := range s.pending {
			s.pending[i].residual, remote = remote.Merge(s.pending[i].residual)
		}
		tail, passed := s.node.Rebase(remote.Change)
		s.node = tail
		s.version = op.Version
		// Edits that raced with this read land before the server change in
		// the stream; as operations they come after it.
		for _, p := range passed {
			s.enqueue(p)
		}
	}
	return nil
}

// forget removes a written batch from unsent. When the batch was rejected
// its operations are dropped from pending as well.
func (s *Session) forget(batch []ops.Operation, rejected bool) {
	ids := make(map[string]bool, len(batch))
	for _, op := range batch {
		ids[op.ID] = true
	}
	unsent := s.unsent[:0]
	for _, op := range s.unsent {
		if !ids[op.ID] {
			unsent = append(unsent, op)
		}
	}
	s.unsent = unsent
	if !rejected {
		return
	}
	kept := s.pending[:0]
	for _, p := range s.pending {
		if !ids[p.op.ID] {
			kept = append(kept, p)
		}
	}
	s.pending = kept
}
