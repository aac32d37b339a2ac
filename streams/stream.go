// Package streams threads changes into a persistent, write-once version
// chain. Each Stream node is a point in a document's history; its successor
// is written exactly once and never rewritten, so any number of readers can
// hold a node and walk forward from it.
package streams

import (
	"context"
	"fmt"
	"sync"

	"github.com/ssau-fiit/cloudocs-sync/changes"
)

// Stream is one version of a document.
type Stream struct {
	mu    sync.Mutex
	ready chan struct{}
	next  *link

	subs sync.Map // path key -> *Substream
}

type link struct {
	change changes.Change
	stream *Stream
}

// New returns the root of an empty chain.
func New() *Stream {
	return &Stream{ready: make(chan struct{})}
}

// Next returns the change leading to the following version, if it has been
// written.
func (s *Stream) Next() (changes.Change, *Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		return nil, nil, false
	}
	return s.next.change, s.next.stream, true
}

// Wait blocks until the following version is written or ctx is done.
func (s *Stream) Wait(ctx context.Context) (changes.Change, *Stream, error) {
	select {
	case <-s.ready:
		c, next, _ := s.Next()
		return c, next, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Latest walks to the newest written version.
func (s *Stream) Latest() *Stream {
	node := s
	for {
		_, next, ok := node.Next()
		if !ok {
			return node
		}
		node = next
	}
}

// Append records c, made against this version, and returns the version that
// includes it. Links already written after this node are treated as earlier
// than c and c is merged past each of them.
func (s *Stream) Append(c changes.Change) *Stream {
	tail, _ := s.insert(c, false)
	return tail
}

// ReverseAppend records c as causally earlier than the links already written
// after this node, such as a server change arriving behind local edits.
func (s *Stream) ReverseAppend(c changes.Change) *Stream {
	tail, _ := s.insert(c, true)
	return tail
}

// Rebase is ReverseAppend that also returns the links c was placed before,
// transformed to apply after it.
func (s *Stream) Rebase(c changes.Change) (*Stream, []changes.Change) {
	return s.insert(c, true)
}

func (s *Stream) insert(c changes.Change, reverse bool) (*Stream, []changes.Change) {
	var passed []changes.Change
	node := s
	for {
		node.mu.Lock()
		if node.next == nil {
			next := New()
			node.next = &link{change: c, stream: next}
			close(node.ready)
			node.mu.Unlock()
			return next, passed
		}
		l := node.next
		node.mu.Unlock()

		if reverse {
			var existing changes.Change
			existing, c = changes.Merge(c, l.change)
			passed = append(passed, existing)
		} else {
			c, _ = changes.Merge(l.change, c)
		}
		node = l.stream
	}
}

// Substream returns the memoized projection of this version onto path.
func (s *Stream) Substream(path changes.Path) *Substream {
	key := fmt.Sprintf("%#v", []any(path))
	if sub, ok := s.subs.Load(key); ok {
		return sub.(*Substream)
	}
	sub, _ := s.subs.LoadOrStore(key, &Substream{parent: s, path: append(changes.Path(nil), path...)})
	return sub.(*Substream)
}
