package streams

import (
	"context"
	"errors"

	"github.com/ssau-fiit/cloudocs-sync/changes"
)

// ErrInvalidated is returned once a substream's path no longer exists.
var ErrInvalidated = errors.New("substream invalidated")

// Substream is the view of a Stream restricted to the value at a path. It
// keeps no history of its own: its successors are computed from the parent's.
type Substream struct {
	parent  *Stream
	path    changes.Path
	derived Derived[*Substream]
}

// Path returns the path at this version. Later versions may sit at a
// different index after splices or moves above the path.
func (s *Substream) Path() changes.Path { return s.path }

// Parent returns the version of the whole document this view belongs to.
func (s *Substream) Parent() *Stream { return s.parent }

// Next returns the change to the value at the path between this version and
// the next one.
func (s *Substream) Next() (changes.Change, *Substream, bool) {
	return s.derived.Resolve(func() (changes.Change, *Substream, bool, bool) {
		c, parent, ok := s.parent.Next()
		if !ok {
			return nil, nil, false, false
		}
		inner, path, ok := project(s.path, c)
		if !ok {
			return nil, nil, false, true
		}
		return inner, parent.Substream(path), true, true
	})
}

// Invalidated reports whether a Replace at or above the path, or the removal
// of an index on it, ended this substream.
func (s *Substream) Invalidated() bool {
	return s.derived.Ended()
}

// Wait blocks until Next has a result.
func (s *Substream) Wait(ctx context.Context) (changes.Change, *Substream, error) {
	for {
		if c, next, ok := s.Next(); ok {
			return c, next, nil
		}
		if s.Invalidated() {
			return nil, nil, ErrInvalidated
		}
		if _, _, err := s.parent.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
}

// Latest walks to the newest version of the view.
func (s *Substream) Latest() *Substream {
	node := s
	for {
		_, next, ok := node.Next()
		if !ok {
			return node
		}
		node = next
	}
}

// Append records c against the value at the path.
func (s *Substream) Append(c changes.Change) *Substream {
	s.parent.Append(changes.NewPathChange(s.path, c))
	return s.Latest()
}

// ReverseAppend records c as earlier than changes already written after
// this version.
func (s *Substream) ReverseAppend(c changes.Change) *Substream {
	s.parent.ReverseAppend(changes.NewPathChange(s.path, c))
	return s.Latest()
}

// Substream narrows the view further.
func (s *Substream) Substream(path changes.Path) *Substream {
	full := append(append(changes.Path(nil), s.path...), path...)
	return s.parent.Substream(full)
}

// project rewrites a change to the whole document as a change to the value
// at path, and returns where the path sits afterwards. ok is false when the
// value at path is gone.
func project(path changes.Path, c changes.Change) (changes.Change, changes.Path, bool) {
	switch c := c.(type) {
	case nil:
		return nil, path, true
	case changes.Replace:
		return nil, nil, false
	case changes.Changes:
		out := make([]changes.Change, 0, len(c))
		for _, step := range c {
			inner, next, ok := project(path, step)
			if !ok {
				return nil, nil, false
			}
			out = append(out, inner)
			path = next
		}
		return changes.NewChanges(out...), path, true
	}
	if len(path) == 0 {
		return c, path, true
	}

	switch c := c.(type) {
	case changes.Splice:
		i, ok := path[0].(int)
		if !ok {
			return nil, path, true
		}
		j, kept := c.MapIndex(i)
		if !kept {
			return nil, nil, false
		}
		return nil, withIndex(path, j), true
	case changes.Move:
		i, ok := path[0].(int)
		if !ok {
			return nil, path, true
		}
		return nil, withIndex(path, c.MapIndex(i)), true
	case changes.PathChange:
		switch {
		case path.HasPrefix(c.Path):
			inner, rest, ok := project(path[len(c.Path):], c.Change)
			if !ok {
				return nil, nil, false
			}
			return inner, append(append(changes.Path(nil), c.Path...), rest...), true
		case c.Path.HasPrefix(path):
			return changes.NewPathChange(c.Path[len(path):], c.Change), path, true
		}
	}
	return nil, path, true
}

func withIndex(path changes.Path, i int) changes.Path {
	out := append(changes.Path(nil), path...)
	out[0] = i
	return out
}
