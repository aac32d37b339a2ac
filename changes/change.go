// Package changes implements the edit primitives shared by every document
// value and the pairwise transform that reorders concurrent edits.
//
// For two changes c1 and c2 made against the same value v,
//
//	c2p, c1p := Merge(c1, c2)
//
// guarantees that v+c1+c2p equals v+c2+c1p. The first argument is the
// causally earlier side: it wins insert ties (its insertion ends up on the
// left) and loses replace ties (the later Replace is kept).
package changes

import (
	"fmt"
	"strings"
)

// Change is an immutable edit. A nil Change is the no-op.
type Change interface {
	// Merge treats the receiver as first and returns (other', self').
	Merge(other Change) (Change, Change)
	// ReverseMerge treats other as first and returns (other', self').
	ReverseMerge(other Change) (Change, Change)
	Revert() Change
}

// Apply applies c to v. A nil value is treated as Null.
func Apply(v Value, c Change) (Value, error) {
	if v == nil {
		v = Null{}
	}
	return v.Apply(c)
}

// Revert returns the inverse of c. Revert(nil) is nil.
func Revert(c Change) Change {
	if c == nil {
		return nil
	}
	return c.Revert()
}

// Replace substitutes the whole value.
type Replace struct {
	Before Value
	After  Value
}

func (r Replace) Merge(other Change) (Change, Change) { return Merge(r, other) }
func (r Replace) ReverseMerge(other Change) (Change, Change) {
	sp, op := Merge(other, r)
	return op, sp
}
func (r Replace) Revert() Change { return Replace{Before: r.After, After: r.Before} }

func (r Replace) String() string { return fmt.Sprintf("Replace(%v -> %v)", r.Before, r.After) }

// Splice substitutes Before, found at Offset, with After.
type Splice struct {
	Offset int
	Before Sequence
	After  Sequence
}

func (s Splice) Merge(other Change) (Change, Change) { return Merge(s, other) }
func (s Splice) ReverseMerge(other Change) (Change, Change) {
	sp, op := Merge(other, s)
	return op, sp
}
func (s Splice) Revert() Change { return Splice{Offset: s.Offset, Before: s.After, After: s.Before} }

func (s Splice) String() string {
	return fmt.Sprintf("Splice(%d, %v -> %v)", s.Offset, s.Before, s.After)
}

// MapIndex reports where the element at index i ends up, or false when the
// splice removes it.
func (s Splice) MapIndex(i int) (int, bool) {
	end := s.Offset + s.Before.Count()
	switch {
	case i < s.Offset:
		return i, true
	case i >= end:
		return i + s.After.Count() - s.Before.Count(), true
	}
	return 0, false
}

func (s Splice) at(offset int) Splice {
	s.Offset = offset
	return s
}

// Move relocates Count elements starting at Offset so that they start at
// Offset+Distance in the result. A negative Distance moves them left.
type Move struct {
	Offset   int
	Count    int
	Distance int
}

func (m Move) Merge(other Change) (Change, Change) { return Merge(m, other) }
func (m Move) ReverseMerge(other Change) (Change, Change) {
	sp, op := Merge(other, m)
	return op, sp
}
func (m Move) Revert() Change {
	return Move{Offset: m.Offset + m.Distance, Count: m.Count, Distance: -m.Distance}
}

func (m Move) String() string { return fmt.Sprintf("Move(%d, %d, %d)", m.Offset, m.Count, m.Distance) }

// IsNoop reports whether the move leaves every sequence unchanged.
func (m Move) IsNoop() bool { return m.Count == 0 || m.Distance == 0 }

// blocks views the move as swapping the adjacent blocks [a, a+x) and
// [a+x, a+x+y).
func (m Move) blocks() (a, x, y int) {
	if m.Distance > 0 {
		return m.Offset, m.Count, m.Distance
	}
	return m.Offset + m.Distance, -m.Distance, m.Count
}

// MapIndex reports where the element at index i ends up.
func (m Move) MapIndex(i int) int {
	if m.IsNoop() {
		return i
	}
	a, x, y := m.blocks()
	switch {
	case i >= a && i < a+x:
		return i + y
	case i >= a+x && i < a+x+y:
		return i - x
	}
	return i
}

func swap(a, x, y int) Change {
	if x <= 0 || y <= 0 {
		return nil
	}
	return Move{Offset: a, Count: x, Distance: y}
}

// Path addresses a nested value: string keys for maps, int indexes for
// sequences.
type Path []any

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, k := range p {
		parts[i] = fmt.Sprint(k)
	}
	return "/" + strings.Join(parts, "/")
}

// HasPrefix reports whether q is a prefix of p.
func (p Path) HasPrefix(q Path) bool {
	return len(q) <= len(p) && commonPrefix(p, q) == len(q)
}

func commonPrefix(p, q Path) int {
	n := 0
	for n < len(p) && n < len(q) && p[n] == q[n] {
		n++
	}
	return n
}

func join(p, q Path) Path {
	out := make(Path, 0, len(p)+len(q))
	out = append(out, p...)
	return append(out, q...)
}

// PathChange applies Change to the value found at Path.
type PathChange struct {
	Path   Path
	Change Change
}

// NewPathChange wraps c at path. An empty path yields c itself, a nil c
// yields nil and a nested PathChange is flattened.
func NewPathChange(path Path, c Change) Change {
	if c == nil {
		return nil
	}
	if len(path) == 0 {
		return c
	}
	if inner, ok := c.(PathChange); ok {
		return PathChange{Path: join(path, inner.Path), Change: inner.Change}
	}
	return PathChange{Path: join(path, nil), Change: c}
}

func (p PathChange) Merge(other Change) (Change, Change) { return Merge(p, other) }
func (p PathChange) ReverseMerge(other Change) (Change, Change) {
	sp, op := Merge(other, p)
	return op, sp
}
func (p PathChange) Revert() Change { return NewPathChange(p.Path, Revert(p.Change)) }

func (p PathChange) String() string { return fmt.Sprintf("PathChange(%v, %v)", p.Path, p.Change) }

func (p PathChange) withIndex(i int) PathChange {
	path := join(p.Path, nil)
	path[0] = i
	return PathChange{Path: path, Change: p.Change}
}

// Changes applies its elements in order.
type Changes []Change

// NewChanges composes cs, dropping no-ops and flattening nested lists. It
// returns nil for an empty result and the sole element for a single one.
func NewChanges(cs ...Change) Change {
	var out Changes
	for _, c := range cs {
		switch c := normalize(c).(type) {
		case nil:
		case Changes:
			switch flat := NewChanges(c...).(type) {
			case nil:
			case Changes:
				out = append(out, flat...)
			default:
				out = append(out, flat)
			}
		default:
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (cs Changes) Merge(other Change) (Change, Change) { return Merge(cs, other) }
func (cs Changes) ReverseMerge(other Change) (Change, Change) {
	sp, op := Merge(other, cs)
	return op, sp
}

func (cs Changes) Revert() Change {
	out := make([]Change, len(cs))
	for i, c := range cs {
		out[len(cs)-1-i] = Revert(c)
	}
	return NewChanges(out...)
}

func normalize(c Change) Change {
	switch c := c.(type) {
	case Move:
		if c.IsNoop() {
			return nil
		}
	case PathChange:
		return NewPathChange(c.Path, normalize(c.Change))
	case Changes:
		if len(c) == 0 {
			return nil
		}
	}
	return c
}
