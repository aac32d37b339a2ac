package changes

import (
	"fmt"
	"unicode/utf8"
)

// Value is implemented by every document value.
//
// Apply never mutates the receiver: the result is a new value and never
// aliases the receiver's internals. Apply(nil) returns a clone.
type Value interface {
	Apply(c Change) (Value, error)
	Clone() Value
}

// Collection is a composite value addressed by key (maps) or index (lists).
type Collection interface {
	Value
	Get(key any) (Value, error)
	Set(key any, v Value) (Collection, error)
}

// Sequence is an index-addressed collection that Splice and Move apply to.
type Sequence interface {
	Collection
	Count() int
	Slice(offset, count int) Sequence
	// Concat panics when other is not the same sequence kind.
	Concat(other Sequence) Sequence
}

// Null is the empty value. Setting a map key to Null deletes it.
type Null struct{}

func (Null) Apply(c Change) (Value, error) { return applyScalar(Null{}, c) }
func (Null) Clone() Value                  { return Null{} }

// IsNull reports whether v is the empty sentinel.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Atomic holds a scalar (string, number, bool).
type Atomic struct {
	V any
}

func (a Atomic) Apply(c Change) (Value, error) { return applyScalar(a, c) }
func (a Atomic) Clone() Value                  { return a }

func applyScalar(v Value, c Change) (Value, error) {
	switch c := c.(type) {
	case nil:
		return v.Clone(), nil
	case Replace:
		return cloneOrNull(c.After), nil
	case PathChange:
		if len(c.Path) == 0 {
			return v.Apply(c.Change)
		}
		return nil, invalid(c, "path change into scalar %T", v)
	case Changes:
		return applyAll(v, c)
	}
	return nil, invalid(c, "cannot apply to scalar %T", v)
}

// Text is a rune-indexed string sequence.
type Text string

func (t Text) Apply(c Change) (Value, error) { return ApplyCollection(t, c) }
func (t Text) Clone() Value                  { return t }
func (t Text) Count() int                    { return utf8.RuneCountInString(string(t)) }

func (t Text) Get(key any) (Value, error) {
	i, ok := key.(int)
	r := []rune(string(t))
	if !ok || i < 0 || i >= len(r) {
		return nil, invalid(nil, "text index %v out of range [0,%d)", key, len(r))
	}
	return Text(r[i]), nil
}

func (t Text) Set(key any, v Value) (Collection, error) {
	i, ok := key.(int)
	r := []rune(string(t))
	if !ok || i < 0 || i >= len(r) {
		return nil, invalid(nil, "text index %v out of range [0,%d)", key, len(r))
	}
	s, ok := v.(Text)
	if !ok {
		return nil, invalid(nil, "cannot store %T in text", v)
	}
	return Text(string(r[:i]) + string(s) + string(r[i+1:])), nil
}

func (t Text) Slice(offset, count int) Sequence {
	r := []rune(string(t))
	return Text(r[offset : offset+count])
}

func (t Text) Concat(other Sequence) Sequence {
	return t + mustKind[Text](other)
}

// List is a sequence of values.
type List []Value

func (l List) Apply(c Change) (Value, error) { return ApplyCollection(l, c) }

func (l List) Clone() Value {
	out := make(List, len(l))
	for i, v := range l {
		out[i] = cloneOrNull(v)
	}
	return out
}

func (l List) Count() int { return len(l) }

func (l List) Get(key any) (Value, error) {
	i, ok := key.(int)
	if !ok || i < 0 || i >= len(l) {
		return nil, invalid(nil, "list index %v out of range [0,%d)", key, len(l))
	}
	return cloneOrNull(l[i]), nil
}

func (l List) Set(key any, v Value) (Collection, error) {
	i, ok := key.(int)
	if !ok || i < 0 || i >= len(l) {
		return nil, invalid(nil, "list index %v out of range [0,%d)", key, len(l))
	}
	out := l.Clone().(List)
	out[i] = cloneOrNull(v)
	return out, nil
}

func (l List) Slice(offset, count int) Sequence {
	return l[offset : offset+count].Clone().(List)
}

func (l List) Concat(other Sequence) Sequence {
	o := mustKind[List](other)
	out := make(List, 0, len(l)+len(o))
	out = append(out, l.Clone().(List)...)
	return append(out, o.Clone().(List)...)
}

// Map is a string-keyed collection. Missing keys read as Null.
type Map map[string]Value

func (m Map) Apply(c Change) (Value, error) { return ApplyCollection(m, c) }

func (m Map) Clone() Value {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = cloneOrNull(v)
	}
	return out
}

func (m Map) Get(key any) (Value, error) {
	k, ok := key.(string)
	if !ok {
		return nil, invalid(nil, "map key %v is not a string", key)
	}
	if v, ok := m[k]; ok {
		return cloneOrNull(v), nil
	}
	return Null{}, nil
}

func (m Map) Set(key any, v Value) (Collection, error) {
	k, ok := key.(string)
	if !ok {
		return nil, invalid(nil, "map key %v is not a string", key)
	}
	out := m.Clone().(Map)
	if IsNull(v) {
		delete(out, k)
	} else {
		out[k] = v.Clone()
	}
	return out, nil
}

func cloneOrNull(v Value) Value {
	if v == nil {
		return Null{}
	}
	return v.Clone()
}

func mustKind[S Sequence](other Sequence) S {
	s, ok := other.(S)
	if !ok {
		var zero S
		panic(fmt.Sprintf("changes: cannot concat %T with %T", zero, other))
	}
	return s
}
