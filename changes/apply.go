package changes

import "reflect"

// ApplyCollection applies c to a composite value. Every collection kind
// shares it: Replace substitutes, PathChange descends by key, Splice and Move
// need a Sequence.
func ApplyCollection(v Collection, c Change) (Value, error) {
	switch c := c.(type) {
	case nil:
		return v.Clone(), nil
	case Replace:
		return cloneOrNull(c.After), nil
	case PathChange:
		if len(c.Path) == 0 {
			return v.Apply(c.Change)
		}
		child, err := v.Get(c.Path[0])
		if err != nil {
			return nil, withChange(err, c)
		}
		res, err := child.Apply(NewPathChange(c.Path[1:], c.Change))
		if err != nil {
			return nil, err
		}
		return v.Set(c.Path[0], res)
	case Splice:
		s, ok := v.(Sequence)
		if !ok {
			return nil, invalid(c, "splice on non-sequence %T", v)
		}
		return applySplice(s, c)
	case Move:
		s, ok := v.(Sequence)
		if !ok {
			return nil, invalid(c, "move on non-sequence %T", v)
		}
		return applyMove(s, c)
	case Changes:
		return applyAll(v, c)
	}
	return nil, invalid(c, "unsupported change %T", c)
}

func applyAll(v Value, cs Changes) (Value, error) {
	out := v.Clone()
	for _, c := range cs {
		var err error
		if out, err = out.Apply(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applySplice(s Sequence, c Splice) (Value, error) {
	if c.Before == nil || c.After == nil {
		return nil, invalid(c, "splice without payload")
	}
	if !sameKind(s, c.After) || !sameKind(s, c.Before) {
		return nil, invalid(c, "payload kind does not match %T", s)
	}
	n := s.Count()
	removed := c.Before.Count()
	if c.Offset < 0 || c.Offset+removed > n {
		return nil, invalid(c, "range [%d,%d) out of bounds for length %d", c.Offset, c.Offset+removed, n)
	}
	head := s.Slice(0, c.Offset)
	tail := s.Slice(c.Offset+removed, n-c.Offset-removed)
	return head.Concat(c.After).Concat(tail), nil
}

func applyMove(s Sequence, c Move) (Value, error) {
	if c.IsNoop() {
		return s.Clone(), nil
	}
	a, x, y := c.blocks()
	n := s.Count()
	if a < 0 || x < 0 || y < 0 || a+x+y > n {
		return nil, invalid(c, "move out of bounds for length %d", n)
	}
	left := s.Slice(a, x)
	right := s.Slice(a+x, y)
	return s.Slice(0, a).Concat(right).Concat(left).Concat(s.Slice(a+x+y, n-a-x-y)), nil
}

func sameKind(a, b Sequence) bool {
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}
