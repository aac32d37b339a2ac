package changes

// Merge transforms two changes made against the same value. first is the
// causally earlier side. It returns (second', first'): second' applies after
// first and first' applies after second, and both orders reach the same
// value.
func Merge(first, second Change) (Change, Change) {
	first, second = normalize(first), normalize(second)
	switch {
	case first == nil:
		return second, nil
	case second == nil:
		return nil, first
	}

	if f, ok := first.(Changes); ok {
		return mergeFirstChanges(f, second)
	}
	if s, ok := second.(Changes); ok {
		return mergeSecondChanges(first, s)
	}

	fr, firstReplace := first.(Replace)
	sr, secondReplace := second.(Replace)
	switch {
	case firstReplace && secondReplace:
		if IsNull(fr.After) && IsNull(sr.After) {
			return nil, nil
		}
		return Replace{Before: fr.After, After: sr.After}, nil
	case firstReplace:
		return nil, absorb(fr, second)
	case secondReplace:
		return absorb(sr, first), nil
	}

	switch f := first.(type) {
	case Splice:
		switch s := second.(type) {
		case Splice:
			return mergeSplices(f, s)
		case Move:
			m, sp := mergeMoveSplice(s, f)
			return m, sp
		case PathChange:
			sp, p := mergeSplicePath(f, s)
			return p, sp
		}
	case Move:
		switch s := second.(type) {
		case Splice:
			m, sp := mergeMoveSplice(f, s)
			return sp, m
		case Move:
			return mergeMoves(f, s)
		case PathChange:
			return mergeMovePath(f, s), f
		}
	case PathChange:
		switch s := second.(type) {
		case Splice:
			sp, p := mergeSplicePath(s, f)
			return sp, p
		case Move:
			return s, mergeMovePath(s, f)
		case PathChange:
			return mergePaths(f, s)
		}
	}
	// Unknown combinations do not touch each other.
	return second, first
}

func mergeFirstChanges(first Changes, second Change) (Change, Change) {
	var out []Change
	for _, c := range first {
		var cp Change
		second, cp = Merge(c, second)
		out = append(out, cp)
	}
	return second, NewChanges(out...)
}

func mergeSecondChanges(first Change, second Changes) (Change, Change) {
	var out []Change
	for _, c := range second {
		var cp Change
		cp, first = Merge(first, c)
		out = append(out, cp)
	}
	return NewChanges(out...), first
}

// absorb keeps a Replace winning over a structural change c made to the same
// value: c disappears and the Replace's Before reflects it.
func absorb(r Replace, c Change) Change {
	if before, err := cloneOrNull(r.Before).Apply(c); err == nil {
		r.Before = before
	}
	return r
}

func mergeSplices(f, s Splice) (Change, Change) {
	s1, k1 := f.Offset, f.Before.Count()
	s2, k2 := s.Offset, s.Before.Count()
	e1, e2 := s1+k1, s2+k2

	switch {
	case e1 <= s2:
		return s.at(s2 + f.After.Count() - k1), f
	case e2 <= s1:
		return s, f.at(s1 + s.After.Count() - k2)
	case s1 == s2 && k1 == k2:
		return Splice{Offset: s1, Before: f.After, After: s.After}, nil
	}

	// Payloads of different kinds cannot be joined. At most one side fits
	// the value, so leave both alone and let Apply reject the other.
	if !sameKind(f.Before, s.Before) || !sameKind(f.After, s.After) || !sameKind(f.Before, f.After) || !sameKind(s.Before, s.After) {
		return s, f
	}

	// Overlap: both sides rewrite the union range to the same content, the
	// earlier-starting payload first.
	u := min(s1, s2)
	var after Sequence
	if s1 <= s2 {
		after = f.After.Concat(s.After)
	} else {
		after = s.After.Concat(f.After)
	}
	secondP := Splice{Offset: u, Before: surround(s.Before, s1-s2, e1-s2, f.After), After: after}
	firstP := Splice{Offset: u, Before: surround(f.Before, s2-s1, e2-s1, s.After), After: after}
	return secondP, firstP
}

// surround returns before[:cut] + mid + before[from:] with cut and from
// clamped into range.
func surround(before Sequence, cut, from int, mid Sequence) Sequence {
	n := before.Count()
	cut = max(0, min(cut, n))
	from = max(0, min(from, n))
	return before.Slice(0, cut).Concat(mid).Concat(before.Slice(from, n-from))
}

// mergeMoveSplice returns (move', splice'). Neither side has priority.
func mergeMoveSplice(m Move, sp Splice) (Change, Change) {
	a, x, y := m.blocks()
	s, k := sp.Offset, sp.Before.Count()
	delta := sp.After.Count() - k

	switch {
	case s+k <= a:
		return swap(a+delta, x, y), sp
	case s >= a+x+y:
		return m, sp
	case s >= a && s+k <= a+x:
		return swap(a, x+delta, y), sp.at(s + y)
	case s >= a+x && s+k <= a+x+y:
		return swap(a, x, y+delta), sp.at(s - x)
	}

	// The splice crosses a block boundary: split it into pieces that each
	// stay inside one region and thread the move through them.
	var moved Change = m
	var out []Change
	for _, piece := range splitSplice(sp, a, a+x, a+x+y) {
		mm, ok := moved.(Move)
		if !ok {
			out = append(out, piece)
			continue
		}
		var pp Change
		moved, pp = mergeMoveSplice(mm, piece)
		out = append(out, pp)
	}
	return moved, NewChanges(out...)
}

// splitSplice cuts sp at every bound strictly inside its removed range. The
// first piece carries the insertion; later pieces only remove and are
// expressed against the result of the pieces before them.
func splitSplice(sp Splice, bounds ...int) []Splice {
	s, k := sp.Offset, sp.Before.Count()
	var cuts []int
	for _, b := range bounds {
		if b > s && b < s+k && (len(cuts) == 0 || cuts[len(cuts)-1] < b-s) {
			cuts = append(cuts, b-s)
		}
	}
	cuts = append(cuts, k)

	empty := sp.After.Slice(0, 0)
	pieces := make([]Splice, 0, len(cuts))
	prev, offset := 0, s
	for i, cut := range cuts {
		after := empty
		if i == 0 {
			after = sp.After
		}
		pieces = append(pieces, Splice{Offset: offset, Before: sp.Before.Slice(prev, cut-prev), After: after})
		if i == 0 {
			offset += sp.After.Count()
		}
		prev = cut
	}
	return pieces
}

func mergeMoves(f, s Move) (Change, Change) {
	a1, x1, y1 := f.blocks()
	a2, x2, y2 := s.blocks()
	e1, e2 := a1+x1+y1, a2+x2+y2

	switch {
	case a1 == a2 && x1 == x2 && y1 == y2:
		return nil, nil
	case e1 <= a2 || e2 <= a1:
		return s, f
	case a2 >= a1 && e2 <= a1+x1:
		return swap(a2+y1, x2, y2), f
	case a2 >= a1+x1 && e2 <= e1:
		return swap(a2-x1, x2, y2), f
	case a1 >= a2 && e1 <= a2+x2:
		return s, swap(a1+y2, x1, y1)
	case a1 >= a2+x2 && e1 <= e2:
		return s, swap(a1-x2, x1, y1)
	}
	// Crossing moves cannot both hold: the later one wins and the earlier
	// one is undone first.
	return NewChanges(f.Revert(), s), nil
}

// mergeSplicePath returns (splice', path').
func mergeSplicePath(sp Splice, p PathChange) (Change, Change) {
	i, ok := p.Path[0].(int)
	if !ok {
		return sp, p
	}
	if j, kept := sp.MapIndex(i); kept {
		return sp, p.withIndex(j)
	}
	// The element is inside the removed range: fold the edit into the
	// splice's Before so Revert restores it.
	inner := NewPathChange(append(Path{i - sp.Offset}, p.Path[1:]...), p.Change)
	if before, err := sp.Before.Apply(inner); err == nil {
		if seq, ok := before.(Sequence); ok {
			sp.Before = seq
		}
	}
	return sp, nil
}

func mergeMovePath(m Move, p PathChange) Change {
	i, ok := p.Path[0].(int)
	if !ok {
		return p
	}
	return p.withIndex(m.MapIndex(i))
}

func mergePaths(f, s PathChange) (Change, Change) {
	n := commonPrefix(f.Path, s.Path)
	switch {
	case n == len(f.Path) && n == len(s.Path):
		sp, fp := Merge(f.Change, s.Change)
		return NewPathChange(f.Path, sp), NewPathChange(f.Path, fp)
	case n == len(f.Path):
		sp, fp := Merge(f.Change, NewPathChange(s.Path[n:], s.Change))
		return NewPathChange(f.Path, sp), NewPathChange(f.Path, fp)
	case n == len(s.Path):
		sp, fp := Merge(NewPathChange(f.Path[n:], f.Change), s.Change)
		return NewPathChange(s.Path, sp), NewPathChange(s.Path, fp)
	}
	return s, f
}
