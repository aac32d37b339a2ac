package changes

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var equateEmpty = cmpopts.EquateEmpty()

func mustApply(t *testing.T, v Value, cs ...Change) Value {
	t.Helper()
	for _, c := range cs {
		var err error
		if v, err = Apply(v, c); err != nil {
			t.Fatalf("apply %v to %v: %v", c, v, err)
		}
	}
	return v
}

func splice(offset int, before, after string) Splice {
	return Splice{Offset: offset, Before: Text(before), After: Text(after)}
}

// checkDiamond verifies both merge directions converge and that the merged
// changes still revert cleanly.
func checkDiamond(t *testing.T, v Value, c1, c2 Change) Value {
	t.Helper()
	c2p, c1p := Merge(c1, c2)
	left := mustApply(t, v, c1, c2p)
	right := mustApply(t, v, c2, c1p)
	if diff := cmp.Diff(left, right, equateEmpty); diff != "" {
		t.Fatalf("diamond broken for\n  v  = %v\n  c1 = %v\n  c2 = %v\n  c2' = %v\n  c1' = %v\n(-c1,c2' +c2,c1'):\n%s", v, c1, c2, c2p, c1p, diff)
	}
	if diff := cmp.Diff(mustApply(t, v, c1), mustApply(t, left, Revert(c2p)), equateEmpty); diff != "" {
		t.Fatalf("revert of c2' = %v broken:\n%s", c2p, diff)
	}
	if diff := cmp.Diff(mustApply(t, v, c2), mustApply(t, right, Revert(c1p)), equateEmpty); diff != "" {
		t.Fatalf("revert of c1' = %v broken:\n%s", c1p, diff)
	}

	// With c2 treated as first, c1.ReverseMerge(c2) returns (c2', c1').
	c2r, c1r := c1.ReverseMerge(c2)
	if diff := cmp.Diff(mustApply(t, v, c1, c2r), mustApply(t, v, c2, c1r), equateEmpty); diff != "" {
		t.Fatalf("reverse merge diverged:\n%s", diff)
	}
	return left
}

func TestApplyText(t *testing.T) {
	v := Text("hello")
	assert.Equal(t, Text("hello world"), mustApply(t, v, splice(5, "", " world")))
	assert.Equal(t, Text("jello"), mustApply(t, v, splice(0, "h", "j")))
	assert.Equal(t, Text("lohel"), mustApply(t, v, Move{Offset: 0, Count: 3, Distance: 2}))
	assert.Equal(t, Text("lohel"), mustApply(t, v, Move{Offset: 3, Count: 2, Distance: -3}))
	assert.Equal(t, Text("bye"), mustApply(t, v, Replace{Before: v, After: Text("bye")}))

	// Apply(nil) never aliases.
	l := List{Text("a")}
	got := mustApply(t, l, nil).(List)
	got[0] = Text("b")
	assert.Equal(t, Text("a"), l[0])
}

func TestApplyRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		c    Change
	}{
		{"splice past end", Text("abc"), splice(2, "cd", "")},
		{"negative offset", Text("abc"), splice(-1, "", "x")},
		{"move past end", Text("abc"), Move{Offset: 1, Count: 2, Distance: 1}},
		{"path into scalar", Atomic{V: 1.0}, PathChange{Path: Path{"a"}, Change: Replace{After: Atomic{V: 2.0}}}},
		{"splice on map", Map{}, splice(0, "", "x")},
		{"list index", List{Text("a")}, PathChange{Path: Path{3}, Change: Replace{}}},
		{"map key type", Map{}, PathChange{Path: Path{1}, Change: Replace{}}},
		{"mixed kinds", List{}, splice(0, "", "x")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(tc.v, tc.c)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want ValidationError, got %v", err)
			}
		})
	}
}

func TestApplyNested(t *testing.T) {
	doc := Map{
		"title": Text("draft"),
		"items": List{Text("one"), Text("two")},
	}
	got := mustApply(t, doc,
		NewPathChange(Path{"items", 1}, splice(3, "", "!")),
		NewPathChange(Path{"title"}, Replace{Before: Text("draft"), After: Null{}}),
		NewPathChange(Path{"owner"}, Replace{Before: Null{}, After: Atomic{V: "ann"}}),
	)
	want := Map{
		"items": List{Text("one"), Text("two!")},
		"owner": Atomic{V: "ann"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	// The input is untouched.
	assert.Equal(t, Text("draft"), doc["title"])
}

func TestNewPathChange(t *testing.T) {
	c := splice(0, "", "x")
	assert.Equal(t, Change(c), NewPathChange(nil, c))
	assert.Equal(t, nil, NewPathChange(Path{"a"}, nil))

	nested := NewPathChange(Path{"a"}, NewPathChange(Path{1, "b"}, c))
	want := PathChange{Path: Path{"a", 1, "b"}, Change: c}
	if diff := cmp.Diff(Change(want), nested); diff != "" {
		t.Fatal(diff)
	}
}

func TestNewChanges(t *testing.T) {
	a, b := splice(0, "", "a"), splice(0, "", "b")
	assert.Equal(t, nil, NewChanges())
	assert.Equal(t, nil, NewChanges(nil, Move{Offset: 1, Count: 0, Distance: 3}))
	assert.Equal(t, Change(a), NewChanges(nil, a))
	if diff := cmp.Diff(Change(Changes{a, b, a}), NewChanges(a, Changes{nil, Changes{b}}, a)); diff != "" {
		t.Fatal(diff)
	}
}

func TestRevert(t *testing.T) {
	v := Map{"xs": List{Text("a"), Text("b"), Text("c"), Text("d")}}
	cs := []Change{
		Replace{Before: v, After: Text("gone")},
		NewPathChange(Path{"xs"}, Move{Offset: 0, Count: 2, Distance: 2}),
		NewPathChange(Path{"xs"}, Move{Offset: 3, Count: 1, Distance: -2}),
		NewPathChange(Path{"xs"}, Splice{Offset: 1, Before: List{Text("b"), Text("c")}, After: List{Text("z")}}),
		NewPathChange(Path{"xs", 2}, splice(0, "c", "cc")),
		Changes{
			NewPathChange(Path{"xs"}, Move{Offset: 0, Count: 1, Distance: 3}),
			NewPathChange(Path{"n"}, Replace{Before: Null{}, After: Atomic{V: 1.0}}),
		},
	}
	for _, c := range cs {
		got := mustApply(t, v, c, Revert(c))
		if diff := cmp.Diff(Value(v), got, equateEmpty); diff != "" {
			t.Errorf("revert %v:\n%s", c, diff)
		}
	}
}

func TestSpliceRoundTrip(t *testing.T) {
	v := Text("collaborate")
	removed := v.Slice(3, 4)
	got := mustApply(t, v, Splice{Offset: 3, Before: removed, After: Text("")}, Splice{Offset: 3, Before: Text(""), After: removed})
	assert.Equal(t, Value(v), got)
}

func TestMoveInverse(t *testing.T) {
	v := List{Atomic{V: 0.0}, Atomic{V: 1.0}, Atomic{V: 2.0}, Atomic{V: 3.0}, Atomic{V: 4.0}}
	for _, m := range []Move{{0, 2, 3}, {4, 1, -4}, {1, 3, 1}, {2, 2, -1}} {
		got := mustApply(t, v, m, Move{Offset: m.Offset + m.Distance, Count: m.Count, Distance: -m.Distance})
		if diff := cmp.Diff(Value(v), got); diff != "" {
			t.Errorf("%v:\n%s", m, diff)
		}
	}
}

func TestMergeReplace(t *testing.T) {
	v := Text("base")
	r1 := Replace{Before: v, After: Text("one")}
	r2 := Replace{Before: v, After: Text("two")}
	assert.Equal(t, Value(Text("two")), checkDiamond(t, v, r1, r2))

	del1 := Replace{Before: v, After: Null{}}
	del2 := Replace{Before: v, After: Null{}}
	c2p, c1p := Merge(del1, del2)
	assert.Equal(t, nil, c2p)
	assert.Equal(t, nil, c1p)

	// Replace beats structural edits in both positions.
	assert.Equal(t, Value(Text("two")), checkDiamond(t, v, splice(0, "b", "c"), r2))
	assert.Equal(t, Value(Text("one")), checkDiamond(t, v, r1, Move{Offset: 0, Count: 1, Distance: 2}))
}

func TestMergeSplices(t *testing.T) {
	v := Text("abcdefghij")
	cases := []struct {
		name   string
		c1, c2 Splice
		want   Text
	}{
		{"disjoint left", splice(1, "b", "B"), splice(5, "fg", "F"), "aBcdeFhij"},
		{"disjoint right", splice(7, "h", "H"), splice(0, "ab", ""), "cdefgHij"},
		{"adjacent", splice(2, "cd", "X"), splice(4, "ef", "Y"), "abXYghij"},
		{"same insert point", splice(3, "", "1"), splice(3, "", "2"), "abc12defghij"},
		{"left overlap", splice(1, "bcd", "X"), splice(3, "def", "Y"), "aXYghij"},
		{"right overlap", splice(3, "def", "Y"), splice(1, "bcd", "X"), "aXYghij"},
		{"contains", splice(1, "bcdefg", "X"), splice(3, "de", "Y"), "aXYhij"},
		{"contained", splice(3, "de", "Y"), splice(1, "bcdefg", "X"), "aXYhij"},
		{"insert inside delete", splice(4, "", "!"), splice(2, "cdef", ""), "ab!ghij"},
		{"exact coincidence", splice(2, "cd", "1"), splice(2, "cd", "2"), "ab2efghij"},
		{"identical", splice(2, "cd", "Z"), splice(2, "cd", "Z"), "abZefghij"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := checkDiamond(t, v, tc.c1, tc.c2)
			assert.Equal(t, Value(tc.want), got)
		})
	}
}

func TestMergeMixedSplices(t *testing.T) {
	text := splice(0, "he", "")
	mixed := Splice{Offset: 1, Before: List{}, After: Text("x")}
	sp, tp := Merge(text, mixed)
	assert.Equal(t, Change(mixed), sp)
	assert.Equal(t, Change(text), tp)

	list := Splice{Offset: 1, Before: List{Text("a")}, After: List{}}
	sp, tp = Merge(text, list)
	assert.Equal(t, Change(list), sp)
	assert.Equal(t, Change(text), tp)

	_, err := Apply(Text("hello"), mixed)
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestMergeSpliceMove(t *testing.T) {
	v := Text("abcdefghij")
	moves := []Move{
		{Offset: 2, Count: 3, Distance: 2},
		{Offset: 6, Count: 2, Distance: -4},
		{Offset: 0, Count: 10, Distance: 0},
	}
	splices := []Splice{
		splice(0, "a", "A"),
		splice(2, "", "^"),
		splice(3, "d", "D"),
		splice(5, "", "|"),
		splice(6, "g", "G"),
		splice(7, "", "$"),
		splice(9, "j", ""),
		splice(1, "bcd", "_"),
		splice(4, "efg", "_"),
		splice(1, "bcdefgh", "_"),
		splice(0, "abcdefghij", ""),
	}
	for _, m := range moves {
		for _, s := range splices {
			checkDiamond(t, v, m, s)
			checkDiamond(t, v, s, m)
		}
	}
}

func TestMergeMoves(t *testing.T) {
	v := List{}
	for i := 0; i < 10; i++ {
		v = append(v, Atomic{V: float64(i)})
	}
	moves := []Move{
		{Offset: 0, Count: 2, Distance: 3},
		{Offset: 0, Count: 2, Distance: 3},
		{Offset: 2, Count: 3, Distance: -2},
		{Offset: 6, Count: 2, Distance: 2},
		{Offset: 1, Count: 1, Distance: 1},
		{Offset: 3, Count: 4, Distance: 2},
		{Offset: 4, Count: 2, Distance: -3},
		{Offset: 1, Count: 3, Distance: 5},
		{Offset: 5, Count: 0, Distance: 2},
	}
	for _, m1 := range moves {
		for _, m2 := range moves {
			checkDiamond(t, v, m1, m2)
		}
	}

	// Identical moves cancel.
	c2p, c1p := Merge(moves[0], moves[1])
	assert.Equal(t, nil, c2p)
	assert.Equal(t, nil, c1p)
}

func TestMergePaths(t *testing.T) {
	v := Map{
		"a": List{Text("x"), Text("yy"), Text("zzz")},
		"b": Text("bee"),
	}
	cs := []Change{
		NewPathChange(Path{"a", 1}, splice(0, "y", "Y")),
		NewPathChange(Path{"a", 1}, splice(2, "", "!")),
		NewPathChange(Path{"a"}, Splice{Offset: 0, Before: List{Text("x")}, After: List{}}),
		NewPathChange(Path{"a"}, Splice{Offset: 1, Before: List{Text("yy")}, After: List{Text("q"), Text("r")}}),
		NewPathChange(Path{"a"}, Move{Offset: 0, Count: 1, Distance: 2}),
		NewPathChange(Path{"a", 2}, Replace{Before: Text("zzz"), After: Text("w")}),
		NewPathChange(Path{"a"}, Replace{Before: v["a"], After: List{}}),
		NewPathChange(Path{"b"}, splice(3, "", "s")),
		NewPathChange(Path{"c"}, Replace{Before: Null{}, After: Atomic{V: true}}),
		Changes{
			NewPathChange(Path{"b"}, splice(0, "b", "B")),
			NewPathChange(Path{"a"}, Move{Offset: 2, Count: 1, Distance: -2}),
		},
	}
	for _, c1 := range cs {
		for _, c2 := range cs {
			checkDiamond(t, v, c1, c2)
		}
	}
}

func TestMergeSpliceAbsorbsPath(t *testing.T) {
	v := List{Text("a"), Text("b"), Text("c")}
	del := Splice{Offset: 1, Before: List{Text("b")}, After: List{}}
	edit := NewPathChange(Path{1}, splice(1, "", "!"))

	c2p, c1p := Merge(del, edit)
	assert.Equal(t, nil, c2p)
	absorbed := c1p.(Splice)
	assert.Equal(t, Sequence(List{Text("b!")}), absorbed.Before)
	checkDiamond(t, v, del, edit)
}

func TestMergeChanges(t *testing.T) {
	v := Text("hello world")
	c1 := Changes{splice(0, "h", "H"), splice(6, "w", "W"), Move{Offset: 0, Count: 5, Distance: 6}}
	c2 := Changes{splice(5, " ", "_"), splice(11, "", "!")}
	checkDiamond(t, v, c1, c2)
	checkDiamond(t, v, c2, c1)
}
