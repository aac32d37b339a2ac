package changes

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffText returns a change turning before into after, built from one
// Splice per edited run. The result is not guaranteed minimal.
func DiffText(before, after string) Change {
	if before == after {
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))

	var out []Change
	offset := 0
	var removed, inserted string
	flush := func() {
		if removed == "" && inserted == "" {
			return
		}
		out = append(out, Splice{Offset: offset, Before: Text(removed), After: Text(inserted)})
		offset += utf8.RuneCountInString(inserted)
		removed, inserted = "", ""
	}
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			offset += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += d.Text
		case diffmatchpatch.DiffInsert:
			inserted += d.Text
		}
	}
	flush()
	return NewChanges(out...)
}
