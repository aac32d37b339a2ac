package streams

import (
	"github.com/ssau-fiit/cloudocs-sync/changes"
)

// Doc pairs a value with the version it corresponds to.
type Doc struct {
	Value  changes.Value
	Stream *Stream
}

// NewDoc starts a fresh chain at v.
func NewDoc(v changes.Value) Doc {
	return Doc{Value: v, Stream: New()}
}

// Catchup applies every written successor of d.Stream.
func (d Doc) Catchup() (Doc, error) {
	for {
		c, next, ok := d.Stream.Next()
		if !ok {
			return d, nil
		}
		v, err := changes.Apply(d.Value, c)
		if err != nil {
			return d, err
		}
		d = Doc{Value: v, Stream: next}
	}
}

// Edit appends c, made against d.Value, and catches up to the newest version.
func (d Doc) Edit(c changes.Change) (Doc, error) {
	d.Stream.Append(c)
	return d.Catchup()
}
