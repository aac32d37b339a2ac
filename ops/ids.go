package ops

import (
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// IDSource hands out globally unique operation ids.
type IDSource interface {
	NewID() string
}

// IDFunc adapts a function to IDSource.
type IDFunc func() string

func (f IDFunc) NewID() string { return f() }

// ULIDs generates time-ordered ULIDs.
var ULIDs IDSource = IDFunc(func() string { return ulid.Make().String() })

// Sequential returns ids prefix-1, prefix-2, ... Useful where ids must be
// predictable.
func Sequential(prefix string) IDSource {
	var n atomic.Int64
	return IDFunc(func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	})
}
