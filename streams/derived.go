package streams

import (
	"sync"

	"github.com/ssau-fiit/cloudocs-sync/changes"
)

// Derived caches the first successor of a stream computed from other
// streams. Once the upstream has resolved, the result never changes.
type Derived[S any] struct {
	mu       sync.Mutex
	resolved bool
	ok       bool
	change   changes.Change
	next     S
}

// Resolve returns the cached successor or calls compute. compute reports
// final=false while its upstream has no successor yet; nothing is cached then.
// A final result with ok=false ends the derived stream for good.
func (d *Derived[S]) Resolve(compute func() (c changes.Change, next S, ok, final bool)) (changes.Change, S, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.resolved {
		c, next, ok, final := compute()
		if !final {
			var zero S
			return nil, zero, false
		}
		d.resolved, d.ok, d.change, d.next = true, ok, c, next
	}
	return d.change, d.next, d.ok
}

// Ended reports whether the derived stream resolved to no successor.
func (d *Derived[S]) Ended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved && !d.ok
}
