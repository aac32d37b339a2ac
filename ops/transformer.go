package ops

import (
	"context"
	"fmt"
	"sync"

	"github.com/ssau-fiit/cloudocs-sync/changes"
)

// Rebased is an operation re-expressed against the version just before it,
// together with its residual chain: the operations accepted between its
// basis and its version, transformed to apply after the original change.
type Rebased struct {
	Op       Operation
	Residual []Operation
}

// Transformer wraps a raw log. Read returns every operation rebased so that
// its basis is version-1. Results are cached per version; two readers that
// race on the same version compute the same value and the first one stored
// wins.
type Transformer struct {
	log Log

	mu    sync.RWMutex
	cache map[int]Rebased
}

func NewTransformer(log Log) *Transformer {
	return &Transformer{log: log, cache: map[int]Rebased{}}
}

func (t *Transformer) Read(ctx context.Context, version, limit int) ([]Operation, error) {
	raw, err := t.log.Read(ctx, version, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Operation, 0, len(raw))
	for _, op := range raw {
		r, err := t.Rebase(ctx, op)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Op)
	}
	return out, nil
}

func (t *Transformer) Write(ctx context.Context, ops []Operation) error {
	return t.log.Write(ctx, ops)
}

// Rebase returns op rebased onto version op.Version-1. op must be an
// accepted operation read from the underlying log.
func (t *Transformer) Rebase(ctx context.Context, op Operation) (Rebased, error) {
	if op.Version < 0 {
		return Rebased{}, fmt.Errorf("rebase %s: operation is not acknowledged", op.ID)
	}
	if op.Basis < -1 || op.Basis >= op.Version {
		return Rebased{}, desync(op.ID, "basis %d outside [-1, %d)", op.Basis, op.Version)
	}
	if op.Basis == op.Version-1 {
		return Rebased{Op: op}, nil
	}

	t.mu.RLock()
	r, ok := t.cache[op.Version]
	t.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := t.rebase(ctx, op)
	if err != nil {
		return Rebased{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.cache[op.Version]; ok {
		return cached, nil
	}
	t.cache[op.Version] = r
	return r, nil
}

// Forget drops cached results for versions at or above from. Callers that
// rebase operations before they are committed use it when the commit fails.
func (t *Transformer) Forget(from int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for v := range t.cache {
		if v >= from {
			delete(t.cache, v)
		}
	}
}

func (t *Transformer) rebase(ctx context.Context, op Operation) (Rebased, error) {
	want := op.Version - op.Basis - 1
	gap, err := t.log.Read(ctx, op.Basis+1, want)
	if err != nil {
		return Rebased{}, fmt.Errorf("read gap of %s: %w", op.ID, err)
	}
	if len(gap) != want {
		return Rebased{}, desync(op.ID, "log holds %d of %d operations before version %d", len(gap), want, op.Version)
	}

	change := op.Change
	var residual []Operation
	start := 0

	// An amendment was written on top of its parent, so the parent's own
	// residual is what the author had not seen yet. Entries at or below the
	// basis were already seen. A parent outside the gap is already part of
	// the basis.
	if op.ParentID != "" {
		for i, g := range gap {
			if g.ID != op.ParentID {
				continue
			}
			parent, err := t.Rebase(ctx, g)
			if err != nil {
				return Rebased{}, err
			}
			for _, r := range parent.Residual {
				if r.Version <= op.Basis {
					continue
				}
				change, r.Change = changes.Merge(r.Change, change)
				residual = append(residual, r)
			}
			start = i + 1
			break
		}
	}

	for _, g := range gap[start:] {
		rg, err := t.Rebase(ctx, g)
		if err != nil {
			return Rebased{}, err
		}
		g = rg.Op
		change, g.Change = changes.Merge(g.Change, change)
		residual = append(residual, g)
	}

	op.Basis = op.Version - 1
	op.Change = change
	return Rebased{Op: op, Residual: residual}, nil
}
