// Package oplog is the server side of the op log. It accepts batches of
// operations, stamps them with versions and keeps a snapshot of the document
// at the head by applying every accepted operation rebased onto its
// predecessor.
package oplog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

const maxAttempts = 5

// Log implements ops.Log on top of a Store. Reads return operations with
// their original basis; rebasing is left to the reader.
type Log struct {
	store Store

	mu   sync.Mutex
	tr   *ops.Transformer
	view *view

	notifyMu sync.Mutex
	changed  chan struct{}
}

func New(store Store) *Log {
	v := &view{store: store, head: -1}
	return &Log{
		store:   store,
		tr:      ops.NewTransformer(v),
		view:    v,
		changed: make(chan struct{}),
	}
}

func (l *Log) Read(ctx context.Context, version, limit int) ([]ops.Operation, error) {
	return l.store.Read(ctx, version, limit)
}

// Snapshot returns the document at the head and the head version.
func (l *Log) Snapshot(ctx context.Context) (changes.Value, int, error) {
	return l.store.Snapshot(ctx)
}

// Write accepts batch in order. Operations whose id is already in the log
// are skipped, so a retried write is harmless. A basis newer than the head,
// an unknown parent or a change that does not fit the document rejects the
// whole batch.
func (l *Log) Write(ctx context.Context, batch []ops.Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 1; ; attempt++ {
		n, err := l.write(ctx, batch)
		switch {
		case err == nil:
			if n > 0 {
				l.notify()
			}
			return nil
		case errors.Is(err, ErrConflict) && attempt < maxAttempts:
			log.Warn().Int("attempt", attempt).Msg("op log moved while writing, retrying")
		default:
			return err
		}
	}
}

func (l *Log) write(ctx context.Context, batch []ops.Operation) (n int, err error) {
	snap, head, err := l.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	l.view.head, l.view.pending = head, nil
	defer func() {
		l.view.pending = nil
		if err != nil {
			l.tr.Forget(head + 1)
		}
	}()

	accepted := map[string]bool{}
	for _, op := range batch {
		if accepted[op.ID] {
			continue
		}
		dup, err := l.store.Has(ctx, op.ID)
		if err != nil {
			return 0, fmt.Errorf("look up %s: %w", op.ID, err)
		}
		if dup {
			continue
		}
		if op.Basis < -1 || op.Basis > head {
			return 0, &ops.ProtocolDesyncError{ID: op.ID, Reason: fmt.Sprintf("basis %d, head is %d", op.Basis, head)}
		}
		if op.ParentID != "" && !accepted[op.ParentID] {
			known, err := l.store.Has(ctx, op.ParentID)
			if err != nil {
				return 0, fmt.Errorf("look up %s: %w", op.ParentID, err)
			}
			if !known {
				return 0, &ops.ProtocolDesyncError{ID: op.ID, Reason: fmt.Sprintf("unknown parent %s", op.ParentID)}
			}
		}

		op.Version = head + len(l.view.pending) + 1
		l.view.pending = append(l.view.pending, op)
		r, err := l.rebase(ctx, op)
		if err != nil {
			return 0, err
		}
		if snap, err = changes.Apply(snap, r.Op.Change); err != nil {
			return 0, fmt.Errorf("apply %s: %w", op.ID, err)
		}
		accepted[op.ID] = true
	}

	if len(l.view.pending) == 0 {
		return 0, nil
	}
	n = len(l.view.pending)
	if err := l.store.Append(ctx, head, l.view.pending, snap); err != nil {
		return 0, err
	}
	log.Debug().Int("head", head+n).Int("accepted", n).Msg("ops committed")
	return n, nil
}

// rebase reports a change the algebra cannot transform as invalid.
func (l *Log) rebase(ctx context.Context, op ops.Operation) (r ops.Rebased, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("op", op.ID).Msg("rebase failed")
			err = &changes.ValidationError{Change: op.Change, Reason: fmt.Sprint(p)}
		}
	}()
	return l.tr.Rebase(ctx, op)
}

// Wait blocks until the log holds an operation at version or ctx is done.
// Only writes through this Log wake it up.
func (l *Log) Wait(ctx context.Context, version int) error {
	for {
		l.notifyMu.Lock()
		ch := l.changed
		l.notifyMu.Unlock()

		head, err := l.store.Head(ctx)
		if err != nil {
			return err
		}
		if head >= version {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Log) notify() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	close(l.changed)
	l.changed = make(chan struct{})
}

// view is the committed log followed by the batch being written. The
// Transformer reads gaps through it.
type view struct {
	store   Store
	head    int
	pending []ops.Operation
}

func (v *view) Read(ctx context.Context, version, limit int) ([]ops.Operation, error) {
	version = max(version, 0)
	var out []ops.Operation
	if version <= v.head {
		n := v.head - version + 1
		if limit > 0 {
			n = min(n, limit)
		}
		committed, err := v.store.Read(ctx, version, n)
		if err != nil {
			return nil, err
		}
		out = committed
		if limit > 0 {
			if limit -= len(committed); limit == 0 {
				return out, nil
			}
		}
		version = v.head + 1
	}

	i := version - v.head - 1
	if i >= len(v.pending) {
		return out, nil
	}
	end := len(v.pending)
	if limit > 0 {
		end = min(end, i+limit)
	}
	return append(out, v.pending[i:end]...), nil
}

func (v *view) Write(context.Context, []ops.Operation) error {
	return errors.New("op log view is read-only")
}
