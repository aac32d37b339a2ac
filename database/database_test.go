package database

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/oplog"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

func ins(offset int, s string) changes.Splice {
	return changes.Splice{Offset: offset, Before: changes.Text(""), After: changes.Text(s)}
}

func TestOperationRecord(t *testing.T) {
	op := ops.Operation{
		ID:       "01HZX",
		ParentID: "01HZW",
		Version:  12,
		Basis:    9,
		Change: changes.NewChanges(
			changes.NewPathChange(changes.Path{"items", 2}, ins(0, "é")),
			changes.Move{Offset: 1, Count: 2, Distance: -1},
			changes.NewPathChange(changes.Path{"done"}, changes.Replace{Before: changes.Null{}, After: changes.Atomic{V: true}}),
		),
	}
	data, err := encodeOperation(op)
	assert.Equal(t, nil, err)
	back, err := decodeOperation(data)
	assert.Equal(t, nil, err)
	if diff := cmp.Diff(op, back); diff != "" {
		t.Fatal(diff)
	}

	_, err = decodeOperation([]byte("not a record"))
	if err == nil {
		t.Fatal("decoded garbage")
	}
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	doc, err := m.CreateDocument(ctx, "notes", "ann", changes.Text("hi"))
	assert.Equal(t, nil, err)
	assert.Equal(t, 36, len(doc.ID))

	docs, err := m.Documents(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, []Document{doc}, docs)

	got, err := m.Document(ctx, doc.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, doc, got)

	l := oplog.New(m.Store(doc.ID))
	assert.Equal(t, nil, l.Write(ctx, []ops.Operation{{ID: "a", Basis: -1, Change: ins(2, "!")}}))
	snap, head, err := l.Snapshot(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, head)
	assert.Equal(t, changes.Value(changes.Text("hi!")), snap)

	assert.Equal(t, nil, m.DeleteDocument(ctx, doc.ID))
	assert.Equal(t, ErrNotFound, m.DeleteDocument(ctx, doc.ID))
	_, err = m.Document(ctx, doc.ID)
	assert.Equal(t, ErrNotFound, err)
	_, _, err = m.Store(doc.ID).Snapshot(ctx)
	assert.Equal(t, ErrNotFound, err)
}

// TestRedis runs against a live server named by REDIS_ADDR.
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := Connect(ctx, &redis.Options{Addr: addr})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	doc, err := r.CreateDocument(ctx, "redis test", "ann", changes.Text("hello"))
	assert.Equal(t, nil, err)
	defer r.DeleteDocument(ctx, doc.ID)

	got, err := r.Document(ctx, doc.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, doc, got)

	store := r.Store(doc.ID)
	l := oplog.New(store)
	assert.Equal(t, nil, l.Write(ctx, []ops.Operation{
		{ID: "a", Basis: -1, Change: ins(5, " world")},
		{ID: "b", Basis: -1, Change: ins(0, "OK, ")},
	}))
	assert.Equal(t, nil, l.Write(ctx, []ops.Operation{{ID: "a", Basis: -1, Change: ins(5, " world")}}))

	snap, head, err := l.Snapshot(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, head)
	assert.Equal(t, changes.Value(changes.Text("OK, hello world")), snap)

	read, err := store.Read(ctx, 1, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(read))
	assert.Equal(t, "b", read[0].ID)
	assert.Equal(t, 1, read[0].Version)

	has, err := store.Has(ctx, "b")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, has)

	err = store.Append(ctx, 0, []ops.Operation{{ID: "c", Version: 1, Basis: 0}}, changes.Text(""))
	if !errors.Is(err, oplog.ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}

	assert.Equal(t, nil, r.DeleteDocument(ctx, doc.ID))
	_, err = r.Document(ctx, doc.ID)
	assert.Equal(t, ErrNotFound, err)
}
