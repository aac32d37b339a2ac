package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/oplog"
)

// ErrNotFound is returned for a document id that does not exist.
var ErrNotFound = errors.New("document not found")

// Catalog lists documents and hands out the op log store of each one.
type Catalog interface {
	Documents(ctx context.Context) ([]Document, error)
	Document(ctx context.Context, id string) (Document, error)
	CreateDocument(ctx context.Context, name, author string, initial changes.Value) (Document, error)
	DeleteDocument(ctx context.Context, id string) error
	Store(id string) oplog.Store
}

// Document is the metadata kept next to a document's op log.
type Document struct {
	ID     string `json:"ID" mapstructure:"id"`
	Name   string `json:"name" mapstructure:"name"`
	Author string `json:"author" mapstructure:"author"`
}

func documentKey(id string) string { return fmt.Sprintf("documents.%v", id) }
func snapshotKey(id string) string { return fmt.Sprintf("texts.%v", id) }
func opsKey(id string) string      { return fmt.Sprintf("ops.%v", id) }
func idsKey(id string) string      { return fmt.Sprintf("opids.%v", id) }

// Redis keeps every document in redis: a hash for the metadata, a list of
// encoded operations, a set of operation ids and the snapshot at the head.
type Redis struct {
	rdb *redis.Client
}

// Connect dials redis and checks the connection.
func Connect(ctx context.Context, opts *redis.Options) (*Redis, error) {
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Documents(ctx context.Context) ([]Document, error) {
	keys, err := r.rdb.Keys(ctx, "documents.*").Result()
	if err != nil {
		return nil, fmt.Errorf("get document keys: %w", err)
	}

	documents := []Document{}
	for _, key := range keys {
		docMap, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("get document %s: %w", key, err)
		}
		var doc Document
		if err := mapstructure.Decode(docMap, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", key, err)
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func (r *Redis) Document(ctx context.Context, id string) (Document, error) {
	res, err := r.rdb.HGetAll(ctx, documentKey(id)).Result()
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	if len(res) == 0 {
		return Document{}, ErrNotFound
	}
	var doc Document
	if err := mapstructure.Decode(res, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

func (r *Redis) CreateDocument(ctx context.Context, name, author string, initial changes.Value) (Document, error) {
	doc := Document{ID: uuid.NewString(), Name: name, Author: author}
	snapshot, err := encodeSnapshot(initial)
	if err != nil {
		return Document{}, err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, documentKey(doc.ID), "id", doc.ID, "name", doc.Name, "author", doc.Author)
		pipe.Set(ctx, snapshotKey(doc.ID), snapshot, 0)
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (r *Redis) DeleteDocument(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, documentKey(id), snapshotKey(id), opsKey(id), idsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Store(id string) oplog.Store {
	return &Store{rdb: r.rdb, id: id}
}
