package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/oplog"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

// Store is the op log of one document in redis. Operations are kept as
// protobuf ListValues holding the same tuple as the JSON wire form.
type Store struct {
	rdb *redis.Client
	id  string
}

func (s *Store) Head(ctx context.Context) (int, error) {
	n, err := s.rdb.LLen(ctx, opsKey(s.id)).Result()
	if err != nil {
		return 0, fmt.Errorf("get op log length: %w", err)
	}
	return int(n) - 1, nil
}

func (s *Store) Read(ctx context.Context, version, limit int) ([]ops.Operation, error) {
	version = max(version, 0)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(version + limit - 1)
	}
	raw, err := s.rdb.LRange(ctx, opsKey(s.id), int64(version), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read op log: %w", err)
	}
	out := make([]ops.Operation, 0, len(raw))
	for _, data := range raw {
		op, err := decodeOperation([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, idsKey(s.id), id).Result()
	if err != nil {
		return false, fmt.Errorf("look up operation %s: %w", id, err)
	}
	return ok, nil
}

func (s *Store) Snapshot(ctx context.Context) (changes.Value, int, error) {
	var (
		snapshot *redis.StringCmd
		length   *redis.IntCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		snapshot = pipe.Get(ctx, snapshotKey(s.id))
		length = pipe.LLen(ctx, opsKey(s.id))
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}
	v, err := changes.UnmarshalValue([]byte(snapshot.Val()))
	if err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return v, int(length.Val()) - 1, nil
}

func (s *Store) Append(ctx context.Context, expectHead int, batch []ops.Operation, snapshot changes.Value) error {
	encoded := make([]any, 0, len(batch))
	ids := make([]any, 0, len(batch))
	for _, op := range batch {
		data, err := encodeOperation(op)
		if err != nil {
			return err
		}
		encoded = append(encoded, data)
		ids = append(ids, op.ID)
	}
	snap, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, opsKey(s.id)).Result()
		if err != nil {
			return err
		}
		if int(n)-1 != expectHead {
			return oplog.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, opsKey(s.id), encoded...)
			pipe.SAdd(ctx, idsKey(s.id), ids...)
			pipe.Set(ctx, snapshotKey(s.id), snap, 0)
			return nil
		})
		return err
	}, opsKey(s.id))
	if errors.Is(err, redis.TxFailedErr) {
		return oplog.ErrConflict
	}
	if err != nil && !errors.Is(err, oplog.ErrConflict) {
		return fmt.Errorf("append to op log: %w", err)
	}
	return err
}

func encodeSnapshot(v changes.Value) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(data), nil
}

func encodeOperation(op ops.Operation) ([]byte, error) {
	tuple, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	var list structpb.ListValue
	if err := protojson.Unmarshal(tuple, &list); err != nil {
		return nil, fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	return proto.Marshal(&list)
}

func decodeOperation(data []byte) (ops.Operation, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return ops.Operation{}, fmt.Errorf("decode operation record: %w", err)
	}
	tuple, err := protojson.Marshal(&list)
	if err != nil {
		return ops.Operation{}, fmt.Errorf("decode operation record: %w", err)
	}
	var op ops.Operation
	if err := json.Unmarshal(tuple, &op); err != nil {
		return ops.Operation{}, err
	}
	return op, nil
}
