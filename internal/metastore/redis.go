package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"txspout/spout"
)

// Redis stores metadata as JSON in one hash per topic:
// HSET <prefix>:<topic> <handle> <json>.
type Redis struct {
	c      *redis.Client
	prefix string
}

func NewRedis(addr, prefix string) *Redis {
	if prefix == "" {
		prefix = "txspout:meta"
	}
	return &Redis{c: redis.NewClient(&redis.Options{Addr: addr}), prefix: prefix}
}

func (r *Redis) key(topic string) string { return r.prefix + ":" + topic }

func (r *Redis) Get(ctx context.Context, topic, handle string) (*spout.BatchMetadata, error) {
	raw, err := r.c.HGet(ctx, r.key(topic), handle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: hget %s/%s: %w", topic, handle, err)
	}
	var meta spout.BatchMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("metastore: decode %s/%s: %w", topic, handle, err)
	}
	return &meta, nil
}

func (r *Redis) Put(ctx context.Context, topic, handle string, meta spout.BatchMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := r.c.HSet(ctx, r.key(topic), handle, raw).Err(); err != nil {
		return fmt.Errorf("metastore: hset %s/%s: %w", topic, handle, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.c.Close() }
