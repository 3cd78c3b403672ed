// Package metastore keeps the last confirmed BatchMetadata per partition so
// the runner can continue a partition after a restart.
package metastore

import (
	"context"
	"fmt"
	"sync"

	"txspout/spout"
)

type Store interface {
	// Get returns nil when the partition has no confirmed batch yet.
	Get(ctx context.Context, topic, handle string) (*spout.BatchMetadata, error)
	Put(ctx context.Context, topic, handle string, meta spout.BatchMetadata) error
	Close() error
}

type Config struct {
	Kind   string `yaml:"kind"` // memory|redis
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

func New(cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("metastore: redis needs an addr")
		}
		return NewRedis(cfg.Addr, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("metastore: unsupported kind %q", cfg.Kind)
	}
}

type Memory struct {
	mu   sync.RWMutex
	last map[string]spout.BatchMetadata
}

func NewMemory() *Memory { return &Memory{last: map[string]spout.BatchMetadata{}} }

func (m *Memory) Get(_ context.Context, topic, handle string) (*spout.BatchMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.last[topic+"/"+handle]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (m *Memory) Put(_ context.Context, topic, handle string, meta spout.BatchMetadata) error {
	m.mu.Lock()
	m.last[topic+"/"+handle] = meta
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
