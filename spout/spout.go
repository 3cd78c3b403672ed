// Package spout implements the transactional partitioned-pull protocol on
// top of a broker.Client.
//
// The host drives two roles. The Coordinator lists the partitions of a round;
// the Emitter pulls a new batch for a partition, advancing its cursor, or
// replays a batch it emitted before from the BatchMetadata it returned. A
// replay re-reads exactly the recorded offset range and never moves the
// cursor, so every attempt of a transaction emits the same records.
//
// Calls block up to the configured pull timeout and the spout starts no
// goroutines of its own. The host must not run two emitter calls for the same
// partition at once; emitters claim partitions to catch violations.
package spout

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"txspout/internal/cursor"
	"txspout/internal/directory"
	"txspout/internal/logging"
	"txspout/source/broker"
)

type Config struct {
	Topic        string
	Tag          string
	BatchSize    int
	PullTimeout  time.Duration
	PartitionTTL time.Duration
}

// ConfigFrom lifts the spout settings out of a loaded broker config.
func ConfigFrom(bc broker.Config) Config {
	return Config{
		Topic:        bc.Topic,
		Tag:          bc.Tag,
		BatchSize:    bc.BatchSize,
		PullTimeout:  bc.PullTimeout,
		PartitionTTL: bc.PartitionTTL,
	}
}

type Spout struct {
	cfg     Config
	filter  broker.TagFilter
	client  broker.Client
	dir     *directory.Directory
	cursors *cursor.Store
	claims  *claimTable
}

func New(cfg Config, client broker.Client) (*Spout, error) {
	if client == nil {
		return nil, errors.New("spout: nil broker client")
	}
	if cfg.Topic == "" {
		return nil, errors.New("spout: topic is required")
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("spout: invalid batch size %d", cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 3 * time.Second
	}
	return &Spout{
		cfg:     cfg,
		filter:  broker.ParseTagFilter(cfg.Tag),
		client:  client,
		dir:     directory.New(client, cfg.PartitionTTL),
		cursors: cursor.NewStore(client),
		claims:  newClaimTable(),
	}, nil
}

func (s *Spout) Config() Config { return s.cfg }

func (s *Spout) Coordinator() *Coordinator {
	return &Coordinator{s: s, log: logging.With("coordinator").With("topic", s.cfg.Topic)}
}

func (s *Spout) Emitter() *Emitter {
	token := uuid.New()
	return &Emitter{
		s:     s,
		token: token,
		log:   logging.With("emitter").With("topic", s.cfg.Topic, "emitter", token.String()),
	}
}

// Directory exposes the partition cache, mainly for manual refreshes.
func (s *Spout) Directory() *directory.Directory { return s.dir }

// Cursor returns the locally known cursor of p.
func (s *Spout) Cursor(p broker.Partition) (int64, bool) { return s.cursors.Peek(p) }

// Close closes the broker client and releases its connections.
func (s *Spout) Close() error {
	return s.client.Close()
}
