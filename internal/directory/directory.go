// Package directory discovers and caches the ordered partition list of a
// topic. The cache belongs to a Directory instance; entries expire after the
// configured TTL or on an explicit Refresh.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"txspout/internal/logging"
	"txspout/source/broker"
)

var ErrDiscovery = errors.New("partition discovery failed")

// Fetcher is the slice of broker.Client the directory needs.
type Fetcher interface {
	FetchPartitions(ctx context.Context, topic string) ([]broker.Partition, error)
}

type entry struct {
	parts     []broker.Partition
	fetchedAt time.Time
}

type Directory struct {
	src Fetcher
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

// New returns a directory over src. ttl <= 0 keeps entries until Refresh or
// Forget.
func New(src Fetcher, ttl time.Duration) *Directory {
	return &Directory{src: src, ttl: ttl, now: time.Now, cache: map[string]entry{}}
}

// List returns the cached partitions of topic sorted by ID, querying the
// broker only when the entry is missing or expired.
func (d *Directory) List(ctx context.Context, topic string) ([]broker.Partition, error) {
	d.mu.RLock()
	e, ok := d.cache[topic]
	d.mu.RUnlock()
	if ok && !d.expired(e) {
		return clone(e.parts), nil
	}
	return d.Refresh(ctx, topic)
}

// Refresh re-queries the broker for topic and replaces the cached entry.
// Concurrent refreshes are idempotent: the last writer wins.
func (d *Directory) Refresh(ctx context.Context, topic string) ([]broker.Partition, error) {
	parts, err := d.src.FetchPartitions(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s: %w", ErrDiscovery, topic, err)
	}
	parts = clone(parts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })

	d.mu.Lock()
	d.cache[topic] = entry{parts: parts, fetchedAt: d.now()}
	d.mu.Unlock()

	logging.L().Debug("directory: partitions cached", "topic", topic, "count", len(parts))
	return clone(parts), nil
}

// Cached returns the current entry without contacting the broker.
func (d *Directory) Cached(topic string) ([]broker.Partition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.cache[topic]
	if !ok || d.expired(e) {
		return nil, false
	}
	return clone(e.parts), true
}

func (d *Directory) Forget(topic string) {
	d.mu.Lock()
	delete(d.cache, topic)
	d.mu.Unlock()
}

func (d *Directory) expired(e entry) bool {
	return d.ttl > 0 && d.now().Sub(e.fetchedAt) >= d.ttl
}

func clone(in []broker.Partition) []broker.Partition {
	return append([]broker.Partition(nil), in...)
}
