// Package cursor maps partitions to their next-read offset. The broker's
// committed offset is the source of truth on cold start; Advance commits
// through to the broker so a restart resumes near where it left off.
//
// Callers must serialize access per partition. The store only guards its own
// map so that different partitions can be served concurrently.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"txspout/internal/logging"
	"txspout/internal/telemetry"
	"txspout/source/broker"
)

var ErrOffsetResolution = errors.New("offset resolution failed")

// OffsetClient is the slice of broker.Client the store needs.
type OffsetClient interface {
	FetchCommittedOffset(ctx context.Context, p broker.Partition) (int64, bool, error)
	CommitOffset(ctx context.Context, p broker.Partition, offset int64) error
}

type Store struct {
	cl OffsetClient

	mu    sync.Mutex
	local map[broker.Partition]int64
}

func NewStore(cl OffsetClient) *Store {
	return &Store{cl: cl, local: map[broker.Partition]int64{}}
}

// Get returns the next offset to read from p. Partitions the broker has no
// committed offset for start at 0.
func (s *Store) Get(ctx context.Context, p broker.Partition) (int64, error) {
	s.mu.Lock()
	off, ok := s.local[p]
	s.mu.Unlock()
	if ok {
		return off, nil
	}

	off, committed, err := s.cl.FetchCommittedOffset(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrOffsetResolution, p, err)
	}
	if !committed || off < 0 {
		off = 0
	}
	s.mu.Lock()
	s.local[p] = off
	s.mu.Unlock()
	return off, nil
}

// Advance commits next to the broker and records it locally. Broker errors
// are returned and leave the local value untouched. A next below the current
// cursor is ignored.
func (s *Store) Advance(ctx context.Context, p broker.Partition, next int64) error {
	s.mu.Lock()
	cur, ok := s.local[p]
	s.mu.Unlock()
	if ok && next < cur {
		logging.L().Warn("cursor: refusing to move backward", "partition", p.String(), "cursor", cur, "offset", next)
		return nil
	}
	if ok && next == cur {
		return nil
	}

	if err := s.cl.CommitOffset(ctx, p, next); err != nil {
		telemetry.CursorCommits.WithLabelValues("error").Inc()
		return fmt.Errorf("cursor: commit %s@%d: %w", p, next, err)
	}
	telemetry.CursorCommits.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.local[p] = next
	s.mu.Unlock()
	return nil
}

// Peek returns the locally known cursor without touching the broker.
func (s *Store) Peek(p broker.Partition) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, ok := s.local[p]
	return off, ok
}

// Reset drops the local value so the next Get re-reads the broker.
func (s *Store) Reset(p broker.Partition) {
	s.mu.Lock()
	delete(s.local, p)
	s.mu.Unlock()
}
