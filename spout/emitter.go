package spout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"txspout/internal/telemetry"
	"txspout/source/broker"
)

// Emitter pulls and replays batches for individual partitions.
type Emitter struct {
	s     *Spout
	token uuid.UUID
	log   *slog.Logger
}

// OrderedPartitions wraps each partition in a handle keyed by its identifier.
func (e *Emitter) OrderedPartitions(parts []broker.Partition) []PartitionHandle {
	out := make([]PartitionHandle, len(parts))
	for i, p := range parts {
		out[i] = PartitionHandle{ID: handleID(p), Partition: p.ID, Ordinal: i}
	}
	return out
}

// RefreshPartitions claims the handed partitions for this emitter.
func (e *Emitter) RefreshPartitions(handles []PartitionHandle) error {
	var errs []error
	for _, h := range handles {
		p := broker.Partition{Topic: e.s.cfg.Topic, ID: h.Partition}
		if err := e.s.claims.acquire(p, e.token); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitNewBatch pulls up to BatchSize messages for h starting at prev's next
// offset, or at the partition cursor when prev is nil. It returns nil
// metadata and nil error when nothing was available. On error the cursor is
// unchanged and nothing was emitted.
func (e *Emitter) EmitNewBatch(ctx context.Context, tx TransactionAttempt, h PartitionHandle, prev *BatchMetadata, c Collector) (*BatchMetadata, error) {
	meta, err := e.emitNew(ctx, tx, h, prev, c)
	outcome := OutcomeEmitted
	switch {
	case err != nil:
		outcome = OutcomeFailed
		e.log.Warn("emitter: new batch failed", "tx", tx.String(), "handle", h.ID, "err", err)
	case meta == nil:
		outcome = OutcomeEmpty
	default:
		telemetry.BatchMessages.Observe(float64(meta.Count))
		e.log.Debug("emitter: batch emitted", "tx", tx.String(), "handle", h.ID,
			"start", meta.StartOffset, "next", meta.NextOffset, "count", meta.Count)
	}
	telemetry.Batches.WithLabelValues(string(outcome)).Inc()
	return meta, err
}

func (e *Emitter) emitNew(ctx context.Context, tx TransactionAttempt, h PartitionHandle, prev *BatchMetadata, c Collector) (*BatchMetadata, error) {
	p, err := e.resolve(ctx, h)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.Partition != p {
		return nil, fmt.Errorf("%w: handle %s resolves to %s but previous batch belongs to %s",
			ErrPartitionResolution, h.ID, p, prev.Partition)
	}
	if err := e.s.claims.acquire(p, e.token); err != nil {
		return nil, err
	}

	var start int64
	if prev == nil {
		if start, err = e.s.cursors.Get(ctx, p); err != nil {
			return nil, err
		}
	} else {
		start = prev.NextOffset
	}

	pctx, cancel := context.WithTimeout(ctx, e.s.cfg.PullTimeout)
	defer cancel()
	res, err := e.s.client.Pull(pctx, broker.PullRequest{
		Partition: p,
		Filter:    e.s.filter,
		Offset:    start,
		MaxCount:  e.s.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s@%d: %w", ErrPull, p, start, err)
	}
	if len(res.Messages) == 0 {
		return nil, nil
	}

	meta := BatchMetadata{
		Partition:   p,
		StartOffset: res.Offset,
		NextOffset:  res.NextOffset,
		Count:       len(res.Messages),
		Tag:         e.s.filter.String(),
	}
	if err := e.s.cursors.Advance(ctx, p, meta.NextOffset); err != nil {
		return nil, err
	}
	emit(c, tx, res.Messages)
	return &meta, nil
}

// EmitReplayBatch re-emits the batch described by meta under tx. It re-reads
// exactly [meta.StartOffset, meta.NextOffset) and never moves the cursor.
// Any failure is returned and nothing is emitted.
func (e *Emitter) EmitReplayBatch(ctx context.Context, tx TransactionAttempt, h PartitionHandle, meta BatchMetadata, c Collector) error {
	err := e.replay(ctx, tx, h, meta, c)
	if err != nil {
		telemetry.Batches.WithLabelValues(string(OutcomeReplayFailed)).Inc()
		e.log.Error("emitter: replay failed", "tx", tx.String(), "handle", h.ID,
			"start", meta.StartOffset, "next", meta.NextOffset, "err", err)
		return err
	}
	telemetry.Batches.WithLabelValues(string(OutcomeReplayed)).Inc()
	e.log.Debug("emitter: batch replayed", "tx", tx.String(), "handle", h.ID, "count", meta.Count)
	return nil
}

func (e *Emitter) replay(ctx context.Context, tx TransactionAttempt, h PartitionHandle, meta BatchMetadata, c Collector) error {
	p, err := e.resolve(ctx, h)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReplay, err)
	}
	if meta.Partition != p {
		return fmt.Errorf("%w: %w: metadata for %s replayed on %s", ErrReplay, ErrPartitionResolution, meta.Partition, p)
	}
	if err := e.s.claims.acquire(p, e.token); err != nil {
		return fmt.Errorf("%w: %w", ErrReplay, err)
	}
	if meta.NextOffset <= meta.StartOffset {
		if meta.Count == 0 {
			return nil
		}
		return fmt.Errorf("%w: %w: %s empty range [%d,%d) recorded %d messages",
			ErrReplay, ErrReplayMismatch, p, meta.StartOffset, meta.NextOffset, meta.Count)
	}

	pctx, cancel := context.WithTimeout(ctx, e.s.cfg.PullTimeout)
	defer cancel()
	res, err := e.s.client.Pull(pctx, broker.PullRequest{
		Partition: p,
		Filter:    broker.ParseTagFilter(meta.Tag),
		Offset:    meta.StartOffset,
		EndOffset: meta.NextOffset,
	})
	if err != nil {
		return fmt.Errorf("%w: %s [%d,%d): %w", ErrReplay, p, meta.StartOffset, meta.NextOffset, err)
	}
	if len(res.Messages) != meta.Count {
		return fmt.Errorf("%w: %w: %s [%d,%d) returned %d messages, want %d",
			ErrReplay, ErrReplayMismatch, p, meta.StartOffset, meta.NextOffset, len(res.Messages), meta.Count)
	}
	emit(c, tx, res.Messages)
	return nil
}

// resolve maps a handle to a partition of the current cached list by
// identifier. Handles for partitions no longer listed are stale.
func (e *Emitter) resolve(ctx context.Context, h PartitionHandle) (broker.Partition, error) {
	parts, ok := e.s.dir.Cached(e.s.cfg.Topic)
	if !ok {
		var err error
		if parts, err = e.s.dir.List(ctx, e.s.cfg.Topic); err != nil {
			return broker.Partition{}, fmt.Errorf("%w: handle %s: %w", ErrPartitionResolution, h.ID, err)
		}
	}
	for _, p := range parts {
		if handleID(p) == h.ID {
			return p, nil
		}
	}
	return broker.Partition{}, fmt.Errorf("%w: handle %s not in %d partitions of %s",
		ErrPartitionResolution, h.ID, len(parts), e.s.cfg.Topic)
}

func emit(c Collector, tx TransactionAttempt, msgs []broker.Message) {
	for _, m := range msgs {
		c.Emit(Record{Tx: tx, Payload: m.Payload})
	}
}

// Close releases the partitions this emitter claimed.
func (e *Emitter) Close() error {
	n := e.s.claims.releaseAll(e.token)
	e.log.Info("close emitter", "released", n)
	return nil
}
