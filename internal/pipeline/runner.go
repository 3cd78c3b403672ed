package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"txspout/internal/logging"
	"txspout/internal/metastore"
	"txspout/internal/telemetry"
	"txspout/sink"
	"txspout/spout"
)

type namedSink struct {
	name string
	sink.Adapter
}

// pendingBatch is an emitted batch the sinks have not confirmed yet. It is
// replayed, never re-pulled, until they do.
type pendingBatch struct {
	tx     spout.TransactionAttempt
	handle spout.PartitionHandle
	meta   spout.BatchMetadata
}

// Runner is a minimal host for the spout: it numbers transactions, asks the
// coordinator for each round's partitions and drives one emitter call per
// partition, replaying batches whose delivery failed.
type Runner struct {
	sp         *spout.Spout
	coord      *spout.Coordinator
	em         *spout.Emitter
	meta       metastore.Store
	sinks      []namedSink
	interval   time.Duration
	maxReplays int

	mu      sync.Mutex
	tx      int64
	pending map[string]*pendingBatch
	onState []func(serving bool)

	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewRunner(sp *spout.Spout, meta metastore.Store, interval time.Duration, maxReplays int) *Runner {
	if meta == nil {
		meta = metastore.NewMemory()
	}
	if maxReplays <= 0 {
		maxReplays = 3
	}
	return &Runner{
		sp:         sp,
		coord:      sp.Coordinator(),
		em:         sp.Emitter(),
		meta:       meta,
		interval:   interval,
		maxReplays: maxReplays,
		pending:    map[string]*pendingBatch{},
	}
}

func (r *Runner) AddSink(name string, s sink.Adapter) {
	r.sinks = append(r.sinks, namedSink{name: name, Adapter: s})
}

// OnState registers a callback told when the runner starts and stops.
func (r *Runner) OnState(fn func(serving bool)) {
	r.mu.Lock()
	r.onState = append(r.onState, fn)
	r.mu.Unlock()
}

func (r *Runner) notify(serving bool) {
	r.mu.Lock()
	handlers := append([]func(bool){}, r.onState...)
	r.mu.Unlock()
	for _, fn := range handlers {
		fn(serving)
	}
}

// Pending reports how many partitions wait on an unconfirmed batch.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

/*──────── rounds ───────*/

// Round runs one transaction across every partition the coordinator lists.
func (r *Runner) Round(ctx context.Context) {
	r.mu.Lock()
	r.tx++
	tx := r.tx
	r.mu.Unlock()

	if !r.coord.IsReady(tx) {
		return
	}
	parts := r.coord.PartitionsForBatch(ctx)
	if len(parts) == 0 {
		return
	}
	handles := r.em.OrderedPartitions(parts)
	if err := r.em.RefreshPartitions(handles); err != nil {
		logging.L().Warn("runner: partition claims", "err", err)
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h spout.PartitionHandle) {
			defer wg.Done()
			r.runPartition(ctx, tx, h)
		}(h)
	}
	wg.Wait()
}

func (r *Runner) runPartition(ctx context.Context, tx int64, h spout.PartitionHandle) {
	topic := r.sp.Config().Topic
	log := logging.L().With("topic", topic, "handle", h.ID)

	if pb := r.takePending(h.ID); pb != nil {
		if r.replay(ctx, pb) {
			r.confirm(ctx, h, pb.meta)
		} else {
			r.park(pb)
		}
		return
	}

	prev, err := r.meta.Get(ctx, topic, h.ID)
	if err != nil {
		log.Error("runner: load previous batch", "err", err)
		return
	}
	att := spout.TransactionAttempt{TxID: tx}
	buf := &buffer{}
	meta, err := r.em.EmitNewBatch(ctx, att, h, prev, buf)
	if err != nil || meta == nil {
		// No batch this round; nothing changed, retry next round.
		return
	}
	if err := r.deliver(buf.recs); err == nil {
		r.confirm(ctx, h, *meta)
		return
	}
	pb := &pendingBatch{tx: att, handle: h, meta: *meta}
	if r.replay(ctx, pb) {
		r.confirm(ctx, h, pb.meta)
		return
	}
	r.park(pb)
}

// replay re-emits pb up to maxReplays times and reports whether a delivery
// succeeded.
func (r *Runner) replay(ctx context.Context, pb *pendingBatch) bool {
	for i := 0; i < r.maxReplays && ctx.Err() == nil; i++ {
		pb.tx.AttemptID++
		buf := &buffer{}
		if err := r.em.EmitReplayBatch(ctx, pb.tx, pb.handle, pb.meta, buf); err != nil {
			continue
		}
		if err := r.deliver(buf.recs); err == nil {
			return true
		}
	}
	logging.L().Warn("runner: batch parked after replays", "handle", pb.handle.ID,
		"tx", pb.tx.String(), "start", pb.meta.StartOffset, "next", pb.meta.NextOffset)
	return false
}

func (r *Runner) deliver(recs []spout.Record) error {
	for _, s := range r.sinks {
		if err := pushAll(s, recs); err != nil {
			telemetry.SinkErrors.WithLabelValues(s.name).Inc()
			logging.L().Warn("runner: sink failed", "sink", s.name, "err", err)
			return err
		}
	}
	return nil
}

func pushAll(s namedSink, recs []spout.Record) error {
	for _, rec := range recs {
		if err := s.Push(rec); err != nil {
			return err
		}
	}
	if f, ok := s.Adapter.(sink.Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (r *Runner) confirm(ctx context.Context, h spout.PartitionHandle, meta spout.BatchMetadata) {
	if err := r.meta.Put(ctx, r.sp.Config().Topic, h.ID, meta); err != nil {
		logging.L().Error("runner: store batch metadata", "handle", h.ID, "err", err)
	}
}

func (r *Runner) takePending(id string) *pendingBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	pb := r.pending[id]
	delete(r.pending, id)
	return pb
}

func (r *Runner) park(pb *pendingBatch) {
	r.mu.Lock()
	r.pending[pb.handle.ID] = pb
	r.mu.Unlock()
}

/*──────── lifecycle ───────*/

func (r *Runner) Start(ctx context.Context) error {
	if r.sp == nil {
		return errors.New("runner: no spout configured")
	}
	ctx, r.stop = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(r.interval)
		defer t.Stop()
		for ctx.Err() == nil {
			r.Round(ctx)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}()
	r.notify(true)
	return nil
}

// Close stops the round loop and releases emitter, coordinator, sinks,
// metadata store and broker client.
func (r *Runner) Close() error {
	if r.stop != nil {
		r.stop()
	}
	r.wg.Wait()
	r.notify(false)

	var errs []error
	errs = append(errs, r.em.Close(), r.coord.Close())
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	errs = append(errs, r.meta.Close(), r.sp.Close())
	return errors.Join(errs...)
}

type buffer struct{ recs []spout.Record }

func (b *buffer) Emit(rec spout.Record) { b.recs = append(b.recs, rec) }
