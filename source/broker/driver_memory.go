package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process topic log. It backs local runs and tests and
// follows the same blocking and range rules as the network drivers.
type Memory struct {
	partitions int

	mu        sync.Mutex
	closed    bool
	logs      map[string][][]Message
	committed map[Partition]int64
	notify    chan struct{} // closed and replaced on every append
}

func NewMemory(partitionsPerTopic int) *Memory {
	if partitionsPerTopic <= 0 {
		partitionsPerTopic = 1
	}
	return &Memory{
		partitions: partitionsPerTopic,
		logs:       map[string][][]Message{},
		committed:  map[Partition]int64{},
		notify:     make(chan struct{}),
	}
}

// CreateTopic makes a topic with n partitions; existing topics are kept.
func (m *Memory) CreateTopic(topic string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[topic]; !ok {
		m.logs[topic] = make([][]Message, n)
	}
}

// Append adds a message to the partition log and returns its offset. Unknown
// topics are created with the configured partition count.
func (m *Memory) Append(p Partition, payload []byte, tag string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	log, ok := m.logs[p.Topic]
	if !ok {
		log = make([][]Message, m.partitions)
		m.logs[p.Topic] = log
	}
	if p.ID < 0 || int(p.ID) >= len(log) {
		return 0, fmt.Errorf("memory: partition %s out of range", p)
	}
	off := int64(len(log[p.ID]))
	log[p.ID] = append(log[p.ID], Message{
		Partition: p,
		Offset:    off,
		Payload:   append([]byte(nil), payload...),
		Tag:       tag,
		Timestamp: time.Now(),
	})
	close(m.notify)
	m.notify = make(chan struct{})
	return off, nil
}

func (m *Memory) FetchPartitions(_ context.Context, topic string) ([]Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	log, ok := m.logs[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	out := make([]Partition, len(log))
	for i := range log {
		out[i] = Partition{Topic: topic, ID: int32(i)}
	}
	return out, nil
}

func (m *Memory) FetchCommittedOffset(_ context.Context, p Partition) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	off, ok := m.committed[p]
	return off, ok, nil
}

func (m *Memory) CommitOffset(_ context.Context, p Partition, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if offset < 0 {
		return fmt.Errorf("memory: negative offset %d for %s", offset, p)
	}
	m.committed[p] = offset
	return nil
}

func (m *Memory) Pull(ctx context.Context, req PullRequest) (PullResult, error) {
	if req.Offset < 0 {
		return PullResult{}, fmt.Errorf("memory: negative offset %d for %s", req.Offset, req.Partition)
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return PullResult{}, ErrClosed
		}
		log, ok := m.logs[req.Partition.Topic]
		if !ok || req.Partition.ID < 0 || int(req.Partition.ID) >= len(log) {
			m.mu.Unlock()
			return PullResult{}, fmt.Errorf("%w: %s", ErrUnknownTopic, req.Partition)
		}
		res, done := scan(log[req.Partition.ID], req)
		wait := m.notify
		m.mu.Unlock()

		if done {
			return res, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			if req.Ranged() {
				return PullResult{}, fmt.Errorf("%w: %s [%d,%d)", ErrRangeIncomplete, req.Partition, req.Offset, req.EndOffset)
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return res, nil
			}
			return PullResult{}, ctx.Err()
		}
	}
}

// scan walks the partition log for req; done reports whether the pull can
// return without waiting for more appends.
func scan(log []Message, req PullRequest) (PullResult, bool) {
	res := PullResult{Offset: req.Offset, NextOffset: req.Offset}
	end := int64(len(log))
	if req.Ranged() && req.EndOffset < end {
		end = req.EndOffset
	}
	for off := req.Offset; off < end; off++ {
		msg := log[off]
		res.NextOffset = off + 1
		if !req.Filter.Match(msg.Tag) {
			continue
		}
		msg.Payload = append([]byte(nil), msg.Payload...)
		res.Messages = append(res.Messages, msg)
		if !req.Ranged() && req.MaxCount > 0 && len(res.Messages) >= req.MaxCount {
			break
		}
	}
	if req.Ranged() {
		return res, res.NextOffset >= req.EndOffset
	}
	return res, len(res.Messages) > 0
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notify)
	}
	return nil
}

func init() {
	Register("memory", func(cfg Config) (Client, error) {
		mem := NewMemory(cfg.Memory.Partitions)
		mem.CreateTopic(cfg.Topic, cfg.Memory.Partitions)
		return mem, nil
	})
}
