package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"txspout/internal/logging"

	"github.com/IBM/sarama"
)

// SaramaDriver pulls Kafka partitions directly (no consumer-group session)
// and stores cursors through the group's offset manager.
type SaramaDriver struct {
	cfg      Config
	cl       sarama.Client
	offsets  offsetLookup
	consumer sarama.Consumer
	om       sarama.OffsetManager

	mu   sync.Mutex
	poms map[Partition]sarama.PartitionOffsetManager

	commitMu sync.Mutex // one Commit and its error drain at a time
}

// offsetLookup is the part of sarama.Client that Pull needs.
type offsetLookup interface {
	GetOffset(topic string, partitionID int32, time int64) (int64, error)
}

func saramaConfig(config Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "txspout"
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	return sc, nil
}

func NewSaramaDriver(config Config) (*SaramaDriver, error) {
	sc, err := saramaConfig(config)
	if err != nil {
		return nil, err
	}
	d := &SaramaDriver{cfg: config, poms: map[Partition]sarama.PartitionOffsetManager{}}
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return nil, err
	}
	d.offsets = d.cl
	if d.consumer, err = sarama.NewConsumerFromClient(d.cl); err != nil {
		_ = d.cl.Close()
		return nil, err
	}
	if d.om, err = sarama.NewOffsetManagerFromClient(config.GroupID, d.cl); err != nil {
		_ = d.consumer.Close()
		_ = d.cl.Close()
		return nil, err
	}
	return d, nil
}

func (d *SaramaDriver) FetchPartitions(_ context.Context, topic string) ([]Partition, error) {
	if err := d.cl.RefreshMetadata(topic); err != nil {
		return nil, err
	}
	ids, err := d.cl.Partitions(topic)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Partition, len(ids))
	for i, id := range ids {
		out[i] = Partition{Topic: topic, ID: id}
	}
	return out, nil
}

func (d *SaramaDriver) manage(p Partition) (sarama.PartitionOffsetManager, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pom, ok := d.poms[p]; ok {
		return pom, nil
	}
	pom, err := d.om.ManagePartition(p.Topic, p.ID)
	if err != nil {
		return nil, err
	}
	d.poms[p] = pom
	return pom, nil
}

func (d *SaramaDriver) FetchCommittedOffset(_ context.Context, p Partition) (int64, bool, error) {
	pom, err := d.manage(p)
	if err != nil {
		return 0, false, err
	}
	// NextOffset falls back to Offsets.Initial (negative) when nothing is committed.
	off, _ := pom.NextOffset()
	if off < 0 {
		return 0, false, nil
	}
	return off, true, nil
}

func (d *SaramaDriver) CommitOffset(_ context.Context, p Partition, offset int64) error {
	pom, err := d.manage(p)
	if err != nil {
		return err
	}
	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	pom.MarkOffset(offset, "")
	d.om.Commit()
	return d.drainErrors(p)
}

// drainErrors empties the error channel of every managed partition and
// returns the first error reported for p. A failed flush is fanned out to
// all partitions and each channel blocks Commit once full, so idle
// partitions are drained too.
func (d *SaramaDriver) drainErrors(p Partition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out error
	for q, pom := range d.poms {
	drain:
		for {
			select {
			case cerr, ok := <-pom.Errors():
				if !ok {
					break drain
				}
				if q == p && out == nil && cerr != nil {
					out = cerr
				}
			default:
				break drain
			}
		}
	}
	return out
}

func (d *SaramaDriver) Pull(ctx context.Context, req PullRequest) (PullResult, error) {
	p := req.Partition
	start := req.Offset
	if !req.Ranged() {
		oldest, err := d.offsets.GetOffset(p.Topic, p.ID, sarama.OffsetOldest)
		if err != nil {
			return PullResult{}, err
		}
		if start < oldest {
			logging.L().Warn("sarama-driver: cursor below retention, skipping ahead",
				"partition", p.String(), "offset", start, "oldest", oldest)
			start = oldest
		}
	}

	pc, err := d.consumer.ConsumePartition(p.Topic, p.ID, start)
	if err != nil {
		if req.Ranged() && errors.Is(err, sarama.ErrOffsetOutOfRange) {
			return PullResult{}, fmt.Errorf("%w: %s [%d,%d): %v", ErrRangeIncomplete, p, req.Offset, req.EndOffset, err)
		}
		return PullResult{}, err
	}
	defer func() { _ = pc.Close() }()

	res := PullResult{Offset: start, NextOffset: start}
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return res, nil
			}
			if req.Ranged() && msg.Offset >= req.EndOffset {
				return res, nil
			}
			res.NextOffset = msg.Offset + 1
			m := toMessage(p, msg)
			if req.Filter.Match(m.Tag) {
				res.Messages = append(res.Messages, m)
			}
			switch {
			case req.Ranged():
				if res.NextOffset >= req.EndOffset {
					return res, nil
				}
			case req.MaxCount > 0 && len(res.Messages) >= req.MaxCount:
				return res, nil
			case len(res.Messages) > 0 && res.NextOffset >= pc.HighWaterMarkOffset():
				return res, nil
			}

		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return PullResult{}, cerr
			}

		case <-ctx.Done():
			if req.Ranged() {
				return PullResult{}, fmt.Errorf("%w: %s [%d,%d) stopped at %d",
					ErrRangeIncomplete, p, req.Offset, req.EndOffset, res.NextOffset)
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return res, nil
			}
			return PullResult{}, ctx.Err()
		}
	}
}

func (d *SaramaDriver) Close() error {
	d.mu.Lock()
	for p, pom := range d.poms {
		_ = pom.Close()
		delete(d.poms, p)
	}
	d.mu.Unlock()
	_ = d.om.Close()
	_ = d.consumer.Close()
	return d.cl.Close()
}

func toMessage(p Partition, msg *sarama.ConsumerMessage) Message {
	m := Message{
		Partition: p,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Payload:   msg.Value,
		Timestamp: msg.Timestamp,
	}
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == TagHeader {
			m.Tag = string(h.Value)
			break
		}
	}
	return m
}

func init() {
	Register("sarama", func(cfg Config) (Client, error) { return NewSaramaDriver(cfg) })
}
