// Package broker is the pull-consumer surface the spout consumes: partition
// discovery, committed offsets, bounded pulls and offset commits. Drivers
// register themselves by name (see registry.go).
package broker

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrClosed          = errors.New("broker: client closed")
	ErrUnknownTopic    = errors.New("broker: unknown topic")
	ErrRangeIncomplete = errors.New("broker: offset range not fully available")
)

// Partition identifies one ordered sub-stream of a topic.
type Partition struct {
	Topic string `json:"topic"`
	ID    int32  `json:"id"`
}

func (p Partition) String() string {
	return p.Topic + "[" + strconv.FormatInt(int64(p.ID), 10) + "]"
}

type Message struct {
	Partition Partition
	Offset    int64
	Key       []byte
	Payload   []byte
	Tag       string
	Timestamp time.Time
}

// PullRequest asks for messages starting at Offset. A positive EndOffset pins
// the exclusive end of the range and disables the MaxCount cap; drivers then
// return every matching message in [Offset, EndOffset) or ErrRangeIncomplete.
type PullRequest struct {
	Partition Partition
	Filter    TagFilter
	Offset    int64
	MaxCount  int
	EndOffset int64
}

func (r PullRequest) Ranged() bool { return r.EndOffset > 0 }

// PullResult carries the matching messages and the offset range the pull
// walked. Offset may be greater than the requested offset when the driver had
// to skip past retention; NextOffset is the first offset not yet seen.
type PullResult struct {
	Messages   []Message
	Offset     int64
	NextOffset int64
}

type Client interface {
	FetchPartitions(ctx context.Context, topic string) ([]Partition, error)
	// FetchCommittedOffset reports ok=false when the broker has no
	// committed offset for the partition.
	FetchCommittedOffset(ctx context.Context, p Partition) (offset int64, ok bool, err error)
	// Pull blocks until at least one message matches, the range is complete,
	// or ctx expires. An expired deadline with nothing found is not an error.
	Pull(ctx context.Context, req PullRequest) (PullResult, error)
	CommitOffset(ctx context.Context, p Partition, offset int64) error
	Close() error
}
