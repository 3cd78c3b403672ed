package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fill(t *testing.T, m *Memory, p Partition, n int, tag func(int) string) {
	t.Helper()
	for i := 0; i < n; i++ {
		tg := ""
		if tag != nil {
			tg = tag(i)
		}
		if _, err := m.Append(p, []byte(fmt.Sprintf("m-%d", i)), tg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestMemory_PullCapsAtMaxCount(t *testing.T) {
	m := NewMemory(2)
	p := Partition{Topic: "T", ID: 0}
	fill(t, m, p, 150, nil)

	res, err := m.Pull(context.Background(), PullRequest{Partition: p, Offset: 0, MaxCount: 100})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(res.Messages) != 100 || res.Offset != 0 || res.NextOffset != 100 {
		t.Fatalf("got %d msgs [%d,%d)", len(res.Messages), res.Offset, res.NextOffset)
	}

	res, err = m.Pull(context.Background(), PullRequest{Partition: p, Offset: 100, MaxCount: 100})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(res.Messages) != 50 || res.NextOffset != 150 {
		t.Fatalf("got %d msgs next %d", len(res.Messages), res.NextOffset)
	}
}

func TestMemory_PullTimesOutCleanly(t *testing.T) {
	m := NewMemory(1)
	m.CreateTopic("T", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := m.Pull(ctx, PullRequest{Partition: Partition{Topic: "T"}, MaxCount: 10})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if len(res.Messages) != 0 || res.NextOffset != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMemory_PullWakesOnAppend(t *testing.T) {
	m := NewMemory(1)
	p := Partition{Topic: "T"}
	m.CreateTopic("T", 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = m.Append(p, []byte("late"), "")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := m.Pull(ctx, PullRequest{Partition: p, MaxCount: 10})
	if err != nil || len(res.Messages) != 1 || string(res.Messages[0].Payload) != "late" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestMemory_CancelIsAnError(t *testing.T) {
	m := NewMemory(1)
	m.CreateTopic("T", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Pull(ctx, PullRequest{Partition: Partition{Topic: "T"}, MaxCount: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestMemory_RangedPullIgnoresMaxCount(t *testing.T) {
	m := NewMemory(1)
	p := Partition{Topic: "T"}
	fill(t, m, p, 30, nil)

	res, err := m.Pull(context.Background(), PullRequest{Partition: p, Offset: 5, EndOffset: 25, MaxCount: 3})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(res.Messages) != 20 || res.Messages[0].Offset != 5 || res.NextOffset != 25 {
		t.Fatalf("got %d msgs next %d", len(res.Messages), res.NextOffset)
	}
}

func TestMemory_RangedPullIncomplete(t *testing.T) {
	m := NewMemory(1)
	p := Partition{Topic: "T"}
	fill(t, m, p, 3, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Pull(ctx, PullRequest{Partition: p, Offset: 0, EndOffset: 10}); !errors.Is(err, ErrRangeIncomplete) {
		t.Fatalf("want ErrRangeIncomplete, got %v", err)
	}
}

func TestMemory_TagFilterSkipsButAdvances(t *testing.T) {
	m := NewMemory(1)
	p := Partition{Topic: "T"}
	fill(t, m, p, 6, func(i int) string {
		if i%2 == 0 {
			return "even"
		}
		return "odd"
	})

	res, err := m.Pull(context.Background(), PullRequest{Partition: p, Filter: ParseTagFilter("odd"), MaxCount: 10})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(res.Messages) != 3 || res.NextOffset != 6 {
		t.Fatalf("got %d msgs next %d", len(res.Messages), res.NextOffset)
	}
	for _, msg := range res.Messages {
		if msg.Tag != "odd" {
			t.Fatalf("filtered message leaked: %+v", msg)
		}
	}
}

func TestMemory_CommittedOffsets(t *testing.T) {
	m := NewMemory(1)
	p := Partition{Topic: "T"}
	if _, ok, err := m.FetchCommittedOffset(context.Background(), p); ok || err != nil {
		t.Fatalf("fresh partition: ok=%v err=%v", ok, err)
	}
	if err := m.CommitOffset(context.Background(), p, 42); err != nil {
		t.Fatalf("commit: %v", err)
	}
	off, ok, err := m.FetchCommittedOffset(context.Background(), p)
	if !ok || err != nil || off != 42 {
		t.Fatalf("off=%d ok=%v err=%v", off, ok, err)
	}
}

func TestMemory_FetchPartitionsAndClose(t *testing.T) {
	m := NewMemory(3)
	if _, err := m.FetchPartitions(context.Background(), "nope"); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("want ErrUnknownTopic, got %v", err)
	}
	m.CreateTopic("T", 3)
	parts, err := m.FetchPartitions(context.Background(), "T")
	if err != nil || len(parts) != 3 || parts[2] != (Partition{Topic: "T", ID: 2}) {
		t.Fatalf("parts=%v err=%v", parts, err)
	}
	_ = m.Close()
	if _, err := m.FetchPartitions(context.Background(), "T"); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestRegistry_MemoryDriver(t *testing.T) {
	cl, err := NewClient(Config{Driver: "memory", Topic: "T", Memory: MemoryCfg{Partitions: 2}})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer cl.Close()
	parts, err := cl.FetchPartitions(context.Background(), "T")
	if err != nil || len(parts) != 2 {
		t.Fatalf("parts=%v err=%v", parts, err)
	}
	if _, err := NewClient(Config{Driver: "nope"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
