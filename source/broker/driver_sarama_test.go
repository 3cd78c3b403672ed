package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestToMessage_ReadsTagHeader(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	p := Partition{Topic: "t", ID: 1}
	msg := &sarama.ConsumerMessage{
		Topic:     "t",
		Partition: 1,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Timestamp: ts,
		Headers: []*sarama.RecordHeader{
			{Key: []byte("trace"), Value: []byte("abc")},
			{Key: []byte(TagHeader), Value: []byte("paid")},
		},
	}
	m := toMessage(p, msg)
	if m.Partition != p || m.Offset != 42 || string(m.Payload) != "v" || string(m.Key) != "k" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Tag != "paid" || !m.Timestamp.Equal(ts) {
		t.Fatalf("tag/timestamp not carried: %+v", m)
	}
}

func TestSaramaConfig(t *testing.T) {
	sc, err := saramaConfig(Config{Version: "2.8.0", SASLUser: "u", SASLPass: "p", TLSEn: true})
	if err != nil {
		t.Fatalf("saramaConfig: %v", err)
	}
	if sc.Consumer.Offsets.AutoCommit.Enable {
		t.Fatal("auto-commit must be disabled; cursors are committed explicitly")
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Fatal("uncommitted partitions must report the oldest offset sentinel")
	}
	if !sc.Net.SASL.Enable || sc.Net.SASL.User != "u" || !sc.Net.TLS.Enable {
		t.Fatal("auth settings not applied")
	}
	if _, err := saramaConfig(Config{Version: "not-a-version"}); err == nil {
		t.Fatal("expected version parse error")
	}
}

/*──────── offsets ───────*/

type fakePOM struct {
	mu     sync.Mutex
	marked int64
	errs   chan *sarama.ConsumerError
}

func (p *fakePOM) NextOffset() (int64, string) { return sarama.OffsetOldest, "" }
func (p *fakePOM) MarkOffset(off int64, _ string) {
	p.mu.Lock()
	p.marked = off
	p.mu.Unlock()
}
func (p *fakePOM) ResetOffset(int64, string)            {}
func (p *fakePOM) Errors() <-chan *sarama.ConsumerError { return p.errs }
func (p *fakePOM) AsyncClose()                          {}
func (p *fakePOM) Close() error                         { return nil }

// fakeOM reports a failed flush to every managed partition and blocks once
// a partition's error channel is full, like sarama's offset manager.
type fakeOM struct {
	mu   sync.Mutex
	poms map[Partition]*fakePOM
	fail error
}

func (o *fakeOM) ManagePartition(topic string, id int32) (sarama.PartitionOffsetManager, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pom := &fakePOM{errs: make(chan *sarama.ConsumerError, 4)}
	o.poms[Partition{Topic: topic, ID: id}] = pom
	return pom, nil
}

func (o *fakeOM) Close() error { return nil }

func (o *fakeOM) Commit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail == nil {
		return
	}
	for p, pom := range o.poms {
		pom.errs <- &sarama.ConsumerError{Topic: p.Topic, Partition: p.ID, Err: o.fail}
	}
}

func (o *fakeOM) setFail(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

func TestSaramaDriver_CommitErrorsStayWithTheirPartition(t *testing.T) {
	om := &fakeOM{poms: map[Partition]*fakePOM{}}
	d := &SaramaDriver{om: om, poms: map[Partition]sarama.PartitionOffsetManager{}}
	a, b := Partition{Topic: "T", ID: 0}, Partition{Topic: "T", ID: 1}
	ctx := context.Background()
	for _, p := range []Partition{a, b} {
		if _, ok, err := d.FetchCommittedOffset(ctx, p); err != nil || ok {
			t.Fatalf("fresh partition %s: ok=%v err=%v", p, ok, err)
		}
	}

	boom := errors.New("coordinator unavailable")
	om.setFail(boom)
	done := make(chan error, 1)
	go func() {
		var last error
		for i := 0; i < 10; i++ {
			last = d.CommitOffset(ctx, a, int64(i+1))
		}
		done <- last
	}()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("want commit failure for %s, got %v", a, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("commit blocked on an idle partition's error channel")
	}

	om.setFail(nil)
	if err := d.CommitOffset(ctx, b, 5); err != nil {
		t.Fatalf("earlier failure reported against %s: %v", b, err)
	}
	if om.poms[b].marked != 5 {
		t.Fatalf("offset not marked: %d", om.poms[b].marked)
	}
}

/*──────── pulls ───────*/

type fixedOldest int64

func (o fixedOldest) GetOffset(string, int32, int64) (int64, error) { return int64(o), nil }

type outOfRangeConsumer struct{ sarama.Consumer }

func (outOfRangeConsumer) ConsumePartition(string, int32, int64) (sarama.PartitionConsumer, error) {
	return nil, sarama.ErrOffsetOutOfRange
}

func tagged(v, tag string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Value:   []byte(v),
		Headers: []*sarama.RecordHeader{{Key: []byte(TagHeader), Value: []byte(tag)}},
	}
}

// pullDriver serves partition T[0] from a mock consumer positioned at start;
// the yielded messages get offsets start, start+1, ...
func pullDriver(t *testing.T, oldest, start int64, msgs ...*sarama.ConsumerMessage) (*SaramaDriver, *mocks.PartitionConsumer) {
	t.Helper()
	c := mocks.NewConsumer(t, nil)
	pc := c.ExpectConsumePartition("T", 0, start)
	for _, m := range msgs {
		pc.YieldMessage(m)
	}
	return &SaramaDriver{consumer: c, offsets: fixedOldest(oldest)}, pc
}

func payloads(ms []Message) string {
	out := ""
	for _, m := range ms {
		out += string(m.Payload) + ","
	}
	return out
}

var tp0 = Partition{Topic: "T", ID: 0}

func TestSaramaPull_RangedStopsAtEndOffset(t *testing.T) {
	var msgs []*sarama.ConsumerMessage
	for i := 0; i < 5; i++ {
		msgs = append(msgs, tagged(fmt.Sprintf("m%d", i), ""))
	}
	d, _ := pullDriver(t, 0, 10, msgs...)

	res, err := d.Pull(context.Background(), PullRequest{Partition: tp0, Filter: ParseTagFilter("*"), Offset: 10, EndOffset: 13})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if payloads(res.Messages) != "m0,m1,m2," || res.Offset != 10 || res.NextOffset != 13 {
		t.Fatalf("got %q [%d,%d)", payloads(res.Messages), res.Offset, res.NextOffset)
	}
}

func TestSaramaPull_RangedFilterStillCoversRange(t *testing.T) {
	d, _ := pullDriver(t, 0, 0, tagged("a0", "a"), tagged("b1", "b"), tagged("a2", "a"), tagged("b3", "b"))

	res, err := d.Pull(context.Background(), PullRequest{Partition: tp0, Filter: ParseTagFilter("a"), Offset: 0, EndOffset: 4})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if payloads(res.Messages) != "a0,a2," || res.NextOffset != 4 {
		t.Fatalf("got %q next=%d", payloads(res.Messages), res.NextOffset)
	}
}

func TestSaramaPull_ReturnsAtHighWaterMark(t *testing.T) {
	d, _ := pullDriver(t, 0, 5, tagged("x", ""), tagged("y", ""), tagged("z", ""))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	begin := time.Now()
	res, err := d.Pull(ctx, PullRequest{Partition: tp0, Offset: 5, MaxCount: 10})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(res.Messages) != 3 || res.NextOffset != 8 {
		t.Fatalf("got %d messages next=%d", len(res.Messages), res.NextOffset)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("pull waited for the timeout instead of returning at the high-water mark")
	}
}

func TestSaramaPull_MaxCount(t *testing.T) {
	d, _ := pullDriver(t, 0, 0, tagged("a", ""), tagged("b", ""), tagged("c", ""))

	res, err := d.Pull(context.Background(), PullRequest{Partition: tp0, Offset: 0, MaxCount: 2})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if payloads(res.Messages) != "a,b," || res.NextOffset != 2 {
		t.Fatalf("got %q next=%d", payloads(res.Messages), res.NextOffset)
	}
}

func TestSaramaPull_ClampsNewPullToRetention(t *testing.T) {
	// The mock fails the test if ConsumePartition is called with any offset but 20.
	d, _ := pullDriver(t, 20, 20, tagged("kept", ""))

	res, err := d.Pull(context.Background(), PullRequest{Partition: tp0, Offset: 5, MaxCount: 10})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Offset != 20 || res.NextOffset != 21 || len(res.Messages) != 1 {
		t.Fatalf("got [%d,%d) with %d messages", res.Offset, res.NextOffset, len(res.Messages))
	}
}

func TestSaramaPull_FilteredOnlyTimesOutEmpty(t *testing.T) {
	d, _ := pullDriver(t, 0, 0, tagged("b0", "b"), tagged("b1", "b"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := d.Pull(ctx, PullRequest{Partition: tp0, Filter: ParseTagFilter("a"), Offset: 0, MaxCount: 10})
	if err != nil {
		t.Fatalf("deadline must not be an error: %v", err)
	}
	if len(res.Messages) != 0 || res.NextOffset != 2 {
		t.Fatalf("got %d messages next=%d", len(res.Messages), res.NextOffset)
	}
}

func TestSaramaPull_RangedTimeoutIsIncomplete(t *testing.T) {
	d, _ := pullDriver(t, 0, 0, tagged("only", ""))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Pull(ctx, PullRequest{Partition: tp0, Offset: 0, EndOffset: 3})
	if !errors.Is(err, ErrRangeIncomplete) {
		t.Fatalf("want ErrRangeIncomplete, got %v", err)
	}
}

func TestSaramaPull_OutOfRange(t *testing.T) {
	d := &SaramaDriver{consumer: outOfRangeConsumer{mocks.NewConsumer(t, nil)}, offsets: fixedOldest(0)}

	_, err := d.Pull(context.Background(), PullRequest{Partition: tp0, Offset: 3, EndOffset: 6})
	if !errors.Is(err, ErrRangeIncomplete) {
		t.Fatalf("ranged: want ErrRangeIncomplete, got %v", err)
	}
	_, err = d.Pull(context.Background(), PullRequest{Partition: tp0, Offset: 3, MaxCount: 1})
	if !errors.Is(err, sarama.ErrOffsetOutOfRange) || errors.Is(err, ErrRangeIncomplete) {
		t.Fatalf("new pull: want the broker error, got %v", err)
	}
}

func TestSaramaPull_StreamError(t *testing.T) {
	d, pc := pullDriver(t, 0, 0)
	boom := errors.New("leader gone")
	pc.YieldError(boom)

	_, err := d.Pull(context.Background(), PullRequest{Partition: tp0, Offset: 0, EndOffset: 2})
	if !errors.Is(err, boom) {
		t.Fatalf("want stream error, got %v", err)
	}
}
