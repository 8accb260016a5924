package kafkaconsumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/survey-spatial-api/internal/invalidation"
)

type fakeTarget struct {
	mu     sync.Mutex
	bounds []orb.Bound
}

func (f *fakeTarget) Invalidate(b orb.Bound) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bounds = append(f.bounds, b)
	return 1
}

func (f *fakeTarget) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bounds)
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "catalog-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytesBBox(id string) []byte {
	ev := invalidation.Event{
		Version: 1, ID: id, Op: "update", Source: "detroit-parcels", TS: time.Now().UTC(),
		BBox: &invalidation.BBox{MinLon: -83.1, MinLat: 42.3, MaxLon: -83.0, MaxLat: 42.4},
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(target Invalidator) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "catalog-invalidation", GroupID: "g", DedupeSize: 16}
	return New(cfg, slog.Default(), target)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	ft := &fakeTarget{}
	c := newConsumerForTest(ft)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "catalog-invalidation", Offset: 10, Value: eventBytesBBox("a")}
	ch <- &sarama.ConsumerMessage{Topic: "catalog-invalidation", Offset: 11, Value: eventBytesBBox("b")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if ft.calls() != 2 {
		t.Fatalf("invalidations=%d want 2", ft.calls())
	}
	if got := ft.bounds[0]; got.Min != (orb.Point{-83.1, 42.3}) || got.Max != (orb.Point{-83.0, 42.4}) {
		t.Fatalf("bound=%v", got)
	}
}

func TestDuplicateEventIDsAreAppliedOnce(t *testing.T) {
	ft := &fakeTarget{}
	c := newConsumerForTest(ft)
	ctx := context.Background()
	for off := range int64(3) {
		msg := &sarama.ConsumerMessage{Offset: off, Value: eventBytesBBox("same")}
		if err := c.ProcessOne(ctx, msg); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	// events without an id are never deduplicated
	for range 2 {
		_ = c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: eventBytesBBox("")})
	}
	if ft.calls() != 3 {
		t.Fatalf("invalidations=%d want 3", ft.calls())
	}
}

func TestPoisonMessagesAreSkippedAndMarked(t *testing.T) {
	ft := &fakeTarget{}
	c := newConsumerForTest(ft)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	invalid, _ := json.Marshal(invalidation.Event{Version: 2, Op: "update", Source: "s", TS: time.Now()})
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: invalid}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: eventBytesBBox("ok")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 || ft.calls() != 1 {
		t.Fatalf("marked=%v invalidations=%d", s.marked, ft.calls())
	}
}

func TestCanceledSessionStopsWithoutMarking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newConsumerForTest(&fakeTarget{})
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: ctx}
	if err := g.ConsumeClaim(s, &claim{msgs: make(chan *sarama.ConsumerMessage)}); err == nil {
		t.Fatalf("expected context error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v", s.marked)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	ft := &fakeTarget{}
	c := newConsumerForTest(ft)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: eventBytesBBox("p0-1")}
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: eventBytesBBox("p0-2")}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 1, Value: eventBytesBBox("p1-1")}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 2, Value: eventBytesBBox("p1-2")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 || ft.calls() != 4 {
		t.Fatalf("marked=%v invalidations=%d", s.marked, ft.calls())
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("got %v", got)
	}
}
