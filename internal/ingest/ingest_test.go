package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]model.Response
	fail  func(r model.Response) error
	delay func(r model.Response) time.Duration
	done  []string
}

func (f *fakeStore) Insert(_ context.Context, r model.Response) error {
	if f.delay != nil {
		time.Sleep(f.delay(r))
	}
	if f.fail != nil {
		if err := f.fail(r); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = map[string]model.Response{}
	}
	f.items[r.ID] = r
	f.done = append(f.done, r.ID)
	return nil
}

type createdLog struct {
	mu  sync.Mutex
	ids []string
}

func (c *createdLog) Created(_ context.Context, r model.Response) {
	c.mu.Lock()
	c.ids = append(c.ids, r.ID)
	c.mu.Unlock()
}

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func TestDecodeBatch(t *testing.T) {
	items, err := DecodeBatch(strings.NewReader(`{"responses":[
		{"parcel_id":"06000402.","geo_info":{"centroid":[-83.06,42.33],"parcel_id":"06000402."},"responses":{"site":"vacant"}},
		{"id":"client-id","responses":{}}
	]}`))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(items) != 2 || items[0].ParcelID != "06000402." {
		t.Fatalf("items=%+v", items)
	}
	if c, ok := items[0].Centroid(); !ok || c.Lon != -83.06 {
		t.Fatalf("centroid=%v", c)
	}

	bad := []string{
		`{"respnoses":{}}`,
		`{"responses":{}}`,
		`{"responses":[null]}`,
		`{"responses":[1,2]}`,
		`{"responses":[{"geo_info":{"centroid":[1]}}]}`,
		`not json`,
	}
	for _, b := range bad {
		if _, err := DecodeBatch(strings.NewReader(b)); !errors.Is(err, ErrMalformedBatch) {
			t.Fatalf("%s: err=%v want ErrMalformedBatch", b, err)
		}
	}

	empty, err := DecodeBatch(strings.NewReader(`{"responses":[]}`))
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty batch: %v %v", empty, err)
	}
}

func TestInsertBatch_StampsInSubmissionOrder(t *testing.T) {
	// later items finish first
	store := &fakeStore{delay: func(r model.Response) time.Duration {
		n, _ := r.Responses["n"].(float64)
		return time.Duration(20-int(n)) * 2 * time.Millisecond
	}}
	events := &createdLog{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	p := New(store, 20,
		WithClock(func() time.Time { return now }),
		WithIDs(seqIDs()),
		WithNotifier(events))

	in := make([]model.Response, 20)
	for i := range in {
		in[i] = model.Response{ID: "client", Responses: map[string]any{"n": float64(i)}}
	}
	out, err := p.InsertBatch(context.Background(), "s1", in)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if len(out) != 20 || len(store.items) != 20 {
		t.Fatalf("out=%d stored=%d", len(out), len(store.items))
	}
	t0 := now.Truncate(time.Microsecond)
	for i, r := range out {
		if r.Survey != "s1" || r.ID == "client" || r.Responses["n"] != float64(i) {
			t.Fatalf("item %d: %+v", i, r)
		}
		if want := t0.Add(time.Duration(i) * time.Microsecond); !r.Created.Equal(want) {
			t.Fatalf("item %d created=%v want %v", i, r.Created, want)
		}
		if i > 0 && !out[i-1].Before(r) {
			t.Fatalf("created order does not follow submission at %d", i)
		}
	}
	if len(events.ids) != 20 {
		t.Fatalf("notified %d", len(events.ids))
	}
	if store.done[0] == out[0].ID || store.done[19] == out[19].ID {
		t.Fatalf("inserts completed in submission order; the race was not exercised")
	}
}

func TestInsertBatch_UUIDsByDefault(t *testing.T) {
	out, err := New(&fakeStore{}, 2).InsertBatch(context.Background(), "s", make([]model.Response, 3))
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, r := range out {
		if len(r.ID) != 36 || seen[r.ID] {
			t.Fatalf("id %q", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestInsertBatch_PartialFailureKeepsCommittedItems(t *testing.T) {
	store := &fakeStore{fail: func(r model.Response) error {
		if r.Responses["n"] == 1.0 || r.Responses["n"] == 3.0 {
			return errors.New("write refused")
		}
		return nil
	}}
	events := &createdLog{}
	p := New(store, 3, WithNotifier(events))

	in := make([]model.Response, 5)
	for i := range in {
		in[i] = model.Response{Responses: map[string]any{"n": float64(i)}}
	}
	_, err := p.InsertBatch(context.Background(), "s", in)
	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("err=%v want *PartialFailure", err)
	}
	if pf.Inserted != 3 || fmt.Sprint(pf.Failed) != "[1 3]" || len(pf.Results) != 3 {
		t.Fatalf("partial=%+v", pf)
	}
	if len(store.items) != 3 || len(events.ids) != 3 {
		t.Fatalf("stored=%d notified=%d", len(store.items), len(events.ids))
	}
}

func TestInsertBatch_CanceledContextFailsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeStore{}, 2).InsertBatch(ctx, "s", make([]model.Response, 4))
	var pf *PartialFailure
	if !errors.As(err, &pf) || pf.Inserted != 0 || len(pf.Failed) != 4 {
		t.Fatalf("err=%v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in the chain")
	}
}
