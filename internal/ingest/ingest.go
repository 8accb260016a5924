// Package ingest assigns identity to submitted responses and inserts them
// concurrently while keeping submission order.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
)

var ErrMalformedBatch = errors.New("malformed response batch")

const DefaultWorkers = 8

// PartialFailure reports a batch where some inserts failed. Items that were
// inserted stay inserted.
type PartialFailure struct {
	Inserted int
	Failed   []int
	// Results holds the inserted responses in submission order.
	Results []model.Response
	Errs    []error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("batch partially inserted: %d ok, %d failed", e.Inserted, len(e.Failed))
}

func (e *PartialFailure) Unwrap() []error { return e.Errs }

// DecodeBatch reads {"responses":[{...},...]}. Every item must be a JSON
// object; server-assigned fields in the items are ignored.
func DecodeBatch(r io.Reader) ([]model.Response, error) {
	var body struct {
		Responses *[]json.RawMessage `json:"responses"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	if body.Responses == nil {
		return nil, fmt.Errorf("%w: missing responses array", ErrMalformedBatch)
	}
	raw := *body.Responses
	out := make([]model.Response, len(raw))
	for i, item := range raw {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrMalformedBatch, i)
		}
		if err := json.Unmarshal(item, &out[i]); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrMalformedBatch, i, err)
		}
	}
	return out, nil
}

type Inserter interface {
	Insert(ctx context.Context, r model.Response) error
}

type Notifier interface {
	Created(ctx context.Context, r model.Response)
}

type Option func(*Pipeline)

func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notify = n } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithIDs(newID func() string) Option { return func(p *Pipeline) { p.newID = newID } }

type Pipeline struct {
	store   Inserter
	workers int
	notify  Notifier
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func New(store Inserter, workers int, opts ...Option) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pipeline{
		store:   store,
		workers: workers,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Stamp assigns id, survey and created to every item. Item i is created i
// microseconds after the batch time so the store order follows submission.
func (p *Pipeline) Stamp(surveyID string, items []model.Response) []model.Response {
	t0 := p.now().UTC().Truncate(time.Microsecond)
	out := make([]model.Response, len(items))
	for i, it := range items {
		it.ID = p.newID()
		it.Survey = surveyID
		it.Created = t0.Add(time.Duration(i) * time.Microsecond)
		out[i] = it
	}
	return out
}

// InsertBatch stamps and inserts items, returning them in submission order.
// If any insert fails the error is a *PartialFailure.
func (p *Pipeline) InsertBatch(ctx context.Context, surveyID string, items []model.Response) ([]model.Response, error) {
	stamped := p.Stamp(surveyID, items)
	if len(stamped) == 0 {
		return stamped, nil
	}

	// one slot per item, written only by the worker that took index i
	slots := make([]error, len(stamped))
	jobs := make(chan int)

	workerN := min(p.workers, len(stamped))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					slots[i] = err
					continue
				}
				slots[i] = p.store.Insert(ctx, stamped[i])
			}
		}()
	}
	for i := range stamped {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var (
		inserted []model.Response
		failed   []int
		errs     []error
	)
	for i, err := range slots {
		if err != nil {
			failed = append(failed, i)
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		inserted = append(inserted, stamped[i])
		if p.notify != nil {
			p.notify.Created(ctx, stamped[i])
		}
	}
	observability.ObserveIngest(len(inserted), len(failed))

	if len(failed) > 0 {
		p.logger.ErrorContext(ctx, "batch insert partially failed",
			"survey", surveyID,
			"inserted", len(inserted),
			"failed", joinInts(failed),
			"err", errors.Join(errs...))
		return nil, &PartialFailure{Inserted: len(inserted), Failed: failed, Results: inserted, Errs: errs}
	}
	p.logger.InfoContext(ctx, "batch inserted", "survey", surveyID, "count", len(inserted))
	return stamped, nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
