// Package memrepo is an in-process response store.
package memrepo

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/responses"
)

// Repo keeps responses in insertion order. Duplicate ids are stored as-is.
type Repo struct {
	mu    sync.RWMutex
	items []model.Response
}

var _ responses.Repository = (*Repo)(nil)

func New() *Repo { return &Repo{} }

func (r *Repo) List(_ context.Context, surveyID string, f responses.Filters, p model.Paging, s model.SortOrder) ([]model.Response, error) {
	return responses.Select(r.survey(surveyID), f, p, s), nil
}

func (r *Repo) Find(_ context.Context, surveyID, responseID string) ([]model.Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Response
	for _, it := range r.items {
		if it.Survey == surveyID && it.ID == responseID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *Repo) Insert(_ context.Context, resp model.Response) error {
	r.mu.Lock()
	r.items = append(r.items, resp)
	r.mu.Unlock()
	return nil
}

func (r *Repo) Remove(_ context.Context, surveyID string) (int, error) {
	return r.removeWhere(func(it model.Response) bool { return it.Survey == surveyID }), nil
}

func (r *Repo) RemoveOne(_ context.Context, surveyID, responseID string) (int, error) {
	return r.removeWhere(func(it model.Response) bool {
		return it.Survey == surveyID && it.ID == responseID
	}), nil
}

func (r *Repo) Ping(context.Context) error { return nil }

func (r *Repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Repo) survey(surveyID string) []model.Response {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Response, 0, len(r.items))
	for _, it := range r.items {
		if it.Survey == surveyID {
			out = append(out, it)
		}
	}
	return out
}

func (r *Repo) removeWhere(match func(model.Response) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	n := 0
	for _, it := range r.items {
		if match(it) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	clear(r.items[len(kept):])
	r.items = kept
	return n
}
