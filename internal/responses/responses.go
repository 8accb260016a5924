// Package responses stores and lists survey responses.
package responses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
)

var ErrStore = errors.New("response store failure")

// Filters narrows a survey listing. Zero values do not filter.
type Filters struct {
	ParcelID string
	BBox     *model.BBox
}

// Match reports whether r passes the filters. The bbox test is strict: a
// centroid on an edge is outside, and a response without a centroid never
// matches a bbox filter.
func (f Filters) Match(r model.Response) bool {
	if f.ParcelID != "" && r.ParcelID != f.ParcelID {
		return false
	}
	if f.BBox != nil {
		c, ok := r.Centroid()
		if !ok || !f.BBox.ContainsStrict(c) {
			return false
		}
	}
	return true
}

type Repository interface {
	// List returns the filtered responses of a survey ordered by created
	// (ties by id) and windowed by paging.
	List(ctx context.Context, surveyID string, f Filters, p model.Paging, s model.SortOrder) ([]model.Response, error)
	// Find returns every stored response with the id, in store order.
	Find(ctx context.Context, surveyID, responseID string) ([]model.Response, error)
	Insert(ctx context.Context, r model.Response) error
	Remove(ctx context.Context, surveyID string) (int, error)
	RemoveOne(ctx context.Context, surveyID, responseID string) (int, error)
	Ping(ctx context.Context) error
}

// Select filters, orders and windows an in-memory candidate set. Equal
// (created, id) pairs keep their input order.
func Select(all []model.Response, f Filters, p model.Paging, s model.SortOrder) []model.Response {
	out := make([]model.Response, 0, len(all))
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if s == model.SortAsc {
			return out[i].Before(out[j])
		}
		return out[j].Before(out[i])
	})
	lo, hi := p.Window(len(out))
	return out[lo:hi]
}

// IntegrityHook is told when a lookup by id matched more than one response.
type IntegrityHook func(ctx context.Context, surveyID, responseID string, matches int)

// Notifier receives deletions for publication.
type Notifier interface {
	Deleted(ctx context.Context, surveyID, responseID string)
	Cleared(ctx context.Context, surveyID string, n int)
}

type Option func(*Service)

func WithIntegrityHook(h IntegrityHook) Option {
	return func(s *Service) { s.hook = h }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

type Service struct {
	repo   Repository
	logger *slog.Logger
	hook   IntegrityHook
	notify Notifier
}

func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) List(ctx context.Context, surveyID string, f Filters, p model.Paging, sort model.SortOrder) ([]model.Response, error) {
	out, err := s.repo.List(ctx, surveyID, f, p, sort)
	if err != nil {
		return nil, fmt.Errorf("%w: list survey %q: %w", ErrStore, surveyID, err)
	}
	return out, nil
}

func (s *Service) ListByParcel(ctx context.Context, surveyID, parcelID string, p model.Paging, sort model.SortOrder) ([]model.Response, error) {
	return s.List(ctx, surveyID, Filters{ParcelID: parcelID}, p, sort)
}

// GetOne returns the response with the id, or nil when there is none. More
// than one match is logged and counted, and the first in store order wins.
func (s *Service) GetOne(ctx context.Context, surveyID, responseID string) (*model.Response, error) {
	found, err := s.repo.Find(ctx, surveyID, responseID)
	if err != nil {
		return nil, fmt.Errorf("%w: find %q: %w", ErrStore, responseID, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		observability.IncResponseIntegrityWarning()
		s.logger.WarnContext(ctx, "duplicate response id in survey",
			"survey", surveyID,
			"response_id", responseID,
			"matches", len(found))
		if s.hook != nil {
			s.hook(ctx, surveyID, responseID, len(found))
		}
	}
	r := found[0]
	return &r, nil
}

func (s *Service) Remove(ctx context.Context, surveyID string) (int, error) {
	n, err := s.repo.Remove(ctx, surveyID)
	if err != nil {
		return 0, fmt.Errorf("%w: remove survey %q: %w", ErrStore, surveyID, err)
	}
	s.logger.InfoContext(ctx, "removed survey responses", "survey", surveyID, "count", n)
	if s.notify != nil && n > 0 {
		s.notify.Cleared(ctx, surveyID, n)
	}
	return n, nil
}

func (s *Service) RemoveOne(ctx context.Context, surveyID, responseID string) (int, error) {
	n, err := s.repo.RemoveOne(ctx, surveyID, responseID)
	if err != nil {
		return 0, fmt.Errorf("%w: remove %q: %w", ErrStore, responseID, err)
	}
	if s.notify != nil && n > 0 {
		s.notify.Deleted(ctx, surveyID, responseID)
	}
	return n, nil
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}
