// Package features answers spatial queries against the reference catalog.
package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/query"
)

var ErrStore = errors.New("feature store failure")

// Filter restricts results by exact match on properties.type and
// properties.source. Empty fields do not filter.
type Filter struct {
	Type   string
	Source string
}

func (f Filter) Match(feat model.Feature) bool {
	if f.Type != "" && feat.Type() != f.Type {
		return false
	}
	if f.Source != "" && feat.Source() != f.Source {
		return false
	}
	return true
}

// Key is a stable representation used by caches.
func (f Filter) Key() string {
	return "type=" + f.Type + "&source=" + f.Source
}

// Repository is the store contract. Implementations return results
// ordered by feature id and never apply an implicit limit.
type Repository interface {
	QueryByBoundingBox(ctx context.Context, bb model.BBox, f Filter) ([]model.Feature, error)
	QueryByPoint(ctx context.Context, p model.Point, f Filter) ([]model.Feature, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Query dispatches a validated query to the matching repository operation and
// applies the paging window.
func (s *Service) Query(ctx context.Context, q model.QuerySpec) ([]model.Feature, error) {
	f := Filter{Type: q.Type, Source: q.Source}

	var (
		out []model.Feature
		err error
	)
	switch {
	case q.BBox != nil:
		out, err = s.repo.QueryByBoundingBox(ctx, *q.BBox, f)
	case q.Point != nil:
		out, err = s.repo.QueryByPoint(ctx, *q.Point, f)
	default:
		return nil, query.ErrUnboundedQuery
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	s.checkIntegrity(ctx, out)

	lo, hi := q.Paging.Window(len(out))
	return out[lo:hi], nil
}

// checkIntegrity warns about features missing standard properties. It never
// fails the request.
func (s *Service) checkIntegrity(ctx context.Context, fs []model.Feature) {
	for _, f := range fs {
		missing := f.MissingProperties()
		if len(missing) == 0 {
			continue
		}
		for _, p := range missing {
			observability.IncFeatureIntegrityWarning(p)
		}
		s.logger.WarnContext(ctx, "feature missing standard properties",
			"feature_id", f.ID,
			"missing", strings.Join(missing, ","))
	}
}
