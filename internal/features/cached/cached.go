// Package cached wraps a feature repository with an expiring LRU keyed by
// query shape.
package cached

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features"
)

const DefaultSize = 1024

type entry struct {
	area     orb.Bound
	features []model.Feature
}

type Repository struct {
	inner features.Repository
	lru   *expirable.LRU[string, entry]

	// mu orders fills against invalidations; gen counts invalidations.
	mu  sync.Mutex
	gen uint64
}

var _ features.Repository = (*Repository)(nil)

// New returns a read-through cache. ttl <= 0 disables expiry.
func New(inner features.Repository, size int, ttl time.Duration) *Repository {
	if size <= 0 {
		size = DefaultSize
	}
	return &Repository{
		inner: inner,
		lru:   expirable.NewLRU[string, entry](size, nil, ttl),
	}
}

func (r *Repository) QueryByBoundingBox(ctx context.Context, bb model.BBox, f features.Filter) ([]model.Feature, error) {
	key := "bbox:" + bb.String() + "|" + f.Key()
	return r.load(key, bb.Bound(), func() ([]model.Feature, error) {
		return r.inner.QueryByBoundingBox(ctx, bb, f)
	})
}

func (r *Repository) QueryByPoint(ctx context.Context, p model.Point, f features.Filter) ([]model.Feature, error) {
	key := "point:" + strconv.FormatFloat(p.Lon, 'g', -1, 64) + "," +
		strconv.FormatFloat(p.Lat, 'g', -1, 64) + "|" + f.Key()
	return r.load(key, orb.Bound{Min: p.Orb(), Max: p.Orb()}, func() ([]model.Feature, error) {
		return r.inner.QueryByPoint(ctx, p, f)
	})
}

func (r *Repository) load(key string, area orb.Bound, fetch func() ([]model.Feature, error)) ([]model.Feature, error) {
	if e, ok := r.lru.Get(key); ok {
		observability.IncFeatureCacheHit()
		return clone(e.features), nil
	}
	observability.IncFeatureCacheMiss()

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	fs, err := fetch()
	if err != nil {
		return nil, err
	}

	// a result fetched across an invalidation may predate it
	r.mu.Lock()
	if r.gen == gen {
		r.lru.Add(key, entry{area: area, features: clone(fs)})
	}
	r.mu.Unlock()
	return fs, nil
}

// Invalidate drops every cached query whose area intersects b and returns
// the number of entries removed.
func (r *Repository) Invalidate(b orb.Bound) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++

	n := 0
	for _, k := range r.lru.Keys() {
		e, ok := r.lru.Peek(k)
		if !ok {
			continue
		}
		if e.area.Intersects(b) && r.lru.Remove(k) {
			n++
		}
	}
	return n
}

func (r *Repository) Len() int { return r.lru.Len() }

// Purge empties the cache.
func (r *Repository) Purge() { r.lru.Purge() }

// clone copies the slice header so callers can re-slice freely. Features
// themselves are treated as immutable.
func clone(fs []model.Feature) []model.Feature {
	if fs == nil {
		return nil
	}
	out := make([]model.Feature, len(fs))
	copy(out, fs)
	return out
}
