// Package memindex is an in-memory feature repository backed by an R-tree.
package memindex

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features"
)

const (
	minChildren = 25
	maxChildren = 50
	rectPad     = 1e-9
)

type item struct {
	feature model.Feature
	bound   orb.Bound
	rect    rtreego.Rect
}

func (it *item) Bounds() rtreego.Rect { return it.rect }

type Index struct {
	mu   sync.RWMutex
	tree *rtreego.Rtree
	byID map[string]*item
}

func New() *Index {
	return &Index{
		tree: rtreego.NewTree(2, minChildren, maxChildren),
		byID: make(map[string]*item),
	}
}

// LoadGeoJSON reads a FeatureCollection and upserts every feature with a
// geometry. It returns the number of features indexed.
func LoadGeoJSON(r io.Reader, idx *Index) (int, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read features: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return 0, fmt.Errorf("decode feature collection: %w", err)
	}
	n := 0
	for i, gf := range fc.Features {
		f := model.FromGeoJSON(gf)
		if f.ID == "" {
			f.ID = fmt.Sprintf("feature-%d", i)
		}
		if err := idx.Upsert(f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Upsert replaces any feature with the same id.
func (x *Index) Upsert(f model.Feature) error {
	if f.Geometry == nil {
		return fmt.Errorf("feature %q has no geometry", f.ID)
	}
	b := f.Geometry.Bound()
	rect, err := toRect(b)
	if err != nil {
		return fmt.Errorf("feature %q bounds: %w", f.ID, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.byID[f.ID]; ok {
		x.tree.Delete(old)
	}
	it := &item{feature: f, bound: b, rect: rect}
	x.tree.Insert(it)
	x.byID[f.ID] = it
	return nil
}

// Delete removes a feature and returns its bound.
func (x *Index) Delete(id string) (orb.Bound, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	it, ok := x.byID[id]
	if !ok {
		return orb.Bound{}, false
	}
	x.tree.Delete(it)
	delete(x.byID, id)
	return it.bound, true
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

func (x *Index) QueryByBoundingBox(ctx context.Context, bb model.BBox, f features.Filter) ([]model.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memindex bbox query: %w", err)
	}
	bound := bb.Bound()
	return x.search(bound, f, func(it *item) bool {
		return intersects(bound, it)
	}), nil
}

// QueryByPoint returns polygonal features containing p.
func (x *Index) QueryByPoint(ctx context.Context, p model.Point, f features.Filter) ([]model.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memindex point query: %w", err)
	}
	pt := p.Orb()
	return x.search(orb.Bound{Min: pt, Max: pt}, f, func(it *item) bool {
		switch g := it.feature.Geometry.(type) {
		case orb.Polygon:
			return planar.PolygonContains(g, pt)
		case orb.MultiPolygon:
			return planar.MultiPolygonContains(g, pt)
		default:
			return false
		}
	}), nil
}

func (x *Index) search(b orb.Bound, f features.Filter, exact func(*item) bool) []model.Feature {
	rect, err := toRect(b)
	if err != nil {
		return nil
	}

	x.mu.RLock()
	candidates := x.tree.SearchIntersect(rect)
	x.mu.RUnlock()

	out := make([]model.Feature, 0, len(candidates))
	for _, c := range candidates {
		it := c.(*item)
		if !f.Match(it.feature) || !exact(it) {
			continue
		}
		out = append(out, it.feature)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// toRect pads the bound slightly; the tree treats touching rectangles as
// disjoint and exact predicates run afterwards.
func toRect(b orb.Bound) (rtreego.Rect, error) {
	b = b.Pad(rectPad)
	r, err := rtreego.NewRectFromPoints(
		rtreego.Point{b.Min.Lon(), b.Min.Lat()},
		rtreego.Point{b.Max.Lon(), b.Max.Lat()},
	)
	if err != nil {
		return rtreego.Rect{}, fmt.Errorf("rtree rect: %w", err)
	}
	return r, nil
}

func intersects(b orb.Bound, it *item) bool {
	if !b.Intersects(it.bound) {
		return false
	}
	return geometryIntersects(b, it.feature.Geometry)
}
