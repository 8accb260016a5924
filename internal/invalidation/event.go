// Package invalidation defines catalog change events that invalidate cached
// feature queries.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Event struct {
	Version   int             `json:"version"`
	ID        string          `json:"id,omitempty"`
	Op        string          `json:"op"`
	Source    string          `json:"source"`
	TS        time.Time       `json:"ts"`
	FeatureID string          `json:"feature_id,omitempty"`
	BBox      *BBox           `json:"bbox,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return errors.New("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("source is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	hasBBox := e.BBox != nil
	hasGeom := len(e.Geometry) > 0
	if hasBBox == hasGeom {
		return errors.New("exactly one of bbox or geometry is required")
	}
	if hasBBox {
		bb := *e.BBox
		if !(bb.MinLon >= -180 && bb.MinLon <= 180 && bb.MaxLon >= -180 && bb.MaxLon <= 180) {
			return errors.New("bbox longitude out of range")
		}
		if !(bb.MinLat >= -90 && bb.MinLat <= 90 && bb.MaxLat >= -90 && bb.MaxLat <= 90) {
			return errors.New("bbox latitude out of range")
		}
		if !(bb.MaxLon > bb.MinLon && bb.MaxLat > bb.MinLat) {
			return errors.New("bbox must satisfy max_lon>min_lon and max_lat>min_lat")
		}
		return nil
	}
	g, err := e.geometry()
	if err != nil {
		return err
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Point:
		return nil
	default:
		return fmt.Errorf("geometry type %s not supported", g.GeoJSONType())
	}
}

// Bound is the area affected by the change. Call Validate first.
func (e Event) Bound() (orb.Bound, error) {
	if e.BBox != nil {
		return orb.Bound{
			Min: orb.Point{e.BBox.MinLon, e.BBox.MinLat},
			Max: orb.Point{e.BBox.MaxLon, e.BBox.MaxLat},
		}, nil
	}
	g, err := e.geometry()
	if err != nil {
		return orb.Bound{}, err
	}
	return g.Bound(), nil
}

func (e Event) geometry() (orb.Geometry, error) {
	gg, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return nil, fmt.Errorf("geometry parse: %w", err)
	}
	g := gg.Geometry()
	if g == nil {
		return nil, errors.New("geometry is empty")
	}
	return g, nil
}
