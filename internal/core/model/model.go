// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

func (b BBox) Valid() bool {
	return b.MinLon < b.MaxLon && b.MinLat < b.MaxLat
}

// ContainsStrict excludes points on any of the four edges.
func (b BBox) ContainsStrict(p Point) bool {
	return p.Lon > b.MinLon && p.Lon < b.MaxLon &&
		p.Lat > b.MinLat && p.Lat < b.MaxLat
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// String renders minLon,minLat,maxLon,maxLat
func (b BBox) String() string {
	return strconv.FormatFloat(b.MinLon, 'g', -1, 64) + "," +
		strconv.FormatFloat(b.MinLat, 'g', -1, 64) + "," +
		strconv.FormatFloat(b.MaxLon, 'g', -1, 64) + "," +
		strconv.FormatFloat(b.MaxLat, 'g', -1, 64)
}

type Point struct {
	Lon, Lat float64
}

func (p Point) Orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

// MarshalJSON encodes the point as [lon,lat]
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lon, p.Lat})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var xy []float64
	if err := json.Unmarshal(b, &xy); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("point: expected [lon,lat], got %d values", len(xy))
	}
	p.Lon, p.Lat = xy[0], xy[1]
	return nil
}

type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
	FormatCSV     Format = "csv"
	FormatKML     Format = "kml"
)

func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatJSON, FormatGeoJSON, FormatCSV, FormatKML:
		return Format(s), true
	}
	return "", false
}

// Paging.Count < 0 means unbounded.
type Paging struct {
	StartIndex int
	Count      int
}

func Unpaged() Paging { return Paging{StartIndex: 0, Count: -1} }

func (p Paging) Unbounded() bool { return p.Count < 0 }

// Window returns the half-open [lo,hi) slice bounds of the page within n items.
func (p Paging) Window(n int) (lo, hi int) {
	lo = min(max(p.StartIndex, 0), n)
	if p.Unbounded() {
		return lo, n
	}
	return lo, min(lo+p.Count, n)
}

// QuerySpec is a validated query description.
type QuerySpec struct {
	Type   string
	Source string
	BBox   *BBox
	Point  *Point
	Paging Paging
	Sort   SortOrder
	Format Format
}

// Record is the view exporters need from a feature or a response.
type Record interface {
	RecordID() string
	RecordGeometry() orb.Geometry
	RecordProperties() map[string]any
}

var StandardProperties = []string{"source", "type", "shortName", "longName", "info"}

type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties map[string]any
}

func (f Feature) RecordID() string                 { return f.ID }
func (f Feature) RecordGeometry() orb.Geometry     { return f.Geometry }
func (f Feature) RecordProperties() map[string]any { return f.Properties }

func (f Feature) Type() string   { return propString(f.Properties, "type") }
func (f Feature) Source() string { return propString(f.Properties, "source") }

// MissingProperties lists the standard property keys absent from the feature.
func (f Feature) MissingProperties() []string {
	var missing []string
	for _, k := range StandardProperties {
		if _, ok := f.Properties[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func (f Feature) MarshalJSON() ([]byte, error) {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = f.ID
	if f.Properties != nil {
		gf.Properties = f.Properties
	}
	return json.Marshal(gf)
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	gf, err := geojson.UnmarshalFeature(b)
	if err != nil {
		return fmt.Errorf("feature: %w", err)
	}
	*f = FromGeoJSON(gf)
	return nil
}

// FromGeoJSON converts a decoded GeoJSON feature, stringifying numeric ids.
func FromGeoJSON(gf *geojson.Feature) Feature {
	f := Feature{Geometry: gf.Geometry, Properties: map[string]any(gf.Properties)}
	switch id := gf.ID.(type) {
	case string:
		f.ID = id
	case float64:
		f.ID = strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
	default:
		f.ID = fmt.Sprint(id)
	}
	if f.Properties == nil {
		f.Properties = map[string]any{}
	}
	return f
}

type GeoInfo struct {
	Centroid *Point `json:"centroid,omitempty"`
	ParcelID string `json:"parcel_id,omitempty"`
}

type Response struct {
	ID        string         `json:"id"`
	Survey    string         `json:"survey"`
	ParcelID  string         `json:"parcel_id,omitempty"`
	Source    map[string]any `json:"source,omitempty"`
	GeoInfo   *GeoInfo       `json:"geo_info,omitempty"`
	Responses map[string]any `json:"responses,omitempty"`
	Created   time.Time      `json:"created"`
}

// Centroid returns the response location, if any.
func (r Response) Centroid() (Point, bool) {
	if r.GeoInfo == nil || r.GeoInfo.Centroid == nil {
		return Point{}, false
	}
	return *r.GeoInfo.Centroid, true
}

func (r Response) RecordID() string { return r.ID }

func (r Response) RecordGeometry() orb.Geometry {
	if c, ok := r.Centroid(); ok {
		return c.Orb()
	}
	return nil
}

// RecordProperties returns every non-geometry field of the response.
func (r Response) RecordProperties() map[string]any {
	props := map[string]any{
		"survey":  r.Survey,
		"created": r.Created.UTC().Format(time.RFC3339Nano),
	}
	if r.ParcelID != "" {
		props["parcel_id"] = r.ParcelID
	}
	if r.Source != nil {
		props["source"] = r.Source
	}
	if r.Responses != nil {
		props["responses"] = r.Responses
	}
	if r.GeoInfo != nil && r.GeoInfo.ParcelID != "" {
		props["geo_info"] = map[string]any{"parcel_id": r.GeoInfo.ParcelID}
	}
	return props
}

// Before orders by created, then id.
func (r Response) Before(o Response) bool {
	if !r.Created.Equal(o.Created) {
		return r.Created.Before(o.Created)
	}
	return r.ID < o.ID
}

func propString(props map[string]any, k string) string {
	if v, ok := props[k].(string); ok {
		return v
	}
	return ""
}
