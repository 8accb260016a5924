package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

// ErrTooManyCells signals that a cover would exceed the configured limit;
// callers fall back to a full scan.
var ErrTooManyCells = errors.New("h3 cover exceeds cell limit")

const (
	kmPerDegree     = 111.32
	hexAreaFactor   = 2.598076 // 3*sqrt(3)/2
	defaultMaxCells = 4096
)

// average hexagon edge length in km per resolution
var edgeKm = [16]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

type Mapper struct {
	maxCells int
}

func New(maxCells int) *Mapper {
	if maxCells <= 0 {
		maxCells = defaultMaxCells
	}
	return &Mapper{maxCells: maxCells}
}

func (m *Mapper) CellForPoint(p model.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for point: %w", err)
	}
	return c.String(), nil
}

// CellsForBBox returns every cell that can hold a point of the box. The box
// is padded by two edge lengths before polyfill so cells whose centre lies
// just outside the box are still covered; the cell at the box centre and
// its ring are always included for boxes smaller than a cell.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if !bb.Valid() {
		return nil, fmt.Errorf("invalid bbox %s", bb)
	}

	padKm := 2 * edgeKm[res]
	maxAbsLat := math.Max(math.Abs(bb.MinLat), math.Abs(bb.MaxLat))
	cosLat := math.Cos((math.Min(maxAbsLat+padKm/kmPerDegree, 90)) * math.Pi / 180)
	if cosLat < 0.01 {
		return nil, ErrTooManyCells
	}
	dLat := padKm / kmPerDegree
	dLon := dLat / cosLat

	minLon, maxLon := clamp(bb.MinLon-dLon, -180, 180), clamp(bb.MaxLon+dLon, -180, 180)
	minLat, maxLat := clamp(bb.MinLat-dLat, -90, 90), clamp(bb.MaxLat+dLat, -90, 90)

	widthKm := (maxLon - minLon) * kmPerDegree * cosLat
	heightKm := (maxLat - minLat) * kmPerDegree
	cellArea := hexAreaFactor * edgeKm[res] * edgeKm[res]
	if estimate := widthKm * heightKm / cellArea; estimate > float64(m.maxCells) {
		return nil, ErrTooManyCells
	}
	// polyfill works on planar edges; a box wider than a hemisphere is ambiguous
	if maxLon-minLon >= 180 {
		return nil, ErrTooManyCells
	}

	outer := h3.GeoLoop{
		{Lat: minLat, Lng: minLon},
		{Lat: minLat, Lng: maxLon},
		{Lat: maxLat, Lng: maxLon},
		{Lat: maxLat, Lng: minLon},
	}
	cells, err := polyfill(outer, res)
	if err != nil {
		return nil, err
	}

	center, err := h3.LatLngToCell(h3.LatLng{
		Lat: (bb.MinLat + bb.MaxLat) / 2,
		Lng: (bb.MinLon + bb.MaxLon) / 2,
	}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 center cell: %w", err)
	}
	ring, err := center.GridDisk(1)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}

	seen := make(map[string]struct{}, len(cells)+len(ring))
	out := make([]string, 0, len(cells)+len(ring))
	for _, c := range append(cells, ring...) {
		s := c.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) > m.maxCells {
		return nil, ErrTooManyCells
	}
	sort.Strings(out)
	return out, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func polyfill(outer h3.GeoLoop, res int) ([]h3.Cell, error) {
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return cells, nil
}
