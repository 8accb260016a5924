// Package query parses and validates raw query parameters into model.QuerySpec.
package query

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

var (
	ErrAmbiguousQuery       = errors.New("bbox and point are mutually exclusive")
	ErrUnboundedQuery       = errors.New("feature queries require a bbox or a point")
	ErrMalformedBoundingBox = errors.New("malformed bounding box")
	ErrMalformedPoint       = errors.New("malformed point")
	ErrInvalidPaging        = errors.New("invalid paging")
	ErrInvalidSort          = errors.New("invalid sort")
	ErrInvalidFormat        = errors.New("invalid format")
)

// HTTPStatus maps a parse error to its status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnboundedQuery):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrAmbiguousQuery),
		errors.Is(err, ErrMalformedBoundingBox),
		errors.Is(err, ErrMalformedPoint),
		errors.Is(err, ErrInvalidPaging),
		errors.Is(err, ErrInvalidSort),
		errors.Is(err, ErrInvalidFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ParseFeatureQuery requires exactly one of bbox or lon/lat.
// pathFormat is the format implied by a path suffix, or "".
func ParseFeatureQuery(v url.Values, pathFormat string) (model.QuerySpec, error) {
	q, err := parseCommon(v, pathFormat)
	if err != nil {
		return model.QuerySpec{}, err
	}
	if q.BBox == nil && q.Point == nil {
		return model.QuerySpec{}, ErrUnboundedQuery
	}
	return q, nil
}

// ParseResponseQuery accepts an optional bbox and rejects points.
func ParseResponseQuery(v url.Values, pathFormat string) (model.QuerySpec, error) {
	q, err := parseCommon(v, pathFormat)
	if err != nil {
		return model.QuerySpec{}, err
	}
	if q.Point != nil {
		return model.QuerySpec{}, fmt.Errorf("%w: point filters are not supported for responses", ErrMalformedPoint)
	}
	return q, nil
}

func parseCommon(v url.Values, pathFormat string) (model.QuerySpec, error) {
	rawBBox := strings.TrimSpace(v.Get("bbox"))
	rawLon := strings.TrimSpace(v.Get("lon"))
	rawLat := strings.TrimSpace(v.Get("lat"))

	// ambiguity is decided on presence alone, before any value is parsed
	if rawBBox != "" && (rawLon != "" || rawLat != "") {
		return model.QuerySpec{}, ErrAmbiguousQuery
	}

	q := model.QuerySpec{
		Type:   strings.TrimSpace(v.Get("type")),
		Source: strings.TrimSpace(v.Get("source")),
		Sort:   model.SortDesc,
		Paging: model.Unpaged(),
	}

	if rawBBox != "" {
		bb, err := ParseBBox(rawBBox)
		if err != nil {
			return model.QuerySpec{}, err
		}
		q.BBox = &bb
	}

	if rawLon != "" || rawLat != "" {
		p, err := parsePoint(rawLon, rawLat)
		if err != nil {
			return model.QuerySpec{}, err
		}
		q.Point = &p
	}

	paging, err := parsePaging(v.Get("startIndex"), v.Get("count"))
	if err != nil {
		return model.QuerySpec{}, err
	}
	q.Paging = paging

	if s := strings.ToLower(strings.TrimSpace(v.Get("sort"))); s != "" {
		switch model.SortOrder(s) {
		case model.SortAsc, model.SortDesc:
			q.Sort = model.SortOrder(s)
		default:
			return model.QuerySpec{}, fmt.Errorf("%w: %q (want asc or desc)", ErrInvalidSort, s)
		}
	}

	f, err := resolveFormat(v.Get("format"), pathFormat)
	if err != nil {
		return model.QuerySpec{}, err
	}
	q.Format = f
	return q, nil
}

// ParseBBox parses minLon,minLat,maxLon,maxLat.
func ParseBBox(raw string) (model.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.BBox{}, fmt.Errorf("%w: expected 4 comma-separated values: minLon,minLat,maxLon,maxLat", ErrMalformedBoundingBox)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := parseFloat(p)
		if err != nil {
			return model.BBox{}, fmt.Errorf("%w: value %d: %w", ErrMalformedBoundingBox, i, err)
		}
		vals[i] = f
	}
	bb := model.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}

	if !validLon(bb.MinLon) || !validLon(bb.MaxLon) {
		return model.BBox{}, fmt.Errorf("%w: longitude must be in [-180,180]", ErrMalformedBoundingBox)
	}
	if !validLat(bb.MinLat) || !validLat(bb.MaxLat) {
		return model.BBox{}, fmt.Errorf("%w: latitude must be in [-90,90]", ErrMalformedBoundingBox)
	}
	if !bb.Valid() {
		return model.BBox{}, fmt.Errorf("%w: must satisfy minLon<maxLon and minLat<maxLat", ErrMalformedBoundingBox)
	}
	return bb, nil
}

func parsePoint(rawLon, rawLat string) (model.Point, error) {
	if rawLon == "" || rawLat == "" {
		return model.Point{}, fmt.Errorf("%w: lon and lat must be supplied together", ErrMalformedPoint)
	}
	lon, err := parseFloat(rawLon)
	if err != nil {
		return model.Point{}, fmt.Errorf("%w: lon: %w", ErrMalformedPoint, err)
	}
	lat, err := parseFloat(rawLat)
	if err != nil {
		return model.Point{}, fmt.Errorf("%w: lat: %w", ErrMalformedPoint, err)
	}
	if !validLon(lon) || !validLat(lat) {
		return model.Point{}, fmt.Errorf("%w: coordinates out of range", ErrMalformedPoint)
	}
	return model.Point{Lon: lon, Lat: lat}, nil
}

func parsePaging(rawStart, rawCount string) (model.Paging, error) {
	p := model.Unpaged()
	if s := strings.TrimSpace(rawStart); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return model.Paging{}, fmt.Errorf("%w: startIndex must be a non-negative integer", ErrInvalidPaging)
		}
		p.StartIndex = n
	}
	if s := strings.TrimSpace(rawCount); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return model.Paging{}, fmt.Errorf("%w: count must be a non-negative integer", ErrInvalidPaging)
		}
		p.Count = n
	}
	return p, nil
}

func resolveFormat(explicit, pathFormat string) (model.Format, error) {
	explicit = strings.ToLower(strings.TrimSpace(explicit))
	pathFormat = strings.ToLower(strings.TrimSpace(pathFormat))

	var ef, pf model.Format
	if explicit != "" {
		f, ok := model.ParseFormat(explicit)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidFormat, explicit)
		}
		ef = f
	}
	if pathFormat != "" {
		f, ok := model.ParseFormat(pathFormat)
		if !ok {
			return "", fmt.Errorf("%w: suffix %q", ErrInvalidFormat, pathFormat)
		}
		pf = f
	}
	if ef != "" && pf != "" && ef != pf {
		return "", fmt.Errorf("%w: format=%s conflicts with .%s suffix", ErrInvalidFormat, ef, pf)
	}
	if ef != "" {
		return ef, nil
	}
	return pf, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func validLon(x float64) bool { return x >= -180 && x <= 180 }
func validLat(y float64) bool { return y >= -90 && y <= 90 }
