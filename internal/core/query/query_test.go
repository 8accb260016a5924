package query

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

func vals(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

func TestParseFeatureQuery_BBox(t *testing.T) {
	q, err := ParseFeatureQuery(vals("type", "parcels", "bbox", "-83.0805,42.336,-83.08,42.34"), "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.BBox{MinLon: -83.0805, MinLat: 42.336, MaxLon: -83.08, MaxLat: 42.34}
	if q.BBox == nil || *q.BBox != want {
		t.Fatalf("bbox=%+v want %+v", q.BBox, want)
	}
	if q.Type != "parcels" || q.Sort != model.SortDesc || !q.Paging.Unbounded() {
		t.Fatalf("unexpected defaults: %+v", q)
	}
}

func TestParseFeatureQuery_Point(t *testing.T) {
	q, err := ParseFeatureQuery(vals("lon", "-83.08076", "lat", "42.338"), "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if q.Point == nil || q.Point.Lon != -83.08076 || q.Point.Lat != 42.338 {
		t.Fatalf("point=%+v", q.Point)
	}
}

func TestParseFeatureQuery_Errors(t *testing.T) {
	cases := []struct {
		name   string
		v      url.Values
		want   error
		status int
	}{
		{"unbounded", vals("type", "parcels"), ErrUnboundedQuery, http.StatusRequestEntityTooLarge},
		{"ambiguous", vals("bbox", "1,2,3,4", "lon", "1", "lat", "2"), ErrAmbiguousQuery, http.StatusBadRequest},
		{"ambiguous beats malformed", vals("bbox", "nope", "lon", "1"), ErrAmbiguousQuery, http.StatusBadRequest},
		{"three parts", vals("bbox", "1,2,3"), ErrMalformedBoundingBox, http.StatusBadRequest},
		{"five parts", vals("bbox", "1,2,3,4,EPSG:4326"), ErrMalformedBoundingBox, http.StatusBadRequest},
		{"non numeric", vals("bbox", "a,2,3,4"), ErrMalformedBoundingBox, http.StatusBadRequest},
		{"inverted", vals("bbox", "3,2,1,4"), ErrMalformedBoundingBox, http.StatusBadRequest},
		{"degenerate", vals("bbox", "1,2,1,4"), ErrMalformedBoundingBox, http.StatusBadRequest},
		{"lat range", vals("bbox", "1,-91,3,4"), ErrMalformedBoundingBox, http.StatusBadRequest},
		{"lon only", vals("lon", "1"), ErrMalformedPoint, http.StatusBadRequest},
		{"lat only", vals("lat", "1"), ErrMalformedPoint, http.StatusBadRequest},
		{"negative start", vals("bbox", "1,2,3,4", "startIndex", "-1"), ErrInvalidPaging, http.StatusBadRequest},
		{"negative count", vals("bbox", "1,2,3,4", "count", "-5"), ErrInvalidPaging, http.StatusBadRequest},
		{"bad sort", vals("bbox", "1,2,3,4", "sort", "sideways"), ErrInvalidSort, http.StatusBadRequest},
		{"bad format", vals("bbox", "1,2,3,4", "format", "shp"), ErrInvalidFormat, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseFeatureQuery(c.v, "")
			if !errors.Is(err, c.want) {
				t.Fatalf("err=%v want %v", err, c.want)
			}
			if got := HTTPStatus(err); got != c.status {
				t.Fatalf("status=%d want %d", got, c.status)
			}
		})
	}
}

func TestFormat_ExplicitAndSuffixAreEquivalent(t *testing.T) {
	a, err := ParseFeatureQuery(vals("bbox", "1,2,3,4", "format", "geojson"), "")
	if err != nil {
		t.Fatalf("explicit: %v", err)
	}
	b, err := ParseFeatureQuery(vals("bbox", "1,2,3,4"), "geojson")
	if err != nil {
		t.Fatalf("suffix: %v", err)
	}
	if a.Format != model.FormatGeoJSON || b.Format != model.FormatGeoJSON {
		t.Fatalf("formats %q %q", a.Format, b.Format)
	}
	if _, err := ParseFeatureQuery(vals("bbox", "1,2,3,4", "format", "csv"), "geojson"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestParseResponseQuery_PagingSortAndOptionalBBox(t *testing.T) {
	q, err := ParseResponseQuery(vals("startIndex", "5", "count", "10", "sort", "ASC"), "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if q.Paging.StartIndex != 5 || q.Paging.Count != 10 || q.Sort != model.SortAsc {
		t.Fatalf("got %+v", q)
	}
	if q.BBox != nil || q.Point != nil {
		t.Fatalf("no spatial filter expected")
	}
	if _, err := ParseResponseQuery(vals("lon", "1", "lat", "2"), ""); !errors.Is(err, ErrMalformedPoint) {
		t.Fatalf("expected point rejection, got %v", err)
	}
}

func TestParseBBox_Valid(t *testing.T) {
	bb, err := ParseBBox("42.23,-83.16,42.43,-82.96")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if bb.String() != "42.23,-83.16,42.43,-82.96" {
		t.Fatalf("round trip %s", bb.String())
	}
}
